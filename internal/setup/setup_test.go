package setup

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/acolita/chat-shell-bridge/internal/adapters/realfs"
	"github.com/acolita/chat-shell-bridge/internal/config"
	"github.com/acolita/chat-shell-bridge/internal/ports"
)

type scriptedForm struct {
	answers func(prefill ports.SetupFormData) ports.SetupFormData
	err     error
	prefill ports.SetupFormData
}

func (f *scriptedForm) Run(prefill ports.SetupFormData) (ports.SetupFormData, error) {
	f.prefill = prefill
	if f.err != nil {
		return prefill, f.err
	}
	return f.answers(prefill), nil
}

type memTokens struct {
	token string
	err   error
}

func (m *memTokens) StoreBotToken(token string) error {
	if m.err != nil {
		return m.err
	}
	m.token = token
	return nil
}

func TestRun_SavesAnswers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	tokens := &memTokens{}
	form := &scriptedForm{answers: func(p ports.SetupFormData) ports.SetupFormData {
		p.BotToken = "123:abc"
		p.StoreInKeyring = true
		p.AllowedUsers = "11, 22"
		p.Denylist = "vim, top"
		p.PendingPolicy = "reject"
		p.HostKeyPolicy = "insecure"
		p.LogLevel = "debug"
		p.Confirmed = true
		return p
	}}

	saved, err := Run(path, form, tokens, realfs.New())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !saved {
		t.Fatal("Run() reported nothing saved")
	}
	if tokens.token != "123:abc" {
		t.Errorf("stored token = %q", tokens.token)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(cfg.Telegram.AllowedUsers, []int64{11, 22}) {
		t.Errorf("AllowedUsers = %v", cfg.Telegram.AllowedUsers)
	}
	if !cfg.Telegram.UseKeyring || !cfg.SSH.InsecureIgnoreHostKey {
		t.Errorf("UseKeyring = %v, InsecureIgnoreHostKey = %v", cfg.Telegram.UseKeyring, cfg.SSH.InsecureIgnoreHostKey)
	}
	if !slices.Equal(cfg.Gate.Denylist, []string{"vim", "top"}) || cfg.Gate.PendingPolicy != "reject" {
		t.Errorf("Gate = %+v", cfg.Gate)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestRun_PrefillsFromExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Telegram.AllowedUsers = []int64{5}
	if err := config.Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	form := &scriptedForm{answers: func(p ports.SetupFormData) ports.SetupFormData { return p }}
	if _, err := Run(path, form, &memTokens{}, nil); err != nil {
		t.Fatal(err)
	}
	if form.prefill.AllowedUsers != "5" || form.prefill.TokenEnv != "TELEGRAM_BOT_TOKEN" {
		t.Errorf("prefill = %+v", form.prefill)
	}
	if form.prefill.HostKeyPolicy != "known_hosts" {
		t.Errorf("HostKeyPolicy = %q", form.prefill.HostKeyPolicy)
	}
}

func TestRun_NotConfirmedSavesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	form := &scriptedForm{answers: func(p ports.SetupFormData) ports.SetupFormData { return p }}

	saved, err := Run(path, form, &memTokens{}, realfs.New())
	if err != nil || saved {
		t.Fatalf("Run() = %v, %v; want false, nil", saved, err)
	}
	if _, err := realfs.New().Stat(path); err == nil {
		t.Error("config written without confirmation")
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		form    *scriptedForm
		tokens  *memTokens
		wantErr error
	}{
		{
			name:   "form fails",
			form:   &scriptedForm{err: errors.New("no tty")},
			tokens: &memTokens{},
		},
		{
			name: "bad user id",
			form: &scriptedForm{answers: func(p ports.SetupFormData) ports.SetupFormData {
				p.AllowedUsers = "bob"
				p.Confirmed = true
				return p
			}},
			tokens: &memTokens{},
		},
		{
			name: "token without keyring",
			form: &scriptedForm{answers: func(p ports.SetupFormData) ports.SetupFormData {
				p.BotToken = "123:abc"
				p.StoreInKeyring = false
				p.Confirmed = true
				return p
			}},
			tokens:  &memTokens{},
			wantErr: ErrTokenNotStored,
		},
		{
			name: "keyring fails",
			form: &scriptedForm{answers: func(p ports.SetupFormData) ports.SetupFormData {
				p.BotToken = "123:abc"
				p.StoreInKeyring = true
				p.Confirmed = true
				return p
			}},
			tokens: &memTokens{err: errors.New("locked")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			saved, err := Run(path, tt.form, tt.tokens, realfs.New())
			if err == nil || saved {
				t.Fatalf("Run() = %v, %v; want error", saved, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if _, statErr := realfs.New().Stat(path); statErr == nil {
				t.Error("config written despite error")
			}
		})
	}
}
