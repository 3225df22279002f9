package security

import (
	"testing"
)

func newDefaultGate(t *testing.T, policy PendingPolicy) *CommandGate {
	t.Helper()
	g, err := NewCommandGate(DefaultDenylist(), policy)
	if err != nil {
		t.Fatalf("NewCommandGate() error = %v", err)
	}
	return g
}

func TestCommandGate_Check(t *testing.T) {
	tests := []struct {
		command string
		want    Verdict
	}{
		{"ls -la", Execute},
		{"vim /etc/hosts", NeedsConfirmation},
		{"vi", NeedsConfirmation},
		{"  nano notes.txt", NeedsConfirmation},
		{"/usr/bin/less /var/log/syslog", NeedsConfirmation},
		{"sudo vim /etc/fstab", NeedsConfirmation},
		{"EDITOR=nano crontab -e", Execute},
		{"TERM=xterm top", NeedsConfirmation},
		{"cat file | less", Execute},
		{"vimdiff a b", Execute},
		{"echo vim", Execute},
		{"", Execute},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			g := newDefaultGate(t, PolicyReplace)
			d := g.Check(1, tt.command)
			if d.Verdict != tt.want {
				t.Errorf("Check(%q) = %v, want %v", tt.command, d.Verdict, tt.want)
			}
			_, pending := g.Pending(1)
			if pending != (tt.want == NeedsConfirmation) {
				t.Errorf("Pending() = %v after %v", pending, d.Verdict)
			}
		})
	}
}

func TestCommandGate_GlobPatterns(t *testing.T) {
	g, err := NewCommandGate([]string{"*vim", "python*"}, PolicyReplace)
	if err != nil {
		t.Fatal(err)
	}
	for _, cmd := range []string{"nvim x", "gvim", "python3 -i"} {
		if d := g.Check(1, cmd); d.Verdict != NeedsConfirmation {
			t.Errorf("Check(%q) = %v, want needs_confirmation", cmd, d.Verdict)
		}
	}
	if d := g.Check(2, "vim"); d.Pattern != "*vim" {
		t.Errorf("Check(vim).Pattern = %q, want *vim", d.Pattern)
	}
}

func TestCommandGate_InvalidPattern(t *testing.T) {
	if _, err := NewCommandGate([]string{"[vim"}, PolicyReplace); err == nil {
		t.Error("expected error for invalid pattern")
	}
	if _, err := NewCommandGate(nil, PendingPolicy("queue")); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestCommandGate_ConfirmAndCancel(t *testing.T) {
	g := newDefaultGate(t, PolicyReplace)

	g.Check(1, "vim a.txt")
	cmd, ok := g.Confirm(1)
	if !ok || cmd != "vim a.txt" {
		t.Errorf("Confirm() = %q, %v", cmd, ok)
	}
	if _, ok := g.Confirm(1); ok {
		t.Error("second Confirm() found a pending command")
	}

	g.Check(1, "top")
	if !g.Cancel(1) {
		t.Error("Cancel() = false with a pending command")
	}
	if _, ok := g.Pending(1); ok {
		t.Error("command still pending after Cancel")
	}
	if g.Cancel(1) {
		t.Error("Cancel() = true with nothing pending")
	}
}

func TestCommandGate_PendingIsPerUser(t *testing.T) {
	g := newDefaultGate(t, PolicyReplace)

	g.Check(1, "vim one")
	g.Check(2, "nano two")

	if cmd, _ := g.Pending(1); cmd != "vim one" {
		t.Errorf("user 1 pending = %q", cmd)
	}
	g.Clear(2)
	if _, ok := g.Pending(2); ok {
		t.Error("user 2 still pending after Clear")
	}
	if _, ok := g.Pending(1); !ok {
		t.Error("clearing user 2 affected user 1")
	}
}

func TestCommandGate_ReplacePolicy(t *testing.T) {
	g := newDefaultGate(t, PolicyReplace)

	g.Check(1, "vim a")
	d := g.Check(1, "nano b")
	if d.Verdict != NeedsConfirmation || d.Replaced != "vim a" {
		t.Errorf("Check() = %+v, want replacement of vim a", d)
	}
	if cmd, _ := g.Pending(1); cmd != "nano b" {
		t.Errorf("Pending() = %q, want nano b", cmd)
	}
}

func TestCommandGate_RejectPolicy(t *testing.T) {
	g := newDefaultGate(t, PolicyReject)

	g.Check(1, "vim a")
	d := g.Check(1, "nano b")
	if d.Verdict != Rejected || d.Pending != "vim a" {
		t.Errorf("Check() = %+v, want rejection with vim a pending", d)
	}
	if cmd, _ := g.Pending(1); cmd != "vim a" {
		t.Errorf("Pending() = %q, want vim a", cmd)
	}
}

func TestCommandGate_SafeCommandLeavesPending(t *testing.T) {
	g := newDefaultGate(t, PolicyReject)

	g.Check(1, "vim a")
	if d := g.Check(1, "ls"); d.Verdict != Execute {
		t.Errorf("Check(ls) = %v, want execute", d.Verdict)
	}
	if cmd, _ := g.Pending(1); cmd != "vim a" {
		t.Errorf("Pending() = %q, want vim a", cmd)
	}
}

func TestCommandGate_Update(t *testing.T) {
	g := newDefaultGate(t, PolicyReplace)
	g.Check(1, "vim a")

	if err := g.Update([]string{"rm"}, PolicyReject); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if d := g.Check(2, "vim b"); d.Verdict != Execute {
		t.Errorf("vim still gated after Update: %v", d.Verdict)
	}
	if d := g.Check(2, "rm -rf build"); d.Verdict != NeedsConfirmation {
		t.Errorf("rm not gated after Update: %v", d.Verdict)
	}
	if g.Policy() != PolicyReject {
		t.Errorf("Policy() = %q", g.Policy())
	}
	if _, ok := g.Pending(1); !ok {
		t.Error("Update dropped a pending command")
	}
	if err := g.Update([]string{"[bad"}, PolicyReplace); err == nil {
		t.Error("Update accepted an invalid pattern")
	}
}

func TestParsePendingPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    PendingPolicy
		wantErr bool
	}{
		{"", PolicyReplace, false},
		{"replace", PolicyReplace, false},
		{"REJECT", PolicyReject, false},
		{"queue", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePendingPolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePendingPolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestVerdict_String(t *testing.T) {
	if Execute.String() != "execute" || Rejected.String() != "rejected" {
		t.Error("unexpected verdict names")
	}
	if Verdict(9).String() != "verdict(9)" {
		t.Errorf("Verdict(9).String() = %q", Verdict(9).String())
	}
}
