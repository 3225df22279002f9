package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/acolita/chat-shell-bridge/internal/chat"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	fileURL  string
	sendErr  error
	stopped  bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	if f.fileURL == "" {
		return "", errors.New("no such file")
	}
	return f.fileURL + "/" + fileID, nil
}

func (f *fakeAPI) messages(t *testing.T) []tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

type recordingDispatcher struct {
	events []chat.Event
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev chat.Event) {
	d.events = append(d.events, ev)
}

func TestSplitText(t *testing.T) {
	var lines []string
	for range 50 {
		lines = append(lines, strings.Repeat("x", 30))
	}
	text := strings.Join(lines, "\n")

	chunks := splitText(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Errorf("chunk %d has %d characters", i, n)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble the original text")
	}
}

func TestSplitText_LongLine(t *testing.T) {
	text := strings.Repeat("é", 250)
	chunks := splitText(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble the original text")
	}
}

func TestSplitText_Short(t *testing.T) {
	chunks := splitText("hello", 100)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("splitText() = %q", chunks)
	}
}

func TestSplitEscaped(t *testing.T) {
	text := strings.Repeat("<", 25)
	chunks := splitEscaped(text, 40)
	for i, c := range chunks {
		if len(c) > 10 {
			t.Errorf("chunk %d has %d raw characters, escaped form exceeds limit", i, len(c))
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble the original text")
	}
}

func TestBot_SendMonospaceSplitsAndEscapes(t *testing.T) {
	api := newFakeAPI()
	b := New(api)

	text := strings.Repeat("a<b>&c\n", 2000)
	err := b.Send(context.Background(), 7, chat.Reply{
		Text:      text,
		Monospace: true,
		Keyboard:  [][]string{{"one"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := api.messages(t)
	if len(msgs) < 2 {
		t.Fatalf("expected a split reply, got %d messages", len(msgs))
	}
	var rebuilt strings.Builder
	for i, m := range msgs {
		if m.ChatID != 7 {
			t.Errorf("message %d chat = %d", i, m.ChatID)
		}
		if m.ParseMode != tgbotapi.ModeHTML {
			t.Errorf("message %d parse mode = %q", i, m.ParseMode)
		}
		if n := utf8.RuneCountInString(m.Text); n > MaxMessageLen {
			t.Errorf("message %d has %d characters", i, n)
		}
		if !strings.HasPrefix(m.Text, "<pre>") || !strings.HasSuffix(m.Text, "</pre>") {
			t.Errorf("message %d is not preformatted", i)
		}
		inner := strings.TrimSuffix(strings.TrimPrefix(m.Text, "<pre>"), "</pre>")
		if strings.ContainsAny(inner, "<>") {
			t.Errorf("message %d is not escaped", i)
		}
		rebuilt.WriteString(inner)
		if last := i == len(msgs)-1; last != (m.ReplyMarkup != nil) {
			t.Errorf("message %d markup = %v", i, m.ReplyMarkup)
		}
	}
	if !strings.HasPrefix(rebuilt.String(), "a&lt;b&gt;&amp;c\n") {
		t.Errorf("unexpected content %q", rebuilt.String()[:20])
	}
}

func TestBot_SendKeyboard(t *testing.T) {
	api := newFakeAPI()
	b := New(api)

	err := b.Send(context.Background(), 1, chat.Reply{
		Text:     "menu",
		Keyboard: [][]string{{"A", "B"}, {"C"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := api.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].ParseMode != "" {
		t.Errorf("plain text got parse mode %q", msgs[0].ParseMode)
	}
	kb, ok := msgs[0].ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	if !ok {
		t.Fatalf("markup = %T", msgs[0].ReplyMarkup)
	}
	if len(kb.Keyboard) != 2 || len(kb.Keyboard[0]) != 2 || kb.Keyboard[1][0].Text != "C" {
		t.Errorf("keyboard = %+v", kb.Keyboard)
	}
}

func TestBot_SendButtons(t *testing.T) {
	api := newFakeAPI()
	b := New(api)

	err := b.Send(context.Background(), 1, chat.Reply{
		Text:     "Run it?",
		Keyboard: [][]string{{"ignored"}},
		Buttons:  []chat.Button{{Text: "Yes", Action: "gate:confirm"}, {Text: "No", Action: "gate:cancel"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := api.messages(t)
	kb, ok := msgs[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("markup = %T", msgs[0].ReplyMarkup)
	}
	row := kb.InlineKeyboard[0]
	if len(row) != 2 || *row[0].CallbackData != "gate:confirm" || row[1].Text != "No" {
		t.Errorf("buttons = %+v", row)
	}
}

func TestBot_SendError(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = errors.New("boom")
	b := New(api)

	if err := b.Send(context.Background(), 1, chat.Reply{Text: "x"}); err == nil {
		t.Error("expected error")
	}
}

func TestBot_SendFile(t *testing.T) {
	api := newFakeAPI()
	b := New(api)

	if err := b.SendFile(context.Background(), 3, "/tmp/report.txt", "report.txt"); err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	doc, ok := api.sent[0].(tgbotapi.DocumentConfig)
	if !ok {
		t.Fatalf("sent %T", api.sent[0])
	}
	if doc.ChatID != 3 || doc.Caption != "report.txt" {
		t.Errorf("document = chat %d caption %q", doc.ChatID, doc.Caption)
	}
	if fp, ok := doc.File.(tgbotapi.FilePath); !ok || string(fp) != "/tmp/report.txt" {
		t.Errorf("file = %#v", doc.File)
	}
}

func TestBot_RunDispatchesAllowedUsers(t *testing.T) {
	api := newFakeAPI()
	b := New(api, WithAllowedUsers([]int64{1}))
	d := &recordingDispatcher{}

	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1},
		Chat: &tgbotapi.Chat{ID: 100},
		Text: "ls",
	}}
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 2, UserName: "mallory"},
		Chat: &tgbotapi.Chat{ID: 200},
		Text: "rm -rf /",
	}}
	api.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 1},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		Data:    "gate:confirm",
	}}
	close(api.updates)

	if err := b.Run(context.Background(), d); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(d.events) != 2 {
		t.Fatalf("dispatched %d events, want 2", len(d.events))
	}
	if d.events[0].User != 1 || d.events[0].Text != "ls" {
		t.Errorf("first event = %+v", d.events[0])
	}
	if d.events[1].Action != "gate:confirm" {
		t.Errorf("second event = %+v", d.events[1])
	}

	msgs := api.messages(t)
	if len(msgs) != 1 || msgs[0].ChatID != 200 || msgs[0].Text != msgUnauthorized {
		t.Errorf("unauthorized reply = %+v", msgs)
	}
	if len(api.requests) != 1 {
		t.Fatalf("callback answers = %d", len(api.requests))
	}
	if cb, ok := api.requests[0].(tgbotapi.CallbackConfig); !ok || cb.CallbackQueryID != "cb1" {
		t.Errorf("callback answer = %#v", api.requests[0])
	}
	if !api.stopped {
		t.Error("polling was not stopped")
	}
}

func TestBot_RepliesGoToLastChat(t *testing.T) {
	api := newFakeAPI()
	b := New(api)
	d := &recordingDispatcher{}

	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 5},
		Chat: &tgbotapi.Chat{ID: -42},
		Text: "pwd",
	}}
	close(api.updates)
	b.Run(context.Background(), d)

	b.Send(context.Background(), 5, chat.Reply{Text: "ok"})
	msgs := api.messages(t)
	if len(msgs) != 1 || msgs[0].ChatID != -42 {
		t.Errorf("reply = %+v", msgs)
	}
}

func TestBot_RunStopsOnCancel(t *testing.T) {
	api := newFakeAPI()
	b := New(api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Run(ctx, &recordingDispatcher{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestBot_DocumentAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file-1" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "payload")
	}))
	defer srv.Close()

	api := newFakeAPI()
	api.fileURL = srv.URL
	b := New(api, WithHTTPClient(srv.Client()))

	ev, ok := b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 1},
		Chat:     &tgbotapi.Chat{ID: 1},
		Document: &tgbotapi.Document{FileID: "file-1", FileName: "notes.txt", FileSize: 7},
	}})
	if !ok || ev.File == nil {
		t.Fatalf("event = %+v", ev)
	}
	if ev.File.Name != "notes.txt" || ev.File.Size != 7 {
		t.Errorf("attachment = %+v", ev.File)
	}

	rc, err := ev.File.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Errorf("content = %q", data)
	}

	missing, _ := b.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 1},
		Chat:     &tgbotapi.Chat{ID: 1},
		Document: &tgbotapi.Document{FileID: "other", FileName: "x"},
	}})
	if _, err := missing.File.Open(context.Background()); err == nil {
		t.Error("expected error for a missing file")
	}
}
