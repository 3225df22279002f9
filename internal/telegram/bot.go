// Package telegram connects the chat machine to the Telegram Bot API using
// long polling.
package telegram

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/acolita/chat-shell-bridge/internal/chat"
	"github.com/acolita/chat-shell-bridge/internal/session"
)

// MaxMessageLen keeps messages under Telegram's 4096 character limit.
const MaxMessageLen = 4000

const msgUnauthorized = "❌ Unauthorized"

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

// Dispatcher accepts inbound events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev chat.Event)
}

// Bot receives updates and implements chat.Outbox.
type Bot struct {
	api         API
	allowed     map[int64]bool
	pollTimeout int
	httpClient  *http.Client

	mu    sync.Mutex
	chats map[session.UserID]int64
}

// Option configures a Bot.
type Option func(*Bot)

// WithAllowedUsers restricts the bot to the given user IDs. Empty allows everyone.
func WithAllowedUsers(ids []int64) Option {
	return func(b *Bot) {
		for _, id := range ids {
			b.allowed[id] = true
		}
	}
}

// WithPollTimeout sets the long polling timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(b *Bot) {
		if seconds > 0 {
			b.pollTimeout = seconds
		}
	}
}

// WithHTTPClient sets the client used to fetch documents sent by users.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bot) {
		b.httpClient = c
	}
}

// New creates a Bot over api.
func New(api API, opts ...Option) *Bot {
	b := &Bot{
		api:         api,
		allowed:     make(map[int64]bool),
		pollTimeout: 60,
		httpClient:  http.DefaultClient,
		chats:       make(map[session.UserID]int64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run polls for updates and dispatches them until ctx is done.
func (b *Bot) Run(ctx context.Context, d Dispatcher) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	slog.Info("telegram bot polling for updates")
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if ev, ok := b.toEvent(update); ok {
				d.Dispatch(ctx, ev)
			}
		}
	}
}

// toEvent converts an update, answering callback queries and turning away
// users outside the allow-list.
func (b *Bot) toEvent(update tgbotapi.Update) (chat.Event, bool) {
	switch {
	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		if q.From == nil {
			return chat.Event{}, false
		}
		if !b.isAllowed(q.From.ID) {
			b.api.Request(tgbotapi.NewCallback(q.ID, msgUnauthorized))
			return chat.Event{}, false
		}
		if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
			slog.Debug("failed to answer callback", slog.String("error", err.Error()))
		}
		user := session.UserID(q.From.ID)
		if q.Message != nil && q.Message.Chat != nil {
			b.rememberChat(user, q.Message.Chat.ID)
		}
		return chat.Event{User: user, Action: q.Data}, true

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat == nil {
			return chat.Event{}, false
		}
		if !b.isAllowed(msg.From.ID) {
			slog.Warn("unauthorized telegram user",
				slog.Int64("user_id", msg.From.ID),
				slog.String("username", msg.From.UserName),
			)
			b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, msgUnauthorized))
			return chat.Event{}, false
		}
		user := session.UserID(msg.From.ID)
		b.rememberChat(user, msg.Chat.ID)

		ev := chat.Event{User: user, Text: msg.Text}
		if doc := msg.Document; doc != nil {
			ev.File = &chat.Attachment{
				Name: doc.FileName,
				Size: int64(doc.FileSize),
				Open: b.opener(doc.FileID),
			}
		}
		return ev, true
	}
	return chat.Event{}, false
}

func (b *Bot) isAllowed(id int64) bool {
	return len(b.allowed) == 0 || b.allowed[id]
}

func (b *Bot) rememberChat(user session.UserID, chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chats[user] = chatID
}

// chatID returns the chat a user last wrote from. Private chats share the
// user's ID, which is the fallback.
func (b *Bot) chatID(user session.UserID) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.chats[user]; ok {
		return id
	}
	return int64(user)
}

func (b *Bot) opener(fileID string) func(ctx context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		url, err := b.api.GetFileDirectURL(fileID)
		if err != nil {
			return nil, fmt.Errorf("get file link: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := b.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download file: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("download file: status %s", resp.Status)
		}
		return resp.Body, nil
	}
}

// Send delivers reply, split into several messages when it is too long.
// Markup is attached to the last message.
func (b *Bot) Send(ctx context.Context, user session.UserID, reply chat.Reply) error {
	chatID := b.chatID(user)

	var texts []string
	if reply.Monospace {
		for _, chunk := range splitEscaped(reply.Text, MaxMessageLen-len("<pre></pre>")) {
			texts = append(texts, "<pre>"+html.EscapeString(chunk)+"</pre>")
		}
	} else {
		texts = splitText(reply.Text, MaxMessageLen)
	}

	for i, text := range texts {
		msg := tgbotapi.NewMessage(chatID, text)
		if reply.Monospace {
			msg.ParseMode = tgbotapi.ModeHTML
		}
		if i == len(texts)-1 {
			msg.ReplyMarkup = markup(reply)
		}
		if _, err := b.api.Send(msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// markup builds the reply markup. Inline buttons win over a reply keyboard
// because a message carries only one.
func markup(reply chat.Reply) any {
	if len(reply.Buttons) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(reply.Buttons))
		for _, btn := range reply.Buttons {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Action))
		}
		return tgbotapi.NewInlineKeyboardMarkup(row)
	}
	if reply.Keyboard != nil {
		rows := make([][]tgbotapi.KeyboardButton, 0, len(reply.Keyboard))
		for _, r := range reply.Keyboard {
			row := make([]tgbotapi.KeyboardButton, 0, len(r))
			for _, text := range r {
				row = append(row, tgbotapi.NewKeyboardButton(text))
			}
			rows = append(rows, row)
		}
		return tgbotapi.NewReplyKeyboard(rows...)
	}
	return nil
}

// SendFile uploads a local file as a document.
func (b *Bot) SendFile(ctx context.Context, user session.UserID, path, caption string) error {
	doc := tgbotapi.NewDocument(b.chatID(user), tgbotapi.FilePath(path))
	doc.Caption = caption
	if _, err := b.api.Send(doc); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

var _ chat.Outbox = (*Bot)(nil)
