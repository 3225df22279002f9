// Package chat turns inbound chat messages into session, gate and transfer
// operations, tracking what each user is in the middle of.
package chat

import (
	"context"
	"io"

	"github.com/acolita/chat-shell-bridge/internal/session"
)

// Event is one inbound message or button press from a chat user.
type Event struct {
	User session.UserID
	// Text is the message text. Empty for button presses and bare files.
	Text string
	// Action is the token of an inline button, such as "gate:confirm".
	Action string
	// File is set when the user sent a document.
	File *Attachment
}

// Attachment is a document sent by the user. Open fetches its content.
type Attachment struct {
	Name string
	Size int64
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// Button is an inline button attached to a reply.
type Button struct {
	Text   string
	Action string
}

// Reply is an outbound message.
type Reply struct {
	Text string
	// Monospace renders Text as preformatted terminal output.
	Monospace bool
	// Keyboard replaces the user's reply keyboard when non-nil.
	Keyboard [][]string
	// Buttons are shown inline under the message.
	Buttons []Button
}

// Outbox delivers replies to chat users.
type Outbox interface {
	Send(ctx context.Context, user session.UserID, reply Reply) error
	SendFile(ctx context.Context, user session.UserID, path, caption string) error
}

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}
