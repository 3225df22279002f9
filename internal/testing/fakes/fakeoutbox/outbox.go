// Package fakeoutbox records replies sent to chat users.
package fakeoutbox

import (
	"context"
	"os"
	"sync"

	"github.com/acolita/chat-shell-bridge/internal/chat"
	"github.com/acolita/chat-shell-bridge/internal/session"
)

// Message is one recorded reply.
type Message struct {
	User  session.UserID
	Reply chat.Reply
}

// File is one recorded document. Data is read when SendFile is called, since
// callers remove the file afterwards.
type File struct {
	User    session.UserID
	Path    string
	Caption string
	Data    []byte
}

// Outbox implements chat.Outbox in memory.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
	files    []File
	sendErr  error
}

// New creates an empty Outbox.
func New() *Outbox {
	return &Outbox{}
}

// SetSendError makes every Send fail with err.
func (o *Outbox) SetSendError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sendErr = err
}

// Send records reply.
func (o *Outbox) Send(ctx context.Context, user session.UserID, reply chat.Reply) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sendErr != nil {
		return o.sendErr
	}
	o.messages = append(o.messages, Message{User: user, Reply: reply})
	return nil
}

// SendFile records the file and its content.
func (o *Outbox) SendFile(ctx context.Context, user session.UserID, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files = append(o.files, File{User: user, Path: path, Caption: caption, Data: data})
	return nil
}

// Messages returns every recorded reply.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// Last returns the most recent reply, or a zero Reply if none.
func (o *Outbox) Last() chat.Reply {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.messages) == 0 {
		return chat.Reply{}
	}
	return o.messages[len(o.messages)-1].Reply
}

// Files returns every recorded document.
func (o *Outbox) Files() []File {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]File(nil), o.files...)
}

// Reset forgets everything recorded.
func (o *Outbox) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = nil
	o.files = nil
}

var _ chat.Outbox = (*Outbox)(nil)
