package chat

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/acolita/chat-shell-bridge/internal/session"
)

// Router runs events of different users concurrently while keeping the events
// of each user strictly in arrival order.
type Router struct {
	handler Handler

	mu     sync.Mutex
	queues map[session.UserID][]queued
	wg     sync.WaitGroup
}

type queued struct {
	ctx context.Context
	ev  Event
}

// NewRouter creates a Router feeding handler.
func NewRouter(handler Handler) *Router {
	return &Router{
		handler: handler,
		queues:  make(map[session.UserID][]queued),
	}
}

// Dispatch queues ev behind the user's earlier events and returns at once.
func (r *Router) Dispatch(ctx context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, running := r.queues[ev.User]
	r.queues[ev.User] = append(q, queued{ctx: ctx, ev: ev})
	if running {
		return
	}
	r.wg.Add(1)
	go r.drain(ev.User)
}

// drain handles the user's events until the queue is empty.
func (r *Router) drain(user session.UserID) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		q := r.queues[user]
		if len(q) == 0 {
			delete(r.queues, user)
			r.mu.Unlock()
			return
		}
		next := q[0]
		r.queues[user] = q[1:]
		r.mu.Unlock()

		r.handle(next.ctx, next.ev)
	}
}

func (r *Router) handle(ctx context.Context, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("event handler panicked",
				slog.Int64("user_id", int64(ev.User)),
				slog.String("panic", fmt.Sprint(rec)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := ctx.Err(); err != nil {
		return
	}
	if err := r.handler.Handle(ctx, ev); err != nil {
		slog.Warn("event handling failed",
			slog.Int64("user_id", int64(ev.User)),
			slog.String("error", err.Error()),
		)
	}
}

// Wait blocks until every queued event has been handled.
func (r *Router) Wait() {
	r.wg.Wait()
}
