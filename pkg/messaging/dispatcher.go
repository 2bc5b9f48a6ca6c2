// Package messaging defines the outbound message dispatch collaborator.
// The engine renders templates and hands them off here; retry policy, if
// any, belongs to the dispatcher implementation.
package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/reviewloop/reviewloop/pkg/models"
)

// Message is one rendered outbound message. Subject is only meaningful for
// email channels.
type Message struct {
	Channel models.Channel
	Address string
	Subject string
	Body    string
}

// Dispatcher delivers rendered messages. Failures are surfaced to the
// caller, never swallowed.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// LogDispatcher writes messages to the log instead of delivering them.
// Used for local development and as the default when no transport is wired.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With("module", "dispatcher")}
}

func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	d.logger.InfoContext(ctx, "Dispatching message",
		"channel", msg.Channel,
		"address", msg.Address,
		"subject", msg.Subject,
		"body_length", len(msg.Body),
	)

	return nil
}

// Recorder captures dispatched messages for inspection in tests. When
// FailWith is set, Send returns it without recording.
type Recorder struct {
	mu       sync.Mutex
	messages []Message

	FailWith error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWith != nil {
		return r.FailWith
	}

	r.messages = append(r.messages, msg)

	return nil
}

// Messages returns a snapshot of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Message, len(r.messages))
	copy(out, r.messages)

	return out
}
