// Package notify delivers user-facing success and error messages.
package notify

import (
	"log/slog"
	"sync"
)

// Notifier is a fire-and-forget message sink.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Log writes notifications through a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Notifier backed by logger.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Success(msg string) { l.logger.Info(msg) }
func (l *Log) Error(msg string)   { l.logger.Error(msg) }

// Message is one recorded notification.
type Message struct {
	Error bool
	Text  string
}

// Recorder keeps every notification in order.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Success(msg string) { r.add(Message{Text: msg}) }
func (r *Recorder) Error(msg string)   { r.add(Message{Error: true, Text: msg}) }

func (r *Recorder) add(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

// Messages returns a copy of what was recorded.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Errors returns how many error notifications were recorded.
func (r *Recorder) Errors() int {
	n := 0
	for _, m := range r.Messages() {
		if m.Error {
			n++
		}
	}
	return n
}
