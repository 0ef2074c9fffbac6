package email

import (
	"context"
	"log/slog"
	"sync"
)

// ConsoleMailer logs outgoing mail instead of delivering it. Used in local
// development and in tests, where it also records what was "sent".
type ConsoleMailer struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

// NewConsoleMailer creates a new ConsoleMailer.
func NewConsoleMailer(logger *slog.Logger) *ConsoleMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleMailer{logger: logger}
}

// Send logs the message and records it.
func (m *ConsoleMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	m.logger.Info("email (console)",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body)
	return nil
}

// Sent returns a copy of everything sent so far.
func (m *ConsoleMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
