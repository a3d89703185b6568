package notify

import (
	"context"
)

// Notifier defines the interface for sending user-facing notifications.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans a notification out to several notifiers. Individual
// failures do not stop delivery to the others; the last error is
// returned.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var last error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			last = err
		}
	}
	return last
}

// NoOpNotifier does nothing.
type NoOpNotifier struct{}

func (n *NoOpNotifier) Send(ctx context.Context, title, body string) error {
	return nil
}
