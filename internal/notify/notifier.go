// Package notify fans verdict-derived messages out to delivery channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Audience selects who a notification is addressed to.
type Audience string

// Audience constants
const (
	AudienceUser      Audience = "user"
	AudienceOperators Audience = "operators"
)

// Priority orders notifications for display and push.
type Priority string

// Priority constants
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is one message for a user or for the operator group.
type Notification struct {
	UserID     uuid.UUID `json:"user_id"`
	Audience   Audience  `json:"audience"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	Priority   Priority  `json:"priority"`
	DocumentID uuid.UUID `json:"document_id"`
}

// Notifier delivers a notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

type fanout struct {
	channels []Notifier
}

// Fanout delivers to every channel in order, even after one fails, and joins the errors.
func Fanout(channels ...Notifier) Notifier {
	return &fanout{channels: channels}
}

func (f *fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for i, ch := range f.channels {
		if err := deliver(ctx, ch, n); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// deliver converts a channel panic into an error so later channels still run.
func deliver(ctx context.Context, ch Notifier, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return ch.Notify(ctx, n)
}

type safe struct {
	next   Notifier
	logger *zap.Logger
}

// Safe wraps n so that errors and panics are logged and never returned.
func Safe(n Notifier, logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &safe{next: n, logger: logger.With(zap.String("system", "notify"))}
}

func (s *safe) Notify(ctx context.Context, n Notification) error {
	if s.next == nil {
		return nil
	}
	if err := deliver(ctx, s.next, n); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("kind", n.Kind),
			zap.String("audience", string(n.Audience)),
			zap.String("document_id", n.DocumentID.String()),
			zap.Error(err))
	}
	return nil
}
