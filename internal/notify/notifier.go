// Package notify provides a multi-channel notification system. Events are
// dispatched to all registered senders (Telegram, Discord, webhook) and can
// be filtered by kind so operators receive only the alerts they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers one event.
	Send(ctx context.Context, ev domain.Event) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches events to one or more Senders. Notify only forwards
// kinds in the allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[domain.EventKind]bool
	logger  *slog.Logger
}

var _ domain.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier that will deliver to the given senders. If
// events is empty, all kinds are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventKind(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify sends ev to all senders if its kind is allowed.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) error {
	if len(n.events) > 0 && !n.events[ev.Kind] {
		n.logger.DebugContext(ctx, "notify: event filtered out",
			slog.String("event", string(ev.Kind)),
		)
		return nil
	}
	return n.dispatch(ctx, ev)
}

// NotifyAll sends ev regardless of its kind.
func (n *Notifier) NotifyAll(ctx context.Context, ev domain.Event) error {
	return n.dispatch(ctx, ev)
}

// dispatch sends to every sender. One failure does not stop delivery to
// the rest.
func (n *Notifier) dispatch(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, ev); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", ev.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// headline renders the one-line title shared by chat senders.
func headline(ev domain.Event) string {
	var b strings.Builder
	if ev.Severity != "" {
		b.WriteString("[")
		b.WriteString(string(ev.Severity))
		b.WriteString("] ")
	}
	b.WriteString(ev.Title)
	if ev.Symbol != "" && !strings.Contains(ev.Title, ev.Symbol) {
		b.WriteString(" ")
		b.WriteString(ev.Symbol)
	}
	return b.String()
}
