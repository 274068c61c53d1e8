package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// EventPublisher puts an event on the shared bus.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev domain.Event) error
}

// EventService implements domain.Notifier by fanning each event out to the
// operator notifier and the event bus. Either may be nil.
type EventService struct {
	notifier domain.Notifier
	bus      EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

var _ domain.Notifier = (*EventService)(nil)

// NewEventService creates an EventService.
func NewEventService(notifier domain.Notifier, bus EventPublisher, logger *slog.Logger) *EventService {
	return &EventService{
		notifier: notifier,
		bus:      bus,
		logger:   logger.With(slog.String("component", "events")),
		now:      time.Now,
	}
}

// Notify stamps, logs and delivers ev.
func (s *EventService) Notify(ctx context.Context, ev domain.Event) error {
	if ev.Time.IsZero() {
		ev.Time = s.now().UTC()
	}
	s.logger.Log(ctx, logLevel(ev.Severity), "events: "+string(ev.Kind),
		slog.String("severity", string(ev.Severity)),
		slog.String("symbol", ev.Symbol),
		slog.String("trade_id", ev.TradeID),
		slog.String("title", ev.Title),
	)

	var errs []error
	if s.bus != nil {
		errs = append(errs, s.bus.PublishEvent(ctx, ev))
	}
	if s.notifier != nil {
		errs = append(errs, s.notifier.Notify(ctx, ev))
	}
	return errors.Join(errs...)
}

func logLevel(sev domain.Severity) slog.Level {
	switch sev {
	case domain.SeverityCritical:
		return slog.LevelError
	case domain.SeverityHigh:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
