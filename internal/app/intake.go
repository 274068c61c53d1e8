package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

var errQueueFull = errors.New("signal queue full")

// signalQueue is the single intake channel of the coordinator. HTTP
// submissions and bus signals both land here.
type signalQueue struct {
	ch     chan domain.Signal
	logger *slog.Logger
}

func newSignalQueue(size int, logger *slog.Logger) *signalQueue {
	if size <= 0 {
		size = 64
	}
	return &signalQueue{
		ch:     make(chan domain.Signal, size),
		logger: logger,
	}
}

// Enqueue hands sig to the intake loop without waiting for room.
func (q *signalQueue) Enqueue(ctx context.Context, sig domain.Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- sig:
		return nil
	default:
		return errQueueFull
	}
}

// forward copies signals from src into the queue, waiting for room, until
// src closes or ctx is done.
func (q *signalQueue) forward(ctx context.Context, src <-chan domain.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-src:
			if !ok {
				return nil
			}
			q.logger.InfoContext(ctx, "intake: signal received from bus",
				slog.String("signal_id", sig.ID),
				slog.String("symbol", sig.Symbol),
			)
			select {
			case q.ch <- sig:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// signals is the receive side consumed by the coordinator.
func (q *signalQueue) signals() <-chan domain.Signal {
	return q.ch
}
