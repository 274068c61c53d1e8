package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// Channel and stream names.
const (
	// SignalsChannel carries JSON-encoded domain.Signal values from the
	// upstream signal generator.
	SignalsChannel = keyPrefix + "signals"
	// EventsChannel carries JSON-encoded domain.Event values for live
	// consumers.
	EventsChannel = keyPrefix + "events"
	// EventsStream keeps the same events durably.
	EventsStream = keyPrefix + "events:stream"
)

// streamMaxLen is the approximate maximum length for Redis streams, enforced
// via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus using Redis Pub/Sub for live fan-out
// and Redis Streams for a durable, ordered event history.
type SignalBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, logger *slog.Logger) *SignalBus {
	return &SignalBus{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "signal-bus")),
	}
}

// Publish sends a raw payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of raw payloads from a Pub/Sub channel or
// pattern. The subscription and the returned channel close when ctx is
// cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// hasPattern reports whether channel needs PSubscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload to a stream, trimming it to roughly
// streamMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count messages after lastID. Use "0" to read from
// the beginning. No messages is not an error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			if data, ok := payloadBytes(msg.Values["payload"]); ok {
				messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
			}
		}
	}
	return messages, nil
}

func payloadBytes(v any) ([]byte, bool) {
	switch p := v.(type) {
	case string:
		return []byte(p), true
	case []byte:
		return p, true
	default:
		return nil, false
	}
}

// PublishEvent fans ev out on EventsChannel and appends it to EventsStream.
func (sb *SignalBus) PublishEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	return errors.Join(
		sb.Publish(ctx, EventsChannel, payload),
		sb.StreamAppend(ctx, EventsStream, payload),
	)
}

// Signals subscribes to SignalsChannel and decodes each payload. Malformed
// payloads are logged and skipped. The channel closes with ctx.
func (sb *SignalBus) Signals(ctx context.Context) (<-chan domain.Signal, error) {
	raw, err := sb.Subscribe(ctx, SignalsChannel)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.Signal)
	go func() {
		defer close(out)
		for payload := range raw {
			sig, err := DecodeSignal(payload)
			if err != nil {
				sb.logger.WarnContext(ctx, "redis: dropping malformed signal",
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case out <- sig:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// DecodeSignal parses and validates one JSON signal.
func DecodeSignal(payload []byte) (domain.Signal, error) {
	var sig domain.Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return domain.Signal{}, fmt.Errorf("redis: decode signal: %w", err)
	}
	if err := sig.Validate(); err != nil {
		return domain.Signal{}, fmt.Errorf("redis: decode signal: %w", err)
	}
	return sig, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
