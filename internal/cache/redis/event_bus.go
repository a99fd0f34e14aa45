package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/superpull/auctiond/internal/domain"
)

const (
	// eventChannel is the pub/sub channel for live event fan-out.
	eventChannel = "auctions:events"

	// eventStream is the durable Redis stream behind the archiver.
	eventStream = "auctions:stream"

	// streamMaxLen is the approximate maximum stream length, enforced via
	// XADD MAXLEN ~. The archiver drains the stream long before this cap.
	streamMaxLen int64 = 100_000
)

// EventBus implements domain.EventSink and domain.EventStream. Every emitted
// event goes both to pub/sub (live subscribers, lossy) and to a stream
// (durable, drained by the archiver).
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// Emit publishes the event to the live channel and appends it to the durable
// stream. The stream append happens first so a crash between the two can
// only lose the lossy copy.
func (b *EventBus) Emit(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", ev.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", ev.ID, err)
	}

	if err := b.rdb.Publish(ctx, eventChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", ev.ID, err)
	}
	return nil
}

// Subscribe creates a pub/sub subscription to the live event channel and
// returns a read-only channel of raw JSON payloads. The subscription closes
// when the context is cancelled; the returned channel is closed then too.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := b.rdb.Subscribe(ctx, eventChannel)

	// Receive the confirmation so a broken connection fails fast.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", eventChannel, err)
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

// Read returns up to count stream entries after lastID. Use "0" to read from
// the beginning. It returns an empty slice (not an error) when nothing is
// available.
func (b *EventBus) Read(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	start := "-"
	if lastID != "" && lastID != "0" {
		start = "(" + lastID
	}

	var (
		results []redis.XMessage
		err     error
	)
	if count > 0 {
		results, err = b.rdb.XRangeN(ctx, eventStream, start, "+", int64(count)).Result()
	} else {
		results, err = b.rdb.XRange(ctx, eventStream, start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read: %w", err)
	}

	var messages []domain.StreamMessage
	for _, msg := range results {
		payload, ok := msg.Values["payload"]
		if !ok {
			continue
		}

		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}

		messages = append(messages, domain.StreamMessage{
			ID:      msg.ID,
			Payload: data,
		})
	}

	return messages, nil
}

// Trim removes stream entries strictly older than upToID after the archiver
// has persisted them. The entry at upToID itself stays as the resume cursor.
func (b *EventBus) Trim(ctx context.Context, upToID string) error {
	if err := b.rdb.XTrimMinID(ctx, eventStream, upToID).Err(); err != nil {
		return fmt.Errorf("redis: stream trim: %w", err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.EventSink   = (*EventBus)(nil)
	_ domain.EventStream = (*EventBus)(nil)
)
