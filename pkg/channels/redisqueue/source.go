// Package redisqueue provides a Redis list source that feeds externally
// produced feedback and appointment events onto the event bus. Producers
// push one JSON event envelope per list entry.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/reviewloop/reviewloop/pkg/eventbus"
	"github.com/reviewloop/reviewloop/pkg/events"
)

const popTimeout = 1 * time.Second

// envelope is the wire shape producers push onto the list.
type envelope struct {
	Type    events.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// Source consumes a Redis list and republishes decoded events on the bus.
type Source struct {
	queue  string
	client redis.UniversalClient
	bus    eventbus.EventPublisher
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSource(ctx context.Context, redisURL, queue string, bus eventbus.EventPublisher, logger *slog.Logger) (*Source, error) {
	if queue == "" {
		return nil, errors.New("queue name is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Source{
		queue:  queue,
		client: client,
		bus:    bus,
		stopCh: make(chan struct{}),
		logger: logger.With("module", "redisqueue_source", "queue", queue),
	}, nil
}

// Start launches the consumer loop. It returns immediately.
func (s *Source) Start(ctx context.Context) {
	s.wg.Add(1)

	go s.consume(ctx)
}

func (s *Source) consume(ctx context.Context) {
	defer s.wg.Done()

	s.logger.InfoContext(ctx, "Starting queue consumer")

	for {
		select {
		case <-s.stopCh:
			s.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := s.processMessage(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (s *Source) processMessage(ctx context.Context) error {
	result, err := s.client.BLPop(ctx, popTimeout, s.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		return fmt.Errorf("malformed event envelope: %w", err)
	}

	event, err := decodeEvent(env)
	if err != nil {
		return err
	}

	return s.bus.Publish(ctx, s.queue, event)
}

func decodeEvent(env envelope) (eventbus.Event, error) {
	switch env.Type {
	case events.AppointmentCompletedEvent:
		var event events.AppointmentCompleted
		if err := json.Unmarshal(env.Payload, &event); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}

		return event, nil
	case events.FeedbackReceivedEvent:
		var event events.FeedbackReceived
		if err := json.Unmarshal(env.Payload, &event); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}

		return event, nil
	default:
		return nil, fmt.Errorf("unsupported queue event type: %s", env.Type)
	}
}

// Close stops the consumer loop and closes the Redis connection.
func (s *Source) Close() error {
	close(s.stopCh)
	s.wg.Wait()

	return s.client.Close()
}
