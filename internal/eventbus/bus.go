// Package eventbus is the in-process lifecycle event bus, built on
// Watermill's gochannel transport. Delivery is at-least-once within the
// process; handlers must tolerate duplicates. A handler panic is recovered
// and logged, never propagated to sibling handlers or the publisher.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// topicAll fans every event out to wildcard subscribers.
const topicAll = "events.all"

const metaCorrelationID = "correlation_id"

// Handler consumes a single event. Handlers run on subscriber goroutines;
// they must not block indefinitely.
type Handler func(ctx context.Context, e model.ProcessEvent)

// Bus publishes and routes lifecycle events inside the process.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
	recent *ring

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Bus. bufferSize is the per-subscriber channel depth;
// recentLimit bounds the diagnostic ring buffer.
func New(logger *zap.Logger, bufferSize, recentLimit int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if recentLimit <= 0 {
		recentLimit = 1000
	}

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: int64(bufferSize),
			Persistent:          false,
		},
		&watermillZapAdapter{logger: logger.Named("watermill")},
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: pubsub,
		logger: logger,
		recent: newRing(recentLimit),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish sends the event to type-specific and wildcard subscribers. The
// event is recorded in the ring buffer even when nothing is subscribed.
func (b *Bus) Publish(e model.ProcessEvent) error {
	b.recent.add(e)

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}

	for _, topic := range []string{e.Type, topicAll} {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set(metaCorrelationID, e.ProcessID)
		if err := b.pubsub.Publish(topic, msg); err != nil {
			return fmt.Errorf("eventbus: publish %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, h Handler) error {
	return b.consume(eventType, h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) error {
	return b.consume(topicAll, h)
}

func (b *Bus) consume(topic string, h Handler) error {
	messages, err := b.pubsub.Subscribe(b.ctx, topic)
	if err != nil {
		return fmt.Errorf("eventbus: subscribe %s: %w", topic, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range messages {
			var e model.ProcessEvent
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				b.logger.Warn("dropping undecodable event",
					zap.String("topic", topic),
					zap.Error(err),
				)
				msg.Ack()
				continue
			}
			b.dispatch(topic, h, e)
			msg.Ack()
		}
	}()
	return nil
}

// dispatch invokes one handler with panic isolation.
func (b *Bus) dispatch(topic string, h Handler, e model.ProcessEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", topic),
				zap.String("event_type", e.Type),
				zap.String("process_id", e.ProcessID),
				zap.Any("panic", r),
			)
		}
	}()
	h(b.ctx, e)
}

// Recent returns the most recent events, oldest first.
func (b *Bus) Recent() []model.ProcessEvent {
	return b.recent.snapshot()
}

// Close stops all subscribers and waits for in-flight handlers.
func (b *Bus) Close() error {
	err := b.pubsub.Close()
	b.cancel()
	b.wg.Wait()
	return err
}

// watermillZapAdapter routes watermill's internal logging into zap.
type watermillZapAdapter struct {
	logger *zap.Logger
	fields watermill.LogFields
}

func (a *watermillZapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(a.zapFields(fields), zap.Error(err))...)
}

func (a *watermillZapAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.zapFields(fields)...)
}

func (a *watermillZapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.zapFields(fields)...)
}

func (a *watermillZapAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.zapFields(fields)...)
}

func (a *watermillZapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillZapAdapter{logger: a.logger, fields: a.fields.Add(fields)}
}

func (a *watermillZapAdapter) zapFields(fields watermill.LogFields) []zap.Field {
	merged := a.fields.Add(fields)
	zf := make([]zap.Field, 0, len(merged))
	for k, v := range merged {
		zf = append(zf, zap.Any(k, v))
	}
	return zf
}
