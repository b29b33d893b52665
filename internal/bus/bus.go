package bus

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/cskr/pubsub"
)

const defaultCapacity = 128

type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topic string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus is safe for concurrent publishers and subscribers. Each subscriber
// owns the goroutine that drains its channel, so UI layers marshal payloads
// onto their own rendering context from there.
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger

	// mu guards closed. The underlying pubsub blocks forever on any command
	// sent after Shutdown.
	mu     sync.RWMutex
	closed bool
}

func New(logger *slog.Logger) *PubSubBus {
	if logger == nil {
		logger = slog.Default().With("component", "bus")
	}

	return &PubSubBus{
		ps:     pubsub.New(defaultCapacity),
		logger: logger,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.Pub(msg, topic)
}

// Subscribe on a closed bus returns an already closed subscription.
func (b *PubSubBus) Subscribe(topic string) Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		ch := make(Subscription)
		close(ch)
		return ch
	}
	ch := b.ps.Sub(topic)
	b.logger.Debug("subscribe", "topic", topic)
	return ch
}

// Unsubscribe must not be called from the goroutine draining ch, and ch has
// to be drained until it is closed.
func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

func (b *PubSubBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}

// Listen delivers every payload of type T published on topic to fn until ctx
// is done or the bus is closed. Payloads of other types are skipped. fn runs
// on a single goroutine owned by the listener, and publishers block while
// that goroutine lags behind, so fn must not wait on anything that publishes
// to topic. Run such calls on another goroutine.
func Listen[T any](ctx context.Context, b MessageBus, topic string, fn func(T)) {
	sub := b.Subscribe(topic)
	go func() {
		for {
			select {
			case <-ctx.Done():
				go b.Unsubscribe(sub, topic)
				for range sub {
				}
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				msg, ok := raw.(T)
				if !ok {
					continue
				}
				fn(msg)
			}
		}
	}()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
