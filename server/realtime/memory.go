package realtime

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// MemoryBroker is an in-process Broker for single node deployments
// and tests. Slow subscribers drop messages once their buffer is full.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[chan Message]struct{}
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[chan Message]struct{})}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	for ch := range b.subs[channel] {
		select {
		case ch <- Message{Channel: channel, Payload: payload}:
		default:
		}
	}

	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	ch := make(chan Message, subscriberBuffer)
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan Message]struct{})
	}
	b.subs[channel][ch] = struct{}{}

	sub := newSubscription(ch, func() error {
		b.unsubscribe(channel, ch)
		return nil
	})
	sub.closeOnDone(ctx)

	return sub, nil
}

func (b *MemoryBroker) unsubscribe(channel string, ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[channel][ch]; !ok {
		return
	}

	delete(b.subs[channel], ch)
	if len(b.subs[channel]) == 0 {
		delete(b.subs, channel)
	}
	close(ch)
}

// Close closes every open subscription channel
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for channel, chans := range b.subs {
		for ch := range chans {
			close(ch)
		}
		delete(b.subs, channel)
	}

	return nil
}
