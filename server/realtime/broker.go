package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrBrokerClosed = errors.New("broker is closed")

// Message is one payload received on a channel
type Message struct {
	Channel string
	Payload []byte
}

// Broker fans payloads out to whoever is subscribed to a channel at publish time.
// Nothing is persisted, so subscribers that are offline miss the message.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
	Close() error
}

// Subscription delivers messages on C until Close is called or the
// context passed to Subscribe is done. C is closed afterwards.
type Subscription struct {
	C <-chan Message

	done    chan struct{}
	once    sync.Once
	closeFn func() error
	err     error
}

func newSubscription(c <-chan Message, closeFn func() error) *Subscription {
	return &Subscription{C: c, done: make(chan struct{}), closeFn: closeFn}
}

func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.closeFn()
	})
	return s.err
}

// closeOnDone ties the subscription's lifetime to ctx
func (s *Subscription) closeOnDone(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}

func FamilyChannel(groupID uint) string {
	return fmt.Sprintf("family:%d", groupID)
}

func AckChannel(eventID string) string {
	return fmt.Sprintf("sos:%s:ack", eventID)
}
