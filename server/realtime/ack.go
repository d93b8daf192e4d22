package realtime

import (
	"context"
	"encoding/json"
)

// Ack reports that a contact answered an emergency call and confirmed it
type Ack struct {
	EventID   string `json:"event_id"`
	ContactID uint   `json:"contact_id"`
	Digits    string `json:"digits,omitempty"`
}

func PublishAck(ctx context.Context, broker Broker, ack Ack) error {
	payload, err := json.Marshal(ack)
	if err != nil {
		return err
	}

	return broker.Publish(ctx, AckChannel(ack.EventID), payload)
}

// WaitForAck blocks until 'contactID' acknowledges on sub, ctx is done or
// the subscription closes. It reports whether the ack arrived.
func WaitForAck(ctx context.Context, sub *Subscription, contactID uint) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.C:
			if !ok {
				return false
			}

			ack := Ack{}
			if err := json.Unmarshal(msg.Payload, &ack); err != nil {
				continue
			}

			if ack.ContactID == contactID {
				return true
			}
		}
	}
}
