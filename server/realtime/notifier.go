package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/metrics"
	"github.com/Daskott/guardian/utils"
	"go.uber.org/zap"
)

const (
	SOS_MESSAGE          = "sos"
	LOCATION_MESSAGE     = "location"
	ACKNOWLEDGED_MESSAGE = "acknowledged"
)

type AlertSender struct {
	ProfileID uint   `json:"profile_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
}

type AlertLocation struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Address   string  `json:"address,omitempty"`
	MapLink   string  `json:"map_link"`
}

// FamilyAlert is what the orchestrator hands over for one SOS event
type FamilyAlert struct {
	EventID      string
	GroupID      uint
	Sender       AlertSender
	Latitude     float64
	Longitude    float64
	Address      string
	IsTest       bool
	Timestamp    time.Time
	RecipientIDs []uint
}

// FamilyMessage is the JSON pushed on the family channel, one per recipient
type FamilyMessage struct {
	Type               string        `json:"type"`
	EventID            string        `json:"event_id"`
	RecipientProfileID uint          `json:"recipient_profile_id"`
	Sender             AlertSender   `json:"sender"`
	Location           AlertLocation `json:"location"`
	IsTest             bool          `json:"is_test"`
	Timestamp          time.Time     `json:"timestamp"`
}

type FamilyNotifier struct {
	broker Broker
	logg   *zap.SugaredLogger
}

func NewFamilyNotifier(broker Broker, logg *zap.SugaredLogger) *FamilyNotifier {
	return &FamilyNotifier{broker: broker, logg: logger.OrNop(logg)}
}

// Notify publishes one message per recipient and returns how many were
// published. A failed publish does not stop the remaining recipients;
// the first error is returned.
func (n *FamilyNotifier) Notify(ctx context.Context, alert FamilyAlert) (int, error) {
	var firstErr error
	published := 0
	channel := FamilyChannel(alert.GroupID)

	location := AlertLocation{
		Latitude:  alert.Latitude,
		Longitude: alert.Longitude,
		Address:   alert.Address,
		MapLink:   utils.MapLink(alert.Latitude, alert.Longitude),
	}

	for _, recipientID := range alert.RecipientIDs {
		payload, err := json.Marshal(FamilyMessage{
			Type:               SOS_MESSAGE,
			EventID:            alert.EventID,
			RecipientProfileID: recipientID,
			Sender:             alert.Sender,
			Location:           location,
			IsTest:             alert.IsTest,
			Timestamp:          alert.Timestamp,
		})
		if err == nil {
			err = n.broker.Publish(ctx, channel, payload)
		}

		if err != nil {
			n.logg.Warnf(colors.Red("[family notifier] ")+"event=%v recipient=%v: %v", alert.EventID, recipientID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		published++
		metrics.FamilyAlerts.Inc()
	}

	n.logg.Infof(colors.Cyan("[family notifier] ")+"event=%v published %v/%v alerts on %v",
		alert.EventID, published, len(alert.RecipientIDs), channel)

	return published, firstErr
}

// EventUpdate is broadcast to the whole family channel when an active
// event gets a new location sample or is acknowledged.
type EventUpdate struct {
	Type      string         `json:"type"`
	EventID   string         `json:"event_id"`
	GroupID   uint           `json:"-"`
	ProfileID uint           `json:"profile_id"`
	Location  *AlertLocation `json:"location,omitempty"`
	By        string         `json:"by,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewLocationUpdate describes a new sample for the event's family
func NewLocationUpdate(eventID string, groupID, profileID uint, lat, lng float64, address string, at time.Time) EventUpdate {
	return EventUpdate{
		Type:      LOCATION_MESSAGE,
		EventID:   eventID,
		GroupID:   groupID,
		ProfileID: profileID,
		Location: &AlertLocation{
			Latitude:  lat,
			Longitude: lng,
			Address:   address,
			MapLink:   utils.MapLink(lat, lng),
		},
		Timestamp: at,
	}
}

func (n *FamilyNotifier) NotifyUpdate(ctx context.Context, update EventUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}

	if err := n.broker.Publish(ctx, FamilyChannel(update.GroupID), payload); err != nil {
		n.logg.Warnf(colors.Red("[family notifier] ")+"event=%v %v update: %v", update.EventID, update.Type, err)
		return err
	}

	return nil
}
