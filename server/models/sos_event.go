package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ACTIVE_SOS       = "active"
	ACKNOWLEDGED_SOS = "acknowledged"
	RESOLVED_SOS     = "resolved"
)

var ErrSOSEventClosed = errors.New("sos event is already resolved")

// SOSEvent is one emergency activation. Only the status and the
// acknowledgment/resolution fields change after it is created.
type SOSEvent struct {
	ID             string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProfileID      uint          `json:"profile_id" gorm:"not null;index"`
	FamilyGroupID  *uint         `json:"family_group_id,omitempty" gorm:"index"`
	Status         string        `json:"status" gorm:"not null;default:active"`
	Latitude       float64       `json:"lat"`
	Longitude      float64       `json:"lng"`
	Address        string        `json:"address,omitempty"`
	Metadata       string        `json:"metadata,omitempty" gorm:"type:text"`
	IsTest         bool          `json:"is_test"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string        `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Locations      []SOSLocation `json:"locations,omitempty" gorm:"foreignKey:SOSEventID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (SOSEvent) TableName() string {
	return "sos_events"
}

// SOSLocation is one position sample reported for an event
type SOSLocation struct {
	BaseModel
	SOSEventID string    `json:"sos_event_id" gorm:"type:varchar(36);not null;index"`
	Latitude   float64   `json:"lat" validate:"latitude"`
	Longitude  float64   `json:"lng" validate:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Address    string    `json:"address,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (SOSLocation) TableName() string {
	return "sos_locations"
}

func (event *SOSEvent) BeforeCreate(tx *gorm.DB) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Status == "" {
		event.Status = ACTIVE_SOS
	}
	return nil
}

// CreateSOSEvent inserts a new active event
func (s *Store) CreateSOSEvent(event *SOSEvent) error {
	event.Status = ACTIVE_SOS
	return s.db.Omit("Locations").Create(event).Error
}

// AddSOSLocation appends a location sample to an event
func (s *Store) AddSOSLocation(location *SOSLocation) error {
	if location.RecordedAt.IsZero() {
		location.RecordedAt = s.now()
	}
	return s.db.Create(location).Error
}

func (s *Store) FindSOSEvent(id string) (*SOSEvent, error) {
	event := SOSEvent{}
	err := s.db.Preload("Locations", func(db *gorm.DB) *gorm.DB {
		return db.Order("recorded_at asc").Order("id asc")
	}).First(&event, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &event, nil
}

// AcknowledgeSOSEvent moves an active event to acknowledged. It returns false
// when the event was not active anymore, e.g. someone else acknowledged it first.
func (s *Store) AcknowledgeSOSEvent(id string, by string) (bool, error) {
	now := s.now()
	res := s.db.Model(&SOSEvent{}).
		Where("id = ? AND status = ?", id, ACTIVE_SOS).
		Updates(map[string]interface{}{
			"status":          ACKNOWLEDGED_SOS,
			"acknowledged_at": now,
			"acknowledged_by": by,
		})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (s *Store) ResolveSOSEvent(id string) error {
	now := s.now()
	res := s.db.Model(&SOSEvent{}).
		Where("id = ? AND status IN ?", id, []string{ACTIVE_SOS, ACKNOWLEDGED_SOS}).
		Updates(map[string]interface{}{
			"status":      RESOLVED_SOS,
			"resolved_at": now,
		})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		if _, err := s.FindSOSEvent(id); err != nil {
			return err
		}
		return ErrSOSEventClosed
	}

	return nil
}

// SOSEventsForProfile pages through a profile's events, newest first
func (s *Store) SOSEventsForProfile(profileID uint, page int) ([]SOSEvent, *Paging, error) {
	var total int64
	events := []SOSEvent{}

	err := s.db.Model(&SOSEvent{}).Where("profile_id = ?", profileID).Count(&total).Error
	if err != nil {
		return nil, nil, err
	}

	err = s.db.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Where("profile_id = ?", profileID).
		Order("created_at desc").Find(&events).Error
	if err != nil {
		return nil, nil, err
	}

	return events, newPaging(int64(page), MAX_PAGE_SIZE, total), nil
}
