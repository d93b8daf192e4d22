package models

import "errors"

var (
	ErrContactNeedsPhone = errors.New("a phone number is required for contacts that receive calls")
	ErrContactNeedsEmail = errors.New("an email is required for contacts that receive emails")
)

const (
	CALL_ONLY_CONTACT  = "call_only"
	EMAIL_ONLY_CONTACT = "email_only"
	BOTH_CONTACT       = "both"
)

var contactUpdatableFields = []string{"name", "phone_number", "email", "relationship", "priority", "type"}

// EmergencyContact belongs to exactly one profile. Lower priority values
// are contacted first.
type EmergencyContact struct {
	BaseModel
	ProfileID    uint   `json:"profile_id" gorm:"not null;index"`
	Name         string `json:"name" validate:"required"`
	PhoneNumber  string `json:"phone_number" validate:"omitempty,e164"`
	Email        string `json:"email" validate:"omitempty,email"`
	Relationship string `json:"relationship"`
	Priority     int    `json:"priority" validate:"min=0"`
	Type         string `json:"type" validate:"required,oneof=call_only email_only both" gorm:"not null;default:both"`
}

func (contact EmergencyContact) IsCallOnly() bool {
	return contact.Type == CALL_ONLY_CONTACT
}

// CheckChannels makes sure the contact can be reached on the channels its type asks for
func (contact EmergencyContact) CheckChannels() error {
	if contact.Type != EMAIL_ONLY_CONTACT && contact.PhoneNumber == "" {
		return ErrContactNeedsPhone
	}

	if contact.Type != CALL_ONLY_CONTACT && contact.Email == "" {
		return ErrContactNeedsEmail
	}

	return nil
}

func (s *Store) AddEmergencyContact(profileID uint, contact *EmergencyContact) error {
	contact.ProfileID = profileID
	return s.db.Create(contact).Error
}

// EmergencyContactsByPriority lists a profile's contacts, lowest priority value first
func (s *Store) EmergencyContactsByPriority(profileID uint) ([]EmergencyContact, error) {
	contacts := []EmergencyContact{}
	err := s.db.Where("profile_id = ?", profileID).
		Order("priority asc").Order("id asc").
		Limit(500).Find(&contacts).Error
	if err != nil {
		return nil, err
	}

	return contacts, nil
}

func (s *Store) FindEmergencyContact(profileID uint, contactID interface{}) (*EmergencyContact, error) {
	contact := EmergencyContact{}
	err := s.db.First(&contact, "id = ? AND profile_id = ?", contactID, profileID).Error
	if err != nil {
		return nil, err
	}

	return &contact, nil
}

func (s *Store) UpdateEmergencyContact(profileID uint, contactID interface{}, data map[string]interface{}) error {
	return s.db.Model(&EmergencyContact{}).
		Where("id = ? AND profile_id = ?", contactID, profileID).
		Select(contactUpdatableFields).Updates(data).Error
}

func (s *Store) DeleteEmergencyContact(profileID uint, contactID interface{}) error {
	return s.db.Where("profile_id = ?", profileID).Delete(&EmergencyContact{}, contactID).Error
}
