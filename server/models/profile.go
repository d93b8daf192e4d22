package models

import (
	"errors"
	"fmt"

	"github.com/Daskott/guardian/server/auth"
	"gorm.io/gorm"
)

var (
	allFieldsExceptPassword = []string{"id",
		"first_name",
		"last_name",
		"phone_number",
		"email",
		"role_id",
		"location_sharing",
		"subscribed_regions",
		"created_at",
		"updated_at",
	}

	updatableFields = []string{"first_name",
		"last_name",
		"phone_number",
		"password",
		"location_sharing",
		"subscribed_regions",
	}
)

// Profile is a guardian user. Profiles are updated, never deleted.
type Profile struct {
	BaseModel
	FirstName         string             `json:"first_name" validate:"required"`
	LastName          string             `json:"last_name" validate:"required"`
	PhoneNumber       string             `json:"phone_number" validate:"omitempty,e164"`
	Email             string             `json:"email" validate:"required,email" gorm:"not null;unique"`
	Password          string             `json:"password,omitempty" validate:"required,password" gorm:"not null"`
	RoleID            uint               `json:"role_id" gorm:"null"`
	LocationSharing   bool               `json:"location_sharing" gorm:"default:false"`
	SubscribedRegions string             `json:"subscribed_regions"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (s *Store) CreateProfile(profile *Profile) error {
	passwordHash, err := auth.HashPassword(profile.Password)
	if err != nil {
		return err
	}
	profile.Password = passwordHash

	// The very first profile administers the deployment
	exists, err := s.AtLeastOneProfileExists()
	if err != nil {
		return err
	}

	roleName := BASIC_ROLE
	if !exists {
		roleName = ADMIN_ROLE
	}

	role, err := s.FindRole(roleName)
	if err != nil {
		return err
	}
	profile.RoleID = role.ID

	return s.db.Create(profile).Error
}

func (s *Store) UpdateProfile(id interface{}, data map[string]interface{}) error {
	if data["password"] != nil {
		passwordHash, err := auth.HashPassword(fmt.Sprint(data["password"]))
		if err != nil {
			return err
		}
		data["password"] = passwordHash
	}

	return s.db.Model(&Profile{}).Where("id = ?", id).Select(updatableFields).Updates(data).Error
}

func (s *Store) FindProfileBy(field string, value interface{}) (*Profile, error) {
	profile := Profile{}
	err := s.db.Select(allFieldsExceptPassword).First(&profile, fmt.Sprintf("%v = ?", field), value).Error
	if err != nil {
		return nil, err
	}

	return &profile, nil
}

func (s *Store) FindProfilePassword(email string) (string, error) {
	profile := &Profile{}
	err := s.db.Select("password").First(profile, "email = ?", email).Error
	if err != nil {
		return "", err
	}

	return profile.Password, nil
}

func (s *Store) IsAdmin(profile *Profile) (bool, error) {
	if profile.RoleID == 0 {
		return false, nil
	}

	adminRole, err := s.FindRole(ADMIN_ROLE)
	if err != nil {
		return false, err
	}

	return adminRole.ID == profile.RoleID, nil
}

func (s *Store) AtLeastOneProfileExists() (bool, error) {
	err := s.db.Select("id").First(&Profile{}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}
