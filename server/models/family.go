package models

import (
	"errors"

	"gorm.io/gorm"
)

const (
	PENDING_MEMBERSHIP = "pending"
	ACTIVE_MEMBERSHIP  = "active"
	REMOVED_MEMBERSHIP = "removed"

	ACTIVE_BILLING   = "active"
	GRACE_BILLING    = "grace"
	PAST_DUE_BILLING = "past_due"

	DEFAULT_FAMILY_SEATS = 5
)

var (
	ErrNoSeatsLeft          = errors.New("family group has no seats left")
	ErrAlreadyFamilyMember  = errors.New("profile already belongs to a family group")
	ErrMembershipNotPending = errors.New("no pending invite for profile")
)

type FamilyGroup struct {
	BaseModel
	Name        string             `json:"name" validate:"required"`
	OwnerID     uint               `json:"owner_id" gorm:"not null;index"`
	Seats       int                `json:"seats" gorm:"not null;default:5"`
	Memberships []FamilyMembership `json:"memberships,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// FamilyMembership links one profile to one family group
type FamilyMembership struct {
	BaseModel
	FamilyGroupID uint     `json:"family_group_id" gorm:"not null;index"`
	ProfileID     uint     `json:"profile_id" gorm:"not null;uniqueIndex"`
	Status        string   `json:"status" gorm:"not null;default:pending"`
	BillingStatus string   `json:"billing_status" gorm:"not null;default:active"`
	Profile       *Profile `json:"profile,omitempty"`
}

// SharingPaused is true while the membership is past due on billing
func (membership FamilyMembership) SharingPaused() bool {
	return membership.BillingStatus == PAST_DUE_BILLING
}

// CreateFamilyGroup creates the group and an active membership for its owner
func (s *Store) CreateFamilyGroup(group *FamilyGroup) error {
	if group.Seats <= 0 {
		group.Seats = DEFAULT_FAMILY_SEATS
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("profile_id = ? AND status <> ?", group.OwnerID, REMOVED_MEMBERSHIP).
			First(&FamilyMembership{}).Error
		if err == nil {
			return ErrAlreadyFamilyMember
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Create(group).Error; err != nil {
			return err
		}

		return upsertMembership(tx, &FamilyMembership{
			FamilyGroupID: group.ID,
			ProfileID:     group.OwnerID,
			Status:        ACTIVE_MEMBERSHIP,
			BillingStatus: ACTIVE_BILLING,
		})
	})
}

func (s *Store) FindFamilyGroup(id interface{}) (*FamilyGroup, error) {
	group := FamilyGroup{}
	err := s.db.First(&group, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &group, nil
}

// FamilyGroupForProfile returns the group the profile owns, or else the group
// it is an active member of. gorm.ErrRecordNotFound means neither.
func (s *Store) FamilyGroupForProfile(profileID uint) (*FamilyGroup, error) {
	group := FamilyGroup{}
	err := s.db.Where("owner_id = ?", profileID).First(&group).Error
	if err == nil {
		return &group, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = s.db.Joins(
		"INNER JOIN family_memberships ON family_memberships.family_group_id = family_groups.id "+
			"AND family_memberships.profile_id = ? AND family_memberships.status = ?",
		profileID, ACTIVE_MEMBERSHIP).
		First(&group).Error
	if err != nil {
		return nil, err
	}

	return &group, nil
}

// InviteFamilyMember adds a pending membership, as long as the group has a seat left
func (s *Store) InviteFamilyMember(groupID, profileID uint) (*FamilyMembership, error) {
	membership := &FamilyMembership{
		FamilyGroupID: groupID,
		ProfileID:     profileID,
		Status:        PENDING_MEMBERSHIP,
		BillingStatus: ACTIVE_BILLING,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		group := FamilyGroup{}
		if err := tx.First(&group, "id = ?", groupID).Error; err != nil {
			return err
		}

		var taken int64
		err := tx.Model(&FamilyMembership{}).
			Where("family_group_id = ? AND status IN ?", groupID, []string{PENDING_MEMBERSHIP, ACTIVE_MEMBERSHIP}).
			Count(&taken).Error
		if err != nil {
			return err
		}
		if taken >= int64(group.Seats) {
			return ErrNoSeatsLeft
		}

		existing := FamilyMembership{}
		err = tx.Where("profile_id = ?", profileID).First(&existing).Error
		if err == nil && existing.Status != REMOVED_MEMBERSHIP {
			return ErrAlreadyFamilyMember
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return upsertMembership(tx, membership)
	})
	if err != nil {
		return nil, err
	}

	return membership, nil
}

func (s *Store) AcceptFamilyInvite(groupID, profileID uint) error {
	res := s.db.Model(&FamilyMembership{}).
		Where("family_group_id = ? AND profile_id = ? AND status = ?", groupID, profileID, PENDING_MEMBERSHIP).
		Update("status", ACTIVE_MEMBERSHIP)
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrMembershipNotPending
	}

	return nil
}

func (s *Store) RemoveFamilyMember(groupID, profileID uint) error {
	return s.db.Model(&FamilyMembership{}).
		Where("family_group_id = ? AND profile_id = ?", groupID, profileID).
		Update("status", REMOVED_MEMBERSHIP).Error
}

func (s *Store) UpdateMembershipBilling(groupID, profileID uint, billingStatus string) error {
	return s.db.Model(&FamilyMembership{}).
		Where("family_group_id = ? AND profile_id = ?", groupID, profileID).
		Update("billing_status", billingStatus).Error
}

// ActiveFamilyMemberships lists the active memberships of a group with their profiles
func (s *Store) ActiveFamilyMemberships(groupID uint) ([]FamilyMembership, error) {
	memberships := []FamilyMembership{}
	err := s.db.Preload("Profile", func(db *gorm.DB) *gorm.DB {
		return db.Select(allFieldsExceptPassword)
	}).
		Where("family_group_id = ? AND status = ?", groupID, ACTIVE_MEMBERSHIP).
		Order("id asc").Find(&memberships).Error
	if err != nil {
		return nil, err
	}

	return memberships, nil
}

func (s *Store) FindFamilyMembership(groupID, profileID uint) (*FamilyMembership, error) {
	membership := FamilyMembership{}
	err := s.db.First(&membership, "family_group_id = ? AND profile_id = ?", groupID, profileID).Error
	if err != nil {
		return nil, err
	}

	return &membership, nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// upsertMembership reuses a removed membership row, since a profile has at most one
func upsertMembership(tx *gorm.DB, membership *FamilyMembership) error {
	existing := FamilyMembership{}
	err := tx.Where("profile_id = ?", membership.ProfileID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(membership).Error
	}
	if err != nil {
		return err
	}

	membership.ID = existing.ID
	membership.CreatedAt = existing.CreatedAt
	return tx.Model(&existing).Updates(map[string]interface{}{
		"family_group_id": membership.FamilyGroupID,
		"status":          membership.Status,
		"billing_status":  membership.BillingStatus,
	}).Error
}
