package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestFamilyGroupLifecycle(t *testing.T) {
	store := newTestStore(t)
	owner := createTestProfile(t, store, "owner@example.com")
	member := createTestProfile(t, store, "member@example.com")
	outsider := createTestProfile(t, store, "outsider@example.com")

	group := &FamilyGroup{Name: "Obi household", OwnerID: owner.ID}
	require.Nil(t, store.CreateFamilyGroup(group))
	assert.Equal(t, DEFAULT_FAMILY_SEATS, group.Seats)

	found, err := store.FamilyGroupForProfile(owner.ID)
	require.Nil(t, err)
	assert.Equal(t, group.ID, found.ID)

	_, err = store.InviteFamilyMember(group.ID, member.ID)
	require.Nil(t, err)

	// pending members are not part of the group yet
	_, err = store.FamilyGroupForProfile(member.ID)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	require.Nil(t, store.AcceptFamilyInvite(group.ID, member.ID))
	assert.Equal(t, ErrMembershipNotPending, store.AcceptFamilyInvite(group.ID, member.ID))

	found, err = store.FamilyGroupForProfile(member.ID)
	require.Nil(t, err)
	assert.Equal(t, group.ID, found.ID)

	memberships, err := store.ActiveFamilyMemberships(group.ID)
	require.Nil(t, err)
	require.Len(t, memberships, 2)
	assert.Equal(t, owner.ID, memberships[0].ProfileID)
	require.NotNil(t, memberships[1].Profile)
	assert.Equal(t, "member@example.com", memberships[1].Profile.Email)
	assert.Empty(t, memberships[1].Profile.Password)

	_, err = store.FamilyGroupForProfile(outsider.ID)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	require.Nil(t, store.UpdateMembershipBilling(group.ID, member.ID, PAST_DUE_BILLING))
	membership, err := store.FindFamilyMembership(group.ID, member.ID)
	require.Nil(t, err)
	assert.True(t, membership.SharingPaused())

	require.Nil(t, store.RemoveFamilyMember(group.ID, member.ID))
	memberships, err = store.ActiveFamilyMemberships(group.ID)
	require.Nil(t, err)
	assert.Len(t, memberships, 1)

	// removed members can be invited again
	_, err = store.InviteFamilyMember(group.ID, member.ID)
	assert.Nil(t, err)
}

func TestInviteFamilyMemberEnforcesSeats(t *testing.T) {
	store := newTestStore(t)
	owner := createTestProfile(t, store, "owner@example.com")
	first := createTestProfile(t, store, "first@example.com")
	second := createTestProfile(t, store, "second@example.com")

	group := &FamilyGroup{Name: "Small", OwnerID: owner.ID, Seats: 2}
	require.Nil(t, store.CreateFamilyGroup(group))

	_, err := store.InviteFamilyMember(group.ID, first.ID)
	require.Nil(t, err)

	_, err = store.InviteFamilyMember(group.ID, second.ID)
	assert.Equal(t, ErrNoSeatsLeft, err, "pending invites take a seat")

	_, err = store.InviteFamilyMember(group.ID, owner.ID)
	assert.NotNil(t, err)

	assert.Equal(t, ErrAlreadyFamilyMember, store.CreateFamilyGroup(&FamilyGroup{Name: "Second", OwnerID: owner.ID}))
}
