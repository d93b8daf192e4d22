package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmergencyContactsByPriority(t *testing.T) {
	store := newTestStore(t)
	profile := createTestProfile(t, store, "ada@example.com")

	contacts := []EmergencyContact{
		{Name: "Sibling", PhoneNumber: "+15550000003", Priority: 2, Type: CALL_ONLY_CONTACT},
		{Name: "Mum", PhoneNumber: "+15550000002", Email: "mum@example.com", Priority: 1, Type: BOTH_CONTACT},
		{Name: "Friend", Email: "friend@example.com", Priority: 1, Type: EMAIL_ONLY_CONTACT},
	}
	for i := range contacts {
		require.Nil(t, store.AddEmergencyContact(profile.ID, &contacts[i]))
	}

	ordered, err := store.EmergencyContactsByPriority(profile.ID)
	require.Nil(t, err)
	require.Len(t, ordered, 3)
	assert.Equal(t, "Mum", ordered[0].Name)
	assert.Equal(t, "Friend", ordered[1].Name, "ties keep insertion order")
	assert.Equal(t, "Sibling", ordered[2].Name)

	other := createTestProfile(t, store, "other@example.com")
	none, err := store.EmergencyContactsByPriority(other.ID)
	require.Nil(t, err)
	assert.Empty(t, none)
}

func TestUpdateAndDeleteEmergencyContact(t *testing.T) {
	store := newTestStore(t)
	profile := createTestProfile(t, store, "ada@example.com")
	other := createTestProfile(t, store, "other@example.com")

	contact := EmergencyContact{Name: "Mum", PhoneNumber: "+15550000002", Type: CALL_ONLY_CONTACT}
	require.Nil(t, store.AddEmergencyContact(profile.ID, &contact))

	require.Nil(t, store.UpdateEmergencyContact(profile.ID, contact.ID, map[string]interface{}{
		"priority":   4,
		"profile_id": other.ID,
	}))

	found, err := store.FindEmergencyContact(profile.ID, contact.ID)
	require.Nil(t, err)
	assert.Equal(t, 4, found.Priority)
	assert.Equal(t, profile.ID, found.ProfileID, "contacts cannot move between profiles")

	// another profile cannot delete it
	require.Nil(t, store.DeleteEmergencyContact(other.ID, contact.ID))
	_, err = store.FindEmergencyContact(profile.ID, contact.ID)
	assert.Nil(t, err)

	require.Nil(t, store.DeleteEmergencyContact(profile.ID, contact.ID))
	_, err = store.FindEmergencyContact(profile.ID, contact.ID)
	assert.NotNil(t, err)
}

func TestContactCheckChannels(t *testing.T) {
	assert.Equal(t, ErrContactNeedsPhone, EmergencyContact{Type: CALL_ONLY_CONTACT}.CheckChannels())
	assert.Equal(t, ErrContactNeedsEmail, EmergencyContact{Type: EMAIL_ONLY_CONTACT}.CheckChannels())
	assert.Equal(t, ErrContactNeedsEmail, EmergencyContact{Type: BOTH_CONTACT, PhoneNumber: "+15550000002"}.CheckChannels())
	assert.Nil(t, EmergencyContact{Type: CALL_ONLY_CONTACT, PhoneNumber: "+15550000002"}.CheckChannels())
	assert.Nil(t, EmergencyContact{Type: EMAIL_ONLY_CONTACT, Email: "a@example.com"}.CheckChannels())
}
