package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenTestStore()
	require.Nil(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func createTestProfile(t *testing.T, store *Store, email string) *Profile {
	t.Helper()

	profile := &Profile{
		FirstName:   "Ada",
		LastName:    "Obi",
		PhoneNumber: "+15550000001",
		Email:       email,
		Password:    "s3cret-pass",
	}
	require.Nil(t, store.CreateProfile(profile))

	return profile
}

func TestSeedData(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{ADMIN_ROLE, BASIC_ROLE} {
		role, err := store.FindRole(name)
		require.Nil(t, err)
		assert.Equal(t, name, role.Name)
	}

	for _, name := range []string{ENQUEUED_JOB, IN_PROGRESS_JOB, SUCCESSFUL_JOB, DEAD_JOB, SCHEDULED_JOB} {
		status, err := store.FindJobStatus(name)
		require.Nil(t, err)
		assert.Equal(t, name, status.Name)
	}

	// migrating twice must not duplicate seeds
	require.Nil(t, store.AutoMigrate())
	var roles int64
	store.DB().Model(&Role{}).Count(&roles)
	assert.Equal(t, int64(2), roles)
}
