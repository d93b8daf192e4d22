package sos

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Daskott/guardian/server/emailqueue"
	"github.com/Daskott/guardian/server/mailer"
	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	mu   sync.Mutex
	sent []mailer.Email
}

func (p *recordingProvider) Send(ctx context.Context, email mailer.Email) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, email)
	return "msg_test", nil
}

type testHarness struct {
	store        *models.Store
	broker       *realtime.MemoryBroker
	dialer       *fakeDialer
	provider     *recordingProvider
	orchestrator *Orchestrator
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	store, err := models.OpenTestStore()
	require.Nil(t, err)
	t.Cleanup(func() { store.Close() })

	broker := realtime.NewMemoryBroker()
	t.Cleanup(func() { broker.Close() })

	h := &testHarness{
		store:    store,
		broker:   broker,
		dialer:   &fakeDialer{behavior: map[uint]string{}},
		provider: &recordingProvider{},
	}

	queue := emailqueue.New(store, h.provider, emailqueue.Options{}, nil)
	h.orchestrator = NewOrchestrator(
		store,
		realtime.NewFamilyNotifier(broker, nil),
		NewCallSequencer(h.dialer, 10*time.Millisecond, nil),
		NewEmailNotifier(queue, nil),
		nil,
	)

	return h
}

func (h *testHarness) createProfile(t *testing.T, email string) *models.Profile {
	t.Helper()

	profile := &models.Profile{FirstName: "Ada", LastName: "Obi", PhoneNumber: "+15550000001", Email: email, Password: "pass-word"}
	require.Nil(t, h.store.CreateProfile(profile))
	return profile
}

func triggerRequest(lat, lng float64) TriggerRequest {
	return TriggerRequest{Location: &Location{Latitude: &lat, Longitude: &lng, Address: "12 Marina Road"}}
}

func TestTriggerWithoutContactsOrFamily(t *testing.T) {
	h := newHarness(t)
	profile := h.createProfile(t, "ada@example.com")

	response, err := h.orchestrator.Trigger(context.Background(), profile.ID, triggerRequest(6.5, 3.25))
	require.Nil(t, err)
	h.orchestrator.Wait()

	assert.True(t, response.Success)
	assert.Equal(t, 0, response.FamilyAlertsSent)
	assert.Equal(t, 0, response.CallOnlyContacts)
	assert.Equal(t, 0, response.EmailNotifications)
	assert.False(t, response.RealTimeEnabled)

	event, err := h.store.FindSOSEvent(response.EventID)
	require.Nil(t, err, "the event is created even with nobody to alert")
	assert.Equal(t, models.ACTIVE_SOS, event.Status)
	assert.Nil(t, event.FamilyGroupID)
	require.Len(t, event.Locations, 1)
	assert.Equal(t, 6.5, event.Locations[0].Latitude)

	assert.Empty(t, h.dialer.Dialed())
	assert.Empty(t, h.provider.sent)
}

func TestTriggerFansOutToEveryChannel(t *testing.T) {
	h := newHarness(t)
	profile := h.createProfile(t, "ada@example.com")
	member := h.createProfile(t, "member@example.com")
	invited := h.createProfile(t, "invited@example.com")

	group := &models.FamilyGroup{Name: "Obi", OwnerID: profile.ID}
	require.Nil(t, h.store.CreateFamilyGroup(group))
	_, err := h.store.InviteFamilyMember(group.ID, member.ID)
	require.Nil(t, err)
	require.Nil(t, h.store.AcceptFamilyInvite(group.ID, member.ID))
	_, err = h.store.InviteFamilyMember(group.ID, invited.ID)
	require.Nil(t, err)

	contacts := []models.EmergencyContact{
		{Name: "Second caller", PhoneNumber: "+15550000002", Priority: 2, Type: models.CALL_ONLY_CONTACT},
		{Name: "First caller", PhoneNumber: "+15550000003", Priority: 1, Type: models.CALL_ONLY_CONTACT},
		{Name: "Mum", Email: "mum@example.com", Priority: 3, Type: models.EMAIL_ONLY_CONTACT},
		{Name: "Dad", PhoneNumber: "+15550000004", Email: "dad@example.com", Priority: 4, Type: models.BOTH_CONTACT},
	}
	for i := range contacts {
		require.Nil(t, h.store.AddEmergencyContact(profile.ID, &contacts[i]))
	}
	h.dialer.behavior[contacts[1].ID] = ignore
	h.dialer.behavior[contacts[0].ID] = answer

	sub, err := h.broker.Subscribe(context.Background(), realtime.FamilyChannel(group.ID))
	require.Nil(t, err)
	defer sub.Close()

	response, err := h.orchestrator.Trigger(context.Background(), profile.ID, triggerRequest(6.5, 3.25))
	require.Nil(t, err)
	h.orchestrator.Wait()

	assert.Equal(t, 1, response.FamilyAlertsSent, "only active members other than the sender")
	assert.Equal(t, 2, response.CallOnlyContacts)
	assert.Equal(t, 2, response.EmailNotifications)
	assert.True(t, response.RealTimeEnabled)

	select {
	case msg := <-sub.C:
		message := realtime.FamilyMessage{}
		require.Nil(t, json.Unmarshal(msg.Payload, &message))
		assert.Equal(t, response.EventID, message.EventID)
		assert.Equal(t, member.ID, message.RecipientProfileID)
		assert.Equal(t, "Ada Obi", message.Sender.Name)
	case <-time.After(time.Second):
		t.Fatal("no family alert published")
	}

	assert.Equal(t, []uint{contacts[1].ID, contacts[0].ID}, h.dialer.Dialed())

	require.Len(t, h.provider.sent, 2)
	recipients := []string{h.provider.sent[0].To, h.provider.sent[1].To}
	assert.ElementsMatch(t, []string{"mum@example.com", "dad@example.com"}, recipients)

	stats, err := h.store.EmailQueueStats()
	require.Nil(t, err)
	assert.Equal(t, int64(2), stats.Sent)

	event, err := h.store.FindSOSEvent(response.EventID)
	require.Nil(t, err)
	require.NotNil(t, event.FamilyGroupID)
	assert.Equal(t, group.ID, *event.FamilyGroupID)
}

func TestTriggerAlertsFamilyWhenBillingIsPastDue(t *testing.T) {
	h := newHarness(t)
	owner := h.createProfile(t, "owner@example.com")
	sender := h.createProfile(t, "ada@example.com")

	group := &models.FamilyGroup{Name: "Obi", OwnerID: owner.ID}
	require.Nil(t, h.store.CreateFamilyGroup(group))
	_, err := h.store.InviteFamilyMember(group.ID, sender.ID)
	require.Nil(t, err)
	require.Nil(t, h.store.AcceptFamilyInvite(group.ID, sender.ID))
	require.Nil(t, h.store.UpdateMembershipBilling(group.ID, sender.ID, models.PAST_DUE_BILLING))

	membership, err := h.store.FindFamilyMembership(group.ID, sender.ID)
	require.Nil(t, err)
	require.True(t, membership.SharingPaused())

	sub, err := h.broker.Subscribe(context.Background(), realtime.FamilyChannel(group.ID))
	require.Nil(t, err)
	defer sub.Close()

	response, err := h.orchestrator.Trigger(context.Background(), sender.ID, triggerRequest(6.5, 3.25))
	require.Nil(t, err)
	h.orchestrator.Wait()

	assert.Equal(t, 1, response.FamilyAlertsSent)

	select {
	case msg := <-sub.C:
		message := realtime.FamilyMessage{}
		require.Nil(t, json.Unmarshal(msg.Payload, &message))
		assert.Equal(t, owner.ID, message.RecipientProfileID)
		assert.Equal(t, 6.5, message.Location.Latitude)
	case <-time.After(time.Second):
		t.Fatal("no family alert published")
	}
}

func TestTriggerFallsBackToRequestContacts(t *testing.T) {
	h := newHarness(t)
	profile := h.createProfile(t, "ada@example.com")

	req := triggerRequest(1, 2)
	req.Metadata = map[string]interface{}{"is_test": true, "source": "watch"}
	req.UserProfile = UserProfile{
		FirstName: "Ada",
		LastName:  "O.",
		EmergencyContacts: []models.EmergencyContact{
			{Name: "Neighbour", Email: "neighbour@example.com"},
		},
	}

	response, err := h.orchestrator.Trigger(context.Background(), profile.ID, req)
	require.Nil(t, err)
	h.orchestrator.Wait()

	assert.Equal(t, 1, response.EmailNotifications)
	assert.Equal(t, 0, response.CallOnlyContacts)

	require.Len(t, h.provider.sent, 1)
	assert.Equal(t, "neighbour@example.com", h.provider.sent[0].To)
	assert.Equal(t, "[TEST] SOS: Ada O. needs help", h.provider.sent[0].Subject)

	event, err := h.store.FindSOSEvent(response.EventID)
	require.Nil(t, err)
	assert.True(t, event.IsTest)
	assert.Contains(t, event.Metadata, `"source":"watch"`)
}

func TestTriggerFailsWhenEventCannotBeStored(t *testing.T) {
	h := newHarness(t)
	profile := h.createProfile(t, "ada@example.com")
	require.Nil(t, h.store.DB().Migrator().DropTable(&models.SOSEvent{}))

	_, err := h.orchestrator.Trigger(context.Background(), profile.ID, triggerRequest(1, 2))
	assert.True(t, errors.Is(err, ErrEventNotCreated))
}

func TestTriggerSurvivesLocationFailure(t *testing.T) {
	h := newHarness(t)
	profile := h.createProfile(t, "ada@example.com")
	require.Nil(t, h.store.DB().Migrator().DropTable(&models.SOSLocation{}))

	response, err := h.orchestrator.Trigger(context.Background(), profile.ID, triggerRequest(1, 2))
	require.Nil(t, err)
	h.orchestrator.Wait()
	assert.NotEmpty(t, response.EventID)
}

func TestTriggerOutlivesRequestContext(t *testing.T) {
	h := newHarness(t)
	profile := h.createProfile(t, "ada@example.com")

	contact := models.EmergencyContact{Name: "Mum", Email: "mum@example.com", Type: models.EMAIL_ONLY_CONTACT}
	require.Nil(t, h.store.AddEmergencyContact(profile.ID, &contact))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := h.orchestrator.Trigger(ctx, profile.ID, triggerRequest(1, 2))
	require.Nil(t, err)
	cancel()

	h.orchestrator.Wait()
	assert.Len(t, h.provider.sent, 1)
}
