package sos

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/metrics"
	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/realtime"
	"github.com/Daskott/guardian/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrEventNotCreated = errors.New("unable to create sos event")

type Location struct {
	Latitude  *float64 `json:"lat" validate:"required,latitude"`
	Longitude *float64 `json:"lng" validate:"required,longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty" validate:"omitempty,min=0"`
	Address   string   `json:"address,omitempty"`
}

// UserProfile is the caller's own snapshot of who they are and whom to alert.
// Stored contacts win over the snapshot when there are any.
type UserProfile struct {
	FirstName         string                    `json:"first_name" validate:"required"`
	LastName          string                    `json:"last_name" validate:"required"`
	Phone             string                    `json:"phone,omitempty"`
	EmergencyContacts []models.EmergencyContact `json:"emergency_contacts,omitempty" validate:"omitempty,dive"`
}

// DefaultContactTypes gives snapshot contacts without a type the same
// default a stored contact gets, so they can be validated like one.
func (profile *UserProfile) DefaultContactTypes() {
	for i := range profile.EmergencyContacts {
		if profile.EmergencyContacts[i].Type == "" {
			profile.EmergencyContacts[i].Type = models.BOTH_CONTACT
		}
	}
}

type TriggerRequest struct {
	Location    *Location              `json:"location" validate:"required"`
	UserProfile UserProfile            `json:"user_profile"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	IsTest      bool                   `json:"is_test,omitempty"`
}

// isTest is true when either the request or its metadata flags a test
func (req TriggerRequest) isTest() bool {
	if req.IsTest {
		return true
	}

	flag, ok := req.Metadata["is_test"].(bool)
	return ok && flag
}

type TriggerResponse struct {
	Success            bool   `json:"success"`
	EventID            string `json:"event_id"`
	FamilyAlertsSent   int    `json:"family_alerts_sent"`
	CallOnlyContacts   int    `json:"call_only_contacts"`
	EmailNotifications int    `json:"email_notifications"`
	RealTimeEnabled    bool   `json:"real_time_enabled"`
}

// Orchestrator records an SOS event and fans it out to the family
// notifier, the call sequencer and the email notifier. The fan-out runs
// in the background; Trigger returns once it has been started.
type Orchestrator struct {
	store  *models.Store
	family *realtime.FamilyNotifier
	calls  *CallSequencer
	emails *EmailNotifier
	logg   *zap.SugaredLogger
	wg     sync.WaitGroup
}

func NewOrchestrator(
	store *models.Store,
	family *realtime.FamilyNotifier,
	calls *CallSequencer,
	emails *EmailNotifier,
	logg *zap.SugaredLogger,
) *Orchestrator {
	return &Orchestrator{
		store:  store,
		family: family,
		calls:  calls,
		emails: emails,
		logg:   logger.OrNop(logg),
	}
}

func (o *Orchestrator) Trigger(ctx context.Context, profileID uint, req TriggerRequest) (*TriggerResponse, error) {
	profile, err := o.store.FindProfileBy("id", profileID)
	if err != nil {
		return nil, errors.Wrap(err, "find profile")
	}

	senderName := utils.FullName(req.UserProfile.FirstName, req.UserProfile.LastName)
	if senderName == "" {
		senderName = utils.FullName(profile.FirstName, profile.LastName)
	}
	senderPhone := req.UserProfile.Phone
	if senderPhone == "" {
		senderPhone = profile.PhoneNumber
	}
	isTest := req.isTest()

	group, err := o.store.FamilyGroupForProfile(profileID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			o.logWarnf("profile=%v family lookup failed, continuing without family: %v", profileID, err)
		}
		group = nil
	}

	event := &models.SOSEvent{
		ProfileID: profileID,
		Latitude:  *req.Location.Latitude,
		Longitude: *req.Location.Longitude,
		Address:   req.Location.Address,
		Metadata:  encodeMetadata(req.Metadata),
		IsTest:    isTest,
	}
	if group != nil {
		event.FamilyGroupID = &group.ID
	}

	if err := o.store.CreateSOSEvent(event); err != nil {
		o.logg.Errorf(colors.Red("[sos] ")+"profile=%v: %v", profileID, err)
		return nil, fmt.Errorf("%w: %v", ErrEventNotCreated, err)
	}
	metrics.SOSTriggered.WithLabelValues(strconv.FormatBool(isTest)).Inc()

	// the event stands on its own, a missing first sample is only logged
	err = o.store.AddSOSLocation(&models.SOSLocation{
		SOSEventID: event.ID,
		Latitude:   event.Latitude,
		Longitude:  event.Longitude,
		Accuracy:   req.Location.Accuracy,
		Address:    event.Address,
		RecordedAt: event.CreatedAt,
	})
	if err != nil {
		o.logWarnf("event=%v first location not stored: %v", event.ID, err)
	}

	contacts := o.contactsFor(profileID, req.UserProfile.EmergencyContacts)
	recipients := o.familyRecipients(group, profileID)

	response := &TriggerResponse{
		Success:          true,
		EventID:          event.ID,
		FamilyAlertsSent: len(recipients),
		CallOnlyContacts: len(callOnlyByPriority(contacts)),
		RealTimeEnabled:  len(recipients) > 0,
	}
	for _, contact := range contacts {
		if contact.Email != "" {
			response.EmailNotifications++
		}
	}

	// fan-out must outlive the request that triggered it
	background := context.WithoutCancel(ctx)

	if response.RealTimeEnabled {
		o.goFanOut(func() {
			_, err := o.family.Notify(background, realtime.FamilyAlert{
				EventID:      event.ID,
				GroupID:      group.ID,
				Sender:       realtime.AlertSender{ProfileID: profileID, Name: senderName, Phone: senderPhone},
				Latitude:     event.Latitude,
				Longitude:    event.Longitude,
				Address:      event.Address,
				IsTest:       isTest,
				Timestamp:    event.CreatedAt,
				RecipientIDs: recipients,
			})
			if err != nil {
				o.channelFailed("realtime", event.ID, err)
			}
		})
	}

	if response.CallOnlyContacts > 0 {
		o.goFanOut(func() {
			result := o.calls.Run(background, CallPlan{
				EventID:     event.ID,
				CallerName:  senderName,
				CallerPhone: senderPhone,
				Latitude:    event.Latitude,
				Longitude:   event.Longitude,
				IsTest:      isTest,
				Contacts:    contacts,
			})
			if result.State == ABANDONED_CALL {
				o.channelFailed("calls", event.ID, result.Err)
			}
		})
	}

	if response.EmailNotifications > 0 {
		o.goFanOut(func() {
			summary := o.emails.Notify(background, EmailRequest{
				EventID:     event.ID,
				UserName:    senderName,
				Phone:       senderPhone,
				Address:     event.Address,
				Latitude:    event.Latitude,
				Longitude:   event.Longitude,
				IsTest:      isTest,
				TriggeredAt: event.CreatedAt,
				Contacts:    contacts,
			})
			if summary.Failed > 0 {
				o.channelFailed("email", event.ID, fmt.Errorf("%v of %v email(s) failed", summary.Failed, summary.Attempted))
			}
		})
	}

	o.logg.Infof(colors.Green("[sos] ")+"event=%v profile=%v family_alerts=%v call_only=%v emails=%v test=%v",
		event.ID, profileID, response.FamilyAlertsSent, response.CallOnlyContacts, response.EmailNotifications, isTest)

	return response, nil
}

// Wait blocks until every fan-out started so far has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) goFanOut(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

// contactsFor returns the stored contacts, or the request snapshot when
// none are stored. Snapshot contacts get ids by position so that call
// acknowledgments can still tell them apart.
func (o *Orchestrator) contactsFor(profileID uint, snapshot []models.EmergencyContact) []models.EmergencyContact {
	contacts, err := o.store.EmergencyContactsByPriority(profileID)
	if err != nil {
		o.logWarnf("profile=%v contacts lookup failed, using request contacts: %v", profileID, err)
		contacts = nil
	}

	if len(contacts) > 0 {
		return contacts
	}

	fallback := make([]models.EmergencyContact, 0, len(snapshot))
	for i, contact := range snapshot {
		contact.ID = uint(i + 1)
		contact.ProfileID = profileID
		if contact.Type == "" {
			contact.Type = models.BOTH_CONTACT
		}
		fallback = append(fallback, contact)
	}

	return fallback
}

// familyRecipients lists the active members of group other than the sender.
// Billing status is not checked here: past_due pauses location sharing
// after an alert, never the alert and its first location.
func (o *Orchestrator) familyRecipients(group *models.FamilyGroup, senderID uint) []uint {
	if group == nil {
		return nil
	}

	memberships, err := o.store.ActiveFamilyMemberships(group.ID)
	if err != nil {
		o.logWarnf("family=%v memberships lookup failed: %v", group.ID, err)
		return nil
	}

	recipients := []uint{}
	for _, membership := range memberships {
		if membership.ProfileID != senderID {
			recipients = append(recipients, membership.ProfileID)
		}
	}

	return recipients
}

func (o *Orchestrator) channelFailed(channel, eventID string, err error) {
	metrics.ChannelFailures.WithLabelValues(channel).Inc()
	o.logWarnf("event=%v %v channel failed: %v", eventID, channel, err)
}

func (o *Orchestrator) logWarnf(template string, args ...interface{}) {
	o.logg.Warnf(colors.Yellow("[sos] ")+template, args...)
}

func encodeMetadata(metadata map[string]interface{}) string {
	if len(metadata) == 0 {
		return ""
	}

	encoded, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}

	return string(encoded)
}
