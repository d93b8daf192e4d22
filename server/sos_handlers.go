package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Daskott/guardian/server/models"
	"github.com/Daskott/guardian/server/realtime"
	"github.com/Daskott/guardian/server/sos"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

func (s *Server) triggerSOS(rw http.ResponseWriter, r *http.Request) {
	req := sos.TriggerRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(rw, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req.UserProfile.DefaultContactTypes()
	if err := s.validate.Struct(req); err != nil {
		s.writeError(rw, http.StatusBadRequest, validationErrors(err)...)
		return
	}

	response, err := s.orchestrator.Trigger(r.Context(), requestProfileID(r), req)
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(rw, response, http.StatusOK)
}

func (s *Server) findSOSEvent(rw http.ResponseWriter, r *http.Request) {
	event, ok := s.sosEventFor(rw, r)
	if !ok {
		return
	}

	if !s.canViewEvent(r, event) {
		s.writeError(rw, http.StatusForbidden, "action is forbidden")
		return
	}

	writeJSON(rw, event, http.StatusOK)
}

func (s *Server) addSOSLocation(rw http.ResponseWriter, r *http.Request) {
	event, ok := s.sosEventFor(rw, r)
	if !ok {
		return
	}

	if event.ProfileID != requestProfileID(r) {
		s.writeError(rw, http.StatusForbidden, "only the sender can add locations")
		return
	}

	if event.Status == models.RESOLVED_SOS {
		s.writeError(rw, http.StatusConflict, models.ErrSOSEventClosed.Error())
		return
	}

	location := sos.Location{}
	if err := json.NewDecoder(r.Body).Decode(&location); err != nil {
		s.writeError(rw, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.validate.Struct(location); err != nil {
		s.writeError(rw, http.StatusBadRequest, validationErrors(err)...)
		return
	}

	sample := &models.SOSLocation{
		SOSEventID: event.ID,
		Latitude:   *location.Latitude,
		Longitude:  *location.Longitude,
		Accuracy:   location.Accuracy,
		Address:    location.Address,
	}
	if err := s.store.AddSOSLocation(sample); err != nil {
		s.writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.shareLocation(r, event, sample)

	writeJSON(rw, sample, http.StatusCreated)
}

func (s *Server) acknowledgeSOSEvent(rw http.ResponseWriter, r *http.Request) {
	event, ok := s.sosEventFor(rw, r)
	if !ok {
		return
	}

	callerID := requestProfileID(r)
	if event.ProfileID == callerID || !s.canViewEvent(r, event) {
		s.writeError(rw, http.StatusForbidden, "action is forbidden")
		return
	}

	by := fmt.Sprintf("profile:%v", callerID)
	acknowledged, err := s.store.AcknowledgeSOSEvent(event.ID, by)
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	if !acknowledged {
		s.writeError(rw, http.StatusConflict, "sos event is not active")
		return
	}

	if event.FamilyGroupID != nil {
		update := realtime.EventUpdate{
			Type:      realtime.ACKNOWLEDGED_MESSAGE,
			EventID:   event.ID,
			GroupID:   *event.FamilyGroupID,
			ProfileID: event.ProfileID,
			By:        by,
			Timestamp: event.UpdatedAt,
		}
		if err := s.family.NotifyUpdate(r.Context(), update); err != nil {
			s.logg.Warnf("event=%v acknowledgment not broadcast: %v", event.ID, err)
		}
	}

	writeJSON(rw, map[string]interface{}{"success": true, "event_id": event.ID, "status": models.ACKNOWLEDGED_SOS}, http.StatusOK)
}

func (s *Server) resolveSOSEvent(rw http.ResponseWriter, r *http.Request) {
	event, ok := s.sosEventFor(rw, r)
	if !ok {
		return
	}

	if event.ProfileID != requestProfileID(r) && !decodedJWTFrom(r).Claims.IsAdmin {
		s.writeError(rw, http.StatusForbidden, "action is forbidden")
		return
	}

	err := s.store.ResolveSOSEvent(event.ID)
	if errors.Is(err, models.ErrSOSEventClosed) {
		s.writeError(rw, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(rw, map[string]interface{}{"success": true, "event_id": event.ID, "status": models.RESOLVED_SOS}, http.StatusOK)
}

func (s *Server) listSOSEvents(rw http.ResponseWriter, r *http.Request) {
	uid, _ := uintVar(r, "uid")

	events, paging, err := s.store.SOSEventsForProfile(uid, pageParam(r))
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    map[string]interface{}{"events": events, "paging": paging},
	}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func (s *Server) sosEventFor(rw http.ResponseWriter, r *http.Request) (*models.SOSEvent, bool) {
	event, err := s.store.FindSOSEvent(mux.Vars(r)["id"])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeError(rw, http.StatusNotFound, "sos event not found")
		return nil, false
	}
	if err != nil {
		s.writeError(rw, http.StatusInternalServerError, err.Error())
		return nil, false
	}

	return event, true
}

// canViewEvent is true for the sender, admins and active members of the sender's family
func (s *Server) canViewEvent(r *http.Request, event *models.SOSEvent) bool {
	callerID := requestProfileID(r)
	if event.ProfileID == callerID || decodedJWTFrom(r).Claims.IsAdmin {
		return true
	}

	return event.FamilyGroupID != nil && s.isActiveMember(*event.FamilyGroupID, callerID)
}

// shareLocation pushes a new sample to the family unless the sender's
// location sharing is paused on billing.
func (s *Server) shareLocation(r *http.Request, event *models.SOSEvent, sample *models.SOSLocation) {
	if event.FamilyGroupID == nil {
		return
	}

	membership, err := s.store.FindFamilyMembership(*event.FamilyGroupID, event.ProfileID)
	if err != nil {
		s.logg.Warnf("event=%v sender membership: %v", event.ID, err)
		return
	}

	if membership.SharingPaused() {
		s.logg.Infof("event=%v location not shared, sharing is paused", event.ID)
		return
	}

	update := realtime.NewLocationUpdate(event.ID, *event.FamilyGroupID, event.ProfileID,
		sample.Latitude, sample.Longitude, sample.Address, sample.RecordedAt)
	if err := s.family.NotifyUpdate(r.Context(), update); err != nil {
		s.logg.Warnf("event=%v location not broadcast: %v", event.ID, err)
	}
}
