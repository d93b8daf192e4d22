package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Daskott/guardian/server/auth"
	"github.com/Daskott/guardian/server/models"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

var (
	profileFields = map[string]bool{
		"first_name": true, "last_name": true, "phone_number": true,
		"password": true, "location_sharing": true, "subscribed_regions": true,
	}
	contactFields = map[string]bool{
		"name": true, "phone_number": true, "email": true,
		"relationship": true, "priority": true, "type": true,
	}
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type createFamilyRequest struct {
	Name  string `json:"name" validate:"required"`
	Seats int    `json:"seats" validate:"omitempty,min=1,max=50"`
}

type inviteRequest struct {
	ProfileID uint `json:"profile_id" validate:"required"`
}

type billingRequest struct {
	BillingStatus string `json:"billing_status" validate:"required,oneof=active grace past_due"`
}

type familyMember struct {
	ProfileID     uint   `json:"profile_id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Status        string `json:"status"`
	BillingStatus string `json:"billing_status"`
	SharingPaused bool   `json:"sharing_paused"`
}

// ---------------------------------------------------------------------------------//
// Auth
// --------------------------------------------------------------------------------//

func (s *Server) logIn(rw http.ResponseWriter, r *http.Request) {
	data := loginRequest{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.validate.Struct(data); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, validationErrors(err)...)
		return
	}

	passwordHash, err := s.store.FindProfilePassword(data.Email)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	if !auth.CheckPasswordHash(data.Password, passwordHash) {
		s.writeEnvelopeError(rw, http.StatusUnauthorized, "email/password is invalid")
		return
	}

	profile, err := s.store.FindProfileBy("email", data.Email)
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	isAdmin, err := s.store.IsAdmin(profile)
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	claims := auth.NewTokenClaims(fmt.Sprint(profile.ID), profile.FirstName, profile.LastName, isAdmin, time.Now())
	token, err := auth.EncodeJWT(claims, s.keyPair)
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true, Data: map[string]string{"token": token}}, http.StatusOK)
}

func (s *Server) jwks(rw http.ResponseWriter, r *http.Request) {
	jwks, err := s.keyPair.JWKS()
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(rw, jwks, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Profiles
// --------------------------------------------------------------------------------//

func (s *Server) createProfile(rw http.ResponseWriter, r *http.Request) {
	profile := models.Profile{}
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.validate.Struct(profile); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, validationErrors(err)...)
		return
	}

	_, err := s.store.FindProfileBy("email", profile.Email)
	if err == nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, "email is already taken")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	// contacts are managed through their own routes
	profile.ID = 0
	profile.EmergencyContacts = nil
	if err := s.store.CreateProfile(&profile); err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	profile.Password = ""
	s.writeResponse(rw, ResponsePayload{Success: true, Data: profile}, http.StatusCreated)
}

func (s *Server) findProfile(rw http.ResponseWriter, r *http.Request) {
	profile, err := s.store.FindProfileBy("id", mux.Vars(r)["uid"])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeEnvelopeError(rw, http.StatusNotFound, err.Error())
		return
	}

	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true, Data: profile}, http.StatusOK)
}

func (s *Server) updateProfile(rw http.ResponseWriter, r *http.Request) {
	var errs []string
	data := make(map[string]interface{})

	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	removeUnknownFields(data, profileFields)
	if len(data) <= 0 {
		s.writeEnvelopeError(rw, http.StatusBadRequest, "valid fields required")
		return
	}

	if data["password"] != nil && s.validate.Var(fmt.Sprint(data["password"]), "password") != nil {
		errs = append(errs, "password must be at least 8 characters without spaces")
	}

	if data["phone_number"] != nil && s.validate.Var(fmt.Sprint(data["phone_number"]), "e164") != nil {
		errs = append(errs, "phone_number must be in e164 format")
	}

	if len(errs) > 0 {
		s.writeEnvelopeError(rw, http.StatusBadRequest, errs...)
		return
	}

	if err := s.store.UpdateProfile(mux.Vars(r)["uid"], data); err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Emergency contacts
// --------------------------------------------------------------------------------//

func (s *Server) listContacts(rw http.ResponseWriter, r *http.Request) {
	uid, _ := uintVar(r, "uid")

	contacts, err := s.store.EmergencyContactsByPriority(uid)
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true, Data: contacts}, http.StatusOK)
}

func (s *Server) createContact(rw http.ResponseWriter, r *http.Request) {
	uid, _ := uintVar(r, "uid")
	contact := models.EmergencyContact{Type: models.BOTH_CONTACT}

	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.validate.Struct(contact); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, validationErrors(err)...)
		return
	}

	if err := contact.CheckChannels(); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	contact.ID = 0
	if err := s.store.AddEmergencyContact(uid, &contact); err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true, Data: contact}, http.StatusCreated)
}

func (s *Server) updateContact(rw http.ResponseWriter, r *http.Request) {
	uid, _ := uintVar(r, "uid")
	cid := mux.Vars(r)["cid"]

	contact, err := s.store.FindEmergencyContact(uid, cid)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeEnvelopeError(rw, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	data := make(map[string]interface{})
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	removeUnknownFields(data, contactFields)
	if len(data) <= 0 {
		s.writeEnvelopeError(rw, http.StatusBadRequest, "valid fields required")
		return
	}

	// validate the contact as it will look after the update
	patch, err := json.Marshal(data)
	if err == nil {
		err = json.Unmarshal(patch, contact)
	}
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.validate.Struct(contact); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, validationErrors(err)...)
		return
	}

	if err := contact.CheckChannels(); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpdateEmergencyContact(uid, cid, data); err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true, Data: contact}, http.StatusOK)
}

func (s *Server) deleteContact(rw http.ResponseWriter, r *http.Request) {
	uid, _ := uintVar(r, "uid")

	if err := s.store.DeleteEmergencyContact(uid, mux.Vars(r)["cid"]); err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Family circles
// --------------------------------------------------------------------------------//

func (s *Server) createFamily(rw http.ResponseWriter, r *http.Request) {
	data := createFamilyRequest{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.validate.Struct(data); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, validationErrors(err)...)
		return
	}

	group := models.FamilyGroup{Name: data.Name, Seats: data.Seats, OwnerID: requestProfileID(r)}
	err := s.store.CreateFamilyGroup(&group)
	if errors.Is(err, models.ErrAlreadyFamilyMember) {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true, Data: group}, http.StatusCreated)
}

func (s *Server) listFamilyMembers(rw http.ResponseWriter, r *http.Request) {
	group, ok := s.familyGroupFor(rw, r)
	if !ok {
		return
	}

	if !s.canViewFamily(r, group) {
		s.writeEnvelopeError(rw, http.StatusForbidden, "action is forbidden")
		return
	}

	memberships, err := s.store.ActiveFamilyMemberships(group.ID)
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	members := []familyMember{}
	for _, membership := range memberships {
		member := familyMember{
			ProfileID:     membership.ProfileID,
			Status:        membership.Status,
			BillingStatus: membership.BillingStatus,
			SharingPaused: membership.SharingPaused(),
		}
		if membership.Profile != nil {
			member.FirstName = membership.Profile.FirstName
			member.LastName = membership.Profile.LastName
		}
		members = append(members, member)
	}

	s.writeResponse(rw, ResponsePayload{Success: true, Data: members}, http.StatusOK)
}

func (s *Server) inviteFamilyMember(rw http.ResponseWriter, r *http.Request) {
	group, ok := s.familyGroupFor(rw, r)
	if !ok {
		return
	}

	if group.OwnerID != requestProfileID(r) && !decodedJWTFrom(r).Claims.IsAdmin {
		s.writeEnvelopeError(rw, http.StatusForbidden, "only the family owner can invite members")
		return
	}

	data := inviteRequest{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.validate.Struct(data); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, validationErrors(err)...)
		return
	}

	if _, err := s.store.FindProfileBy("id", data.ProfileID); err != nil {
		s.writeEnvelopeError(rw, http.StatusNotFound, "profile not found")
		return
	}

	membership, err := s.store.InviteFamilyMember(group.ID, data.ProfileID)
	if errors.Is(err, models.ErrNoSeatsLeft) || errors.Is(err, models.ErrAlreadyFamilyMember) {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true, Data: membership}, http.StatusCreated)
}

func (s *Server) acceptFamilyInvite(rw http.ResponseWriter, r *http.Request) {
	group, ok := s.familyGroupFor(rw, r)
	if !ok {
		return
	}

	err := s.store.AcceptFamilyInvite(group.ID, requestProfileID(r))
	if errors.Is(err, models.ErrMembershipNotPending) {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func (s *Server) removeFamilyMember(rw http.ResponseWriter, r *http.Request) {
	group, ok := s.familyGroupFor(rw, r)
	if !ok {
		return
	}

	memberID, err := uintVar(r, "mid")
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	callerID := requestProfileID(r)
	if group.OwnerID != callerID && memberID != callerID && !decodedJWTFrom(r).Claims.IsAdmin {
		s.writeEnvelopeError(rw, http.StatusForbidden, "action is forbidden")
		return
	}

	if memberID == group.OwnerID {
		s.writeEnvelopeError(rw, http.StatusBadRequest, "the family owner can't be removed")
		return
	}

	if err := s.store.RemoveFamilyMember(group.ID, memberID); err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func (s *Server) updateMemberBilling(rw http.ResponseWriter, r *http.Request) {
	groupID, _ := uintVar(r, "gid")
	memberID, _ := uintVar(r, "mid")

	data := billingRequest{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.validate.Struct(data); err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, validationErrors(err)...)
		return
	}

	if _, err := s.store.FindFamilyMembership(groupID, memberID); err != nil {
		s.writeEnvelopeError(rw, http.StatusNotFound, "membership not found")
		return
	}

	if err := s.store.UpdateMembershipBilling(groupID, memberID, data.BillingStatus); err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Jobs
// --------------------------------------------------------------------------------//

func (s *Server) fetchJobs(rw http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))

	jobs, paging, err := s.store.FetchJobs(pageParam(r), status)
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    map[string]interface{}{"jobs": jobs, "paging": paging},
	}, http.StatusOK)
}

func (s *Server) jobsStats(rw http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CurrentJobsStats()
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true, Data: stats}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// familyGroupFor loads the {gid} group, writing the error response if it can't
func (s *Server) familyGroupFor(rw http.ResponseWriter, r *http.Request) (*models.FamilyGroup, bool) {
	groupID, err := uintVar(r, "gid")
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusBadRequest, err.Error())
		return nil, false
	}

	group, err := s.store.FindFamilyGroup(groupID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeEnvelopeError(rw, http.StatusNotFound, "family group not found")
		return nil, false
	}
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return nil, false
	}

	return group, true
}

// canViewFamily is true for admins and active members of the group
func (s *Server) canViewFamily(r *http.Request, group *models.FamilyGroup) bool {
	if decodedJWTFrom(r).Claims.IsAdmin {
		return true
	}

	return s.isActiveMember(group.ID, requestProfileID(r))
}

func (s *Server) isActiveMember(groupID, profileID uint) bool {
	membership, err := s.store.FindFamilyMembership(groupID, profileID)
	if err != nil {
		return false
	}

	return membership.Status == models.ACTIVE_MEMBERSHIP
}
