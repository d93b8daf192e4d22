package server

import (
	"net/http"

	"github.com/Daskott/guardian/server/metrics"
	"github.com/Daskott/guardian/server/twilio"
	"github.com/gorilla/mux"
)

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc(twilio.VOICE_WEBHOOK_PATH, s.twilioVoiceWebhook).Methods(http.MethodPost)

	v1 := router.PathPrefix("/v1").Subrouter()

	// auth
	v1.HandleFunc("/login", s.logIn).Methods(http.MethodPost)
	v1.HandleFunc("/jwks", s.jwks).Methods(http.MethodGet)

	// profiles & emergency contacts
	v1.Handle("/profiles", s.admin(s.createProfile)).Methods(http.MethodPost)
	v1.Handle("/profiles/{uid:[0-9]+}", s.protected(s.findProfile)).Methods(http.MethodGet)
	v1.Handle("/profiles/{uid:[0-9]+}", s.protected(s.updateProfile)).Methods(http.MethodPut)
	v1.Handle("/profiles/{uid:[0-9]+}/contacts", s.protected(s.listContacts)).Methods(http.MethodGet)
	v1.Handle("/profiles/{uid:[0-9]+}/contacts", s.protected(s.createContact)).Methods(http.MethodPost)
	v1.Handle("/profiles/{uid:[0-9]+}/contacts/{cid:[0-9]+}", s.protected(s.updateContact)).Methods(http.MethodPut)
	v1.Handle("/profiles/{uid:[0-9]+}/contacts/{cid:[0-9]+}", s.protected(s.deleteContact)).Methods(http.MethodDelete)
	v1.Handle("/profiles/{uid:[0-9]+}/sos", s.protected(s.listSOSEvents)).Methods(http.MethodGet)

	// family circles
	v1.Handle("/families", s.protected(s.createFamily)).Methods(http.MethodPost)
	v1.Handle("/families/{gid:[0-9]+}/members", s.protected(s.listFamilyMembers)).Methods(http.MethodGet)
	v1.Handle("/families/{gid:[0-9]+}/members", s.protected(s.inviteFamilyMember)).Methods(http.MethodPost)
	v1.Handle("/families/{gid:[0-9]+}/accept", s.protected(s.acceptFamilyInvite)).Methods(http.MethodPost)
	v1.Handle("/families/{gid:[0-9]+}/members/{mid:[0-9]+}", s.protected(s.removeFamilyMember)).Methods(http.MethodDelete)
	v1.Handle("/families/{gid:[0-9]+}/members/{mid:[0-9]+}/billing", s.admin(s.updateMemberBilling)).Methods(http.MethodPut)
	v1.Handle("/families/{gid:[0-9]+}/stream", s.protected(s.familyStream)).Methods(http.MethodGet)

	// sos
	v1.Handle("/sos", s.protectedPlain(s.triggerSOS)).Methods(http.MethodPost)
	v1.Handle("/sos/{id}", s.protectedPlain(s.findSOSEvent)).Methods(http.MethodGet)
	v1.Handle("/sos/{id}/locations", s.protectedPlain(s.addSOSLocation)).Methods(http.MethodPost)
	v1.Handle("/sos/{id}/acknowledge", s.protectedPlain(s.acknowledgeSOSEvent)).Methods(http.MethodPost)
	v1.Handle("/sos/{id}/resolve", s.protectedPlain(s.resolveSOSEvent)).Methods(http.MethodPost)

	// email queue & maintenance jobs
	v1.Handle("/email-queue", s.adminPlain(s.processEmailQueueAction)).Methods(http.MethodPost)
	v1.Handle("/email-queue/stats", s.admin(s.emailQueueStats)).Methods(http.MethodGet)
	v1.Handle("/email-queue/dead", s.admin(s.deadEmails)).Methods(http.MethodGet)
	v1.Handle("/jobs", s.admin(s.fetchJobs)).Methods(http.MethodGet)
	v1.Handle("/jobs/stats", s.admin(s.jobsStats)).Methods(http.MethodGet)

	return router
}
