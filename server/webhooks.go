package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Daskott/guardian/server/realtime"
	"github.com/Daskott/guardian/server/twilio"
)

// twilioVoiceWebhook receives the key the callee pressed on an emergency
// call. Pressing 1 acknowledges the event & stops the call sequence.
func (s *Server) twilioVoiceWebhook(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeErrMsgForVoiceWebhook(rw, err)
		return
	}

	if !s.twilioClient.ValidateRequest(r.URL.RequestURI(), r.PostForm, r.Header.Get("X-Twilio-Signature")) {
		rw.WriteHeader(http.StatusForbidden)
		return
	}

	query := r.URL.Query()
	eventID := query.Get("event_id")
	contactID, err := strconv.ParseUint(query.Get("contact_id"), 10, 64)
	if eventID == "" || err != nil {
		s.writeErrMsgForVoiceWebhook(rw, fmt.Errorf("voice webhook: missing event or contact in %q", r.URL.RawQuery))
		return
	}

	if r.PostForm.Get("Digits") != "1" {
		twiml, err := twilio.SayAndHangUpTwiML("No confirmation received. Goodbye.")
		if err != nil {
			s.writeErrMsgForVoiceWebhook(rw, err)
			return
		}
		s.writeTwiML(rw, twiml, http.StatusOK)
		return
	}

	// a second contact confirming after the first one is fine, the event just stays acknowledged
	if _, err := s.store.AcknowledgeSOSEvent(eventID, fmt.Sprintf("contact:%v", contactID)); err != nil {
		s.writeErrMsgForVoiceWebhook(rw, err)
		return
	}

	ack := realtime.Ack{EventID: eventID, ContactID: uint(contactID), Digits: "1"}
	if err := realtime.PublishAck(r.Context(), s.broker, ack); err != nil {
		s.logg.Warnf("event=%v contact=%v ack not published: %v", eventID, contactID, err)
	}

	twiml, err := twilio.SayAndHangUpTwiML("Thank you. Your confirmation has been recorded. Please check on them as soon as you can.")
	if err != nil {
		s.writeErrMsgForVoiceWebhook(rw, err)
		return
	}

	s.writeTwiML(rw, twiml, http.StatusOK)
}

// pinger is implemented by brokers that talk to a remote server
type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) health(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "realtime": "ok"}
	healthy := true

	sqlDB, err := s.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		checks["database"] = err.Error()
		healthy = false
	}

	if p, ok := s.broker.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			checks["realtime"] = err.Error()
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(rw, map[string]interface{}{"healthy": healthy, "checks": checks}, status)
}
