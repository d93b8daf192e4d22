package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Daskott/guardian/server/emailqueue"
)

const (
	PROCESS_QUEUE_ACTION = "process_queue"
	SEND_SINGLE_ACTION   = "send_single"
	RETRY_FAILED_ACTION  = "retry_failed"
)

type queueActionRequest struct {
	Action    string `json:"action" validate:"required,oneof=process_queue send_single retry_failed"`
	EmailID   uint   `json:"email_id" validate:"required_if=Action send_single"`
	MaxEmails int    `json:"max_emails" validate:"omitempty,min=1,max=500"`
}

type queueActionResponse struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	*emailqueue.ProcessResult
	*emailqueue.RetryResult
	Email *emailqueue.SendResult `json:"email,omitempty"`
}

func (s *Server) processEmailQueueAction(rw http.ResponseWriter, r *http.Request) {
	req := queueActionRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(rw, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.validate.Struct(req); err != nil {
		s.writeError(rw, http.StatusBadRequest, validationErrors(err)...)
		return
	}

	response := queueActionResponse{Success: true, Action: req.Action}
	var err error

	switch req.Action {
	case PROCESS_QUEUE_ACTION:
		response.ProcessResult, err = s.emailQueue.ProcessQueue(r.Context(), req.MaxEmails)
	case RETRY_FAILED_ACTION:
		response.RetryResult, err = s.emailQueue.RetryFailed(r.Context(), req.MaxEmails)
	case SEND_SINGLE_ACTION:
		response.Email, err = s.emailQueue.SendSingle(r.Context(), req.EmailID)
		if response.Email != nil {
			response.Success = response.Email.Success
		}
	}

	switch {
	case errors.Is(err, emailqueue.ErrEmailNotFound):
		s.writeError(rw, http.StatusNotFound, err.Error())
	case errors.Is(err, emailqueue.ErrNotClaimed):
		s.writeError(rw, http.StatusConflict, err.Error())
	case err != nil:
		s.writeError(rw, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(rw, response, http.StatusOK)
	}
}

func (s *Server) emailQueueStats(rw http.ResponseWriter, r *http.Request) {
	stats, err := s.emailQueue.Stats()
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{Success: true, Data: stats}, http.StatusOK)
}

// deadEmails lists failed emails that used up every retry
func (s *Server) deadEmails(rw http.ResponseWriter, r *http.Request) {
	items, paging, err := s.store.DeadEmails(pageParam(r))
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    map[string]interface{}{"emails": items, "paging": paging},
	}, http.StatusOK)
}
