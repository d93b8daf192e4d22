package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Daskott/guardian/server/auth"
	"github.com/Daskott/guardian/server/twilio"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type ResponsePayload struct {
	Errors  []string    `json:"errors"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorPayload is the error body of the sos & email queue routes
type ErrorPayload struct {
	Error string `json:"error"`
}

// errorWriter writes an auth or validation failure in the style of the route
type errorWriter func(rw http.ResponseWriter, statusCode int, errs ...string)

var errInvalidID = errors.New("invalid id")

// ---------------------------------------------------------------------------------//
// Handler Helper functions
// --------------------------------------------------------------------------------//

func (s *Server) writeResponse(rw http.ResponseWriter, payLoad ResponsePayload, statusCode int) {
	if statusCode >= http.StatusInternalServerError {
		s.logg.Error(payLoad.Errors)
	}

	writeJSON(rw, payLoad, statusCode)
}

func (s *Server) writeEnvelopeError(rw http.ResponseWriter, statusCode int, errs ...string) {
	s.writeResponse(rw, ResponsePayload{Errors: errs}, statusCode)
}

func (s *Server) writeError(rw http.ResponseWriter, statusCode int, errs ...string) {
	if statusCode >= http.StatusInternalServerError {
		s.logg.Error(errs)
	}

	writeJSON(rw, ErrorPayload{Error: strings.Join(errs, "; ")}, statusCode)
}

func writeJSON(rw http.ResponseWriter, body interface{}, statusCode int) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(body)
}

func (s *Server) writeTwiML(rw http.ResponseWriter, twiml string, statusCode int) {
	rw.Header().Set("Content-Type", "text/xml")
	rw.WriteHeader(statusCode)
	rw.Write([]byte(twiml))
}

func (s *Server) writeErrMsgForVoiceWebhook(rw http.ResponseWriter, err error) {
	s.logg.Error(err)

	twiml, err := twilio.SayAndHangUpTwiML("Sorry, an application error has occurred. Goodbye.")
	if err != nil {
		s.logg.Errorf("writeErrMsgForVoiceWebhook: %v", err)
	}

	s.writeTwiML(rw, twiml, http.StatusOK)
}

func removeUnknownFields(args map[string]interface{}, validFields map[string]bool) {
	for key := range args {
		if !validFields[key] {
			delete(args, key)
		}
	}
}

// validationErrors splits the validator's multi-line error into one message per field
func validationErrors(err error) []string {
	return strings.Split(err.Error(), "\n")
}

func RegisterValidators(validate *validator.Validate) error {
	return validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		// if whitespace in password return false
		password := fl.Field().String()
		if strings.ContainsAny(password, " \t\n") {
			return false
		}
		return len(password) >= 8
	})
}

func uintVar(r *http.Request, name string) (uint, error) {
	value, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil || value == 0 {
		return 0, errInvalidID
	}

	return uint(value), nil
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page <= 0 {
		return 1
	}
	return page
}

// ---------------------------------------------------------------------------------//
// Middleware Helper functions
// --------------------------------------------------------------------------------//

func (s *Server) decodeAndVerifyAuthHeader(authHeaderValue string) DecodedJWT {
	authHeaderList := strings.Split(authHeaderValue, "Bearer ")
	if len(authHeaderList) < 2 || strings.TrimSpace(authHeaderList[1]) == "" {
		return DecodedJWT{ErrorMsg: "no token provided"}
	}

	tokenClaims, err := auth.DecodeJWT(authHeaderList[1], s.keyPair)
	if err != nil {
		return DecodedJWT{ErrorMsg: "invalid token provided"}
	}

	// validate that the profile still exists
	_, err = s.store.FindProfileBy("id", tokenClaims.Subject)
	if err != nil {
		return DecodedJWT{ErrorMsg: "invalid token provided"}
	}

	return DecodedJWT{Claims: tokenClaims}
}

func decodedJWTFrom(r *http.Request) DecodedJWT {
	decodedJWT, _ := r.Context().Value(RequestContextKey("decodedJWT")).(DecodedJWT)
	return decodedJWT
}

// requestProfileID is the id of the profile the bearer token belongs to
func requestProfileID(r *http.Request) uint {
	decodedJWT := decodedJWTFrom(r)
	if decodedJWT.Claims == nil {
		return 0
	}

	id, _ := strconv.ParseUint(decodedJWT.Claims.Subject, 10, 64)
	return uint(id)
}

// ---------------------------------------------------------------------------------//
// Server Helper functions
// --------------------------------------------------------------------------------//

func (s *Server) serve(server *http.Server) {
	s.logg.Infof("Guardian server is listening on port%v", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logg.Fatal(err)
	}
}

func (s *Server) cleanup(server *http.Server) {
	// Stop scheduled jobs first, so nothing new starts during shutdown
	s.workerPool.Stop()

	ctxShutDown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutDown); err != nil {
		s.logg.Errorf("Guardian server shutdown failed:%+s", err)
	}

	// let running fan-outs finish their calls & emails
	s.orchestrator.Wait()

	if s.backupEnabled() {
		if err := s.backupSqliteDb(nil); err != nil {
			s.logg.Error(err)
		}
	}

	if err := s.broker.Close(); err != nil {
		s.logg.Error(err)
	}
	if err := s.store.Close(); err != nil {
		s.logg.Error(err)
	}

	s.logg.Info("Guardian server stopped properly")
}
