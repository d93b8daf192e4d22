package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/auth"
	"github.com/gorilla/mux"
)

type RequestContextKey string

type DecodedJWT struct {
	Claims   *auth.GuardianTokenClaims
	ErrorMsg string
}

type ResponseWriterWithStatus struct {
	http.ResponseWriter
	Status int
}

func (r *ResponseWriterWithStatus) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection
func (r *ResponseWriterWithStatus) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.Status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		responseWriter := &ResponseWriterWithStatus{
			ResponseWriter: w,
			Status:         200,
		}

		defer func() {
			responseStatus := colors.Green(responseWriter.Status)
			if responseWriter.Status >= 400 {
				responseStatus = colors.Red(responseWriter.Status)
			}

			s.logg.Infof("%v %v %v %v",
				r.Method,
				r.URL.Path,
				responseStatus,
				colors.Yellow(fmt.Sprintf("[%v]", time.Since(start))))
		}()

		next.ServeHTTP(responseWriter, r)
	})
}

// initialContextMiddleware adds the decoded bearer token to the request context.
// Websocket clients that can't set headers may pass the token as ?token=.
func (s *Server) initialContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" && r.URL.Query().Get("token") != "" {
			authHeader = "Bearer " + r.URL.Query().Get("token")
		}

		ctx := context.WithValue(r.Context(), RequestContextKey("decodedJWT"), s.decodeAndVerifyAuthHeader(authHeader))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// protectedRouteMiddleware requires a valid token. A client is only able to
// view/update their own profile resources unless they are an admin.
func (s *Server) protectedRouteMiddleware(writeErr errorWriter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := mux.Vars(r)["uid"]

			decodedJWT := decodedJWTFrom(r)
			if decodedJWT.ErrorMsg != "" {
				writeErr(w, http.StatusUnauthorized, decodedJWT.ErrorMsg)
				return
			}

			if uid != "" && uid != decodedJWT.Claims.Subject && !decodedJWT.Claims.IsAdmin {
				writeErr(w, http.StatusForbidden, "action is forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) adminRouteMiddleware(writeErr errorWriter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decodedJWT := decodedJWTFrom(r)

			// The very first profile is allowed to be created without a token
			if strings.Contains(decodedJWT.ErrorMsg, "no token") && r.Method == http.MethodPost && r.URL.Path == "/v1/profiles" {
				exists, err := s.store.AtLeastOneProfileExists()
				if err != nil {
					writeErr(w, http.StatusInternalServerError, err.Error())
					return
				}

				if !exists {
					next.ServeHTTP(w, r)
					return
				}
			}

			if decodedJWT.ErrorMsg != "" {
				writeErr(w, http.StatusUnauthorized, decodedJWT.ErrorMsg)
				return
			}

			if !decodedJWT.Claims.IsAdmin {
				writeErr(w, http.StatusForbidden, "action is forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func (s *Server) protected(handler http.HandlerFunc) http.Handler {
	return s.initialContextMiddleware(s.protectedRouteMiddleware(s.writeEnvelopeError)(handler))
}

func (s *Server) protectedPlain(handler http.HandlerFunc) http.Handler {
	return s.initialContextMiddleware(s.protectedRouteMiddleware(s.writeError)(handler))
}

func (s *Server) admin(handler http.HandlerFunc) http.Handler {
	return s.initialContextMiddleware(s.adminRouteMiddleware(s.writeEnvelopeError)(handler))
}

func (s *Server) adminPlain(handler http.HandlerFunc) http.Handler {
	return s.initialContextMiddleware(s.adminRouteMiddleware(s.writeError)(handler))
}
