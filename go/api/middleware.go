package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type contextKey string

const requestIDKey contextKey = "request-id"

// requestID stamps every response with an x-request-id header and makes
// the identifier available to downstream handlers and log lines.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id = r.Header.Get("x-request-id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("x-request-id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// requestIDOf returns the request's stamped identifier.
func requestIDOf(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// accessLog emits one structured line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket upgrades hijack the connection; wrapping them would
		// hide the Hijacker interface from the upgrader.
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		var started = time.Now()
		var rec = &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		requestsTotal.WithLabelValues(r.Method, fmt.Sprint(rec.status)).Inc()
		log.WithFields(log.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    rec.status,
			"took":      time.Since(started).String(),
			"requestId": requestIDOf(r),
		}).Info("http request")
	})
}

type recorder struct {
	http.ResponseWriter
	status int
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// authMiddleware verifies an HS256 bearer token signed with key. The
// token rides the Authorization header, or the access_token query
// parameter for websocket clients which cannot set headers.
func authMiddleware(key []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || token == r.Header.Get("Authorization") {
				token = r.URL.Query().Get("access_token")
			}
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
				return
			}

			var _, err = jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return key, nil
			})
			if err != nil {
				log.WithFields(log.Fields{"error": err, "requestId": requestIDOf(r)}).
					Warn("rejected request with invalid token")
				writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
