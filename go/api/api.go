// Package api exposes the order pipeline over HTTP: order intake,
// per-order status subscriptions over websocket, and paged history.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/riptidelabs/orderflow/go/history"
	"github.com/riptidelabs/orderflow/go/hub"
	"github.com/riptidelabs/orderflow/go/intake"
)

// maxOrderBody bounds an intake request body. Orders are a few hundred
// bytes; anything larger is not an order.
const maxOrderBody = 1 << 16

// Config carries the surface's own knobs.
type Config struct {
	// AuthKey enables HS256 bearer authentication of the /api tree when
	// non-empty.
	AuthKey []byte
	// CORSOrigins allows cross-origin browsers; empty means any origin.
	CORSOrigins []string
}

// Server handles the HTTP surface. Construct with NewHandler.
type Server struct {
	intake  *intake.Service
	history *history.Store
	hub     *hub.Hub
}

// NewHandler builds the complete HTTP handler: routes, request-id
// stamping, access logging, CORS, and optional bearer auth.
func NewHandler(svc *intake.Service, store *history.Store, h *hub.Hub, cfg Config) http.Handler {
	var s = &Server{intake: svc, history: store, hub: h}

	var r = mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.serveNotFound)

	var api = r.PathPrefix("/api").Subrouter()
	if len(cfg.AuthKey) != 0 {
		api.Use(authMiddleware(cfg.AuthKey))
	}
	api.HandleFunc("/orders/execute", s.serveExecute).Methods("POST")
	api.HandleFunc("/orders/execute", s.serveSubscribe).Methods("GET")
	api.HandleFunc("/orders/history", s.serveHistory).Methods("GET")

	r.HandleFunc("/healthz", s.serveHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	var corsOpts = cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}
	if len(cfg.CORSOrigins) != 0 {
		corsOpts.AllowedOrigins = cfg.CORSOrigins
	} else {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	return requestID(accessLog(cors.New(corsOpts).Handler(r)))
}

func (s *Server) serveExecute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOrderBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "Invalid payload",
			"issues":  []intake.Issue{{Path: "", Message: "unreadable request body"}},
		})
		return
	}

	job, err := s.intake.Submit(r.Context(), body)
	if err != nil {
		var verr *intake.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"message": "Invalid payload",
				"issues":  verr.Issues,
			})
			return
		}
		log.WithFields(log.Fields{"error": err, "requestId": requestIDOf(r)}).
			Error("order intake failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "Internal server error",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"orderId": job.OrderID,
		"status":  "pending",
	})
}

func (s *Server) serveHistory(w http.ResponseWriter, r *http.Request) {
	var query history.Query

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"message": "Invalid limit",
			})
			return
		}
		query.Limit = limit
	}
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"message": "Invalid cursor",
			})
			return
		}
		query.Cursor = &cursor
	}

	page, err := s.history.List(r.Context(), query)
	if err != nil {
		log.WithFields(log.Fields{"error": err, "requestId": requestIDOf(r)}).
			Error("listing order history failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "Internal server error",
		})
		return
	}

	var nextCursor any
	if page.NextCursor != nil {
		nextCursor = page.NextCursor.UTC().Format(time.RFC3339Nano)
	}
	var data = page.Data
	if data == nil {
		data = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"pagination": map[string]any{
			"limit":      page.Limit,
			"nextCursor": nextCursor,
			"hasMore":    page.HasMore,
		},
	})
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) serveNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{"message": "Route not found"})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithField("error", err).Warn("failed to write response body")
	}
}
