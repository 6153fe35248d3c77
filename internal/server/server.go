// Package server exposes the categorization and reconciliation engine
// over HTTP. Every route is scoped to the caller identified by the
// X-User-ID header.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/reckonhq/reckon/internal/common"
	"github.com/reckonhq/reckon/internal/engine"
	"github.com/reckonhq/reckon/internal/learner"
	"github.com/reckonhq/reckon/internal/reconcile"
	"github.com/reckonhq/reckon/internal/service"
)

// userHeader identifies the calling user on every request.
const userHeader = "X-User-ID"

type contextKey string

const userIDKey contextKey = "user_id"

// Server wires the HTTP surface to the underlying services.
type Server struct {
	store     service.Storage
	engine    *engine.Engine
	learner   *learner.Learner
	reconcile *reconcile.Service
	http      *http.Server
}

// New creates a server listening on addr.
func New(addr string, store service.Storage, eng *engine.Engine, lrn *learner.Learner, rec *reconcile.Service) *Server {
	s := &Server{
		store:     store,
		engine:    eng,
		learner:   lrn,
		reconcile: rec,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed separately so tests can drive
// handlers without a listener.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	authed := router.NewRoute().Subrouter()
	authed.Use(s.requireUser)
	authed.HandleFunc("/transactions", s.handleCreateTransaction).Methods("POST")
	authed.HandleFunc("/transactions/categorize", s.handleCategorize).Methods("POST")
	authed.HandleFunc("/transactions/categorization/progress", s.handleProgress).Methods("GET")
	authed.HandleFunc("/transactions/{id}/feedback", s.handleFeedback).Methods("POST")
	authed.HandleFunc("/invoices", s.handleCreateInvoice).Methods("POST")
	authed.HandleFunc("/invoices/{id}/suggestions", s.handleSuggestions).Methods("GET")
	authed.HandleFunc("/invoices/{id}/link", s.handleLink).Methods("POST")
	authed.HandleFunc("/invoices/{id}/unlink", s.handleUnlink).Methods("POST")
	authed.HandleFunc("/rules", s.handleListRules).Methods("GET")
	authed.HandleFunc("/categories", s.handleListCategories).Methods("GET")
	authed.HandleFunc("/categories", s.handleCreateCategory).Methods("POST")
	authed.HandleFunc("/categories/{id}/subcategories", s.handleCreateSubcategory).Methods("POST")
	return router
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	slog.Info("HTTP server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requireUser rejects requests that do not identify a user.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUser(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

// writeServiceError maps sentinel errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrAlreadyLinked), errors.Is(err, common.ErrDuplicateEntry):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrNotLinked):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return common.ValidationError("invalid request body: %v", err)
	}
	return nil
}
