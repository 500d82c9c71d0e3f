// Package signals receives external delivery signals (bounces,
// complaints, replies) over HTTP and folds them into the contact store
// and the suppression ledger.
package signals

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/outreach-dispatcher/internal/domain"
	"github.com/ignite/outreach-dispatcher/internal/pkg/logger"
)

// ContactUpdater is the slice of the contact store the webhook needs.
type ContactUpdater interface {
	UpdateStatus(ctx context.Context, email string, status domain.ContactStatus) error
}

// SuppressionAdder appends to the suppression ledger.
type SuppressionAdder interface {
	Add(ctx context.Context, email, reason string) error
}

// Server handles signal webhooks.
type Server struct {
	contacts ContactUpdater
	ledger   SuppressionAdder
}

func NewServer(contacts ContactUpdater, ledger SuppressionAdder) *Server {
	return &Server{contacts: contacts, ledger: ledger}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Post("/signals/bounce", s.handle(domain.StatusBounced, "bounce"))
	r.Post("/signals/complaint", s.handle(domain.StatusComplained, "complaint"))
	r.Post("/signals/reply", s.handle(domain.StatusReplied, "reply"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

type signalPayload struct {
	Email string `json:"email"`
}

// handle applies one signal type: the contact (if known) changes
// status, and the address always lands in the suppression ledger. An
// address we never imported can still bounce a forwarded message, so
// an unknown contact is not an error.
func (s *Server) handle(status domain.ContactStatus, reason string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p signalPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Email == "" {
			http.Error(w, `{"error":"email is required"}`, http.StatusBadRequest)
			return
		}

		if err := s.ledger.Add(r.Context(), p.Email, reason); err != nil {
			logger.Error("signal suppression add failed",
				"email", p.Email, "reason", reason, "error", err.Error())
			http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
			return
		}

		if err := s.contacts.UpdateStatus(r.Context(), p.Email, status); err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.Error("signal status update failed",
				"email", p.Email, "status", string(status), "error", err.Error())
			http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
			return
		}

		logger.Info("signal applied", "email", p.Email, "signal", reason)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}
