package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/switchboard/internal/ledger"
)

// Server serves the configured top-up endpoints.
type Server struct {
	topups    Topups
	logger    *slog.Logger
	endpoints map[string]*endpoint
}

// New compiles endpoint definitions into a server.
func New(eps []EndpointConfig, topups Topups, logger *slog.Logger) (*Server, error) {
	compiled, err := compile(eps)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		topups:    topups,
		logger:    logger.With("component", "webhook"),
		endpoints: compiled,
	}, nil
}

// Routes registers every endpoint on r. Endpoints authenticate by signature
// and must not sit behind bearer auth.
func (s *Server) Routes(r chi.Router) {
	for path := range s.endpoints {
		r.Post(path, s.handleTopup)
	}
}

// Len returns the number of configured endpoints.
func (s *Server) Len() int { return len(s.endpoints) }

func (s *Server) handleTopup(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, ep.maxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > ep.maxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := verifySignature(body, r.Header.Get(ep.signatureHeader), ep.secret); err != nil {
		s.logger.Warn("webhook signature rejected", "path", ep.path, "provider", ep.provider)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	var notice TopupNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(notice.AccountNumber) == "" || notice.Credits <= 0 || strings.TrimSpace(notice.Reference) == "" {
		s.respondError(w, http.StatusBadRequest, "account_number, positive credits and reference are required")
		return
	}

	acct, applied, err := s.topups.ApplyTopup(r.Context(), ledger.Topup{
		AccountNumber: notice.AccountNumber,
		Credits:       notice.Credits,
		Reference:     notice.Reference,
		Provider:      ep.provider,
	})
	if errors.Is(err, ledger.ErrAccountNotFound) {
		s.respondError(w, http.StatusNotFound, "unknown account")
		return
	}
	if err != nil {
		s.logger.Error("apply top-up failed", "provider", ep.provider, "account_number", notice.AccountNumber,
			"reference", notice.Reference, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to apply top-up")
		return
	}

	s.respondJSON(w, http.StatusOK, TopupResponse{
		AccountNumber: acct.Number,
		CreditBalance: acct.CreditBalance,
		Applied:       applied,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
