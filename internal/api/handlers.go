package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/switchboard/internal/billing"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/ledger"
	"github.com/mattjoyce/switchboard/internal/routing"
	"github.com/mattjoyce/switchboard/internal/state"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Billing:       s.ledger != nil,
		Routing:       s.routing != nil,
	})
}

// handleCreateTransaction handles POST /transactions.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req billing.TransactionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.ledger.CreateTransaction(r.Context(), req)
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ledger.ErrNoCost):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.logger.Error("create transaction failed", "account_number", req.AccountNumber, "message_id", req.MessageID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create transaction")
		return
	}

	if resp.CreditCutoffReached {
		s.events.Publish(events.TypeLedgerCutoff, map[string]any{"account_number": req.AccountNumber})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetAccount handles GET /accounts/{number}.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.GetAccount(r.Context(), chi.URLParam(r, "number"))
	if errors.Is(err, ledger.ErrAccountNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("get account failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read account")
		return
	}
	respondJSON(w, http.StatusOK, acct)
}

// handleListTransactions handles GET /accounts/{number}/transactions?limit=N.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	txs, err := s.ledger.Transactions(r.Context(), chi.URLParam(r, "number"), limit)
	if err != nil {
		s.logger.Error("list transactions failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []billing.Transaction{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// handleLoadCredits handles POST /accounts/{number}/credits.
func (s *Server) handleLoadCredits(w http.ResponseWriter, r *http.Request) {
	var req LoadCreditsRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Credits <= 0 {
		s.writeError(w, http.StatusBadRequest, "credits must be positive")
		return
	}
	acct, err := s.ledger.LoadCredits(r.Context(), chi.URLParam(r, "number"), req.Credits)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("load credits failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load credits")
		return
	}
	respondJSON(w, http.StatusOK, acct)
}

// handleGetRouting handles GET /routing/{account}.
func (s *Server) handleGetRouting(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	table, rev, err := s.routing.GetRoutingTable(r.Context(), account)
	if err != nil {
		s.logger.Error("load routing table failed", "account_key", account, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load routing table")
		return
	}
	respondJSON(w, http.StatusOK, routing.NewDocument(account, rev, table))
}

// handlePutRouting handles PUT /routing/{account}. The document's revision
// is the revision the client last read.
func (s *Server) handlePutRouting(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	var doc routing.Document
	if !s.decodeBody(w, r, &doc) {
		return
	}
	if doc.AccountKey != "" && doc.AccountKey != account {
		s.writeError(w, http.StatusBadRequest, "account_key does not match path")
		return
	}
	table, err := doc.Table()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rev, err := s.routing.SaveRoutingTable(r.Context(), account, table, doc.Revision)
	var structural *routing.StructuralError
	switch {
	case errors.As(err, &structural):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:     structural.Error(),
			Connector: structural.Connector.String(),
		})
		return
	case errors.Is(err, state.ErrVersionConflict):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("save routing table failed", "account_key", account, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save routing table")
		return
	}

	s.events.Publish(events.TypeRoutingSaved, map[string]any{"account_key": account, "revision": rev})
	respondJSON(w, http.StatusOK, SaveRoutingResponse{AccountKey: account, Revision: rev, Entries: table.Len()})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
