// Package api provides the HTTP surface of the network node: member and
// transfer endpoints, reserve and savings views, and the Prometheus
// metrics endpoint when enabled.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clearline-network/clearline/internal/domain"
	"github.com/clearline-network/clearline/internal/network"
	"github.com/clearline-network/clearline/internal/reserve"
	"github.com/clearline-network/clearline/internal/savings"
	"github.com/clearline-network/clearline/internal/token"
)

// Journal serves transfer history. Implemented by the sqlite store; nil
// disables the history endpoints.
type Journal interface {
	ListTransfers(limit int) ([]domain.TransferReceipt, error)
	TransfersFor(member domain.Address, limit int) ([]domain.TransferReceipt, error)
}

// Server is the node's HTTP API server.
type Server struct {
	orch           *network.Orchestrator
	savings        *savings.Pool
	reserve        *reserve.Pool
	token          *token.Token
	auth           domain.Authorizer
	journal        Journal
	metricsEnabled bool
}

// NewServer creates an API server over the orchestrator and pools.
func NewServer(orch *network.Orchestrator, sp *savings.Pool, rp *reserve.Pool) *Server {
	return &Server{orch: orch, savings: sp, reserve: rp}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetJournal enables the transfer-history endpoints.
func (s *Server) SetJournal(j Journal) { s.journal = j }

// SetToken enables the token endpoints: the operator-gated mint (how
// reserve units for fees and rewards enter the network) and reward
// scheduling. auth gates the mint, since the token itself carries no
// authorization.
func (s *Server) SetToken(tok *token.Token, auth domain.Authorizer) {
	s.token = tok
	s.auth = auth
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/transfer", s.handleTransfer)
		r.Get("/transfers", s.handleListTransfers)

		r.Route("/members/{address}", func(r chi.Router) {
			r.Get("/", s.handleMemberStatus)
			r.Post("/sync", s.handleMemberSync)
			r.Get("/transfers", s.handleMemberTransfers)
		})

		r.Route("/reserve", func(r chi.Router) {
			r.Get("/", s.handleReserveState)
			r.Post("/deposit", s.handleReserveDeposit)
			r.Post("/target", s.handleReserveTarget)
		})

		r.Route("/savings", func(r chi.Router) {
			r.Get("/", s.handleSavingsState)
			r.Get("/{address}", s.handleSavingsAccount)
			r.Post("/stake", s.handleStake)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/notify-reward", s.handleNotifyReward)
			r.Post("/claim-reward", s.handleClaimReward)
			r.Post("/claim-reimbursement", s.handleClaimReimbursement)
		})

		if s.token != nil {
			r.Route("/token", func(r chi.Router) {
				r.Post("/mint", s.handleTokenMint)
				r.Get("/{address}", s.handleTokenBalance)
			})
		}
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps an engine failure to an HTTP status by its kind.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindAuthorization:
		status = http.StatusForbidden
	case domain.KindInvariantViolation:
		status = http.StatusConflict
	case domain.KindStateError:
		status = http.StatusUnprocessableEntity
	case domain.KindArithmeticBound:
		status = http.StatusBadRequest
	}
	if errors.Is(err, domain.ErrUnknownAccount) || errors.Is(err, domain.ErrNoCreditLine) {
		status = http.StatusNotFound
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
