package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clearline-network/clearline/internal/domain"
)

const defaultHistoryLimit = 50

// ─── Network ────────────────────────────────────────────────────────────────

// handleStatus returns the network-wide aggregate view.
// GET /v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

// handleTransfer executes a member transfer.
// POST /v1/transfer
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller domain.Address `json:"caller"`
		From   domain.Address `json:"from"`
		To     domain.Address `json:"to"`
		Amount uint64         `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Caller == "" {
		req.Caller = req.From
	}

	applied, rec, err := s.orch.Transfer(req.Caller, req.From, req.To, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !applied {
		// Frozen sender: suppressed, not failed.
		writeJSON(w, http.StatusOK, map[string]interface{}{"applied": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied": true,
		"receipt": rec,
	})
}

// handleListTransfers returns recent journal entries.
// GET /v1/transfers?limit=N
func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not enabled")
		return
	}
	recs, err := s.journal.ListTransfers(queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": recs})
}

// ─── Members ────────────────────────────────────────────────────────────────

// handleMemberStatus returns the member's aggregate view.
// GET /v1/members/{address}
func (s *Server) handleMemberStatus(w http.ResponseWriter, r *http.Request) {
	member := domain.Address(chi.URLParam(r, "address"))
	st, err := s.orch.StatusOf(member)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleMemberSync applies any pending credit-period transition.
// POST /v1/members/{address}/sync
func (s *Server) handleMemberSync(w http.ResponseWriter, r *http.Request) {
	member := domain.Address(chi.URLParam(r, "address"))
	survived, err := s.orch.SyncMember(member)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"survived": survived})
}

// handleMemberTransfers returns the member's journal history.
// GET /v1/members/{address}/transfers?limit=N
func (s *Server) handleMemberTransfers(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not enabled")
		return
	}
	member := domain.Address(chi.URLParam(r, "address"))
	recs, err := s.journal.TransfersFor(member, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": recs})
}

// ─── Reserve ────────────────────────────────────────────────────────────────

// handleReserveState returns the reserve accounting and ratios.
// GET /v1/reserve
func (s *Server) handleReserveState(w http.ResponseWriter, r *http.Request) {
	st := s.reserve.State()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":           st,
		"rtd_ppm":         s.reserve.RTD(),
		"needed_reserves": s.reserve.NeededReserves(),
	})
}

// handleReserveDeposit runs the deposit waterfall over delivered units.
// POST /v1/reserve/deposit
func (s *Server) handleReserveDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller domain.Address `json:"caller"`
		Amount uint64         `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.reserve.DepositFees(req.Caller, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	st := s.reserve.State()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":           st,
		"needed_reserves": s.reserve.NeededReserves(),
	})
}

// handleReserveTarget updates the target reserve-to-debt ratio.
// POST /v1/reserve/target
func (s *Server) handleReserveTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    domain.Address `json:"caller"`
		TargetRTD uint64         `json:"target_rtd"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.reserve.SetTargetRTD(req.Caller, req.TargetRTD); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"target_rtd": req.TargetRTD})
}

// ─── Savings ────────────────────────────────────────────────────────────────

// handleSavingsState returns the pool's global accounting.
// GET /v1/savings
func (s *Server) handleSavingsState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.savings.State())
}

// handleSavingsAccount returns a staker's view.
// GET /v1/savings/{address}
func (s *Server) handleSavingsAccount(w http.ResponseWriter, r *http.Request) {
	member := domain.Address(chi.URLParam(r, "address"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":       member,
		"staked":        s.savings.BalanceOf(member),
		"earned_reward": s.savings.EarnedReward(member),
	})
}

// handleStake stakes ledger credits into the pool.
// POST /v1/savings/stake
func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Member domain.Address `json:"member"`
		Amount uint64         `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.savings.Stake(req.Member, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"staked": s.savings.BalanceOf(req.Member)})
}

// handleWithdraw withdraws settled staked credits.
// POST /v1/savings/withdraw
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Member domain.Address `json:"member"`
		Amount uint64         `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.savings.Withdraw(req.Member, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"staked": s.savings.BalanceOf(req.Member)})
}

// handleNotifyReward schedules delivered reserve units as staking
// rewards. The pool itself restricts this to operators and automation.
// POST /v1/savings/notify-reward
func (s *Server) handleNotifyReward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller domain.Address `json:"caller"`
		Amount uint64         `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.savings.NotifyRewardAmount(req.Caller, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scheduled": req.Amount})
}

// handleClaimReward pays out accrued staking rewards.
// POST /v1/savings/claim-reward
func (s *Server) handleClaimReward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Member domain.Address `json:"member"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	paid, err := s.savings.ClaimReward(req.Member)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paid": paid})
}

// handleClaimReimbursement pays out the member's reimbursement share.
// POST /v1/savings/claim-reimbursement
func (s *Server) handleClaimReimbursement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Member domain.Address `json:"member"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	paid, err := s.savings.ClaimReimbursement(req.Member)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paid": paid})
}

// ─── Token ──────────────────────────────────────────────────────────────────

// handleTokenMint mints reserve units onto an account. This is how value
// backing fees, rewards and reimbursements enters a deployment that is
// not bridged to an external token. Operator-gated.
// POST /v1/token/mint
func (s *Server) handleTokenMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  domain.Address `json:"caller"`
		Account domain.Address `json:"account"`
		Amount  uint64         `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.auth.IsOperator(req.Caller) {
		writeDomainError(w, domain.Errf(domain.KindAuthorization, "api.token_mint", domain.ErrNotAuthorized))
		return
	}
	if err := s.token.Mint(req.Account, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": req.Account,
		"balance": s.token.BalanceOf(req.Account),
	})
}

// handleTokenBalance returns an account's reserve-unit balance.
// GET /v1/token/{address}
func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	addr := domain.Address(chi.URLParam(r, "address"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": addr,
		"balance": s.token.BalanceOf(addr),
	})
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultHistoryLimit
}
