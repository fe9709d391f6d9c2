// Package token implements the reference value token backing the network:
// fees are collected in it, the reserve holds it, and reimbursements and
// savings rewards are paid out in it. It is a plain in-process balance
// tracker with transfer/approve semantics; bridging to an external token
// is out of scope.
package token

import (
	"sync"

	"github.com/clearline-network/clearline/internal/domain"
)

// Token is an overflow-checked balance tracker implementing
// domain.ValueToken. All amounts are unsigned integer token units.
type Token struct {
	mu         sync.Mutex
	balances   map[domain.Address]uint64
	allowances map[domain.Address]map[domain.Address]uint64
	supply     uint64
}

// New creates an empty token.
func New() *Token {
	return &Token{
		balances:   make(map[domain.Address]uint64),
		allowances: make(map[domain.Address]map[domain.Address]uint64),
	}
}

// Mint creates amount new units on addr.
func (t *Token) Mint(addr domain.Address, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	supply, err := domain.AddChecked(t.supply, amount)
	if err != nil {
		return domain.Errf(domain.KindArithmeticBound, "token.mint", err)
	}
	bal, err := domain.AddChecked(t.balances[addr], amount)
	if err != nil {
		return domain.Errf(domain.KindArithmeticBound, "token.mint", err)
	}
	t.supply = supply
	t.balances[addr] = bal
	return nil
}

// BalanceOf returns addr's balance.
func (t *Token) BalanceOf(addr domain.Address) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[addr]
}

// TotalSupply returns the total minted supply.
func (t *Token) TotalSupply() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply
}

// Transfer moves amount from one holder to another.
func (t *Token) Transfer(from, to domain.Address, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferLocked(from, to, amount)
}

func (t *Token) transferLocked(from, to domain.Address, amount uint64) error {
	if t.balances[from] < amount {
		return domain.Errf(domain.KindInvariantViolation, "token.transfer", domain.ErrInsufficientBalance)
	}
	toBal, err := domain.AddChecked(t.balances[to], amount)
	if err != nil {
		return domain.Errf(domain.KindArithmeticBound, "token.transfer", err)
	}
	t.balances[from] -= amount
	t.balances[to] = toBal
	return nil
}

// Approve lets spender move up to amount of owner's balance.
func (t *Token) Approve(owner, spender domain.Address, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.allowances[owner]
	if !ok {
		set = make(map[domain.Address]uint64)
		t.allowances[owner] = set
	}
	set[spender] = amount
	return nil
}

// Allowance returns what spender may still move from owner.
func (t *Token) Allowance(owner, spender domain.Address) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner][spender]
}

// TransferFrom moves amount from `from` to `to` on spender's allowance.
func (t *Token) TransferFrom(spender, from, to domain.Address, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[from][spender] < amount {
		return domain.Errf(domain.KindAuthorization, "token.transfer_from", domain.ErrNotAuthorized)
	}
	if err := t.transferLocked(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][spender] -= amount
	return nil
}
