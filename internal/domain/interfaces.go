package domain

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between the core engines and their
// collaborators. Every engine re-validates the caller through Authorizer on
// each restricted call — there is no ambient trust between components.

// Role is an enum-keyed permission. Roles are granted per address through
// the access registry; there are no bitmasks.
type Role int

const (
	RoleMember Role = iota
	RoleOperator
	RoleIssuer
	RoleAdmin
	RoleAutomation
)

// String returns a human-readable role name.
func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleOperator:
		return "operator"
	case RoleIssuer:
		return "issuer"
	case RoleAdmin:
		return "admin"
	case RoleAutomation:
		return "automation"
	default:
		return "unknown"
	}
}

// Authorizer answers role queries. Implemented by the access registry.
type Authorizer interface {
	IsMember(addr Address) bool
	IsOperator(addr Address) bool
	IsIssuer(addr Address) bool
	IsAdmin(addr Address) bool
	HasRole(addr Address, role Role) bool
}

// ValueToken is the reference value token backing the reserve: fees are
// collected in it, reimbursements and rewards are paid in it. Standard
// transfer/approve semantics; amounts are unsigned integer token units.
type ValueToken interface {
	BalanceOf(addr Address) uint64
	Transfer(from, to Address, amount uint64) error
	TransferFrom(spender, from, to Address, amount uint64) error
	Approve(owner, spender Address, amount uint64) error
	Allowance(owner, spender Address) uint64
}

// PriceOracle converts between ledger credits and reserve token units.
// Conversions floor to integer units.
type PriceOracle interface {
	CreditsToReserve(credits uint64) uint64
	ReserveToCredits(reserve uint64) uint64
}

// JournalRecorder receives applied transfer receipts for persistence.
// Recording is best-effort: a recorder failure must not unwind an already
// committed transfer.
type JournalRecorder interface {
	RecordTransfer(r TransferReceipt) error
}
