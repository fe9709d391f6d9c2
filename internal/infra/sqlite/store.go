// Package sqlite persists the network state: ledger accounts, credit
// periods and terms, reserve and savings accounting, roles, and the
// journal of applied transfers. State tables are full-row upserts keyed
// by address; the journal is append-only.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clearline-network/clearline/internal/domain"
)

// DB wraps the sqlite handle.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite rejects concurrent writers on one connection pool.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.Migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying handle.
func (db *DB) Close() error { return db.db.Close() }

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema migration statements. Each string is a
// single SQL statement.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			address TEXT PRIMARY KEY,
			balance INTEGER NOT NULL DEFAULT 0,
			debt    INTEGER NOT NULL DEFAULT 0,
			lim     INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS credit_periods (
			member            TEXT PRIMARY KEY,
			issued_at         TEXT NOT NULL,
			period_expiration TEXT NOT NULL,
			grace_expiration  TEXT NOT NULL,
			period_length_s   INTEGER NOT NULL,
			grace_length_s    INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS credit_terms (
			member        TEXT PRIMARY KEY,
			rebalanced    INTEGER NOT NULL DEFAULT 0,
			period_income INTEGER NOT NULL DEFAULT 0,
			fee_rate      INTEGER NOT NULL DEFAULT 0,
			min_itd       INTEGER NOT NULL DEFAULT 0,
			paused        INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS roles (
			address TEXT NOT NULL,
			role    INTEGER NOT NULL,
			PRIMARY KEY (address, role)
		)`,

		// Single-row tables for the reserve and savings globals.
		`CREATE TABLE IF NOT EXISTS reserve_state (
			id               INTEGER PRIMARY KEY CHECK (id = 1),
			reserve_balance  INTEGER NOT NULL DEFAULT 0,
			operator_balance INTEGER NOT NULL DEFAULT 0,
			target_rtd       INTEGER NOT NULL DEFAULT 0,
			operator_percent INTEGER NOT NULL DEFAULT 0,
			sink_percent     INTEGER NOT NULL DEFAULT 0,
			sink             TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS savings_state (
			id              INTEGER PRIMARY KEY CHECK (id = 1),
			total_savings   INTEGER NOT NULL DEFAULT 0,
			demurraged      INTEGER NOT NULL DEFAULT 0,
			demurrage_index INTEGER NOT NULL DEFAULT 0,
			wipe_epoch      INTEGER NOT NULL DEFAULT 0,
			reimbursements  INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS savings_accounts (
			member                TEXT PRIMARY KEY,
			staked_amount         INTEGER NOT NULL DEFAULT 0,
			demurrage_index       INTEGER NOT NULL DEFAULT 0,
			wipe_epoch            INTEGER NOT NULL DEFAULT 0,
			reward_per_token_paid INTEGER NOT NULL DEFAULT 0,
			pending_reward        INTEGER NOT NULL DEFAULT 0,
			lost_principal        INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS transfer_journal (
			id       TEXT PRIMARY KEY,
			from_addr TEXT NOT NULL,
			to_addr  TEXT NOT NULL,
			amount   INTEGER NOT NULL,
			minted   INTEGER NOT NULL DEFAULT 0,
			burned   INTEGER NOT NULL DEFAULT 0,
			fee_paid INTEGER NOT NULL DEFAULT 0,
			ts       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_from ON transfer_journal(from_addr)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_to ON transfer_journal(to_addr)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_ts ON transfer_journal(ts)`,
	}
}

// Migrate applies the schema.
func (db *DB) Migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Ledger Accounts ────────────────────────────────────────────────────────

// SaveAccounts replaces the accounts table with the given snapshot.
func (db *DB) SaveAccounts(accounts map[domain.Address]domain.CreditLine) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM accounts`); err != nil {
		return err
	}
	for addr, line := range accounts {
		_, err := tx.Exec(`
			INSERT INTO accounts (address, balance, debt, lim) VALUES (?, ?, ?, ?)
		`, string(addr), int64(line.Balance), int64(line.Debt), int64(line.Limit))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadAccounts returns all persisted ledger accounts.
func (db *DB) LoadAccounts() (map[domain.Address]domain.CreditLine, error) {
	rows, err := db.db.Query(`SELECT address, balance, debt, lim FROM accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Address]domain.CreditLine)
	for rows.Next() {
		var addr string
		var balance, debt, limit int64
		if err := rows.Scan(&addr, &balance, &debt, &limit); err != nil {
			return nil, err
		}
		out[domain.Address(addr)] = domain.CreditLine{
			Balance: uint64(balance),
			Debt:    uint64(debt),
			Limit:   uint64(limit),
		}
	}
	return out, rows.Err()
}

// ─── Credit Periods and Terms ───────────────────────────────────────────────

// SavePeriods replaces the credit-period table with the given snapshot.
func (db *DB) SavePeriods(periods map[domain.Address]domain.CreditPeriod) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM credit_periods`); err != nil {
		return err
	}
	for member, p := range periods {
		_, err := tx.Exec(`
			INSERT INTO credit_periods
				(member, issued_at, period_expiration, grace_expiration, period_length_s, grace_length_s)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(member),
			p.IssuedAt.Format(time.RFC3339Nano),
			p.PeriodExpiration.Format(time.RFC3339Nano),
			p.GraceExpiration.Format(time.RFC3339Nano),
			int64(p.PeriodLength/time.Second),
			int64(p.GraceLength/time.Second))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadPeriods returns all persisted credit periods.
func (db *DB) LoadPeriods() (map[domain.Address]domain.CreditPeriod, error) {
	rows, err := db.db.Query(`
		SELECT member, issued_at, period_expiration, grace_expiration, period_length_s, grace_length_s
		FROM credit_periods
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Address]domain.CreditPeriod)
	for rows.Next() {
		var member, issued, expire, grace string
		var periodS, graceS int64
		if err := rows.Scan(&member, &issued, &expire, &grace, &periodS, &graceS); err != nil {
			return nil, err
		}
		var p domain.CreditPeriod
		if p.IssuedAt, err = time.Parse(time.RFC3339Nano, issued); err != nil {
			return nil, fmt.Errorf("period %s issued_at: %w", member, err)
		}
		if p.PeriodExpiration, err = time.Parse(time.RFC3339Nano, expire); err != nil {
			return nil, fmt.Errorf("period %s period_expiration: %w", member, err)
		}
		if p.GraceExpiration, err = time.Parse(time.RFC3339Nano, grace); err != nil {
			return nil, fmt.Errorf("period %s grace_expiration: %w", member, err)
		}
		p.PeriodLength = time.Duration(periodS) * time.Second
		p.GraceLength = time.Duration(graceS) * time.Second
		out[domain.Address(member)] = p
	}
	return out, rows.Err()
}

// SaveTerms replaces the credit-terms table with the given snapshot.
func (db *DB) SaveTerms(terms map[domain.Address]domain.CreditTerms) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM credit_terms`); err != nil {
		return err
	}
	for member, t := range terms {
		_, err := tx.Exec(`
			INSERT INTO credit_terms (member, rebalanced, period_income, fee_rate, min_itd, paused)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(member), boolInt(t.Rebalanced), int64(t.PeriodIncome), int64(t.FeeRate), int64(t.MinITD), boolInt(t.Paused))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadTerms returns all persisted credit terms.
func (db *DB) LoadTerms() (map[domain.Address]domain.CreditTerms, error) {
	rows, err := db.db.Query(`
		SELECT member, rebalanced, period_income, fee_rate, min_itd, paused FROM credit_terms
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Address]domain.CreditTerms)
	for rows.Next() {
		var member string
		var rebalanced, paused int
		var income, feeRate, minITD int64
		if err := rows.Scan(&member, &rebalanced, &income, &feeRate, &minITD, &paused); err != nil {
			return nil, err
		}
		out[domain.Address(member)] = domain.CreditTerms{
			Rebalanced:   rebalanced == 1,
			PeriodIncome: uint64(income),
			FeeRate:      uint64(feeRate),
			MinITD:       uint64(minITD),
			Paused:       paused == 1,
		}
	}
	return out, rows.Err()
}

// ─── Roles ──────────────────────────────────────────────────────────────────

// SaveRoles replaces the roles table with the given snapshot.
func (db *DB) SaveRoles(roles map[domain.Address][]domain.Role) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM roles`); err != nil {
		return err
	}
	for addr, rs := range roles {
		for _, role := range rs {
			if _, err := tx.Exec(`INSERT INTO roles (address, role) VALUES (?, ?)`, string(addr), int(role)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// LoadRoles returns all persisted roles.
func (db *DB) LoadRoles() (map[domain.Address][]domain.Role, error) {
	rows, err := db.db.Query(`SELECT address, role FROM roles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.Address][]domain.Role)
	for rows.Next() {
		var addr string
		var role int
		if err := rows.Scan(&addr, &role); err != nil {
			return nil, err
		}
		out[domain.Address(addr)] = append(out[domain.Address(addr)], domain.Role(role))
	}
	return out, rows.Err()
}

// ─── Reserve State ──────────────────────────────────────────────────────────

// SaveReserveState upserts the reserve pool's single-row state.
func (db *DB) SaveReserveState(s domain.ReserveState) error {
	_, err := db.db.Exec(`
		INSERT INTO reserve_state (id, reserve_balance, operator_balance, target_rtd, operator_percent, sink_percent, sink)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reserve_balance  = excluded.reserve_balance,
			operator_balance = excluded.operator_balance,
			target_rtd       = excluded.target_rtd,
			operator_percent = excluded.operator_percent,
			sink_percent     = excluded.sink_percent,
			sink             = excluded.sink
	`, int64(s.ReserveBalance), int64(s.OperatorBalance), int64(s.TargetRTD), int64(s.OperatorPercent), int64(s.SinkPercent), string(s.Sink))
	return err
}

// LoadReserveState returns the persisted reserve state; a fresh database
// returns the zero value.
func (db *DB) LoadReserveState() (domain.ReserveState, error) {
	var s domain.ReserveState
	var reserve, operator, target, opPct, sinkPct int64
	var sink string
	err := db.db.QueryRow(`
		SELECT reserve_balance, operator_balance, target_rtd, operator_percent, sink_percent, sink
		FROM reserve_state WHERE id = 1
	`).Scan(&reserve, &operator, &target, &opPct, &sinkPct, &sink)
	if err == sql.ErrNoRows {
		return domain.ReserveState{}, nil
	}
	if err != nil {
		return domain.ReserveState{}, err
	}
	s.ReserveBalance = uint64(reserve)
	s.OperatorBalance = uint64(operator)
	s.TargetRTD = uint64(target)
	s.OperatorPercent = uint64(opPct)
	s.SinkPercent = uint64(sinkPct)
	s.Sink = domain.Address(sink)
	return s, nil
}

// ─── Savings State ──────────────────────────────────────────────────────────

// SaveSavingsState upserts the savings pool globals and replaces all
// staker accounts.
func (db *DB) SaveSavingsState(s domain.SavingsState, accounts map[domain.Address]domain.SavingsAccount) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.Exec(`
		INSERT INTO savings_state (id, total_savings, demurraged, demurrage_index, wipe_epoch, reimbursements)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_savings   = excluded.total_savings,
			demurraged      = excluded.demurraged,
			demurrage_index = excluded.demurrage_index,
			wipe_epoch      = excluded.wipe_epoch,
			reimbursements  = excluded.reimbursements
	`, int64(s.TotalSavings), int64(s.Demurraged), int64(s.DemurrageIndex), int64(s.WipeEpoch), int64(s.Reimbursements))
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM savings_accounts`); err != nil {
		return err
	}
	for member, acc := range accounts {
		_, err := tx.Exec(`
			INSERT INTO savings_accounts
				(member, staked_amount, demurrage_index, wipe_epoch, reward_per_token_paid, pending_reward, lost_principal)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(member), int64(acc.StakedAmount), int64(acc.DemurrageIndex),
			int64(acc.WipeEpoch), int64(acc.RewardPerTokenPaid), int64(acc.PendingReward), int64(acc.LostPrincipal))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadSavingsState returns the persisted savings globals and accounts; a
// fresh database returns zero values.
func (db *DB) LoadSavingsState() (domain.SavingsState, map[domain.Address]domain.SavingsAccount, error) {
	var s domain.SavingsState
	var total, demurraged, index, epoch, reimb int64
	err := db.db.QueryRow(`
		SELECT total_savings, demurraged, demurrage_index, wipe_epoch, reimbursements
		FROM savings_state WHERE id = 1
	`).Scan(&total, &demurraged, &index, &epoch, &reimb)
	if err != nil && err != sql.ErrNoRows {
		return domain.SavingsState{}, nil, err
	}
	if err == nil {
		s = domain.SavingsState{
			TotalSavings:   uint64(total),
			Demurraged:     uint64(demurraged),
			DemurrageIndex: uint64(index),
			WipeEpoch:      uint64(epoch),
			Reimbursements: uint64(reimb),
		}
	}

	rows, err := db.db.Query(`
		SELECT member, staked_amount, demurrage_index, wipe_epoch, reward_per_token_paid, pending_reward, lost_principal
		FROM savings_accounts
	`)
	if err != nil {
		return domain.SavingsState{}, nil, err
	}
	defer rows.Close()

	accounts := make(map[domain.Address]domain.SavingsAccount)
	for rows.Next() {
		var member string
		var staked, dIndex, wEpoch, rptPaid, pending, lost int64
		if err := rows.Scan(&member, &staked, &dIndex, &wEpoch, &rptPaid, &pending, &lost); err != nil {
			return domain.SavingsState{}, nil, err
		}
		accounts[domain.Address(member)] = domain.SavingsAccount{
			StakedAmount:       uint64(staked),
			DemurrageIndex:     uint64(dIndex),
			WipeEpoch:          uint64(wEpoch),
			RewardPerTokenPaid: uint64(rptPaid),
			PendingReward:      uint64(pending),
			LostPrincipal:      uint64(lost),
		}
	}
	return s, accounts, rows.Err()
}

// ─── Transfer Journal ───────────────────────────────────────────────────────

// RecordTransfer appends an applied transfer to the journal. Implements
// the ledger's journal recorder.
func (db *DB) RecordTransfer(r domain.TransferReceipt) error {
	_, err := db.db.Exec(`
		INSERT OR IGNORE INTO transfer_journal (id, from_addr, to_addr, amount, minted, burned, fee_paid, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, string(r.From), string(r.To), int64(r.Amount), int64(r.Minted), int64(r.Burned), int64(r.FeePaid),
		r.Timestamp.Format(time.RFC3339Nano))
	return err
}

// ListTransfers returns the most recent journal entries, newest first.
func (db *DB) ListTransfers(limit int) ([]domain.TransferReceipt, error) {
	rows, err := db.db.Query(`
		SELECT id, from_addr, to_addr, amount, minted, burned, fee_paid, ts
		FROM transfer_journal ORDER BY ts DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransfers(rows)
}

// TransfersFor returns the most recent journal entries touching member.
func (db *DB) TransfersFor(member domain.Address, limit int) ([]domain.TransferReceipt, error) {
	rows, err := db.db.Query(`
		SELECT id, from_addr, to_addr, amount, minted, burned, fee_paid, ts
		FROM transfer_journal WHERE from_addr = ? OR to_addr = ?
		ORDER BY ts DESC LIMIT ?
	`, string(member), string(member), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransfers(rows)
}

func scanTransfers(rows *sql.Rows) ([]domain.TransferReceipt, error) {
	var out []domain.TransferReceipt
	for rows.Next() {
		var r domain.TransferReceipt
		var from, to, ts string
		var amount, minted, burned, fee int64
		if err := rows.Scan(&r.ID, &from, &to, &amount, &minted, &burned, &fee, &ts); err != nil {
			return nil, err
		}
		r.From = domain.Address(from)
		r.To = domain.Address(to)
		r.Amount = uint64(amount)
		r.Minted = uint64(minted)
		r.Burned = uint64(burned)
		r.FeePaid = uint64(fee)
		var err error
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("journal %s timestamp: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
