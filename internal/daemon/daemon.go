// Package daemon assembles the node: engines, persistence, the HTTP API,
// and the background maintenance loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearline-network/clearline/internal/access"
	"github.com/clearline-network/clearline/internal/api"
	"github.com/clearline-network/clearline/internal/automation"
	"github.com/clearline-network/clearline/internal/domain"
	"github.com/clearline-network/clearline/internal/fees"
	"github.com/clearline-network/clearline/internal/infra/observability"
	"github.com/clearline-network/clearline/internal/infra/sqlite"
	"github.com/clearline-network/clearline/internal/issuer"
	"github.com/clearline-network/clearline/internal/ledger"
	"github.com/clearline-network/clearline/internal/network"
	"github.com/clearline-network/clearline/internal/oracle"
	"github.com/clearline-network/clearline/internal/reserve"
	"github.com/clearline-network/clearline/internal/savings"
	"github.com/clearline-network/clearline/internal/token"
)

// Daemon is a fully wired node instance.
type Daemon struct {
	cfg    Config
	logger *log.Logger

	registry *access.Registry
	ledger   *ledger.Ledger
	token    *token.Token
	oracle   *oracle.FixedOracle
	issuer   *issuer.Issuer
	savings  *savings.Pool
	reserve  *reserve.Pool
	fees     *fees.Collector
	orch     *network.Orchestrator
	runner   *automation.Runner

	store  *sqlite.DB
	server *api.Server
	http   *http.Server
}

// New wires a daemon from the configuration: engines, persisted state,
// metrics, and the HTTP server. The caller owns Run and Close.
func New(cfg Config, logger *log.Logger) (*Daemon, error) {
	if logger == nil {
		logger = log.Default()
	}

	price, err := decimal.NewFromString(cfg.Reserve.OraclePrice)
	if err != nil {
		return nil, fmt.Errorf("parse oracle price %q: %w", cfg.Reserve.OraclePrice, err)
	}

	reg := access.NewRegistry()
	reg.Grant(domain.CreditIssuerAccount, domain.RoleIssuer)
	reg.Grant(domain.SavingsPoolAccount, domain.RoleOperator)
	reg.Grant(domain.NetworkOperatorAccount, domain.RoleOperator)

	led := ledger.New(reg)
	tok := token.New()
	orc := oracle.NewFixed(price, reg)
	pool := savings.New(reg, led, tok, cfg.Savings.RewardsDurationParsed())
	iss := issuer.New(reg, led, pool)
	rp := reserve.New(reg, orc, led, tok, cfg.Reserve.TargetRTD)
	fc := fees.New(reg, orc, tok, rp)
	orch := network.New(reg, led, iss, fc, logger)

	if cfg.Reserve.OperatorPercent > 0 || cfg.Reserve.SinkPercent > 0 {
		if err := rp.SetOperatorPercent(domain.NetworkOperatorAccount, cfg.Reserve.OperatorPercent); err != nil {
			return nil, fmt.Errorf("configure operator percent: %w", err)
		}
		if err := rp.SetSinkPercent(domain.NetworkOperatorAccount, cfg.Reserve.SinkPercent); err != nil {
			return nil, fmt.Errorf("configure sink percent: %w", err)
		}
	}
	if cfg.Reserve.Sink != "" {
		if err := rp.SetSink(domain.NetworkOperatorAccount, domain.Address(cfg.Reserve.Sink)); err != nil {
			return nil, fmt.Errorf("configure sink: %w", err)
		}
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		ledger:   led,
		token:    tok,
		oracle:   orc,
		issuer:   iss,
		savings:  pool,
		reserve:  rp,
		fees:     fc,
		orch:     orch,
	}

	if err := d.openStore(); err != nil {
		return nil, err
	}

	orch.SetObserver(observability.PipelineObserver{})
	iss.OnDefault(func(rec issuer.DefaultRecord) {
		observability.DefaultsTotal.Inc()
		observability.DefaultedDebt.Add(float64(rec.WrittenOff))
		observability.DemurrageAmount.Add(float64(rec.Absorbed))
		logger.Printf("member %s defaulted: wrote off %d, savings absorbed %d", rec.Member, rec.WrittenOff, rec.Absorbed)
	})

	d.server = api.NewServer(orch, pool, rp)
	d.server.SetToken(tok, reg)
	if d.store != nil {
		d.server.SetJournal(d.store)
	}
	if cfg.API.Metrics {
		d.server.EnableMetrics()
	}
	d.http = &http.Server{
		Addr:         cfg.API.Addr(),
		Handler:      d.server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	if cfg.Automation.Enabled {
		d.runner = automation.New(cfg.Automation.IntervalDuration(), orch, fc, rp, pool, orc, logger)
	}

	return d, nil
}

// Orchestrator exposes the transfer pipeline, for the CLI's direct mode.
func (d *Daemon) Orchestrator() *network.Orchestrator { return d.orch }

// Issuer exposes credit-line administration.
func (d *Daemon) Issuer() *issuer.Issuer { return d.issuer }

// Ledger exposes the credit ledger views.
func (d *Daemon) Ledger() *ledger.Ledger { return d.ledger }

// Reserve exposes the reserve pool.
func (d *Daemon) Reserve() *reserve.Pool { return d.reserve }

// Token exposes the reserve value token, for the CLI's direct mode.
func (d *Daemon) Token() *token.Token { return d.token }

// openStore opens the sqlite database and restores persisted state.
func (d *Daemon) openStore() error {
	path := d.cfg.Storage.Path
	if path == "" {
		path = ":memory:"
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	d.store = store
	d.ledger.SetRecorder(store)
	return d.restore()
}

// restore loads persisted state into the engines. An empty database
// leaves the freshly wired engines untouched.
func (d *Daemon) restore() error {
	roles, err := d.store.LoadRoles()
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}
	if len(roles) > 0 {
		d.registry.Restore(roles)
	}

	accounts, err := d.store.LoadAccounts()
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	if len(accounts) > 0 {
		d.ledger.Restore(accounts)
	}

	periods, err := d.store.LoadPeriods()
	if err != nil {
		return fmt.Errorf("load periods: %w", err)
	}
	terms, err := d.store.LoadTerms()
	if err != nil {
		return fmt.Errorf("load terms: %w", err)
	}
	if len(periods) > 0 || len(terms) > 0 {
		d.issuer.Restore(periods, terms)
	}

	rs, err := d.store.LoadReserveState()
	if err != nil {
		return fmt.Errorf("load reserve state: %w", err)
	}
	if rs != (domain.ReserveState{}) {
		d.reserve.Restore(rs)
	}

	ss, sa, err := d.store.LoadSavingsState()
	if err != nil {
		return fmt.Errorf("load savings state: %w", err)
	}
	if ss != (domain.SavingsState{}) || len(sa) > 0 {
		d.savings.Restore(ss, sa)
	}
	return nil
}

// persist writes every engine's snapshot to storage.
func (d *Daemon) persist() error {
	if err := d.store.SaveRoles(d.registry.Snapshot()); err != nil {
		return fmt.Errorf("save roles: %w", err)
	}
	if err := d.store.SaveAccounts(d.ledger.Snapshot()); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	periods, terms := d.issuer.Snapshot()
	if err := d.store.SavePeriods(periods); err != nil {
		return fmt.Errorf("save periods: %w", err)
	}
	if err := d.store.SaveTerms(terms); err != nil {
		return fmt.Errorf("save terms: %w", err)
	}
	if err := d.store.SaveReserveState(d.reserve.Snapshot()); err != nil {
		return fmt.Errorf("save reserve state: %w", err)
	}
	ss, sa := d.savings.Snapshot()
	if err := d.store.SaveSavingsState(ss, sa); err != nil {
		return fmt.Errorf("save savings state: %w", err)
	}
	return nil
}

// updateGauges refreshes the point-in-time metrics.
func (d *Daemon) updateGauges() {
	observability.TotalSupply.Set(float64(d.ledger.TotalSupply()))
	observability.NetworkDebt.Set(float64(d.ledger.NetworkDebt()))
	observability.ReserveRTD.Set(float64(d.reserve.RTD()))
	observability.NeededReserves.Set(float64(d.reserve.NeededReserves()))
	observability.TotalSavings.Set(float64(d.savings.State().TotalSavings))
}

// Run serves the API and drives the maintenance loop until ctx is
// cancelled, then shuts down cleanly and persists a final snapshot.
func (d *Daemon) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		d.logger.Printf("network %q: api listening on %s", d.cfg.Network.Name, d.http.Addr)
		if err := d.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var tick <-chan time.Time
	if d.runner != nil {
		t := time.NewTicker(d.cfg.Automation.IntervalDuration())
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := d.http.Shutdown(shutdownCtx); err != nil {
				d.logger.Printf("http shutdown: %v", err)
			}
			return d.Close()
		case err := <-errCh:
			return fmt.Errorf("api server: %w", err)
		case <-tick:
			stats := d.runner.Tick()
			if stats.FeesDistributed > 0 {
				observability.FeesDistributed.Add(float64(stats.FeesDistributed))
			}
			d.updateGauges()
			if err := d.persist(); err != nil {
				d.logger.Printf("persist: %v", err)
			}
		}
	}
}

// Close persists a final snapshot and releases storage.
func (d *Daemon) Close() error {
	if d.store == nil {
		return nil
	}
	perr := d.persist()
	cerr := d.store.Close()
	d.store = nil
	if perr != nil {
		return perr
	}
	return cerr
}
