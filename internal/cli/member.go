package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clearline-network/clearline/internal/daemon"
	"github.com/clearline-network/clearline/internal/domain"
	"github.com/clearline-network/clearline/internal/issuer"
)

func init() {
	rootCmd.AddCommand(memberCmd)
	memberCmd.AddCommand(memberInitCmd)
	memberCmd.AddCommand(memberStatusCmd)
	memberCmd.AddCommand(memberBalanceCmd)
	memberCmd.AddCommand(memberSyncCmd)
	memberCmd.AddCommand(memberPauseCmd)
	memberCmd.AddCommand(memberUnpauseCmd)

	memberInitCmd.Flags().Uint64("limit", 0, "Credit limit (0 uses the configured default)")
	memberInitCmd.Flags().Uint64("fee-rate", 0, "Transfer fee in PPM (0 uses the configured default)")
	memberInitCmd.Flags().Uint64("min-itd", 0, "Income-to-debt floor in PPM (0 uses the configured default)")
	memberInitCmd.Flags().Uint64("initial-balance", 0, "Balance issued at opening, drawn against the line")
}

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage members and their credit lines",
}

// ─── member init ────────────────────────────────────────────────────────────

var memberInitCmd = &cobra.Command{
	Use:   "init ADDRESS",
	Short: "Open a credit line and grant membership",
	Long: `Open a credit line for a new member. Terms default to the [credit]
section of the config file; flags override per member. Operates directly
on the node database — stop the daemon first.`,
	Args: cobra.ExactArgs(1),
	RunE: runMemberInit,
}

func runMemberInit(cmd *cobra.Command, args []string) error {
	member := domain.Address(args[0])
	limit, _ := cmd.Flags().GetUint64("limit")
	feeRate, _ := cmd.Flags().GetUint64("fee-rate")
	minITD, _ := cmd.Flags().GetUint64("min-itd")
	initial, _ := cmd.Flags().GetUint64("initial-balance")

	return withDaemon(func(d *daemon.Daemon) error {
		cfg, err := daemon.LoadConfig(configPath)
		if err != nil {
			return err
		}
		p := issuer.LineParams{
			PeriodLength:   cfg.Credit.PeriodLengthDuration(),
			GraceLength:    cfg.Credit.GraceLengthDuration(),
			Limit:          cfg.Credit.DefaultLimit,
			FeeRate:        cfg.Credit.FeeRate,
			MinITD:         cfg.Credit.MinITD,
			InitialBalance: initial,
		}
		if limit > 0 {
			p.Limit = limit
		}
		if feeRate > 0 {
			p.FeeRate = feeRate
		}
		if minITD > 0 {
			p.MinITD = minITD
		}
		if err := d.Orchestrator().InitializeMember(domain.CreditIssuerAccount, member, p); err != nil {
			return err
		}
		fmt.Printf("opened credit line for %s (limit %d)\n", member, p.Limit)
		return nil
	})
}

// ─── member status ──────────────────────────────────────────────────────────

var memberStatusCmd = &cobra.Command{
	Use:   "status ADDRESS",
	Short: "Show a member's balance, debt, and standing",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemberStatus,
}

func runMemberStatus(cmd *cobra.Command, args []string) error {
	out, err := apiGet("/v1/members/" + args[0])
	if err != nil {
		return err
	}
	return printJSON(out)
}

// ─── member balance ─────────────────────────────────────────────────────────

var memberBalanceCmd = &cobra.Command{
	Use:   "balance ADDRESS",
	Short: "Show a member's balance, debt, and limit",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemberBalance,
}

func runMemberBalance(cmd *cobra.Command, args []string) error {
	out, err := apiGet("/v1/members/" + args[0])
	if err != nil {
		return err
	}
	line, _ := out["line"].(map[string]interface{})
	fmt.Printf("balance: %v\ndebt:    %v\nlimit:   %v\n", line["balance"], line["debt"], line["limit"])
	return nil
}

// ─── member sync ────────────────────────────────────────────────────────────

var memberSyncCmd = &cobra.Command{
	Use:   "sync ADDRESS",
	Short: "Apply any pending credit-period transition",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemberSync,
}

func runMemberSync(cmd *cobra.Command, args []string) error {
	out, err := apiPost("/v1/members/"+args[0]+"/sync", map[string]string{})
	if err != nil {
		return err
	}
	survived, _ := out["survived"].(bool)
	fmt.Printf("%s: survived=%s\n", args[0], strconv.FormatBool(survived))
	return nil
}

// ─── member pause / unpause ─────────────────────────────────────────────────

var memberPauseCmd = &cobra.Command{
	Use:   "pause ADDRESS",
	Short: "Suspend freeze and default processing for a member",
	Long: `Pause a member's terms: while paused the member is never frozen or
defaulted regardless of standing. Operates directly on the node
database — stop the daemon first.`,
	Args: cobra.ExactArgs(1),
	RunE: runMemberPause,
}

func runMemberPause(cmd *cobra.Command, args []string) error {
	return withDaemon(func(d *daemon.Daemon) error {
		if err := d.Issuer().PauseTermsOf(domain.Address(callerAddr), domain.Address(args[0])); err != nil {
			return err
		}
		fmt.Printf("paused terms for %s\n", args[0])
		return nil
	})
}

var memberUnpauseCmd = &cobra.Command{
	Use:   "unpause ADDRESS",
	Short: "Resume freeze and default processing for a member",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemberUnpause,
}

func runMemberUnpause(cmd *cobra.Command, args []string) error {
	return withDaemon(func(d *daemon.Daemon) error {
		if err := d.Issuer().UnpauseTermsOf(domain.Address(callerAddr), domain.Address(args[0])); err != nil {
			return err
		}
		fmt.Printf("unpaused terms for %s\n", args[0])
		return nil
	})
}
