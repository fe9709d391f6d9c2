package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clearline-network/clearline/internal/daemon"
	"github.com/clearline-network/clearline/internal/domain"
)

func init() {
	rootCmd.AddCommand(networkCmd)
	networkCmd.AddCommand(networkBurnDebtCmd)

	networkBurnDebtCmd.Flags().String("payer", "", "Member whose balance retires the debt (required)")
	networkBurnDebtCmd.MarkFlagRequired("payer")
}

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Network-level debt operations",
}

var networkBurnDebtCmd = &cobra.Command{
	Use:   "burn-debt AMOUNT",
	Short: "Retire socialized network debt from a member's balance",
	Long: `Burn part of the network debt account's balance against a paying
member: the payer's balance and the socialized debt shrink together,
restoring the supply-equals-debt invariant after defaults. Operates
directly on the node database — stop the daemon first.`,
	Args: cobra.ExactArgs(1),
	RunE: runNetworkBurnDebt,
}

func runNetworkBurnDebt(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[0])
	}
	payer, _ := cmd.Flags().GetString("payer")

	return withDaemon(func(d *daemon.Daemon) error {
		if err := d.Orchestrator().BurnNetworkDebt(domain.Address(callerAddr), domain.Address(payer), amount); err != nil {
			return err
		}
		fmt.Printf("burned %d network debt (remaining %d)\n", amount, d.Ledger().NetworkDebt())
		return nil
	})
}
