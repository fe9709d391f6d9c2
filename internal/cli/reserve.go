package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clearline-network/clearline/internal/daemon"
	"github.com/clearline-network/clearline/internal/domain"
)

func init() {
	rootCmd.AddCommand(reserveCmd)
	reserveCmd.AddCommand(reserveStatusCmd)
	reserveCmd.AddCommand(reserveDepositCmd)
	reserveCmd.AddCommand(reserveTargetCmd)
}

var reserveCmd = &cobra.Command{
	Use:   "reserve",
	Short: "Inspect and manage the reserve pool",
}

var reserveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show reserve balances and the reserve-to-debt ratio",
	Args:  cobra.NoArgs,
	RunE:  runReserveStatus,
}

func runReserveStatus(cmd *cobra.Command, args []string) error {
	out, err := apiGet("/v1/reserve")
	if err != nil {
		return err
	}
	return printJSON(out)
}

var reserveDepositCmd = &cobra.Command{
	Use:   "deposit AMOUNT",
	Short: "Allocate delivered reserve units through the deposit waterfall",
	Long: `Account for reserve units already delivered to the pool's token
address: the buffer shortfall is filled first, any surplus is split by
the configured operator and sink percentages. Operates directly on the
node database — stop the daemon first.`,
	Args: cobra.ExactArgs(1),
	RunE: runReserveDeposit,
}

func runReserveDeposit(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[0])
	}
	return withDaemon(func(d *daemon.Daemon) error {
		if err := d.Reserve().DepositFees(domain.Address(callerAddr), amount); err != nil {
			return err
		}
		st := d.Reserve().State()
		fmt.Printf("deposited %d: reserve=%d operator=%d\n", amount, st.ReserveBalance, st.OperatorBalance)
		return nil
	})
}

var reserveTargetCmd = &cobra.Command{
	Use:   "target PPM",
	Short: "Set the target reserve-to-debt ratio in PPM",
	Args:  cobra.ExactArgs(1),
	RunE:  runReserveTarget,
}

func runReserveTarget(cmd *cobra.Command, args []string) error {
	target, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid target %q", args[0])
	}
	out, err := apiPost("/v1/reserve/target", map[string]interface{}{
		"caller":     callerAddr,
		"target_rtd": target,
	})
	if err != nil {
		return err
	}
	return printJSON(out)
}
