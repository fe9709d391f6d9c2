package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenMintCmd)
	tokenCmd.AddCommand(tokenBalanceCmd)
	tokenCmd.AddCommand(tokenNotifyRewardCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the reserve value token",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint ACCOUNT AMOUNT",
	Short: "Mint reserve units onto an account (operator only)",
	Long: `Mint reserve units onto an account. This is how the value backing
fees, staking rewards and reimbursements enters a deployment that is not
bridged to an external token.`,
	Args: cobra.ExactArgs(2),
	RunE: runTokenMint,
}

func runTokenMint(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[1])
	}
	out, err := apiPost("/v1/token/mint", map[string]interface{}{
		"caller":  callerAddr,
		"account": args[0],
		"amount":  amount,
	})
	if err != nil {
		return err
	}
	return printJSON(out)
}

var tokenBalanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT",
	Short: "Show an account's reserve-unit balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenBalance,
}

func runTokenBalance(cmd *cobra.Command, args []string) error {
	out, err := apiGet("/v1/token/" + args[0])
	if err != nil {
		return err
	}
	return printJSON(out)
}

var tokenNotifyRewardCmd = &cobra.Command{
	Use:   "notify-reward AMOUNT",
	Short: "Schedule delivered reserve units as staking rewards",
	Long: `Schedule reserve units already delivered to the savings pool's token
account over the configured rewards period. Operator only.`,
	Args: cobra.ExactArgs(1),
	RunE: runTokenNotifyReward,
}

func runTokenNotifyReward(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[0])
	}
	out, err := apiPost("/v1/savings/notify-reward", map[string]interface{}{
		"caller": callerAddr,
		"amount": amount,
	})
	if err != nil {
		return err
	}
	return printJSON(out)
}
