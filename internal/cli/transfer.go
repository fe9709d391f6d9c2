package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(transferCmd)
}

var transferCmd = &cobra.Command{
	Use:   "transfer FROM TO AMOUNT",
	Short: "Send credits between members",
	Args:  cobra.ExactArgs(3),
	RunE:  runTransfer,
}

func runTransfer(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[2])
	}

	out, err := apiPost("/v1/transfer", map[string]interface{}{
		"from":   args[0],
		"to":     args[1],
		"amount": amount,
	})
	if err != nil {
		return err
	}
	if applied, _ := out["applied"].(bool); !applied {
		fmt.Println("transfer suppressed: sender is frozen")
		return nil
	}
	return printJSON(out)
}
