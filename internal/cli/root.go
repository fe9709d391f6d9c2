// Package cli implements the clearline command tree.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string
	callerAddr string
)

var rootCmd = &cobra.Command{
	Use:   "clearline",
	Short: "Mutual-credit network node",
	Long: `clearline runs and administers a mutual-credit currency node.
Members trade against issued credit lines; debt is minted on spend and
burned on receipt, keeping circulating supply equal to outstanding debt.

Run a node with 'clearline serve'. Read commands talk to a running node
over its HTTP API; administrative commands operate directly on the node's
database and must run while the daemon is stopped.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8420", "Base URL of a running node's API")
	rootCmd.PersistentFlags().StringVar(&callerAddr, "caller", "network:operator", "Address to act as for gated operations")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".clearline", "config.toml")
}
