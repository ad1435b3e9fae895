// Package cli implements the hublens command line: the long-running
// dashboard server plus commands for managing instances and pins.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/darshan-rambhia/hublens/internal/config"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "hublens",
		Short: "Client-side dashboard and alert relay for monitoring hubs",
		Long: `hublens keeps sessions with one or more monitoring hubs, refreshes
their system and container metrics on a schedule, relays new alerts to
local notification targets and serves the processed data over HTTP.

Examples:
  hublens run --config hublens.yml
  hublens instance add --name homelab --url https://hub.lan --email me@lan --password secret
  hublens pin add homelab alpha --kind system --metric cpu`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("HUBLENS_CONFIG"), "path to hublens.yml config file")

	root.AddCommand(
		newRunCmd(opts),
		newInstanceCmd(opts),
		newPinCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		printError(root.ErrOrStderr(), err)
		return 1
	}
	return 0
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %s\n", err)
	if errors.Is(err, config.ErrConfigFileNotFound) {
		fmt.Fprintf(w, "\nCopy the example config to get started:\n")
		fmt.Fprintf(w, "  cp hublens.example.yml hublens.yml\n")
	}
}
