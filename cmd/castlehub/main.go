package main

import (
	"fmt"
	"os"

	"github.com/cuemby/castlehub/pkg/config"
	"github.com/cuemby/castlehub/pkg/log"
	"github.com/cuemby/castlehub/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded before any subcommand runs
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "castlehub",
	Short: "castlehub - lifecycle manager for Magic Castle clusters",
	Long: `castlehub creates, modifies and destroys compute clusters on OpenStack
by driving terraform, and follows them until they answer online.

Run "castlehub serve" to keep records up to date in the background; the
cluster subcommands operate on the same data directory.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded
		log.Init(cfg.LogConfig())
		metrics.SetVersion(Version)
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"castlehub version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	config.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(resourcesCmd)
}
