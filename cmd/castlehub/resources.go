package main

import (
	"context"

	"github.com/cuemby/castlehub/pkg/cloud"
	"github.com/spf13/cobra"
)

var resourcesCmd = &cobra.Command{
	Use:   "resources [HOSTNAME]",
	Short: "Show what a cluster may use in the OpenStack project",
	Long: `Show the quotas, instance types and images a cluster may use.

Credentials come from the usual OS_* environment variables. Resources held by
HOSTNAME are counted as available to it; without HOSTNAME the answer is for
a new cluster.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		provider, err := cloud.NewOpenStackFromEnv(cfg.Cloud.Region)
		if err != nil {
			return err
		}

		hostname := ""
		if len(args) == 1 {
			hostname = args[0]
		}
		res, err := a.mgr.AvailableResources(ctx, provider, hostname)
		if err != nil {
			return err
		}
		return printJSON(res)
	}),
}
