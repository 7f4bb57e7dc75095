package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/castlehub/pkg/manager"
	"github.com/cuemby/castlehub/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage clusters",
}

var clusterCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Plan the creation of a cluster",
	Long: `Plan the creation of a cluster from a YAML configuration.

Creation is refused while a workspace for the hostname is left on disk,
even without a record. Adopt such a workspace with 'cluster import'.

Examples:
  # Plan a new cluster, then build it
  castlehub cluster create -f phoenix.yaml --owner alice@example.org
  castlehub cluster apply phoenix.calculquebec.cloud --wait`,
	Args: cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		conf, err := readConfiguration(cmd)
		if err != nil {
			return err
		}
		expires, err := expirationFlag(cmd)
		if err != nil {
			return err
		}
		owner, _ := cmd.Flags().GetString("owner")
		cloudID, _ := cmd.Flags().GetString("cloud")

		c, err := a.mgr.PlanCreation(ctx, conf, manager.CreateOptions{
			Owner:          owner,
			CloudID:        cloudID,
			ExpirationDate: expires,
		})
		if err != nil {
			return err
		}
		printPlan(c)
		return nil
	}),
}

var clusterUpdateCmd = &cobra.Command{
	Use:   "update HOSTNAME",
	Short: "Plan a change to a cluster",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		conf, err := readConfiguration(cmd)
		if err != nil {
			return err
		}
		expires, err := expirationFlag(cmd)
		if err != nil {
			return err
		}

		c, err := a.mgr.PlanModification(ctx, args[0], conf, manager.ModifyOptions{ExpirationDate: expires})
		if err != nil {
			return err
		}
		printPlan(c)
		return nil
	}),
}

var clusterDestroyCmd = &cobra.Command{
	Use:   "destroy HOSTNAME",
	Short: "Plan the destruction of a cluster",
	Long: `Plan the destruction of a cluster. A cluster that never got any
infrastructure is deleted right away; otherwise run "cluster apply" to
carry out the plan.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		c, err := a.mgr.PlanDestruction(ctx, args[0])
		if err != nil {
			return err
		}
		if c == nil {
			fmt.Printf("✓ Deleted %s\n", args[0])
			return nil
		}
		printPlan(c)
		return nil
	}),
}

var clusterApplyCmd = &cobra.Command{
	Use:   "apply HOSTNAME",
	Short: "Apply the pending plan of a cluster",
	Long: `Apply the pending plan of a cluster and wait for terraform to finish.

With --wait the command also waits until the cluster answers online. Without
it, a cluster left provisioning is settled by "castlehub serve".`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		hostname := args[0]
		wait, _ := cmd.Flags().GetBool("wait")

		if err := a.mgr.Apply(ctx, hostname); err != nil {
			return err
		}
		fmt.Printf("Applying plan of %s...\n", hostname)

		status, err := waitIdle(ctx, a.mgr, hostname)
		if err != nil {
			return err
		}
		if wait && status == types.StatusProvisioningRunning {
			fmt.Println("Waiting for the cluster to come online...")
			a.mgr.Wait()
			if status, err = a.mgr.Status(ctx, hostname); err != nil {
				return err
			}
		}

		fmt.Printf("%s: %s\n", hostname, status)
		if status.IsError() {
			return fmt.Errorf("cluster %s ended in %s", hostname, status)
		}
		return nil
	}),
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status HOSTNAME",
	Short: "Show the status of a cluster",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		status, err := a.mgr.Status(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	}),
}

var clusterProgressCmd = &cobra.Command{
	Use:   "progress HOSTNAME",
	Short: "Show the apply progress of the pending plan",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		progress, err := a.mgr.Progress(ctx, args[0])
		if err != nil {
			return err
		}
		if progress == nil {
			fmt.Println("No pending plan")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROGRESS\tACTIONS\tADDRESS")
		for _, p := range progress {
			fmt.Fprintf(w, "%s\t%v\t%s\n", p.Progress, p.Actions, p.Address)
		}
		return w.Flush()
	}),
}

var clusterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clusters",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		clusters, err := a.mgr.List(owner)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HOSTNAME\tSTATUS\tPLAN\tOWNER\tEXPIRES")
		for _, c := range clusters {
			expires := "-"
			if c.ExpirationDate != nil {
				expires = c.ExpirationDate.Format(time.DateOnly)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Hostname, c.Status, c.PlanType, c.OwnerUsername(), expires)
		}
		return w.Flush()
	}),
}

var clusterPasswordCmd = &cobra.Command{
	Use:   "password HOSTNAME",
	Short: "Print the FreeIPA admin password of a cluster",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		password, err := a.mgr.AdminPassword(args[0])
		if err != nil {
			return err
		}
		if password == "" {
			return errors.New("no admin password available yet")
		}
		fmt.Println(password)
		return nil
	}),
}

var clusterImportCmd = &cobra.Command{
	Use:   "import HOSTNAME",
	Short: "Recreate the record of a cluster from its workspace",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		cloudID, _ := cmd.Flags().GetString("cloud")

		c, err := a.mgr.ImportFromState(ctx, args[0], manager.CreateOptions{Owner: owner, CloudID: cloudID})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Imported %s (%s)\n", c.Hostname, c.Status)
		return nil
	}),
}

func init() {
	for _, cmd := range []*cobra.Command{clusterCreateCmd, clusterUpdateCmd} {
		cmd.Flags().StringP("file", "f", "", "YAML cluster configuration (required)")
		cmd.Flags().String("expires", "", "expiration date (YYYY-MM-DD)")
		_ = cmd.MarkFlagRequired("file")
	}
	for _, cmd := range []*cobra.Command{clusterCreateCmd, clusterImportCmd} {
		cmd.Flags().String("owner", "", "owner identity, e.g. alice@example.org")
		cmd.Flags().String("cloud", "", "cloud name exported to terraform as OS_CLOUD")
	}
	clusterApplyCmd.Flags().Bool("wait", false, "wait until the cluster is online")
	clusterListCmd.Flags().String("owner", "", "only list clusters of this owner")

	clusterCmd.AddCommand(clusterCreateCmd)
	clusterCmd.AddCommand(clusterUpdateCmd)
	clusterCmd.AddCommand(clusterDestroyCmd)
	clusterCmd.AddCommand(clusterApplyCmd)
	clusterCmd.AddCommand(clusterStatusCmd)
	clusterCmd.AddCommand(clusterProgressCmd)
	clusterCmd.AddCommand(clusterListCmd)
	clusterCmd.AddCommand(clusterPasswordCmd)
	clusterCmd.AddCommand(clusterImportCmd)
}

type appFunc func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error

// withApp opens the shared components for the duration of a command
func withApp(fn appFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = a.close(ctx)
		}()

		err = fn(cmd.Context(), a, cmd, args)
		var planErr *manager.PlanError
		if errors.As(err, &planErr) && planErr.LogTail != "" {
			fmt.Fprintln(os.Stderr, planErr.LogTail)
		}
		return err
	}
}

func readConfiguration(cmd *cobra.Command) (*types.Configuration, error) {
	filename, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var conf types.Configuration
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &conf, nil
}

func expirationFlag(cmd *cobra.Command) (*time.Time, error) {
	value, _ := cmd.Flags().GetString("expires")
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --expires: %w", err)
	}
	return &t, nil
}

// waitIdle polls the record until terraform is no longer running
func waitIdle(ctx context.Context, mgr *manager.Manager, hostname string) (types.ClusterStatus, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		c, err := mgr.Get(hostname)
		if errors.Is(err, manager.ErrClusterNotFound) {
			return types.StatusNotFound, nil
		}
		if err != nil {
			return "", err
		}
		if !c.IsBusy() {
			return c.Status, nil
		}

		select {
		case <-ctx.Done():
			return c.Status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printPlan(c *types.Cluster) {
	fmt.Printf("%s: %s, %s plan with %d changes\n", c.Hostname, c.Status, c.PlanType, len(c.Plan))
	for _, change := range c.Plan {
		fmt.Printf("  %-14v %s\n", change.Actions, change.Address)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
