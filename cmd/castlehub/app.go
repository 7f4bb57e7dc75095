package main

import (
	"context"
	"fmt"

	"github.com/cuemby/castlehub/pkg/config"
	"github.com/cuemby/castlehub/pkg/events"
	"github.com/cuemby/castlehub/pkg/health"
	"github.com/cuemby/castlehub/pkg/manager"
	"github.com/cuemby/castlehub/pkg/security"
	"github.com/cuemby/castlehub/pkg/storage"
	"github.com/cuemby/castlehub/pkg/terraform"
	"github.com/cuemby/castlehub/pkg/workspace"
)

// app is the set of components every command shares
type app struct {
	store  *storage.BoltStore
	runner *terraform.Exec
	broker *events.Broker
	mgr    *manager.Manager
}

func openApp(cfg *config.Config) (*app, error) {
	store, err := storage.NewBoltStore(cfg.StorePath())
	if err != nil {
		return nil, err
	}

	root, err := workspace.NewRoot(cfg.ClustersDir, cfg.ModuleSource())
	if err != nil {
		store.Close()
		return nil, err
	}

	secrets, err := security.NewSecretsManagerFromPassword(cfg.SecretKey)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("secret_key: %w", err)
	}

	runner := terraform.NewExec(cfg.Terraform.Binary, cfg.TerraformTimeouts())
	broker := events.NewBroker()
	broker.Start()

	mgr, err := manager.NewManager(&manager.Config{
		Store:               store,
		Workspaces:          root,
		Runner:              runner,
		Poller:              health.NewPoller(cfg.PollerConfig()),
		Secrets:             secrets,
		Events:              broker,
		DNS:                 cfg.DNS(),
		MaxProvisioningTime: cfg.Provisioning.MaxDuration,
	})
	if err != nil {
		broker.Stop()
		store.Close()
		return nil, err
	}

	return &app{
		store:  store,
		runner: runner,
		broker: broker,
		mgr:    mgr,
	}, nil
}

// close cancels background tasks and releases the store
func (a *app) close(ctx context.Context) error {
	err := a.mgr.Shutdown(ctx)
	a.broker.Stop()
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}
