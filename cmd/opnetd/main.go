package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/btc-vision/opnet-node/internal/plugin"
	"github.com/btc-vision/opnet-node/internal/sync"
	"github.com/btc-vision/opnet-node/pkg/config"
	"github.com/btc-vision/opnet-node/pkg/logging"
)

// shutdownDrainTimeout bounds how long graceful shutdown waits for the
// plugin pool to drain before giving up.
const shutdownDrainTimeout = 10 * time.Second

// pluginObservers adapts the registry and sync tracker to the plugin
// pool's CrashObserver/SyncStateObserver collaborator interfaces (§4.9).
type pluginObservers struct {
	registry *plugin.Registry
	tracker  *sync.Tracker
	log      *logrus.Entry
}

func (o *pluginObservers) OnPluginCrash(id, reason string) {
	o.registry.SetCrashed(id, reason)
	o.log.WithFields(logrus.Fields{"plugin": id, "reason": reason}).Warn("plugin crashed")
}

func (o *pluginObservers) OnSyncStateUpdate(id string, lastSyncedBlock uint64, syncCompleted bool) {
	if err := o.tracker.UpdateLastSyncedBlock(id, lastSyncedBlock); err != nil {
		o.log.WithError(err).WithField("plugin", id).Warn("failed to persist sync-state update")
		return
	}
	if syncCompleted {
		if err := o.tracker.MarkSyncCompleted(id); err != nil {
			o.log.WithError(err).WithField("plugin", id).Warn("failed to persist sync completion")
		}
	}
}

func main() {
	rootCmd := &cobra.Command{Use: "opnetd"}
	rootCmd.AddCommand(startCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start [config]",
		Short: "start the OP_NET indexer node",
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath := ""
			if len(args) > 0 {
				cfgPath = args[0]
			}
			if err := run(cfgPath); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
}

// run wires the indexer's process-wide components and blocks until
// SIGINT/SIGTERM triggers a graceful drain (§6 "CLI surface").
func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	log := logging.For("opnetd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := plugin.NewRegistry()
	syncTracker := sync.NewTracker(sync.NewMemoryKV())
	observers := &pluginObservers{registry: registry, tracker: syncTracker, log: log}
	pool := plugin.NewPool(ctx, registry, cfg.Plugins.WorkerCount, observers, observers)
	dispatcher := plugin.NewDispatcher(registry, pool)

	// The Bitcoin-node RPC client (C12) is an external collaborator with no
	// concrete implementation in this module; it is supplied by whatever
	// node-connection package the deployment wires in, via rpc.NewThread.

	if err := loadPlugins(cfg.Plugins.Directory, registry, pool, dispatcher, log); err != nil {
		log.WithError(err).Warn("plugin directory scan failed, continuing with no plugins loaded")
	}

	log.WithFields(logrus.Fields{
		"network":       cfg.Network.Network,
		"chainId":       cfg.Network.ChainID,
		"pluginWorkers": cfg.Plugins.WorkerCount,
	}).Info("opnetd started")

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("plugin pool shutdown did not complete cleanly")
	}
	log.Info("opnetd stopped")
	return nil
}

func loadPlugins(dir string, registry *plugin.Registry, pool *plugin.Pool, dispatcher *plugin.Dispatcher, log *logrus.Entry) error {
	files, err := plugin.Load(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		perms := make(map[string]bool, len(f.Metadata.Permissions))
		for _, p := range f.Metadata.Permissions {
			perms[p] = true
		}
		record := &plugin.Record{
			ID:          f.Metadata.ID,
			FilePath:    f.Path,
			Metadata:    f.Metadata,
			Permissions: perms,
			State:       plugin.StateRegistered,
		}
		registry.Register(record)

		if err := pool.LoadPlugin(record, f.Bytecode, nil); err != nil {
			log.WithError(err).WithField("plugin", f.Metadata.ID).Warn("failed to load plugin")
			continue
		}
		dispatcher.NoteRegistered(record.ID)
		if err := pool.EnablePlugin(record.ID); err != nil {
			log.WithError(err).WithField("plugin", f.Metadata.ID).Warn("failed to enable plugin")
		}
	}
	return nil
}
