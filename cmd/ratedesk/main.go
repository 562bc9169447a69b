// Command ratedesk serves the commission and loss-ratio entry workflows and
// runs their maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ratedesk/internal/config"
	"ratedesk/internal/core"
	"ratedesk/internal/logging"
	"ratedesk/pkg/domain"
)

var exitFunc = os.Exit

// app carries the state shared by subcommands once the root pre-run has
// loaded configuration.
type app struct {
	configPath string
	verbose    bool

	cfg      config.Config
	logger   *zap.Logger
	variants []domain.Variant
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ratedesk",
		Short:         "Commission and loss-ratio data entry service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log, a.verbose)
			if err != nil {
				return err
			}
			variants, err := cfg.Variants()
			if err != nil {
				return err
			}
			a.cfg, a.logger, a.variants = cfg, logger, variants
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (yaml, toml, json or ini)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newExportCmd(a), newSeedCmd(a))
	return root
}

// openStore opens the configured record store, migrating it when asked or
// when the store is ephemeral.
func (a *app) openStore(ctx context.Context, migrate bool) (domain.RecordStore, error) {
	store, err := core.OpenRecordStore(ctx, a.cfg.Storage)
	if err != nil {
		return nil, err
	}
	if migrate || core.StorageDriver(a.cfg.Storage.Driver) == core.StorageMemory {
		if err := core.Migrate(ctx, store, a.variants); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

func (a *app) serviceOptions() []core.ServiceOption {
	adapter := logging.NewAdapter(a.logger)
	return []core.ServiceOption{
		core.WithLogger(adapter),
		core.WithAuditRecorder(core.NewLogAuditRecorder(adapter.With("component", "audit"))),
		core.WithLookupCache(a.cfg.Cache.LookupSize, a.cfg.Cache.LookupTTL),
		core.WithSessionCache(a.cfg.Cache.SessionSize, a.cfg.Cache.SessionTTL),
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ratedesk:", err)
		exitFunc(1)
	}
}
