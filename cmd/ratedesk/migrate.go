package main

import (
	"github.com/spf13/cobra"

	"ratedesk/internal/logging"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the record and mapping tables of every variant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			log := logging.NewAdapter(a.logger)
			for _, v := range a.variants {
				log.Info("migrated", "variant", v.Name, "record_table", v.RecordTable, "mapping_table", v.MappingTable)
			}
			return nil
		},
	}
}
