package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ratedesk/pkg/domain"
)

func newSeedCmd(a *app) *cobra.Command {
	var variant, file string
	cmd := &cobra.Command{
		Use:   "seed-mappings",
		Short: "Load organization/program/product mapping rows from a CSV file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var target *domain.Variant
			for i := range a.variants {
				if string(a.variants[i].Name) == variant {
					target = &a.variants[i]
				}
			}
			if target == nil {
				return fmt.Errorf("unknown variant %q", variant)
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			rows, err := readMappings(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			store, err := a.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			writer, ok := store.(domain.MappingWriter)
			if !ok {
				return fmt.Errorf("storage driver %s does not accept mapping rows", a.cfg.Storage.Driver)
			}
			if err := writer.AddMappings(cmd.Context(), *target, rows); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "loaded %d mapping rows into %s\n", len(rows), target.MappingTable)
			return err
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "variant whose mapping table receives the rows")
	cmd.Flags().StringVar(&file, "file", "", "CSV file with organization,program,product columns")
	_ = cmd.MarkFlagRequired("variant")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readMappings parses organization,program,product rows. A first row naming
// those columns is treated as a header.
func readMappings(r io.Reader) ([]domain.MappingRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true
	var rows []domain.MappingRow
	for line := 0; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 0 && strings.EqualFold(rec[0], "organization") {
			continue
		}
		rows = append(rows, domain.MappingRow{Organization: rec[0], Program: rec[1], Product: rec[2]})
	}
}
