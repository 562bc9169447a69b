package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ratedesk/internal/blob"
	"ratedesk/internal/core"
	"ratedesk/pkg/domain"
)

func newExportCmd(a *app) *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Archive a CSV snapshot of a variant's records to the blob store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			svc := core.NewService(store, a.variants, a.serviceOptions()...)
			v, err := svc.Variant(domain.VariantName(variant))
			if err != nil {
				return err
			}
			view, err := svc.Snapshot(ctx, v.Name)
			if err != nil {
				return err
			}
			blobs, err := blob.Open(ctx, a.cfg.Blob)
			if err != nil {
				return err
			}
			info, err := core.ArchiveCSV(ctx, blobs, v, uuid.NewString(), view.ID, view.Records(), svc.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\t%s\n", info.Key, info.Size, info.URL)
			return err
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "variant to export (commission, ulr, producer_commission)")
	_ = cmd.MarkFlagRequired("variant")
	return cmd
}
