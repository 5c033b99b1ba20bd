package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/eniz1806/CloudEmu/internal/lifecycle"
	"github.com/eniz1806/CloudEmu/internal/metadata"
	"github.com/eniz1806/CloudEmu/internal/s3"
	"github.com/eniz1806/CloudEmu/internal/sqs"
	"github.com/eniz1806/CloudEmu/internal/storage"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show catalog row counts and blob store usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, blobs, err := openAll()
			if err != nil {
				return err
			}
			defer store.Close()

			counts, err := store.BucketStats()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(counts))
			for name := range counts {
				names = append(names, name)
			}
			sort.Strings(names)
			var rows [][]string
			for _, name := range names {
				rows = append(rows, []string{name, strconv.Itoa(counts[name])})
			}
			out := cmd.OutOrStdout()
			printTable(out, []string{"TABLE", "ROWS"}, rows)

			st := blobs.Stats()
			fmt.Fprintf(out, "\nBlobs: %d (%s)\n", st.Blobs, formatSize(st.Bytes))
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	var tempMaxAge, multipartExpiry time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile blobs and run one maintenance pass",
		Long: "Rebuilds blob reference counts from the catalog, removes unreferenced blobs and stale\n" +
			"temporary files, aborts expired multipart uploads and prunes expired queue messages.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, store, blobs, err := openAll()
			if err != nil {
				return err
			}
			defer store.Close()

			targets := func() ([]lifecycle.Target, error) { return catalogTargets(store, blobs) }
			w := lifecycle.NewWorker(blobs, targets, nil, lifecycle.Config{
				TempMaxAge:      tempMaxAge,
				MultipartExpiry: multipartExpiry,
				Interval:        time.Duration(cfg.Maintenance.ScanIntervalSecs) * time.Second,
			})
			r := w.Scan(context.Background())
			fmt.Fprintf(cmd.OutOrStdout(), "Temp files removed:      %d\nUploads aborted:         %d\n"+
				"Finished uploads pruned: %d\nExpired messages:        %d\n",
				r.TempFiles, r.AbortedUploads, r.PrunedUploads, r.ExpiredMessages)
			return nil
		},
	}
	cmd.Flags().DurationVar(&tempMaxAge, "temp-max-age", time.Hour, "remove temp files older than this")
	cmd.Flags().DurationVar(&multipartExpiry, "multipart-expiry", 7*24*time.Hour, "abort uploads started before this")
	return cmd
}

func catalogTargets(store *metadata.Store, blobs *storage.FileSystem) ([]lifecycle.Target, error) {
	namespaces, err := store.Namespaces()
	if err != nil {
		return nil, err
	}
	var targets []lifecycle.Target
	for _, ns := range namespaces {
		cat, err := store.Namespace(ns.Account, ns.Region)
		if err != nil {
			return nil, err
		}
		targets = append(targets, lifecycle.Target{
			Namespace: ns.String(),
			Uploads:   s3.NewService(cat, blobs, nil, s3.Config{}),
			Messages:  sqs.NewService(cat, nil, sqs.Config{}),
		})
	}
	return targets, nil
}

func newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write a snapshot of the catalog to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := store.Export(f); err != nil {
				f.Close()
				return fmt.Errorf("export: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Catalog exported to %s\n", args[0])
			return nil
		},
	}
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the catalog with a snapshot",
		Long:  "Replaces the catalog with a snapshot. Blobs the snapshot does not reference are removed\nwhen the server or the sweep command next reconciles the blob store.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if err := store.Import(f); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Catalog imported from %s\n", args[0])
			return nil
		},
	}
}
