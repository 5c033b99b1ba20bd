package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/eniz1806/CloudEmu/internal/metadata"
)

func newBucketsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "buckets",
		Short: "List buckets in every namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rows [][]string
			err := withCatalogs(func(cat *metadata.Catalog) error {
				buckets, err := cat.ListBuckets()
				if err != nil {
					return err
				}
				for _, b := range buckets {
					rows = append(rows, []string{cat.Namespace().String(), b.Name, string(b.Versioning),
						b.CreatedAt.Format(time.RFC3339)})
				}
				return nil
			})
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No buckets found.")
				return nil
			}
			printTable(cmd.OutOrStdout(), []string{"NAMESPACE", "NAME", "VERSIONING", "CREATED"}, rows)
			return nil
		},
	}
}

func newTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List key-value tables in every namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rows [][]string
			err := withCatalogs(func(cat *metadata.Catalog) error {
				tables, err := cat.ListTables()
				if err != nil {
					return err
				}
				for _, t := range tables {
					n, err := cat.CountItems(t.Name)
					if err != nil {
						return err
					}
					key := fmt.Sprintf("%s (%s)", t.HashKey.Name, t.HashKey.Type)
					if t.RangeKey != nil {
						key += fmt.Sprintf(", %s (%s)", t.RangeKey.Name, t.RangeKey.Type)
					}
					rows = append(rows, []string{cat.Namespace().String(), t.Name, key, strconv.FormatInt(n, 10)})
				}
				return nil
			})
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tables found.")
				return nil
			}
			printTable(cmd.OutOrStdout(), []string{"NAMESPACE", "NAME", "KEY", "ITEMS"}, rows)
			return nil
		},
	}
}

func newQueuesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "List queues and their message counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rows [][]string
			err := withCatalogs(func(cat *metadata.Catalog) error {
				queues, err := cat.ListQueues("")
				if err != nil {
					return err
				}
				for _, q := range queues {
					st, err := cat.QueueStats(q.Name)
					if err != nil {
						return err
					}
					rows = append(rows, []string{cat.Namespace().String(), q.Name, q.VisibilityTimeout.String(),
						strconv.Itoa(st.Visible), strconv.Itoa(st.InFlight), strconv.Itoa(st.Delayed)})
				}
				return nil
			})
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No queues found.")
				return nil
			}
			printTable(cmd.OutOrStdout(), []string{"NAMESPACE", "NAME", "VISIBILITY", "VISIBLE", "IN FLIGHT", "DELAYED"}, rows)
			return nil
		},
	}
}

func newTopicsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List topics and their subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rows [][]string
			err := withCatalogs(func(cat *metadata.Catalog) error {
				topics, err := cat.ListTopics()
				if err != nil {
					return err
				}
				for _, t := range topics {
					subs, err := cat.ListSubscriptions(t.Name)
					if err != nil {
						return err
					}
					if len(subs) == 0 {
						rows = append(rows, []string{cat.Namespace().String(), t.Name, "-", "-"})
					}
					for _, s := range subs {
						rows = append(rows, []string{cat.Namespace().String(), t.Name, s.Protocol, s.Endpoint})
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No topics found.")
				return nil
			}
			printTable(cmd.OutOrStdout(), []string{"NAMESPACE", "TOPIC", "PROTOCOL", "ENDPOINT"}, rows)
			return nil
		},
	}
}

func newVersionsCommand() *cobra.Command {
	var account, region string
	cmd := &cobra.Command{
		Use:   "versions <bucket> <key>",
		Short: "Show every version of an object and the state of its blob",
		Long: "Lists the versions of one object, newest first, with the reference count the\n" +
			"catalog implies for each blob and whether the blob file is on disk.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, blobs, err := openAll()
			if err != nil {
				return err
			}
			defer store.Close()
			if account == "" {
				account = cfg.Namespace.AccountID
			}
			if region == "" {
				region = cfg.Namespace.Region
			}
			cat, err := store.Namespace(account, region)
			if err != nil {
				return err
			}
			versions, err := cat.Versions(args[0], args[1])
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No versions found.")
				return nil
			}
			var rows [][]string
			for _, v := range versions {
				latest := ""
				if v.IsLatest {
					latest = "*"
				}
				if !v.HoldsBlob() {
					rows = append(rows, []string{v.VersionID, latest, "delete marker", "-", "-", "-"})
					continue
				}
				onDisk := "yes"
				if !blobs.Exists(v.ContentHash) {
					onDisk = "MISSING"
				}
				rows = append(rows, []string{v.VersionID, latest, formatSize(v.Size), v.ContentHash[:16],
					strconv.FormatInt(blobs.RefCount(v.ContentHash), 10), onDisk})
			}
			printTable(cmd.OutOrStdout(), []string{"VERSION", "LATEST", "SIZE", "HASH", "REFS", "ON DISK"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id (defaults to the configured namespace)")
	cmd.Flags().StringVar(&region, "region", "", "region (defaults to the configured namespace)")
	return cmd
}
