// Command cloudemu-cli inspects and maintains a CloudEmu data directory.
// The server must be stopped while it runs: the catalog file admits one
// process at a time.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath  string
	dataDir     string
	metadataDir string
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cloudemu-cli",
		Short:         "Inspect and maintain a CloudEmu data directory",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", envOrDefault("CLOUDEMU_CONFIG", ""), "server config file to read directories from")
	flags.StringVar(&dataDir, "data-dir", "", "blob directory (overrides config)")
	flags.StringVar(&metadataDir, "metadata-dir", "", "catalog directory (overrides config)")

	root.AddCommand(
		newStatsCommand(),
		newBucketsCommand(),
		newTablesCommand(),
		newQueuesCommand(),
		newTopicsCommand(),
		newVersionsCommand(),
		newSweepCommand(),
		newExportCommand(),
		newImportCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
