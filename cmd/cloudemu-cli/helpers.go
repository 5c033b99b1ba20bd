package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/mitchellh/go-homedir"

	"github.com/eniz1806/CloudEmu/internal/config"
	"github.com/eniz1806/CloudEmu/internal/metadata"
	"github.com/eniz1806/CloudEmu/internal/server"
	"github.com/eniz1806/CloudEmu/internal/storage"
)

// loadConfig reads the server config and applies the directory flags. Paths
// may start with ~.
func loadConfig() (*config.Config, error) {
	path, err := homedir.Expand(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if metadataDir != "" {
		cfg.Storage.MetadataDir = metadataDir
	}
	if cfg.Storage.DataDir, err = homedir.Expand(cfg.Storage.DataDir); err != nil {
		return nil, err
	}
	if cfg.Storage.MetadataDir, err = homedir.Expand(cfg.Storage.MetadataDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*metadata.Store, error) {
	store, err := metadata.NewStore(filepath.Join(cfg.Storage.MetadataDir, server.CatalogFile), nil)
	if err != nil {
		return nil, fmt.Errorf("%w (is the server still running?)", err)
	}
	return store, nil
}

// openAll opens the catalog and the blob store and reconciles their
// reference counts, as the server does on startup.
func openAll() (*config.Config, *metadata.Store, *storage.FileSystem, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	blobs, err := storage.NewFileSystem(cfg.Storage.DataDir)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	if err := server.Reconcile(store, blobs); err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return cfg, store, blobs, nil
}

// withCatalogs opens the catalog and calls fn for every namespace in it.
func withCatalogs(fn func(*metadata.Catalog) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	namespaces, err := store.Namespaces()
	if err != nil {
		return err
	}
	for _, ns := range namespaces {
		cat, err := store.Namespace(ns.Account, ns.Region)
		if err != nil {
			return err
		}
		if err := fn(cat); err != nil {
			return err
		}
	}
	return nil
}

// printTable prints data in a formatted table.
func printTable(out io.Writer, headers []string, rows [][]string) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(headers)))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}

func formatSize(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
