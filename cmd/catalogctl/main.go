package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-catalog/internal/config"
	"media-catalog/internal/database"
	"media-catalog/internal/vfs"
)

const (
	// Default timeout for database operations
	defaultTimeout = 30 * time.Second
	// Default catalog database path
	defaultDatabasePath = "/data/catalog.db"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	switch command {
	case "validate":
		if !validateConfig(configPath()) {
			os.Exit(1)
		}
	case "stats":
		withDatabase(ctx, showStats)
	case "scans":
		withDatabase(ctx, showScans)
	case "dupes":
		withDatabase(ctx, showDuplicates)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %q\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Media Catalog Administration")
	fmt.Println("")
	fmt.Println("Usage: catalogctl <command>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  validate - Validate the configuration file")
	fmt.Println("  stats    - Show catalog metadata statistics")
	fmt.Println("  scans    - Show recent scan history")
	fmt.Println("  dupes    - Show duplicate file groups")
	fmt.Println("")
	fmt.Println("Environment:")
	fmt.Println("  CONFIG_PATH   - Path to configuration file (default: config.json)")
	fmt.Printf("  DATABASE_PATH - Path to catalog database (default: %s)\n", defaultDatabasePath)
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.json"
}

func databasePath() string {
	if p := os.Getenv("DATABASE_PATH"); p != "" {
		return p
	}
	return defaultDatabasePath
}

func withDatabase(ctx context.Context, fn func(context.Context, *database.Database) bool) {
	db, err := database.New(ctx, databasePath(), 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure DATABASE_PATH is set correctly (current: %s)\n", databasePath())
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if !fn(ctx, db) {
		os.Exit(1)
	}
}

func validateConfig(path string) bool {
	manager := config.NewManager(path)
	if err := manager.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}

	result := config.Validate(manager.Get())
	for _, issue := range result.Errors {
		fmt.Printf("ERROR   %s\n", issue)
	}
	for _, issue := range result.Warnings {
		fmt.Printf("WARNING %s\n", issue)
	}
	if !result.IsValid {
		fmt.Printf("Configuration %s is invalid (%d errors)\n", path, len(result.Errors))
		return false
	}
	fmt.Printf("Configuration %s is valid (%d warnings)\n", path, len(result.Warnings))
	return true
}

func showStats(ctx context.Context, db *database.Database) bool {
	stats, err := db.GetMetadataStatistics(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load statistics: %v\n", err)
		return false
	}

	fmt.Printf("Files with metadata: %d\n", stats.FilesWithMetadata)
	fmt.Printf("Metadata entries:    %d\n", stats.TotalRows)
	if len(stats.TopKeys) > 0 {
		fmt.Println("Top keys:")
		for _, kc := range stats.TopKeys {
			fmt.Printf("  %-20s %d\n", kc.Key, kc.Count)
		}
	}
	if len(stats.FileTypes) > 0 {
		fmt.Println("File types:")
		for ft, count := range stats.FileTypes {
			fmt.Printf("  %-20s %d\n", ft, count)
		}
	}
	return true
}

func showScans(ctx context.Context, db *database.Database) bool {
	records, err := db.RecentScans(ctx, 20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load scan history: %v\n", err)
		return false
	}
	if len(records) == 0 {
		fmt.Println("No scans recorded yet.")
		return true
	}

	for _, r := range records {
		fmt.Printf("%-20s %-10s processed=%d added=%d updated=%d missing=%d errors=%d\n",
			r.RootName, r.Status, r.FilesProcessed, r.FilesAdded, r.FilesUpdated, r.FilesMissing, r.ErrorCount)
	}
	return true
}

func showDuplicates(ctx context.Context, db *database.Database) bool {
	entries, err := db.EntriesForProjection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load catalog entries: %v\n", err)
		return false
	}

	projection := vfs.Build(entries, vfs.PolicyFromConfig(config.VFSConfig{}))
	if len(projection.Duplicates) == 0 {
		fmt.Println("No duplicate groups found.")
		return true
	}

	fmt.Printf("%d duplicate groups:\n", len(projection.Duplicates))
	for hash, group := range projection.Duplicates {
		fmt.Printf("\n%s (%d copies)\n", hash, len(group))
		for _, e := range group {
			fmt.Printf("  %s:%s (%d bytes)\n", e.RootName, e.Path, e.Size)
		}
	}
	return true
}
