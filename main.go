package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-catalog/internal/config"
	"media-catalog/internal/database"
	"media-catalog/internal/hashing"
	"media-catalog/internal/localfs"
	"media-catalog/internal/logging"
	"media-catalog/internal/protocol"
	"media-catalog/internal/scanner"
	"media-catalog/internal/smb"
	"media-catalog/internal/vfs"
	"media-catalog/internal/workers"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", defaultConfigPath(), "path to the configuration file")
	flag.Parse()

	manager := config.NewManager(*configPath)
	if err := manager.Load(); err != nil {
		logging.Fatal("Configuration error: %v", err)
	}
	cfg := manager.Get()

	if result := config.Validate(cfg); !result.IsValid {
		for _, issue := range result.Errors {
			logging.Error("Configuration error: %s", issue)
		}
		logging.Fatal("Configuration is invalid, refusing to start")
	} else {
		for _, issue := range result.Warnings {
			logging.Warn("Configuration warning: %s", issue)
		}
	}

	logging.SetLevel(logging.ParseLevel(cfg.Monitoring.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Fatal("Failed to create database directory: %v", err)
		}
	}

	db, err := database.New(ctx, cfg.Database.Path, cfg.Database.MaxPoolSize)
	if err != nil {
		logging.Fatal("Failed to initialize database: %v", err)
	}
	defer db.Close()

	engine := hashing.NewEngine(workers.ForHashing(cfg.Scanning.HashingThreads), cfg.HashingOptions())
	defer engine.Shutdown()

	scan := scanner.New(db, engine, cfg.Scanning, clientFactory(cfg.Performance))

	logging.Info("Catalog started in %v (%d roots configured)", time.Since(startTime).Round(time.Millisecond), len(cfg.SmbRoots))

	go scanLoop(ctx, scan, db, cfg)
	go maintenanceLoop(ctx, db, cfg)

	if cfg.Monitoring.Enabled {
		runServer(ctx, db, cfg.Monitoring.ListenAddress)
	} else {
		<-ctx.Done()
	}

	logging.Info("Shutdown complete")
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.json"
}

// clientFactory opens a protocol client per root. Roots with host
// "localhost" and an absolute share path are served from the local
// filesystem, everything else over SMB.
func clientFactory(perf config.PerformanceConfig) scanner.ClientFactory {
	return func(root config.SmbRoot) (protocol.Client, error) {
		if root.Host == "localhost" && filepath.IsAbs(root.Share) {
			return localfs.New(root.Share)
		}
		return smb.Dial(smb.Config{
			Host:        root.Host,
			Port:        root.Port,
			Share:       root.Share,
			Username:    root.Credentials.Username,
			Password:    root.Credentials.Password,
			Domain:      root.Credentials.Domain,
			DialTimeout: time.Duration(perf.ConnectionTimeoutSeconds) * time.Second,
			ReadTimeout: time.Duration(perf.ReadTimeoutSeconds) * time.Second,
		})
	}
}

// scanLoop runs a full scan pass immediately and then on the shortest
// configured root interval, rebuilding the projection after each pass.
func scanLoop(ctx context.Context, scan *scanner.Scanner, db *database.Database, cfg *config.Config) {
	interval := time.Hour
	for _, root := range cfg.SmbRoots {
		if root.Enabled && root.ScanIntervalMinutes > 0 {
			if d := time.Duration(root.ScanIntervalMinutes) * time.Minute; d < interval {
				interval = d
			}
		}
	}

	runPass := func() {
		if err := scan.ScanAll(ctx, cfg.SmbRoots); err != nil {
			logging.Error("Scan pass failed: %v", err)
			return
		}
		rebuildProjection(ctx, db, cfg)
	}

	runPass()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runPass()
		}
	}
}

func rebuildProjection(ctx context.Context, db *database.Database, cfg *config.Config) {
	entries, err := db.EntriesForProjection(ctx)
	if err != nil {
		logging.Error("Projection rebuild failed: %v", err)
		return
	}
	p := vfs.Build(entries, vfs.PolicyFromConfig(cfg.VirtualFileSystem))
	logging.Info("Projection rebuilt: %d entries across %d directories (%d duplicate groups)",
		len(entries), p.DirectoryCount(), len(p.Duplicates))
}

// maintenanceLoop purges expired tombstones and vacuums on the
// configured interval.
func maintenanceLoop(ctx context.Context, db *database.Database, cfg *config.Config) {
	interval := time.Duration(cfg.Database.VacuumIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(cfg.Scanning.TombstoneRetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := db.PurgeTombstones(ctx, retention); err != nil {
				logging.Error("Tombstone purge failed: %v", err)
			}
			if err := db.Vacuum(); err != nil {
				logging.Error("Vacuum failed: %v", err)
			}
			db.UpdateDBMetrics()
		}
	}
}

func runServer(ctx context.Context, db *database.Database, addr string) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/search", handleSearch(db)).Methods(http.MethodGet)
	router.HandleFunc("/api/statistics", handleStatistics(db)).Methods(http.MethodGet)
	router.HandleFunc("/api/scans", handleScans(db)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error("HTTP server shutdown failed: %v", err)
		}
	}()

	logging.Info("Monitoring server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("HTTP server failed: %v", err)
	}
}

func handleSearch(db *database.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		results, err := db.SearchByMetadata(r.Context(), database.SearchQuery{
			Key:        q.Get("key"),
			Value:      q.Get("value"),
			SearchText: q.Get("text"),
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, results)
	}
}

func handleStatistics(db *database.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.GetMetadataStatistics(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, stats)
	}
}

func handleScans(db *database.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		records, err := db.RecentScans(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response: %v", err)
	}
}
