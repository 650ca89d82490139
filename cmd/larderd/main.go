// Package main implements the larderd server binary: the shared event
// log, its validators, and the websocket gateway in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/larder/larder/internal/app"
	"github.com/larder/larder/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		addr        string
		storeType   string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&addr, "addr", "", "Listen address")
	flag.StringVar(&storeType, "store", "", "Event store backend: local, postgres, s3")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "larderd - offline-first recipe event server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: larderd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  larderd --data-dir /data/larder\n")
		fmt.Fprintf(os.Stderr, "  larderd --store postgres --config /etc/larder/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  LARDER_DATA_DIR      Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  LARDER_SERVER_ADDR   Listen address\n")
		fmt.Fprintf(os.Stderr, "  LARDER_STORE_TYPE    Store backend (local, postgres, s3)\n")
		fmt.Fprintf(os.Stderr, "  LARDER_STORE_DSN     Postgres connection string\n")
		fmt.Fprintf(os.Stderr, "  LARDER_S3_BUCKET     S3 bucket name\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("larderd version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, addr, storeType)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// loadConfig loads configuration from file, environment, and command
// line flags, in ascending priority.
func loadConfig(configFile, dataDir, addr, storeType string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if storeType != "" {
		cfg.Store.Type = storeType
	}

	return cfg, nil
}
