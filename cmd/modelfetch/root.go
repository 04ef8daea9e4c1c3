// Command modelfetch is a CLI front end for the resumable, quota-aware
// download subsystem in internal/{chunkstore,contentcache,download,
// scheduler}, structured the way the teacher's cmd/root.go structures
// its cobra commands.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/scriblatex/modelfetch/internal/chunkstore"
	"github.com/scriblatex/modelfetch/internal/config"
	"github.com/scriblatex/modelfetch/internal/contentcache"
	"github.com/scriblatex/modelfetch/internal/download"
	"github.com/scriblatex/modelfetch/internal/httpclient"
	"github.com/scriblatex/modelfetch/internal/mflog"
	"github.com/scriblatex/modelfetch/internal/output"
	"github.com/scriblatex/modelfetch/internal/scheduler"
)

var (
	configPath    string
	debug         bool
	storeDir      string
	cacheDir      string
	proxyURL      string
	tokenEnv      string
	mirrorBucket  string
	maxConcurrent int
)

var modelfetchVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "modelfetch",
	Short:   "Resumable, quota-aware fetcher for browser-resident model artifacts",
	Version: modelfetchVersion,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (falls back to built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store-dir", "", "Directory backing the chunk store (default: OS cache dir)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Directory backing the content cache (default: OS cache dir)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL")
	rootCmd.PersistentFlags().StringVar(&tokenEnv, "token-env", "", "Environment variable holding a bearer token for gated hosts")
	rootCmd.PersistentFlags().StringVar(&mirrorBucket, "mirror-bucket", "", "S3-compatible bucket to use as a shared durability tier for completed acquisitions")
	rootCmd.PersistentFlags().IntVarP(&maxConcurrent, "max-concurrent", "w", 0, "Max simultaneous acquisitions (default: config value, normally 3)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCacheCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newCleanCmd())
}

// loadConfig resolves the effective Config, applying CLI overrides on
// top of the YAML file (if any) the way the teacher's root.go builds
// HTTPClientConfig by layering flags over defaults.
func loadConfig() config.Config {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			output.PrintError(fmt.Sprintf("failed to load config file: %v", err))
			os.Exit(1)
		}
		cfg = loaded
	}
	if proxyURL != "" {
		cfg.ProxyURL = proxyURL
	}
	if tokenEnv != "" {
		cfg.TokenEnv = tokenEnv
	}
	if maxConcurrent > 0 {
		cfg.MaxConcurrent = maxConcurrent
	}
	if mirrorBucket != "" {
		cfg.MirrorBucket = mirrorBucket
	}
	return cfg
}

// buildScheduler wires chunkstore, contentcache, httpclient, and the
// scheduler from a resolved Config — the one assembly point every
// subcommand calls into.
func buildScheduler(cfg config.Config) (*scheduler.Scheduler, error) {
	mflog.Init(debug)

	baseDir := storeDir
	if baseDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolving cache directory: %w", err)
		}
		baseDir = dir + "/" + cfg.StoreName
	}
	store, err := chunkstore.New(baseDir, cfg.QuotaBytes)
	if err != nil {
		return nil, err
	}

	cacheBase := cacheDir
	if cacheBase == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolving cache directory: %w", err)
		}
		cacheBase = dir
	}
	cache, err := contentcache.Open(cacheBase, cfg.CacheName)
	if err != nil {
		return nil, err
	}

	var tokenSource oauth2.TokenSource
	if cfg.TokenEnv != "" {
		tokenSource = httpclient.TokenSourceFromEnv(cfg.TokenEnv)
	}
	client := httpclient.New(httpclient.Config{
		Timeout:     cfg.Timeout,
		KeepAliveTO: cfg.KeepAliveTimeout,
		ProxyURL:    cfg.ProxyURL,
		UserAgent:   cfg.UserAgent,
		TokenSource: tokenSource,
	})

	var mirror *contentcache.Mirror
	if cfg.MirrorBucket != "" {
		mirror, err = contentcache.NewMirror(context.Background(), cfg.MirrorBucket)
		if err != nil {
			return nil, err
		}
	}

	deps := download.Deps{
		Client:      client,
		Store:       store,
		Cache:       cache,
		Mirror:      mirror,
		FlushWindow: cfg.FlushWindowBytes,
	}
	return scheduler.New(deps, cfg.MaxConcurrent), nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsed.Scheme)
	}
	return nil
}
