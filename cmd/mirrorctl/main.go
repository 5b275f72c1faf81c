package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirrorctl/mirrorctl/internal/config"
	"github.com/mirrorctl/mirrorctl/internal/connpool"
	"github.com/mirrorctl/mirrorctl/internal/engine"
	"github.com/mirrorctl/mirrorctl/internal/observability"
	"github.com/mirrorctl/mirrorctl/internal/pipeline"
	"github.com/mirrorctl/mirrorctl/internal/processor"
	"github.com/mirrorctl/mirrorctl/internal/recorder"
	"github.com/mirrorctl/mirrorctl/internal/robots"
	"github.com/mirrorctl/mirrorctl/internal/scrape"
	"github.com/mirrorctl/mirrorctl/internal/session"
	"github.com/mirrorctl/mirrorctl/internal/types"
	"github.com/mirrorctl/mirrorctl/internal/urlfilter"
	"github.com/mirrorctl/mirrorctl/internal/urltable"
	"github.com/mirrorctl/mirrorctl/internal/waiter"
	"github.com/mirrorctl/mirrorctl/internal/webclient"
	"github.com/mirrorctl/mirrorctl/internal/writer"
)

var (
	cfgFile     string
	verbose     bool
	outputDir   string
	concurrency int
	maxLevel    int
	recursive   bool
	tries       int
	resume      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mirrorctl",
		Short: "mirrorctl — recursive website and FTP mirroring engine",
		Long: `mirrorctl recursively mirrors websites and FTP trees to local disk,
following links within configured bounds, respecting robots.txt and
per-host politeness pacing, and resuming an interrupted run from its
last checkpoint.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(mirrorCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func mirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror [url...]",
		Short: "Mirror one or more seed URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runMirror,
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (overrides config)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 0, "number of concurrent workers (overrides config)")
	cmd.Flags().IntVarP(&maxLevel, "level", "l", 0, "maximum recursion level (overrides config)")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "follow links recursively")
	cmd.Flags().IntVar(&tries, "tries", -1, "retries per failed URL (-1 = use config default)")
	cmd.Flags().BoolVar(&resume, "resume", true, "resume from a prior checkpoint if one exists")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mirrorctl %s\n", config.Version)
		},
	}
}

func runMirror(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, rawURL := range args {
		if err := config.ValidateURL(rawURL); err != nil {
			return fmt.Errorf("invalid URL %q: %w", rawURL, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table, err := urltable.Open(ctx, &cfg.URLTable)
	if err != nil {
		return fmt.Errorf("open url table: %w", err)
	}
	defer table.Close()

	if err := os.MkdirAll(cfg.Writer.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	jsonlPath := cfg.Writer.OutputDir + "/crawl.jsonl"
	jsonlFile, err := os.Create(jsonlPath)
	if err != nil {
		logger.Warn("could not open exchange log, continuing without it", "path", jsonlPath, "error", err)
	}
	var rec recorder.Recorder = recorder.NoOp{}
	if jsonlFile != nil {
		defer jsonlFile.Close()
		rec = recorder.NewJSONLRecorder(jsonlFile)
	}

	metrics := observability.NewMetrics(logger)
	dispatcher := recorder.NewDispatcher(rec, observability.NewMetricsRecorder(metrics))

	proxyRotation := connpool.NewProxyRotation(&cfg.Proxy, logger)
	if proxyRotation != nil {
		proxyRotation.SetMetrics(metrics)
	}
	pool := connpool.New(&cfg.ConnPool, proxyRotation, logger)
	pool.SetMetrics(metrics)

	httpClient := session.NewHTTPClient(pool, dispatcher, cfg.ConnPool.MaxBodySize, cfg.Proxy.Enabled)
	ftpClient := session.NewFTPClient(pool, dispatcher, cfg.FTP.User, cfg.FTP.Password)
	webClient := webclient.New(httpClient, cfg.ConnPool.MaxRedirects, cfg.FTP.User, cfg.FTP.Password)
	webClient.SetMetrics(metrics)

	var robotsChecker *robots.Checker
	if cfg.Robots.Enabled {
		robotsChecker = robots.New(cfg.Robots.UserAgent, cfg.Robots.CacheTTL, robotsFetchFunc(httpClient))
		robotsChecker.SetMetrics(metrics)
	}

	scraper := scrape.NewHTMLScraper(cfg.Engine.PageRequisites)
	var extractor *scrape.Extractor
	if cfg.Parser.Enabled {
		extractor = scrape.NewExtractor(cfg.Parser.Rules)
	}

	filters := buildFilterChain(cfg)
	dedup := urlfilter.NewDedup()
	wait := waiter.New(cfg.Waiter.Base, cfg.Waiter.Max, cfg.Waiter.Jitter)

	diskWriter := writer.NewDiskWriter(cfg.Writer.OutputDir, cfg.Writer.MetadataSuffix, cfg.Writer.IndexHTMLName)
	defer diskWriter.Close()

	pipe, err := pipeline.Build(cfg.Pipeline.Middlewares, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	proc := processor.New(table, webClient, ftpClient, robotsChecker, scraper, extractor, filters, dedup, wait, diskWriter, pipe, processor.Options{
		Recursive:      cfg.Engine.Recursive,
		PageRequisites: cfg.Engine.PageRequisites,
		RobotsEnabled:  cfg.Robots.Enabled,
	}, logger)
	proc.SetMetrics(metrics)

	eng := engine.New(cfg, logger, table, proc, dedup)
	eng.SetMetrics(metrics)

	if resume {
		if err := eng.LoadCheckpoint(); err != nil {
			logger.Warn("checkpoint load failed, starting fresh", "error", err)
		}
	}
	if err := eng.Seed(ctx, args); err != nil {
		return fmt.Errorf("seed urls: %w", err)
	}

	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("metrics server failed to start", "error", err)
		}
	}
	if cfg.Status.Enabled {
		statusSrv := observability.NewStatusServer(eng, logger)
		go func() {
			if err := statusSrv.ListenAndServe(cfg.Status.Addr); err != nil {
				logger.Warn("status server stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		eng.Stop()
	}()

	start := time.Now()
	eng.Start(ctx)
	eng.Wait()
	elapsed := time.Since(start)

	stats := eng.Stats().Snapshot()
	logger.Info("mirror complete",
		"elapsed", elapsed,
		"requests_sent", stats["requests_sent"],
		"requests_failed", stats["requests_failed"],
		"responses_ok", stats["responses_ok"],
		"exit_category", eng.ExitCategory(),
	)

	if eng.ExitCategory() != types.CategoryNone {
		os.Exit(int(eng.ExitCategory()))
	}
	return nil
}

func robotsFetchFunc(httpClient *session.HTTPClient) robots.FetchFunc {
	return func(ctx context.Context, scheme, host, port string) (int, []byte, error) {
		target := fmt.Sprintf("%s://%s:%s/robots.txt", scheme, host, port)
		req, err := types.NewRequest(target)
		if err != nil {
			return 0, nil, err
		}
		resp, err := httpClient.Download(ctx, req)
		if err != nil {
			return 0, nil, err
		}
		if resp.Body == nil {
			return resp.StatusCode, nil, nil
		}
		return resp.StatusCode, resp.Body.Bytes(), nil
	}
}

func buildFilterChain(cfg *config.Config) *urlfilter.Chain {
	var filters []urlfilter.Filter
	level := cfg.Engine.MaxLevel
	if maxLevel > 0 {
		level = maxLevel
	}
	if level > 0 {
		filters = append(filters, urlfilter.MaxLevelFilter{MaxLevel: level})
	}
	effectiveTries := cfg.Engine.Tries
	if tries >= 0 {
		effectiveTries = tries
	}
	if effectiveTries > 0 {
		filters = append(filters, urlfilter.TriesFilter{Tries: effectiveTries})
	}
	if len(cfg.Engine.AllowedDomains) > 0 || len(cfg.Engine.DisallowedDomains) > 0 {
		filters = append(filters, urlfilter.DomainFilter{Allowed: cfg.Engine.AllowedDomains, Denied: cfg.Engine.DisallowedDomains})
	}
	if len(cfg.Engine.AllowedURLPatterns) > 0 {
		filters = append(filters, urlfilter.PatternFilter{Patterns: cfg.Engine.AllowedURLPatterns})
	}
	return urlfilter.NewChain(filters...)
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func applyCLIOverrides(cfg *config.Config) {
	if outputDir != "" {
		cfg.Writer.OutputDir = outputDir
	}
	if concurrency > 0 {
		cfg.Engine.Concurrency = concurrency
	}
	if maxLevel > 0 {
		cfg.Engine.MaxLevel = maxLevel
	}
	cfg.Engine.Recursive = recursive
	if tries >= 0 {
		cfg.Engine.Tries = tries
	}
}
