package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/aluiziolira/go-build-finder/config"
	"github.com/aluiziolira/go-build-finder/engine"
	"github.com/aluiziolira/go-build-finder/models"
	"github.com/aluiziolira/go-build-finder/pipeline"
)

const usage = `usage: buildfinder [flags] <command>

commands:
  refresh     scrape every source now and commit the result
  build       print a random build within -budget (-purpose, -type)
  component   print a random -category component within -budget
  export      write the catalog to -output in -format
  watch       keep the catalog fresh until interrupted

flags:
`

func main() {
	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.SnapshotFile, "snapshot", cfg.SnapshotFile, "Catalog snapshot file")
	flag.StringVar(&cfg.SourcesFile, "sources", cfg.SourcesFile, "YAML file overriding the built-in source tables")
	flag.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "Directory for the on-disk page cache (empty keeps it in memory)")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Page cache time-to-live")
	flag.StringVar(&cfg.ProxyListURL, "proxy-list", cfg.ProxyListURL, "URL of a plaintext proxy list, one host:port per line")
	flag.StringVar(&cfg.SessionMode, "session", cfg.SessionMode, "Session type: http or browser")
	flag.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run the browser headless")
	flag.DurationVar(&cfg.PageTimeout, "page-timeout", cfg.PageTimeout, "Time allowed for a listing to become ready")
	flag.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Fetch attempts per listing page")
	flag.DurationVar(&cfg.UpdateInterval, "interval", cfg.UpdateInterval, "Catalog freshness interval")
	flag.BoolVar(&cfg.Parallel, "parallel", cfg.Parallel, "Run source adapters concurrently")
	flag.StringVar(&cfg.Policy, "policy", cfg.Policy, "Budget policy: ceiling or band")
	flag.Float64Var(&cfg.BandLowerRatio, "band-ratio", cfg.BandLowerRatio, "Lower bound of the band policy as a share of the budget")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flag.StringVar(&cfg.ExportFile, "output", cfg.ExportFile, "Export file path (default data/catalog.<format>)")
	flag.StringVar(&cfg.ExportFormat, "format", cfg.ExportFormat, "Export format: csv, json, or dual")
	flag.BoolVar(&cfg.Verbose, "v", false, "Enable verbose logging")

	budget := flag.Int("budget", 50000, "Budget in roubles")
	purpose := flag.String("purpose", "", "Build purpose: work, gaming, custom (empty for any)")
	buildType := flag.String("type", models.TypePC, "Build type: pc or laptop (empty for any)")
	category := flag.String("category", "cpu", "Component category")

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg.SessionMode = strings.ToLower(cfg.SessionMode)
	cfg.ExportFormat = strings.ToLower(cfg.ExportFormat)
	cfg.Policy = strings.ToLower(cfg.Policy)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	q := query{budget: *budget, purpose: *purpose, buildType: *buildType, category: *category}
	os.Exit(run(cfg, logger, command, q))
}

type query struct {
	budget    int
	purpose   string
	buildType string
	category  string
}

func run(cfg *config.Config, logger *slog.Logger, command string, q query) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, logger)
	if err != nil {
		slog.Error("initialising", slog.Any("error", err))
		return 1
	}

	metricsServer := startMetricsServer(cfg.MetricsAddr, app)
	defer shutdownMetricsServer(metricsServer)

	if command != "export" {
		if err := app.pool.Refresh(ctx); err != nil {
			slog.Warn("proxy refresh failed, using direct connections", slog.Any("error", err))
		}
	}

	switch command {
	case "refresh":
		err = runRefresh(ctx, app)
	case "build":
		err = runBuild(ctx, app, q.budget, q.purpose, q.buildType)
	case "component":
		err = runComponent(ctx, app, q.category, q.budget)
	case "export":
		err = runExport(app, cfg.ExportFormat, cfg.ExportFile)
	case "watch":
		err = runWatch(ctx, app, cfg)
	default:
		flag.Usage()
		return 2
	}
	if errors.Is(err, engine.ErrCatalogUnavailable) {
		fmt.Println("The catalog is empty right now. Try again later.")
		return 1
	}
	if err != nil {
		slog.Error(command+" failed", slog.Any("error", err))
		return 1
	}
	return 0
}

func runRefresh(ctx context.Context, app *app) error {
	startTime := time.Now()
	result, err := app.scheduler.Update(ctx)
	if result != nil {
		printSummary(result, time.Since(startTime), app.cfg.SnapshotFile)
	}
	return err
}

func runBuild(ctx context.Context, app *app, budget int, purposeName, buildType string) error {
	purpose, ok := models.ParsePurpose(purposeName)
	if !ok {
		return fmt.Errorf("unknown purpose %q", purposeName)
	}
	build, err := app.engine.GetRandomBuild(ctx, budget, purpose, strings.ToLower(buildType))
	if err != nil {
		return err
	}
	if build == nil {
		fmt.Println("No build matches this budget. Try a different budget.")
		return nil
	}
	fmt.Printf("%s\n  price:   %d ₽\n  purpose: %s\n  source:  %s\n  url:     %s\n",
		build.Title, build.TotalPrice, displayPurpose(build.Purpose), build.Source, build.URL)
	for _, c := range build.Components {
		fmt.Printf("  - %s (%d ₽)\n", c.Title, c.Price)
	}
	return nil
}

func runComponent(ctx context.Context, app *app, category string, budget int) error {
	item, err := app.engine.GetComponentByBudget(ctx, category, budget)
	if err != nil {
		return err
	}
	if item == nil {
		fmt.Println("No component matches this budget. Try a different budget or category.")
		return nil
	}
	fmt.Printf("%s\n  price:  %d ₽\n  source: %s\n  url:    %s\n", item.Title, item.Price, item.Source, item.URL)
	return nil
}

func runExport(app *app, format, path string) error {
	if path == "" {
		ext := ".jsonl"
		if format == pipeline.FormatCSV {
			ext = ".csv"
		}
		path = "data/catalog" + ext
	}
	writer, err := pipeline.NewWriter(format, path)
	if err != nil {
		return err
	}
	n, err := pipeline.Export(app.store.Snapshot(), writer)
	if err != nil {
		return err
	}
	slog.Info("catalog exported", slog.Int("records", n), slog.String("path", path), slog.String("format", format))
	return nil
}

func runWatch(ctx context.Context, app *app, cfg *config.Config) error {
	c := cron.New()
	if cfg.ProxyListURL != "" {
		if _, err := app.pool.Schedule(c, cfg.ProxyRefreshSpec); err != nil {
			return err
		}
	}
	return app.scheduler.Run(ctx, c)
}

func startMetricsServer(addr string, app *app) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(app.metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func shutdownMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(result *models.RefreshResult, duration time.Duration, snapshotFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Refresh complete")

	outcome := "committed"
	if !result.Committed {
		outcome = "retained previous catalog"
	}
	fmt.Printf("  Scraped:       %d\n", result.ScrapedCount)
	fmt.Printf("  Previous:      %d\n", result.PreviousCount)
	fmt.Printf("  Outcome:       %s\n", outcome)
	for source, n := range result.ItemsBySource {
		fmt.Printf("  %-14s %d\n", string(source)+":", n)
	}
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if len(result.FailedAdapters) > 0 {
		fmt.Printf("  Failed:        %s\n", strings.Join(result.FailedAdapters, ", "))
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Snapshot:      %s\n", snapshotFile)
	fmt.Println(separator)
}

func displayPurpose(p models.Purpose) string {
	if p == models.PurposeAny {
		return "any"
	}
	return string(p)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
