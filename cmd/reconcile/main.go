package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kaihaan/spendmatch/internal/application/enrich"
	"github.com/kaihaan/spendmatch/internal/application/match"
	"github.com/kaihaan/spendmatch/internal/cli"
	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/infrastructure/config"
	"github.com/kaihaan/spendmatch/internal/infrastructure/logging"
	"github.com/kaihaan/spendmatch/internal/infrastructure/storage"
	"github.com/kaihaan/spendmatch/internal/providers"

	// Registered classification backends.
	_ "github.com/kaihaan/spendmatch/internal/providers/gemini"
	_ "github.com/kaihaan/spendmatch/internal/providers/openai"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path")
		mode       = flag.String("mode", "all", "Pipeline stage to run: match, enrich, or all")
		sources    = flag.String("sources", "", "Comma-separated source types to match (empty = all)")
		direction  = flag.String("direction", "", "Limit enrichment to DEBIT or CREDIT transactions")
		limit      = flag.Int("limit", 0, "Maximum transactions per stage (0 = default)")
		force      = flag.Bool("force", false, "Re-enrich transactions that already have a result")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	cfg := loadConfig(*configFile)
	if *verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	logger := logging.NewLogger(cfg.Observability.Logging)

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runMatch := *mode == "match" || *mode == "all"
	runEnrich := *mode == "enrich" || *mode == "all"
	if !runMatch && !runEnrich {
		logger.Error("Unknown mode", slog.String("mode", *mode))
		os.Exit(1)
	}

	providerName := ""
	if runEnrich {
		providerName = cfg.Enrichment.Provider
	}
	cli.PrintHeader(*mode, providerName)

	if runMatch {
		if err := doMatch(ctx, cfg, store, logger, *sources, *limit); err != nil {
			logger.Error("Matching failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if runEnrich {
		if err := doEnrich(ctx, cfg, store, logger, *direction, *limit, *force); err != nil {
			logger.Error("Enrichment failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
}

func doMatch(ctx context.Context, cfg *config.Config, store storage.Repository, logger *slog.Logger, sourcesFlag string, limit int) error {
	runner := match.NewRunner(store, logger.With("stage", "match"))

	sourceNames := cfg.Matching.Sources
	if sourcesFlag != "" {
		sourceNames = strings.Split(sourcesFlag, ",")
	}
	var sources []ledger.SourceType
	for _, name := range sourceNames {
		sources = append(sources, ledger.SourceType(strings.TrimSpace(name)))
	}

	stats, err := runner.Run(ctx, match.Options{
		Sources: sources,
		Workers: cfg.Matching.Workers,
		Filter:  storage.TransactionFilter{Limit: limit},
	})
	if err != nil {
		return err
	}

	logger.Info("Matching complete",
		slog.Int("processed", stats.Processed),
		slog.Int("matched", stats.Matched),
		slog.Int("unmatched", stats.Unmatched),
		slog.Int("failed", stats.Failed))
	cli.PrintMatchSummary(*stats)
	return nil
}

func doEnrich(ctx context.Context, cfg *config.Config, store storage.Repository, logger *slog.Logger, direction string, limit int, force bool) error {
	provider, err := providers.New(cfg.ProviderConfig())
	if err != nil {
		// Missing credentials or an unknown backend is fatal at startup.
		return err
	}
	if err := provider.ValidateCredentials(ctx); err != nil {
		return err
	}

	orchestrator := enrich.NewOrchestrator(store, provider, logger.With("stage", "enrich"))

	stats, err := orchestrator.Run(ctx, enrich.Options{
		Filter: storage.TransactionFilter{
			Direction: ledger.Direction(strings.ToUpper(direction)),
			Limit:     limit,
		},
		BatchSize:    cfg.Enrichment.BatchSize,
		MaxRetries:   uint(cfg.Enrichment.MaxRetries),
		ForceRefresh: force,
		DisableCache: cfg.Enrichment.DisableCache,
	})
	if err != nil {
		return err
	}

	logger.Info("Enrichment complete",
		slog.Int("total", stats.Total),
		slog.Int("successful", stats.Successful),
		slog.Int("failed", stats.Failed),
		slog.Int("rule_hits", stats.RuleHits),
		slog.Int("cache_hits", stats.CacheHits),
		slog.Int("api_calls", stats.APICalls),
		slog.Float64("cost", stats.Cost),
		slog.Int("retry_queue", len(stats.RetryQueue)))
	cli.PrintEnrichSummary(*stats)
	return nil
}

func loadConfig(configFile string) *config.Config {
	if configFile != "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			slog.Error("Failed to load config file",
				slog.String("file", configFile),
				slog.String("error", err.Error()))
			os.Exit(1)
		}
		return cfg
	}
	return config.LoadOrEnv()
}
