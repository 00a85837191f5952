// Command prism is the Portfolio Prism CLI: a one-shot decomposition run,
// a resolver-statistics health check, an ad-hoc
// ISIN lookup, and the long-running echo-bridge server. Every subcommand
// is directly scriptable; the desktop shell drives the same binary through
// `prism serve`.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/skeptomenos/portfolio-prism/internal/config"
	"github.com/skeptomenos/portfolio-prism/internal/loader"
	"github.com/skeptomenos/portfolio-prism/internal/persistence"
	"github.com/skeptomenos/portfolio-prism/internal/pipeline"
	"github.com/skeptomenos/portfolio-prism/internal/resolver"
	"github.com/skeptomenos/portfolio-prism/internal/transport"
	"github.com/skeptomenos/portfolio-prism/internal/wiring"
)

const version = "1.0.0"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "prism",
		Short:   "Portfolio Prism: ETF true-exposure analytics engine",
		Version: version,
		Long: `Portfolio Prism decomposes ETF holdings into their underlying
constituents and aggregates them with direct positions into one
true-exposure view, resolving tickers to ISINs through a multi-tier
cascade and caching provider holdings tables across runs.`,
	}
	// The desktop shell passes flags in snake_case; accept both spellings.
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full Load -> Decompose -> Enrich -> Aggregate pipeline once",
		RunE:  runPipelineCmd,
	}
	runCmd.Flags().String("positions", "", "path to a CSV of portfolio positions (required)")
	runCmd.Flags().String("portfolio-id", "default", "portfolio identifier recorded in reports")
	runCmd.Flags().String("config", "", "path to config.yaml (defaults to $PRISM_CONFIG or built-in defaults)")
	runCmd.Flags().String("out", "out", "directory to write true_exposure.csv, holdings_breakdown.csv, pipeline_health.json")
	// Defaults to quiet when stdout isn't a TTY (piped into a log file or
	// another process); --quiet always overrides the detected default.
	runCmd.Flags().Bool("quiet", !term.IsTerminal(int(os.Stdout.Fd())), "suppress the interactive step logger")
	_ = runCmd.MarkFlagRequired("positions")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Report resolver cascade statistics since process start",
		RunE:  runHealthCmd,
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a single ticker/name to an ISIN through the full cascade",
		RunE:  runResolveCmd,
	}
	resolveCmd.Flags().String("ticker", "", "ticker symbol to resolve")
	resolveCmd.Flags().String("name", "", "issuer name to resolve (fallback when ticker misses)")
	resolveCmd.Flags().String("exchange", "", "exchange suffix/MIC, passed to the Hive ticker lookup")
	resolveCmd.Flags().Float64("weight", 100, "constituent weight percentage, for tier-1 gating")
	resolveCmd.Flags().String("config", "", "path to config.yaml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo-bridge command/event server (stdio or HTTP)",
		RunE:  runServeCmd,
	}
	serveCmd.Flags().String("transport", "stdio", "stdio|http")
	serveCmd.Flags().String("addr", ":8420", "listen address when --transport=http")
	serveCmd.Flags().String("config", "", "path to config.yaml")

	rootCmd.AddCommand(runCmd, healthCmd, resolveCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadServices(configPath string) (*wiring.Services, config.Config, error) {
	if configPath == "" {
		configPath = os.Getenv("PRISM_CONFIG")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cfg, fmt.Errorf("load config: %w", err)
	}
	secrets := wiring.Secrets{
		HiveBaseURL: os.Getenv("PRISM_HIVE_BASE_URL"),
		HiveToken:   os.Getenv("PRISM_HIVE_TOKEN"),
		FinnhubKey:  os.Getenv("PRISM_FINNHUB_KEY"),
		PostgresDSN: os.Getenv("PRISM_POSTGRES_DSN"),
	}
	services, err := wiring.Build(cfg, secrets)
	if err != nil {
		return nil, cfg, fmt.Errorf("build services: %w", err)
	}
	return services, cfg, nil
}

func runPipelineCmd(cmd *cobra.Command, args []string) error {
	positionsPath, _ := cmd.Flags().GetString("positions")
	portfolioID, _ := cmd.Flags().GetString("portfolio-id")
	configPath, _ := cmd.Flags().GetString("config")
	outDir, _ := cmd.Flags().GetString("out")
	quiet, _ := cmd.Flags().GetBool("quiet")

	services, cfg, err := loadServices(configPath)
	if err != nil {
		return err
	}
	defer services.Shutdown()

	pcfg := pipeline.Config{
		Positions:                   loader.NewCSVPositionSource(positionsPath),
		Holdings:                    services.Cache,
		Adapters:                    services.Adapters,
		Resolver:                    services.Resolver,
		Enrich:                      services.Enrich,
		PortfolioID:                 portfolioID,
		ReportingCurrency:           cfg.ReportingCurrency,
		ModerateResolutionThreshold: 0.80,
		AggregationTolerance:        0.01,
		OutputDir:                   outDir,
		Metrics:                     services.Metrics,
		Quiet:                       quiet,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	startedAt := time.Now()
	res := pipeline.Run(ctx, pcfg, nil)
	recordRunHistory(services, portfolioID, outDir, startedAt, res)

	fmt.Printf("pipeline run: success=%t etfs_processed=%d etfs_failed=%d total_value=%.2f quality=%.3f\n",
		res.Success, res.ETFsProcessed, res.ETFsFailed, res.TotalValue, res.Quality.Score())
	if !res.Success {
		for _, e := range res.Errors {
			fmt.Printf("  error: [%s] %s: %s\n", e.Phase, e.ErrorType, e.Message)
		}
		return fmt.Errorf("pipeline run did not complete successfully")
	}
	return nil
}

// recordRunHistory writes a PipelineRun record to Postgres when persistence
// is enabled. Best-effort and silent on failure: run history is a
// convenience the CSV/JSON report artifacts never depended on.
func recordRunHistory(services *wiring.Services, portfolioID, outDir string, startedAt time.Time, res pipeline.Result) {
	if services.Persistence == nil || !services.Persistence.IsEnabled() {
		return
	}
	errs := make(map[string]interface{}, len(res.Errors))
	for i, e := range res.Errors {
		errs[fmt.Sprintf("%d", i)] = map[string]string{"phase": e.Phase, "type": e.ErrorType, "message": e.Message}
	}
	run := persistence.PipelineRun{
		PortfolioID: portfolioID, StartedAt: startedAt, CompletedAt: time.Now(),
		Success: res.Success, ETFsProcessed: res.ETFsProcessed, ETFsFailed: res.ETFsFailed,
		TotalValue: res.TotalValue, QualityScore: res.Quality.Score(), ReportDir: outDir, Errors: errs,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := services.Persistence.Repository().Runs.Insert(ctx, run); err != nil {
		log.Warn().Err(err).Msg("failed to record run history")
	}
}

func runHealthCmd(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	services, _, err := loadServices(configPath)
	if err != nil {
		return err
	}
	defer services.Shutdown()
	fmt.Println(services.Resolver.StatsSnapshot().String())
	return nil
}

func runResolveCmd(cmd *cobra.Command, args []string) error {
	ticker, _ := cmd.Flags().GetString("ticker")
	name, _ := cmd.Flags().GetString("name")
	exchange, _ := cmd.Flags().GetString("exchange")
	weight, _ := cmd.Flags().GetFloat64("weight")
	configPath, _ := cmd.Flags().GetString("config")

	if ticker == "" && name == "" {
		return fmt.Errorf("at least one of --ticker or --name is required")
	}

	services, _, err := loadServices(configPath)
	if err != nil {
		return err
	}
	defer services.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := services.Resolver.Resolve(ctx, resolver.Input{
		Ticker: ticker, Name: name, Exchange: exchange, Weight: weight,
	})
	fmt.Printf("isin=%s status=%s source=%s confidence=%.2f detail=%q\n",
		res.ISIN, res.Status, res.Source, res.Confidence, res.Detail)
	return nil
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	transportMode, _ := cmd.Flags().GetString("transport")
	addr, _ := cmd.Flags().GetString("addr")
	configPath, _ := cmd.Flags().GetString("config")

	services, cfg, err := loadServices(configPath)
	if err != nil {
		return err
	}
	defer services.Shutdown()

	srv := transport.NewServer(transport.Dependencies{
		Config:      cfg,
		Resolver:    services.Resolver,
		Cache:       services.Cache,
		Adapters:    services.Adapters,
		Enrich:      services.Enrich,
		Metrics:     services.Metrics,
		Persistence: services.Persistence,
		Version:     version,
	})

	switch transportMode {
	case "stdio":
		return srv.ServeStdio(context.Background(), os.Stdin, os.Stdout)
	case "http":
		return srv.ServeHTTP(context.Background(), addr)
	default:
		return fmt.Errorf("unknown transport %q (want stdio|http)", transportMode)
	}
}
