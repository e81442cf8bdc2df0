// cmd/workflow-runner/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"valueprop-client/internal/common/auth"
	"valueprop-client/internal/common/aws"
	"valueprop-client/internal/common/config"
	"valueprop-client/internal/common/database"
	"valueprop-client/internal/common/logger"
	"valueprop-client/internal/common/observability"
	"valueprop-client/internal/models"
	"valueprop-client/internal/notify"
	"valueprop-client/internal/store/runs"
	"valueprop-client/internal/workflow/classify"
	"valueprop-client/internal/workflow/client"
	"valueprop-client/internal/workflow/compare"
	"valueprop-client/internal/workflow/orchestrator"
	"valueprop-client/internal/workflow/validate"
)

func main() {
	var (
		contentFlag   = flag.String("content", "", "raw input content; read from stdin when empty")
		sourceFlag    = flag.String("source", "", "input source tag (defaults to manual)")
		customerFlag  = flag.String("customer", "", "optional customer id")
		providerFlag  = flag.String("provider", "", "provider for a single run")
		modelFlag     = flag.String("model", "", "optional model override")
		tempFlag      = flag.Float64("temperature", models.DefaultTemperature, "sampling temperature, 0.0-2.0")
		compareFlag   = flag.Bool("compare", false, "execute against several providers and rank the outcomes")
		providersFlag = flag.String("providers", "", "comma-separated provider set for -compare")
		historyFlag   = flag.Int("history", 0, "print the N most recent recorded runs and exit")
	)
	flag.Parse()

	zapLog := logger.New("info", "console")
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				zapLog.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Session token source ---
	var tokens auth.TokenSource
	switch {
	case cfg.Session.StaticToken != "":
		tokens = auth.NewStaticTokenSource(cfg.Session.StaticToken)
	case cfg.Session.Redis.Address != "":
		redisSource := auth.NewRedisSessionSource(cfg.Session.Redis, cfg.Session.TokenKey)
		defer redisSource.Close()
		if err := redisSource.Ping(ctx); err != nil {
			zapLog.Warn("session store unreachable, requests will be unauthenticated", zap.Error(err))
		}
		tokens = redisSource
	default:
		tokens = auth.NewStaticTokenSource("")
	}

	exec := client.New(cfg.Backend.BaseURL, config.GetDuration(cfg.Backend.Timeout), tokens, log)

	// --- Optional run history ---
	var store *runs.Store
	if cfg.Database.Postgres.Enabled() {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			zapLog.Fatal("postgres open failed", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Ping(ctx); err != nil {
			zapLog.Warn("run history database unreachable, runs will not be recorded", zap.Error(err))
		} else {
			store = runs.NewStore(pg.DB, log)
		}
	}

	if *historyFlag > 0 {
		if store == nil {
			zapLog.Fatal("run history requested but no database is configured")
		}
		printHistory(ctx, store, *historyFlag, zapLog)
		return
	}

	// --- Optional notifications ---
	var notifier *notify.Notifier
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		var sesClient *aws.SESClient
		var snsClient *aws.SNSClient
		if cfg.Notifications.Email.Enabled {
			if sesClient, err = aws.NewSESClient(ctx, cfg.Notifications.AWS.Region); err != nil {
				zapLog.Fatal("ses client init failed", zap.Error(err))
			}
		}
		if cfg.Notifications.SMS.Enabled {
			if snsClient, err = aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region); err != nil {
				zapLog.Fatal("sns client init failed", zap.Error(err))
			}
		}
		notifier = notify.New(cfg.Notifications, sesClient, snsClient, log)
	}

	content := *contentFlag
	if content == "" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			zapLog.Fatal("reading stdin failed", zap.Error(err))
		}
		content = strings.TrimRight(string(raw), "\n")
	}

	if *compareFlag {
		runComparison(ctx, exec, log, cfg, content, *sourceFlag, *customerFlag, *providersFlag, zapLog)
		return
	}

	runSingle(ctx, exec, store, notifier, cfg, content, *sourceFlag, *customerFlag, *providerFlag, *modelFlag, *tempFlag, zapLog)
}

func runSingle(ctx context.Context, exec client.Executor, store *runs.Store, notifier *notify.Notifier,
	cfg *config.Config, content, source, customer, provider, model string, temperature float64, zapLog *zap.Logger) {

	opts := orchestrator.Options{
		MaxAttempts:    cfg.Backend.MaxAttempts,
		BackoffInitial: config.GetDuration(cfg.Backend.BackoffInitial),
	}
	if store != nil {
		opts.Recorder = store
	}
	if notifier != nil {
		opts.Notifier = notifier
	}
	o := orchestrator.New(exec, logger.NewZapAdapter(zapLog), opts)

	if err := o.SubmitInput(content, source, customer, nil); err != nil {
		zapLog.Fatal("input rejected", zap.Error(err))
	}

	runCfg := models.RunConfig{
		Provider:    models.Provider(cfg.Defaults.Provider),
		Model:       model,
		Temperature: temperature,
	}
	if provider != "" {
		runCfg.Provider = models.Provider(provider)
	}
	if err := o.Configure(runCfg); err != nil {
		zapLog.Fatal("run configuration rejected", zap.Error(err))
	}

	if err := o.Start(ctx); err != nil {
		zapLog.Fatal("could not start execution", zap.Error(err))
	}
	if err := o.Wait(ctx); err != nil {
		if cancelErr := o.Cancel(); cancelErr == nil {
			zapLog.Info("execution cancelled")
		}
		return
	}

	snap := o.Snapshot()
	if snap.Defect != nil {
		zapLog.Fatal("execution settled with an unclassifiable result", zap.Error(snap.Defect))
	}
	printOutcome(snap.Outcome)
	if snap.Outcome.Kind != classify.KindApproved {
		os.Exit(1)
	}
}

func runComparison(ctx context.Context, exec client.Executor, log logger.Logger,
	cfg *config.Config, content, source, customer, providersCSV string, zapLog *zap.Logger) {

	providers := parseProviders(providersCSV, cfg.Defaults.ParallelProviders)

	in, err := validate.RawInput(content, source, customer, nil)
	if err != nil {
		zapLog.Fatal("input rejected", zap.Error(err))
	}

	agg := compare.NewAggregator(exec, log)
	cmp, err := agg.Run(ctx, in, providers)
	if err != nil {
		zapLog.Fatal("comparison failed", zap.Error(err))
	}

	for _, entry := range cmp.Outcomes {
		if entry.Err != nil {
			fmt.Printf("%-10s  unclassifiable: %v\n", entry.Provider, entry.Err)
			continue
		}
		line := fmt.Sprintf("%-10s  %s", entry.Provider, entry.Outcome.Kind)
		if r := entry.Outcome.Result; r != nil && entry.Outcome.Kind == classify.KindApproved {
			line += fmt.Sprintf("  $%.4f  %dms", r.TotalCostUSD, r.TotalLatencyMS)
		} else if entry.Outcome.Message != "" {
			line += "  " + entry.Outcome.Message
		}
		fmt.Println(line)
	}

	if cmp.Recommended != nil {
		fmt.Printf("\nrecommended: %s\n", *cmp.Recommended)
	} else {
		fmt.Println("\nno provider was approved; nothing to recommend")
	}
}

func printOutcome(outcome *classify.Outcome) {
	switch outcome.Kind {
	case classify.KindApproved:
		r := outcome.Result
		vp := r.ValueProposition
		fmt.Printf("run %s approved (%s, $%.4f, %dms)\n\n", r.RunID, r.ProviderUsed, r.TotalCostUSD, r.TotalLatencyMS)
		if vp != nil {
			fmt.Printf("%s\n\n", vp.Headline)
			fmt.Printf("Problem:  %s\n", vp.Problem)
			fmt.Printf("Solution: %s\n", vp.Solution)
			fmt.Printf("Why us:   %s\n", vp.Differentiation)
			if vp.QuantifiedValue != nil {
				fmt.Printf("Value:    %s\n", *vp.QuantifiedValue)
			}
			for _, tp := range vp.TalkingPoints {
				fmt.Printf("  - %s\n", tp)
			}
		}
	case classify.KindRejected:
		fmt.Printf("rejected by self-check: %s\n", outcome.Message)
	case classify.KindProviderError:
		fmt.Printf("provider error: %s\n", outcome.Message)
	case classify.KindNetworkError:
		fmt.Printf("could not reach the workflow service: %s\n", outcome.Message)
	}
}

func printHistory(ctx context.Context, store *runs.Store, limit int, zapLog *zap.Logger) {
	records, err := store.RecentRuns(ctx, limit)
	if err != nil {
		zapLog.Fatal("reading run history failed", zap.Error(err))
	}
	for _, r := range records {
		fmt.Printf("%s  %-10s  %-14s  $%.4f  %dms  %s\n",
			r.CreatedAt.Format("2006-01-02 15:04"), r.Provider, r.Outcome, r.CostUSD, r.LatencyMS, r.RunID)
	}
}

func parseProviders(csv string, fallback []string) []models.Provider {
	raw := fallback
	if csv != "" {
		raw = strings.Split(csv, ",")
	}
	out := make([]models.Provider, 0, len(raw))
	for _, s := range raw {
		out = append(out, models.Provider(strings.TrimSpace(s)))
	}
	return out
}
