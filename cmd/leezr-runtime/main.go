package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/djamelji/leezr-sub000/internal/config"
	"github.com/djamelji/leezr-sub000/internal/stress"
	"github.com/djamelji/leezr-sub000/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	seed := flag.Int64("seed", time.Now().UnixNano(), "seed for the fault-injection RNG")
	scenario := flag.String("scenario", "", "run a single scenario by name (default: all)")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("LEEZR_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, *seed, *scenario, *asJSON); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger, seed int64, scenario string, asJSON bool) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("leezr-runtime starting", "version", version, "seed", seed)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	report, err := runScenarios(ctx, logger, seed, scenario)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	}
	if report.Failed() {
		return fmt.Errorf("%d of %d scenarios failed", countFailed(report), len(report.Results))
	}
	slog.Info("leezr-runtime done", "scenarios", len(report.Results))
	return nil
}

func runScenarios(ctx context.Context, logger *slog.Logger, seed int64, only string) (stress.Report, error) {
	if only == "" {
		return stress.RunAll(ctx, seed, logger), nil
	}

	for _, sc := range stress.Scenarios() {
		if sc.Name != only {
			continue
		}
		h, err := stress.NewHarness(seed, logger)
		if err != nil {
			return stress.Report{}, err
		}
		start := time.Now()
		runErr := sc.Run(ctx, h)
		res := stress.Result{Name: sc.Name, Passed: runErr == nil, Duration: time.Since(start)}
		if runErr != nil {
			res.Err = runErr.Error()
		}
		return stress.Report{Seed: seed, Results: []stress.Result{res}}, nil
	}
	return stress.Report{}, fmt.Errorf("unknown scenario %q", only)
}

func countFailed(r stress.Report) int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed {
			n++
		}
	}
	return n
}
