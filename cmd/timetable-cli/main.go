package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/repository"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	"github.com/noah-isme/sma-timetable-engine/pkg/config"
	"github.com/noah-isme/sma-timetable-engine/pkg/logger"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
)

type options struct {
	snapshotPath string
	algorithm    string
	format       string
	timeLimit    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.snapshotPath, "snapshot", "", "path to a YAML or JSON snapshot file")
	flag.StringVar(&opts.algorithm, "algorithm", "", "override the snapshot algorithm (greedy, csp, backtracking, genetic, simulated_annealing, hybrid)")
	flag.StringVar(&opts.format, "format", "json", "output format: json or csv")
	flag.DurationVar(&opts.timeLimit, "time-limit", 0, "override the snapshot time limit")
	flag.Parse()

	if opts.snapshotPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	status, err := run(ctx, opts, os.Stdout, logr)
	if err != nil {
		logr.Fatal("generation failed", zap.Error(err))
	}
	if status != models.RunStatusCompleted {
		logr.Warn("generation did not complete", zap.String("status", string(status)))
		os.Exit(1)
	}
}

// run generates a timetable for one snapshot file and writes it to out.
func run(ctx context.Context, opts options, out io.Writer, logr *zap.Logger) (models.RunStatus, error) {
	snapshot, err := repository.LoadSnapshotFile(opts.snapshotPath)
	if err != nil {
		return "", err
	}
	if opts.algorithm != "" {
		snapshot.Settings.Algorithm = models.Algorithm(opts.algorithm)
	}
	if opts.timeLimit > 0 {
		snapshot.Settings.TimeLimitMs = opts.timeLimit.Milliseconds()
	}
	if opts.format != formatJSON && opts.format != formatCSV {
		return "", fmt.Errorf("unsupported format %q", opts.format)
	}

	engine := scheduler.NewEngine()
	settings, err := engine.ValidateInput(snapshot)
	if err != nil {
		return "", err
	}

	runLog := logger.WithRun(logr, "cli", snapshot.TimetableID, string(settings.Algorithm))
	runLog.Info("generation started", zap.Int("sessions", snapshot.SessionCount()))

	result := engine.Generate(ctx, snapshot, scheduler.ProgressFunc(func(p scheduler.Progress) {
		runLog.Debug("generation progress",
			zap.Float64("percentage", p.Percentage),
			zap.String("step", p.Step),
			zap.Int("generation", p.Generation),
			zap.Float64("fitness", p.Fitness),
		)
	}))
	result.TimetableID = snapshot.TimetableID

	runLog.Info("generation finished",
		zap.String("status", string(result.Status)),
		zap.Int("assignments", len(result.Schedule)),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Float64("overall_score", result.Quality.OverallScore),
		zap.Duration("duration", result.Metrics.Duration),
	)

	if err := write(out, result, opts.format); err != nil {
		return "", err
	}
	return service.RunStatusFor(result), nil
}

func write(out io.Writer, result *models.GenerationResult, format string) error {
	if format == formatCSV {
		file, err := service.NewExportService(nil, nil, nil, nil).Render(result, service.ExportFormatCSV)
		if err != nil {
			return err
		}
		_, err = out.Write(file.Body)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
