package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/repository"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
)

type comparison struct {
	Algorithm     models.Algorithm
	Status        models.GenerationStatus
	Assignments   int
	Sessions      int
	HardConflicts int
	Conflicts     int
	Overall       float64
	Compliance    float64
	Termination   models.TerminationReason
	Duration      time.Duration
	Error         error
}

// Failed reports a run that left hard conflicts or could not start.
func (c comparison) Failed() bool {
	return c.Error != nil || c.HardConflicts > 0
}

func main() {
	var (
		snapshotPath string
		only         string
		timeLimit    time.Duration
		parallel     int
	)

	flag.StringVar(&snapshotPath, "snapshot", filepath.Join("snapshots", "grade-10.yaml"), "Path to a YAML or JSON snapshot file")
	flag.StringVar(&only, "algorithms", "", "Comma separated subset of algorithms (default: all)")
	flag.DurationVar(&timeLimit, "time-limit", 10*time.Second, "Per-algorithm time limit")
	flag.IntVar(&parallel, "parallel", 1, "Algorithms run concurrently")
	flag.Parse()

	snapshot, err := repository.LoadSnapshotFile(snapshotPath)
	if err != nil {
		log.Fatalf("failed to load snapshot: %v", err)
	}

	algorithms, err := selectAlgorithms(only)
	if err != nil {
		log.Fatalf("invalid algorithms: %v", err)
	}

	results := compareAll(context.Background(), snapshot, algorithms, timeLimit, parallel)
	printReport(os.Stdout, snapshot, results)

	failed := 0
	for _, res := range results {
		if res.Failed() {
			failed++
		}
	}
	fmt.Printf("Algorithms with hard conflicts or errors: %d of %d\n", failed, len(results))
	if failed == len(results) {
		os.Exit(1)
	}
}

func selectAlgorithms(raw string) ([]models.Algorithm, error) {
	if strings.TrimSpace(raw) == "" {
		return models.Algorithms, nil
	}
	known := make(map[models.Algorithm]struct{}, len(models.Algorithms))
	for _, a := range models.Algorithms {
		known[a] = struct{}{}
	}
	var selected []models.Algorithm
	for _, part := range strings.Split(raw, ",") {
		algorithm := models.Algorithm(strings.TrimSpace(part))
		if _, ok := known[algorithm]; !ok {
			return nil, fmt.Errorf("unknown algorithm %q", algorithm)
		}
		selected = append(selected, algorithm)
	}
	return selected, nil
}

// compareAll runs every algorithm against its own copy of the snapshot settings.
func compareAll(ctx context.Context, snapshot *models.Snapshot, algorithms []models.Algorithm, timeLimit time.Duration, parallel int) []comparison {
	if parallel <= 0 {
		parallel = 1
	}
	results := make([]comparison, len(algorithms))
	engine := scheduler.NewEngine()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, algorithm := range algorithms {
		g.Go(func() error {
			results[i] = compareAlgorithm(gctx, engine, snapshot, algorithm, timeLimit)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func compareAlgorithm(ctx context.Context, engine *scheduler.Engine, snapshot *models.Snapshot, algorithm models.Algorithm, timeLimit time.Duration) comparison {
	run := *snapshot
	run.Settings.Algorithm = algorithm
	if timeLimit > 0 {
		run.Settings.TimeLimitMs = timeLimit.Milliseconds()
	}

	comp := comparison{Algorithm: algorithm, Sessions: run.SessionCount()}
	if _, err := engine.ValidateInput(&run); err != nil {
		comp.Error = err
		return comp
	}

	start := time.Now()
	result := engine.Generate(ctx, &run, scheduler.NopReporter)
	comp.Duration = time.Since(start)
	comp.Status = result.Status
	comp.Assignments = len(result.Schedule)
	comp.Conflicts = len(result.Conflicts)
	for _, c := range result.Conflicts {
		if c.IsHard() {
			comp.HardConflicts++
		}
	}
	comp.Overall = result.Quality.OverallScore
	comp.Compliance = result.Quality.ConstraintCompliance
	comp.Termination = result.Metrics.Termination
	return comp
}

func printReport(w io.Writer, snapshot *models.Snapshot, results []comparison) {
	fmt.Fprintln(w, "Algorithm Compare Report")
	fmt.Fprintln(w, "========================")
	fmt.Fprintf(w, "Timetable: %s | Sessions: %d | Teachers: %d | Rooms: %d\n",
		snapshot.TimetableID, snapshot.SessionCount(), len(snapshot.Teachers), len(snapshot.Classrooms))
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if res.HardConflicts > 0 {
			status = "HARD"
		}
		fmt.Fprintf(w, "[%s] %s\n", status, res.Algorithm)
		if res.Error != nil {
			fmt.Fprintf(w, "  Error: %v\n", res.Error)
			continue
		}
		fmt.Fprintf(w, "  Result: %s | Placed: %d/%d | Termination: %s | Duration: %s\n",
			res.Status, res.Assignments, res.Sessions, res.Termination, res.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "  Conflicts: %d (hard %d) | Overall: %.1f | Compliance: %.1f\n",
			res.Conflicts, res.HardConflicts, res.Overall, res.Compliance)
	}
}
