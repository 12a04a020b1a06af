package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/bootstrap"
	"github.com/fitglue/workoutsync/pkg/domain/file_generators"
	"github.com/fitglue/workoutsync/pkg/infrastructure/pubsub"
	"github.com/fitglue/workoutsync/pkg/types"
)

const source = "/cmd/workout-fetch"

type options struct {
	Provider types.Provider
	UserID   string
	From     time.Time
	To       time.Time
	FitDir   string
	Enqueue  bool
}

func main() {
	provider := flag.String("provider", "", "strava, huawei or polar")
	userID := flag.String("user", "", "User id whose credentials to use")
	from := flag.String("from", "", "Start date (YYYY-MM-DD), default 7 days before -to")
	to := flag.String("to", "", "End date (YYYY-MM-DD, inclusive), default today")
	fitDir := flag.String("fit-dir", "", "Also write each workout as a FIT file into this directory")
	enqueue := flag.Bool("enqueue", false, "Publish a sync request instead of fetching inline")
	flag.Parse()

	if *provider == "" || *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	start, end, err := parseRange(*from, *to, time.Now())
	if err != nil {
		log.Fatalf("Invalid date range: %v", err)
	}

	ctx := context.Background()
	svc, err := bootstrap.NewService(ctx, "workout-fetch")
	if err != nil {
		log.Fatalf("Failed to initialize service: %v", err)
	}
	defer svc.Close()

	opts := options{
		Provider: types.Provider(*provider),
		UserID:   *userID,
		From:     start,
		To:       end,
		FitDir:   *fitDir,
		Enqueue:  *enqueue,
	}
	if err := run(ctx, svc, opts, os.Stdout); err != nil {
		log.Fatalf("workout-fetch failed: %v", err)
	}
}

func parseRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	end := now.UTC()
	if to != "" {
		d, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("-to: %w", err)
		}
		end = d.Add(24*time.Hour - time.Second)
	}
	start := end.AddDate(0, 0, -7)
	if from != "" {
		d, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("-from: %w", err)
		}
		start = d
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("-from must be before -to")
	}
	return start, end, nil
}

func run(ctx context.Context, svc *bootstrap.Service, opts options, out io.Writer) error {
	if opts.Enqueue {
		return enqueue(ctx, svc, opts, out)
	}

	adapter, ok := svc.Registry.Get(opts.Provider)
	if !ok {
		return fmt.Errorf("unknown provider %q", opts.Provider)
	}
	if !adapter.IsConnected(ctx, opts.UserID) {
		return fmt.Errorf("user %s has no %s connection", opts.UserID, opts.Provider)
	}

	workouts := adapter.FetchWorkouts(ctx, opts.UserID, opts.From, opts.To)

	if opts.FitDir != "" {
		if err := writeFitFiles(opts.FitDir, workouts); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(workouts)
}

func enqueue(ctx context.Context, svc *bootstrap.Service, opts options, out io.Writer) error {
	req := types.SyncRequest{
		UserID:    opts.UserID,
		Provider:  opts.Provider,
		StartDate: opts.From.Format(time.DateOnly),
		EndDate:   opts.To.Format(time.DateOnly),
	}
	ev, err := pubsub.NewCloudEvent(source, shared.EventTypeSyncRequested, req)
	if err != nil {
		return err
	}
	id, err := svc.Pub.PublishCloudEvent(ctx, shared.TopicWorkoutSync, ev)
	if err != nil {
		return fmt.Errorf("publish sync request: %w", err)
	}
	fmt.Fprintf(out, "Enqueued sync request %s for %s/%s (%s to %s)\n", id, opts.Provider, opts.UserID, req.StartDate, req.EndDate)
	return nil
}

func writeFitFiles(dir string, workouts []types.NormalizedWorkout) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, w := range workouts {
		data, err := file_generators.GenerateFitFile(w)
		if err != nil {
			return fmt.Errorf("generate FIT for %s: %w", w.ExternalID, err)
		}
		if err := os.WriteFile(filepath.Join(dir, w.ExternalID+".fit"), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
