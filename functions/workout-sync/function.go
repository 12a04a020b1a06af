package workoutsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/bootstrap"
	"github.com/fitglue/workoutsync/pkg/framework"
	infrapubsub "github.com/fitglue/workoutsync/pkg/infrastructure/pubsub"
	"github.com/fitglue/workoutsync/pkg/types"
)

const (
	serviceName = "workout-sync"
	source      = "/functions/workout-sync"

	// DefaultWindow is the look-back used when a request has no start date.
	DefaultWindow = 30 * 24 * time.Hour
)

var (
	svc     *bootstrap.Service
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.CloudEvent("SyncWorkouts", SyncWorkouts)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	svcOnce.Do(func() {
		svc, svcErr = bootstrap.NewService(ctx, serviceName)
		if svcErr != nil {
			slog.Error("Failed to initialize service", "error", svcErr)
		}
	})
	return svc, svcErr
}

// SyncWorkouts is the entry point
func SyncWorkouts(ctx context.Context, e cloudevents.Event) error {
	svc, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init failed: %w", err)
	}
	return framework.WrapCloudEvent(serviceName, svc, syncHandler)(ctx, e)
}

func syncHandler(ctx context.Context, e cloudevents.Event, fwCtx *framework.FrameworkContext) (interface{}, error) {
	var req types.SyncRequest
	if err := framework.DecodePayload(e, &req); err != nil {
		return nil, fmt.Errorf("decode sync request: %w", err)
	}
	if req.UserID == "" {
		return nil, errors.New("sync request without user_id")
	}

	adapter, ok := fwCtx.Service.Registry.Get(req.Provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", req.Provider)
	}

	start, end, err := window(req, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	logger := fwCtx.Logger.With("provider", req.Provider, "user_id", req.UserID)

	if !adapter.IsConnected(ctx, req.UserID) {
		logger.Info("User is not connected, nothing to sync")
		return map[string]interface{}{"status": "not_connected"}, nil
	}

	workouts := adapter.FetchWorkouts(ctx, req.UserID, start, end)
	logger.Info("Fetched workouts", "count", len(workouts), "start", start, "end", end)

	published, failed := 0, 0
	for i := range workouts {
		w := &workouts[i]
		ev, err := infrapubsub.NewWorkoutEvent(source, types.WorkoutEvent{
			UserID:     req.UserID,
			Provider:   req.Provider,
			Action:     types.WorkoutUpserted,
			ExternalID: w.ExternalID,
			Workout:    w,
		})
		if err == nil {
			_, err = fwCtx.Service.Pub.PublishCloudEvent(ctx, shared.TopicWorkoutsNormalized, ev)
		}
		if err != nil {
			failed++
			logger.Warn("Failed to publish workout", "external_id", w.ExternalID, "error", err)
			continue
		}
		published++
	}

	outputs := map[string]interface{}{
		"status":    "success",
		"fetched":   len(workouts),
		"published": published,
		"failed":    failed,
	}
	if failed > 0 {
		// Redelivery is safe: consumers deduplicate on external_id.
		return outputs, fmt.Errorf("%d of %d workouts not published", failed, len(workouts))
	}
	return outputs, nil
}

// window resolves the request dates. Date-only end dates include the whole day.
func window(req types.SyncRequest, now time.Time) (time.Time, time.Time, error) {
	end := now
	if req.EndDate != "" {
		t, dateOnly, err := parseDate(req.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end_date: %w", err)
		}
		end = t
		if dateOnly {
			end = t.Add(24*time.Hour - time.Second)
		}
	}

	start := end.Add(-DefaultWindow)
	if req.StartDate != "" {
		t, _, err := parseDate(req.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start_date: %w", err)
		}
		start = t
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

func parseDate(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	return t.UTC(), false, nil
}
