// Package webhook receives Strava push subscription events and turns them into
// workout events.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/domain/activity"
	"github.com/fitglue/workoutsync/pkg/infrastructure/pubsub"
	"github.com/fitglue/workoutsync/pkg/infrastructure/sentry"
	"github.com/fitglue/workoutsync/pkg/integrations"
	"github.com/fitglue/workoutsync/pkg/types"
)

const (
	ObjectActivity = "activity"
	ObjectAthlete  = "athlete"

	AspectCreate = "create"
	AspectUpdate = "update"
	AspectDelete = "delete"

	maxEventSize = 64 << 10
)

// Strava is what the handler needs from the Strava adapter.
type Strava interface {
	integrations.ActivityFetcher
	OwnerOf(ctx context.Context, athleteID string) (string, error)
	Disconnect(ctx context.Context, userID string) error
}

type Event struct {
	ObjectType     string                 `json:"object_type"`
	ObjectID       int64                  `json:"object_id"`
	AspectType     string                 `json:"aspect_type"`
	OwnerID        int64                  `json:"owner_id"`
	SubscriptionID int64                  `json:"subscription_id"`
	EventTime      int64                  `json:"event_time"`
	Updates        map[string]interface{} `json:"updates"`
}

func (e Event) deauthorized() bool {
	v, ok := e.Updates["authorized"]
	return ok && fmt.Sprint(v) == "false"
}

type Config struct {
	Strava      Strava
	Publisher   shared.Publisher
	VerifyToken string
	// Source is the CloudEvent source of published workout events.
	Source string
	Logger *slog.Logger
}

type Handler struct {
	cfg    Config
	logger *slog.Logger
	router chi.Router
}

func NewHandler(cfg Config) *Handler {
	if cfg.Source == "" {
		cfg.Source = "/webhooks/strava"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{cfg: cfg, logger: logger.With("component", "strava-webhook")}

	r := chi.NewRouter()
	r.Get("/", h.handleChallenge)
	r.Post("/", h.handleEvent)
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.cfg.VerifyToken == "" || q.Get("hub.verify_token") != h.cfg.VerifyToken {
		h.logger.Warn("Rejected subscription challenge", "mode", q.Get("hub.mode"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": q.Get("hub.challenge")})
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventSize)).Decode(&ev); err != nil {
		h.logger.Warn("Undecodable webhook event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Strava retries anything but a 200, so processing failures are only logged.
	if err := h.Process(r.Context(), ev); err != nil {
		h.logger.Error("Webhook event not processed",
			"object_type", ev.ObjectType,
			"aspect_type", ev.AspectType,
			"object_id", ev.ObjectID,
			"owner_id", ev.OwnerID,
			"error", err,
		)
	}
	w.WriteHeader(http.StatusOK)
}

// Process applies one event. Events for unknown athletes are ignored.
func (h *Handler) Process(ctx context.Context, ev Event) error {
	athleteID := strconv.FormatInt(ev.OwnerID, 10)
	userID, err := h.cfg.Strava.OwnerOf(ctx, athleteID)
	if errors.Is(err, shared.ErrCredentialNotFound) {
		h.logger.Info("Ignoring event for unlinked athlete", "owner_id", ev.OwnerID, "object_type", ev.ObjectType)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve athlete %s: %w", athleteID, err)
	}
	logger := h.logger.With("user_id", userID, "object_id", ev.ObjectID)

	switch {
	case ev.ObjectType == ObjectAthlete && ev.deauthorized():
		logger.Info("Athlete revoked access")
		return h.cfg.Strava.Disconnect(ctx, userID)

	case ev.ObjectType == ObjectActivity && (ev.AspectType == AspectCreate || ev.AspectType == AspectUpdate):
		activityID := strconv.FormatInt(ev.ObjectID, 10)
		w, ok := h.cfg.Strava.FetchActivity(ctx, userID, activityID, func(status int, body []byte, message string) {
			logger.Warn("Activity fetch failed", "status", status, "message", message)
			sentry.CaptureVendorFailure(types.ProviderStrava.String(), status, body, message, logger)
		})
		if !ok {
			return fmt.Errorf("fetch activity %s failed", activityID)
		}
		return h.publish(ctx, types.WorkoutEvent{
			UserID:     userID,
			Provider:   types.ProviderStrava,
			Action:     types.WorkoutUpserted,
			ExternalID: w.ExternalID,
			Workout:    w,
		})

	case ev.ObjectType == ObjectActivity && ev.AspectType == AspectDelete:
		return h.publish(ctx, types.WorkoutEvent{
			UserID:     userID,
			Provider:   types.ProviderStrava,
			Action:     types.WorkoutDeleted,
			ExternalID: activity.ExternalID(types.ProviderStrava, strconv.FormatInt(ev.ObjectID, 10), time.Time{}, 0),
		})
	}

	logger.Debug("Ignoring webhook event", "object_type", ev.ObjectType, "aspect_type", ev.AspectType)
	return nil
}

func (h *Handler) publish(ctx context.Context, we types.WorkoutEvent) error {
	e, err := pubsub.NewWorkoutEvent(h.cfg.Source, we)
	if err != nil {
		return err
	}
	if _, err := h.cfg.Publisher.PublishCloudEvent(ctx, shared.TopicWorkoutsNormalized, e); err != nil {
		return fmt.Errorf("publish %s: %w", we.ExternalID, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
