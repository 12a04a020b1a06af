package stravawebhook

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/fitglue/workoutsync/pkg/bootstrap"
	"github.com/fitglue/workoutsync/pkg/webhook"
)

var (
	handler     http.Handler
	handlerOnce sync.Once
	handlerErr  error
)

func init() {
	functions.HTTP("StravaWebhook", StravaWebhook)
}

func initHandler(ctx context.Context) (http.Handler, error) {
	handlerOnce.Do(func() {
		svc, err := bootstrap.NewService(ctx, "strava-webhook")
		if err != nil {
			slog.Error("Failed to initialize service", "error", err)
			handlerErr = err
			return
		}
		handler = webhook.NewHandler(webhook.Config{
			Strava:      svc.Strava,
			Publisher:   svc.Pub,
			VerifyToken: svc.Config.StravaVerifyToken,
			Logger:      svc.Logger,
		})
	})
	return handler, handlerErr
}

// StravaWebhook answers the subscription challenge and receives push events.
func StravaWebhook(w http.ResponseWriter, r *http.Request) {
	h, err := initHandler(r.Context())
	if err != nil {
		http.Error(w, "service unavailable", http.StatusInternalServerError)
		return
	}
	h.ServeHTTP(w, r)
}
