package framework

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/fitglue/workoutsync/pkg/bootstrap"
	"github.com/fitglue/workoutsync/pkg/infrastructure/sentry"
	"github.com/fitglue/workoutsync/pkg/types"
)

// FrameworkContext contains dependencies injected by the framework
type FrameworkContext struct {
	Service     *bootstrap.Service
	Logger      *slog.Logger
	ExecutionID string
}

// HandlerFunc is the signature for a cloud function handler
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (interface{}, error)

// WrapCloudEvent wraps a handler with execution logging and error capture.
// A CloudEvent nested inside a Pub/Sub envelope is unwrapped before the handler sees it.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) error {
		if inner, ok := unwrapPubSub(e); ok {
			e = inner
		}

		triggerType := "pubsub"
		if e.Type() == "google.cloud.functions.http" {
			triggerType = "http"
		}

		base := slog.Default()
		if svc != nil && svc.Logger != nil {
			base = svc.Logger
		}
		execID := uuid.NewString()
		logger := base.With("service", serviceName, "execution_id", execID, "trigger", triggerType)
		if userID := extractUserID(e); userID != "" {
			logger = logger.With("user_id", userID)
		}

		defer sentry.RecoverAndCapture(logger)

		logger.Info("Function started", "event_id", e.ID(), "event_type", e.Type())
		started := time.Now()

		fwCtx := &FrameworkContext{
			Service:     svc,
			Logger:      logger,
			ExecutionID: execID,
		}
		outputs, err := handler(ctx, e, fwCtx)
		elapsed := time.Since(started)

		if err != nil {
			logger.Error("Function failed", "error", err, "duration_ms", elapsed.Milliseconds())
			sentry.CaptureException(err, map[string]string{
				"service":      serviceName,
				"execution_id": execID,
			}, map[string]interface{}{"outputs": outputs}, logger)
			return err
		}

		logger.Info("Function completed successfully", "duration_ms", elapsed.Milliseconds(), "outputs", outputs)
		return nil
	}
}

// DecodePayload decodes the handler payload into v. It accepts both a Pub/Sub
// envelope carrying raw JSON and a CloudEvent whose data is the payload itself.
func DecodePayload(e event.Event, v interface{}) error {
	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err == nil && len(msg.Message.Data) > 0 {
		return json.Unmarshal(msg.Message.Data, v)
	}
	if len(e.Data()) == 0 {
		return errors.New("event has no data")
	}
	return e.DataAs(v)
}

func unwrapPubSub(e event.Event) (event.Event, bool) {
	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err != nil || len(msg.Message.Data) == 0 {
		return e, false
	}
	var inner event.Event
	if err := json.Unmarshal(msg.Message.Data, &inner); err != nil {
		return e, false
	}
	if inner.ID() == "" || inner.Type() == "" || inner.Validate() != nil {
		return e, false
	}
	return inner, true
}

// extractUserID looks for user_id in the payload for log correlation only.
func extractUserID(e event.Event) string {
	var payload map[string]interface{}
	if err := DecodePayload(e, &payload); err != nil {
		return ""
	}
	for _, k := range []string{"user_id", "userId"} {
		if uid, ok := payload[k].(string); ok && uid != "" {
			return uid
		}
	}
	return ""
}
