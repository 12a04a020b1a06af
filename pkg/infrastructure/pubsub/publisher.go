package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"github.com/cloudevents/sdk-go/v2/event"
)

// PubSubAdapter provides message publishing using Google Cloud Pub/Sub
type PubSubAdapter struct {
	Client *pubsub.Client
	Logger *slog.Logger
}

func (a *PubSubAdapter) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *PubSubAdapter) PublishCloudEvent(ctx context.Context, topicID string, e event.Event) (string, error) {
	bytes, err := json.Marshal(e)
	if err != nil {
		a.logger().Error("Failed to marshal CloudEvent", "topic", topicID, "error", err)
		return "", err
	}
	a.logger().Info("Publishing CloudEvent",
		"topic", topicID,
		"event_type", e.Type(),
		"event_id", e.ID(),
		"subject", e.Subject(),
		"size_bytes", len(bytes))

	attrs := map[string]string{"ce-type": e.Type()}
	if p, ok := e.Extensions()["provider"].(string); ok {
		attrs["provider"] = p
	}
	return a.publishWithAttrs(ctx, topicID, bytes, attrs)
}

func (a *PubSubAdapter) publishWithAttrs(ctx context.Context, topicID string, data []byte, attributes map[string]string) (string, error) {
	topic := a.Client.Topic(topicID)
	res := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})
	msgID, err := res.Get(ctx)
	if err != nil {
		a.logger().Error("Failed to publish message", "topic", topicID, "error", err)
		return "", err
	}
	a.logger().Debug("Message published", "topic", topicID, "message_id", msgID)
	return msgID, nil
}

// LogPublisher logs events instead of publishing them; used when ENABLE_PUBLISH is off.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) PublishCloudEvent(ctx context.Context, topicID string, e event.Event) (string, error) {
	bytes, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("MOCK PUBLISH", "topic", topicID, "event_type", e.Type(), "data", string(bytes))
	return "mock-" + e.ID(), nil
}
