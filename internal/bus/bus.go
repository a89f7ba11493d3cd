// Package bus publishes model lifecycle events to in-process or Kafka subscribers.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type, equal to the topic it was published on.
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created (unix millis).
	Timestamp int64 `json:"timestamp"`

	// CorrelationID links events of one training run.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// Topics for model lifecycle events.
const (
	TopicModelTrained    = "nlu.model.trained"
	TopicTrainingFailed  = "nlu.training.failed"
	TopicModelLoaded     = "nlu.model.loaded"
	TopicArtifactCorrupt = "nlu.artifact.corrupt"
)

// NewEvent builds an event with a fresh ID and the current timestamp.
func NewEvent(topic, source string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      topic,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// ModelTrained is the payload of TopicModelTrained.
type ModelTrained struct {
	ModelPath  string   `json:"model_path"`
	DataPath   string   `json:"data_path"`
	Examples   int      `json:"examples"`
	Intents    []string `json:"intents"`
	Digest     string   `json:"digest"`
	DurationMs int64    `json:"duration_ms"`
}

// TrainingFailed is the payload of TopicTrainingFailed.
type TrainingFailed struct {
	ModelPath string `json:"model_path"`
	DataPath  string `json:"data_path"`
	Stage     string `json:"stage"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// ModelLoaded is the payload of TopicModelLoaded.
type ModelLoaded struct {
	ModelPath string `json:"model_path"`
	Digest    string `json:"digest"`
}

// ArtifactCorrupt is the payload of TopicArtifactCorrupt.
type ArtifactCorrupt struct {
	ModelPath string `json:"model_path"`
	Error     string `json:"error"`
}

// DecodePayload converts an event payload into v. Events that crossed Kafka
// carry generic JSON maps, in-process events carry the original struct.
func DecodePayload(event Event, v any) error {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
