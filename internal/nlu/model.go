// Package nlu provides the intent-classification model capability consumed by
// the trainer and loader, together with its default implementation.
package nlu

import (
	"context"

	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
)

// NoneIntent is reported when an utterance shares no token with the model.
const NoneIntent = "None"

var (
	// ErrNotTrained is returned when a model is queried or exported before training.
	ErrNotTrained = errors.New(errors.CodeValidation, "model is not trained")

	// ErrNoDocuments is returned when training is attempted without documents.
	ErrNoDocuments = errors.New(errors.CodeValidation, "no documents registered")
)

// Model is a trainable, serializable intent classifier.
type Model interface {
	// Configure fixes the language set and entity recognition mode.
	// The first language is the default one.
	Configure(languages []string, strictEntities bool) error

	// AddDocument registers a training utterance for intent.
	AddDocument(language, utterance, intent string) error

	// Train builds classification state from the registered documents.
	Train(ctx context.Context) error

	// Export serializes the trained state.
	Export() ([]byte, error)

	// Import replaces the model state with a previously exported one.
	Import(data []byte) error

	// Process classifies an utterance. An empty language selects the default.
	Process(ctx context.Context, language, utterance string) (*Result, error)
}

// Factory creates a fresh, unconfigured Model.
type Factory func() Model

// DefaultFactory builds Manager instances.
func DefaultFactory() Model {
	return NewManager()
}

// Result is the outcome of classifying one utterance.
type Result struct {
	Language        string           `json:"language"`
	Utterance       string           `json:"utterance"`
	Intent          string           `json:"intent"`
	Score           float64          `json:"score"`
	Classifications []Classification `json:"classifications"`
	Entities        []Entity         `json:"entities,omitempty"`
}

// Classification is the probability assigned to one intent.
type Classification struct {
	Intent string  `json:"intent"`
	Score  float64 `json:"score"`
}

// Entity is a built-in entity found in an utterance. Start and End are byte
// offsets into the original utterance.
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}
