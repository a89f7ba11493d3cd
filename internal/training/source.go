package training

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
	"github.com/ricesearch/rice-nlu/internal/pkg/security"
)

// Example is one labeled training utterance.
type Example struct {
	Query  string `json:"query"`
	Intent string `json:"intent"`
}

// Source loads training examples.
type Source interface {
	Load(ctx context.Context, path string) ([]Example, error)
}

// FileSource reads a JSON training data file from disk.
type FileSource struct{}

// Load reads and validates the examples in the file at path.
func (FileSource) Load(ctx context.Context, path string) ([]Example, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.TrainingDataError("training data load cancelled", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.TrainingDataError("failed to read training data", err).
			WithDetail("path", path)
	}

	if err := security.ValidateContent(data, security.MaxTrainingDataSize); err != nil {
		return nil, errors.TrainingDataError("training data rejected", err).
			WithDetail("path", path)
	}

	examples, err := Decode(data)
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok {
			return nil, appErr.WithDetail("path", path)
		}
		return nil, err
	}
	return examples, nil
}

// Decode parses a JSON array of {"query", "intent"} objects. Every entry must
// carry both fields as non-blank strings and nothing else.
func Decode(data []byte) ([]Example, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.TrainingDataError("training data must be a JSON array", err)
	}
	if len(raw) == 0 {
		return nil, errors.TrainingDataError("training data contains no examples", nil)
	}

	examples := make([]Example, 0, len(raw))
	for i, entry := range raw {
		index := strconv.Itoa(i)

		trimmed := bytes.TrimSpace(entry)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, errors.TrainingDataError("example "+index+" is not an object", nil).
				WithDetail("index", index)
		}

		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()

		var ex Example
		if err := dec.Decode(&ex); err != nil {
			return nil, errors.TrainingDataError("example "+index+" is malformed", err).
				WithDetail("index", index)
		}
		if strings.TrimSpace(ex.Query) == "" {
			return nil, errors.TrainingDataError("example "+index+" has an empty query", nil).
				WithDetail("index", index)
		}
		if strings.TrimSpace(ex.Intent) == "" {
			return nil, errors.TrainingDataError("example "+index+" has an empty intent", nil).
				WithDetail("index", index).
				WithDetail("query", security.SanitizeForLogWithLength(ex.Query, 80))
		}

		examples = append(examples, ex)
	}

	return examples, nil
}

// Intents returns the distinct intents of examples in sorted order.
func Intents(examples []Example) []string {
	seen := make(map[string]struct{}, len(examples))
	intents := make([]string, 0)
	for _, ex := range examples {
		if _, ok := seen[ex.Intent]; ok {
			continue
		}
		seen[ex.Intent] = struct{}{}
		intents = append(intents, ex.Intent)
	}
	sort.Strings(intents)
	return intents
}
