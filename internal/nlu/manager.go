package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
)

// exportVersion is bumped whenever the artifact layout changes.
const exportVersion = 1

// Settings are the construction parameters persisted with every artifact.
type Settings struct {
	Languages      []string `json:"languages"`
	StrictEntities bool     `json:"strict_entities"`
}

// Document is a registered training utterance.
type Document struct {
	Language  string
	Utterance string
	Intent    string
}

// Manager is the default Model: a per-language naive Bayes intent classifier
// with built-in entity extraction.
type Manager struct {
	mu        sync.RWMutex
	settings  Settings
	documents []Document
	models    map[string]*languageModel
	trained   bool
}

// NewManager creates an unconfigured manager.
func NewManager() *Manager {
	return &Manager{}
}

// Configure implements Model.
func (m *Manager) Configure(languages []string, strictEntities bool) error {
	if len(languages) == 0 {
		return errors.ValidationError("at least one language is required")
	}
	langs := make([]string, 0, len(languages))
	for _, lang := range languages {
		lang = strings.TrimSpace(lang)
		if lang == "" {
			return errors.ValidationError("language must not be empty")
		}
		langs = append(langs, lang)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = Settings{Languages: langs, StrictEntities: strictEntities}
	m.documents = nil
	m.models = nil
	m.trained = false
	return nil
}

// Settings returns a copy of the current settings.
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Settings{
		Languages:      append([]string(nil), m.settings.Languages...),
		StrictEntities: m.settings.StrictEntities,
	}
}

// AddDocument implements Model.
func (m *Manager) AddDocument(language, utterance, intent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.supports(language) {
		return errors.ValidationError(fmt.Sprintf("language %q is not configured", language))
	}
	if strings.TrimSpace(utterance) == "" {
		return errors.ValidationError("utterance must not be empty")
	}
	if strings.TrimSpace(intent) == "" {
		return errors.ValidationError("intent must not be empty")
	}

	m.documents = append(m.documents, Document{Language: language, Utterance: utterance, Intent: intent})
	m.trained = false
	return nil
}

// Train implements Model.
func (m *Manager) Train(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.documents) == 0 {
		return ErrNoDocuments
	}

	models := make(map[string]*languageModel)
	for _, doc := range m.documents {
		if err := ctx.Err(); err != nil {
			return err
		}
		lm, ok := models[doc.Language]
		if !ok {
			lm = newLanguageModel()
			models[doc.Language] = lm
		}
		lm.add(tokenize(doc.Utterance), doc.Intent)
	}
	for _, lm := range models {
		lm.seal()
	}

	m.models = models
	m.trained = true
	return nil
}

type exportDocument struct {
	Version   int                       `json:"version"`
	Settings  Settings                  `json:"settings"`
	Languages map[string]*languageModel `json:"languages"`
}

// Export implements Model.
func (m *Manager) Export() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return nil, ErrNotTrained
	}

	return json.Marshal(exportDocument{
		Version:   exportVersion,
		Settings:  m.settings,
		Languages: m.models,
	})
}

// Import implements Model. On error the manager is left unchanged.
func (m *Manager) Import(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("empty model data")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var doc exportDocument
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decoding model: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("decoding model: trailing data")
	}
	if doc.Version != exportVersion {
		return fmt.Errorf("unsupported model version %d", doc.Version)
	}
	if len(doc.Settings.Languages) == 0 {
		return fmt.Errorf("model has no languages")
	}
	if len(doc.Languages) == 0 {
		return fmt.Errorf("model has no trained languages")
	}

	configured := make(map[string]bool, len(doc.Settings.Languages))
	for _, lang := range doc.Settings.Languages {
		configured[lang] = true
	}
	for lang, lm := range doc.Languages {
		if !configured[lang] {
			return fmt.Errorf("trained language %q is not configured", lang)
		}
		if lm == nil {
			return fmt.Errorf("language %q has no model", lang)
		}
		if err := lm.validate(); err != nil {
			return fmt.Errorf("language %q: %w", lang, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = doc.Settings
	m.models = doc.Languages
	m.documents = nil
	m.trained = true
	return nil
}

// Process implements Model.
func (m *Manager) Process(ctx context.Context, language, utterance string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return nil, ErrNotTrained
	}
	if language == "" && len(m.settings.Languages) > 0 {
		language = m.settings.Languages[0]
	}
	if !m.supports(language) {
		return nil, errors.ValidationError(fmt.Sprintf("language %q is not configured", language))
	}

	result := &Result{
		Language:  language,
		Utterance: utterance,
		Intent:    NoneIntent,
		Score:     1,
	}

	if lm, ok := m.models[language]; ok {
		if classes := lm.classify(tokenize(utterance)); len(classes) > 0 {
			result.Classifications = classes
			result.Intent = classes[0].Intent
			result.Score = classes[0].Score
		}
	}
	if result.Classifications == nil {
		result.Classifications = []Classification{{Intent: NoneIntent, Score: 1}}
	}

	if m.settings.StrictEntities {
		result.Entities = extractEntities(utterance)
	}

	return result, nil
}

func (m *Manager) supports(language string) bool {
	for _, lang := range m.settings.Languages {
		if lang == language {
			return true
		}
	}
	return false
}
