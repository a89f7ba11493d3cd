// Package training builds intent models from labeled examples and persists
// their artifacts.
package training

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ricesearch/rice-nlu/internal/artifact"
	"github.com/ricesearch/rice-nlu/internal/bus"
	"github.com/ricesearch/rice-nlu/internal/history"
	"github.com/ricesearch/rice-nlu/internal/nlu"
	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
	"github.com/ricesearch/rice-nlu/internal/pkg/hash"
	"github.com/ricesearch/rice-nlu/internal/pkg/logger"
)

// Stage is the progress of a single Train invocation.
type Stage string

const (
	StageIdle                Stage = "idle"
	StageDataLoaded          Stage = "data_loaded"
	StageDocumentsRegistered Stage = "documents_registered"
	StageTrained             Stage = "trained"
	StagePersisted           Stage = "persisted"
	StageDone                Stage = "done"
	StageFailed              Stage = "failed"
)

// Recorder journals finished training runs.
type Recorder interface {
	Record(ctx context.Context, run history.Run) error
}

// Trainer turns a training data file into a persisted model artifact.
// It holds no locks; callers serialize runs that target the same artifact.
type Trainer struct {
	store     artifact.Store
	source    Source
	factory   nlu.Factory
	languages []string
	strict    bool
	log       *logger.Logger
	recorder  Recorder
	bus       bus.Bus
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithSource replaces the file-based example source.
func WithSource(s Source) Option {
	return func(t *Trainer) { t.source = s }
}

// WithFactory sets the constructor for fresh models.
func WithFactory(f nlu.Factory) Option {
	return func(t *Trainer) { t.factory = f }
}

// WithLanguages sets the model language set. The first entry is the language
// every example is registered under.
func WithLanguages(languages ...string) Option {
	return func(t *Trainer) { t.languages = languages }
}

// WithStrictEntities toggles forced built-in entity recognition.
func WithStrictEntities(strict bool) Option {
	return func(t *Trainer) { t.strict = strict }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(t *Trainer) { t.log = l }
}

// WithRecorder journals every run.
func WithRecorder(r Recorder) Option {
	return func(t *Trainer) { t.recorder = r }
}

// WithBus publishes lifecycle events.
func WithBus(b bus.Bus) Option {
	return func(t *Trainer) { t.bus = b }
}

// NewTrainer creates a trainer that persists artifacts to store.
func NewTrainer(store artifact.Store, opts ...Option) *Trainer {
	t := &Trainer{
		store:     store,
		source:    FileSource{},
		factory:   nlu.DefaultFactory,
		languages: []string{"en"},
		strict:    true,
		log:       logger.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.WithComponent("trainer").WithModel(store.Location())
	return t
}

// Train loads the examples at dataPath, trains a fresh model, persists its
// artifact, and returns it. Data problems are TRAINING_DATA_ERROR; any later
// failure is TRAINING_FAILURE. The artifact is written only after training
// succeeded.
func (t *Trainer) Train(ctx context.Context, dataPath string) (nlu.Model, error) {
	start := time.Now()
	run := history.Run{
		ID:        uuid.NewString(),
		ModelPath: t.store.Location(),
		DataPath:  dataPath,
		Stage:     string(StageIdle),
		TrainedAt: start,
	}
	ctx = logger.ContextWithRunID(ctx, run.ID)
	log := t.log.WithContext(ctx)

	log.Info("Training new model...", "data", dataPath)

	model, digest, err := t.run(ctx, log, dataPath, &run)
	run.Duration = time.Since(start)

	if err != nil {
		reached := run.Stage
		run.Stage = string(StageFailed)
		run.Error = err.Error()
		log.Error("Training failed", "stage", reached, "code", errors.Code(err), "error", err)

		t.record(ctx, log, run)
		t.publish(ctx, log, run.ID, bus.TopicTrainingFailed, bus.TrainingFailed{
			ModelPath: run.ModelPath,
			DataPath:  dataPath,
			Stage:     reached,
			Code:      errors.Code(err),
			Error:     err.Error(),
		})
		return nil, err
	}

	run.Stage = string(StageDone)
	run.Digest = digest
	log.Info("Model trained and saved successfully.",
		"examples", run.Examples,
		"intents", len(run.Intents),
		"digest", digest,
		"duration", run.Duration,
	)

	t.record(ctx, log, run)
	t.publish(ctx, log, run.ID, bus.TopicModelTrained, bus.ModelTrained{
		ModelPath:  run.ModelPath,
		DataPath:   dataPath,
		Examples:   run.Examples,
		Intents:    run.Intents,
		Digest:     digest,
		DurationMs: run.Duration.Milliseconds(),
	})
	return model, nil
}

// run executes the stages in order, advancing run.Stage as each completes.
func (t *Trainer) run(ctx context.Context, log *logger.Logger, dataPath string, run *history.Run) (nlu.Model, string, error) {
	examples, err := t.source.Load(ctx, dataPath)
	if err != nil {
		if errors.HasCode(err, errors.CodeTrainingData) {
			return nil, "", err
		}
		return nil, "", errors.TrainingDataError("failed to load training data", err).
			WithDetail("path", dataPath)
	}
	run.Stage = string(StageDataLoaded)
	run.Examples = len(examples)
	run.Intents = Intents(examples)
	log.Debug("Training data loaded", "examples", len(examples), "intents", len(run.Intents))

	if len(t.languages) == 0 {
		return nil, "", errors.TrainingFailure("no model language configured", nil)
	}
	model := t.factory()
	if err := model.Configure(t.languages, t.strict); err != nil {
		return nil, "", errors.TrainingFailure("failed to configure model", err)
	}
	language := t.languages[0]
	for i, ex := range examples {
		if err := model.AddDocument(language, ex.Query, ex.Intent); err != nil {
			return nil, "", errors.TrainingFailure(fmt.Sprintf("failed to register example %d", i), err)
		}
	}
	run.Stage = string(StageDocumentsRegistered)

	if err := model.Train(ctx); err != nil {
		return nil, "", errors.TrainingFailure("model training failed", err)
	}
	run.Stage = string(StageTrained)

	data, err := model.Export()
	if err != nil {
		return nil, "", errors.TrainingFailure("failed to export model", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", errors.TrainingFailure("training cancelled before persistence", err)
	}
	if err := t.store.Write(ctx, data); err != nil {
		return nil, "", errors.TrainingFailure("failed to persist model", err).
			WithDetail("location", t.store.Location())
	}
	run.Stage = string(StagePersisted)

	return model, hash.Digest(data), nil
}

// record and publish never fail a run; they outlive a cancelled caller.
func (t *Trainer) record(ctx context.Context, log *logger.Logger, run history.Run) {
	if t.recorder == nil {
		return
	}
	if err := t.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("Failed to record training run", "error", err)
	}
}

func (t *Trainer) publish(ctx context.Context, log *logger.Logger, runID, topic string, payload any) {
	if t.bus == nil {
		return
	}
	event := bus.NewEvent(topic, "trainer", payload)
	event.CorrelationID = runID
	if err := t.bus.Publish(context.WithoutCancel(ctx), topic, event); err != nil {
		log.Warn("Failed to publish training event", "topic", topic, "error", err)
	}
}
