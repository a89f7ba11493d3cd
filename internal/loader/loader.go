// Package loader returns a ready model, loading the persisted artifact when
// one exists and training a fresh model otherwise.
package loader

import (
	"context"

	"github.com/ricesearch/rice-nlu/internal/artifact"
	"github.com/ricesearch/rice-nlu/internal/bus"
	"github.com/ricesearch/rice-nlu/internal/nlu"
	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
	"github.com/ricesearch/rice-nlu/internal/pkg/hash"
	"github.com/ricesearch/rice-nlu/internal/pkg/logger"
)

// ModelTrainer builds and persists a model from a training data file.
type ModelTrainer interface {
	Train(ctx context.Context, dataPath string) (nlu.Model, error)
}

// Loader resolves the model for one artifact. It holds no locks; concurrent
// calls for the same artifact must be serialized by the caller.
type Loader struct {
	store   artifact.Store
	trainer ModelTrainer
	factory nlu.Factory
	log     *logger.Logger
	bus     bus.Bus
}

// Option configures a Loader.
type Option func(*Loader)

// WithFactory sets the constructor used to rebuild models from artifacts.
func WithFactory(f nlu.Factory) Option {
	return func(l *Loader) { l.factory = f }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// WithBus publishes load and corruption events.
func WithBus(b bus.Bus) Option {
	return func(l *Loader) { l.bus = b }
}

// New creates a loader for the artifact in store.
func New(store artifact.Store, trainer ModelTrainer, opts ...Option) *Loader {
	l := &Loader{
		store:   store,
		trainer: trainer,
		factory: nlu.DefaultFactory,
		log:     logger.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.WithComponent("loader").WithModel(store.Location())
	return l
}

// Location identifies the artifact this loader serves.
func (l *Loader) Location() string {
	return l.store.Location()
}

// Outcome records how a model was produced.
type Outcome string

const (
	OutcomeLoaded  Outcome = "loaded"
	OutcomeTrained Outcome = "trained"
)

// ModelExists reports whether an artifact is present. It does not read it.
// When presence cannot be determined it logs the failure and reports false.
func (l *Loader) ModelExists(ctx context.Context) bool {
	exists, err := l.store.Exists(ctx)
	if err != nil {
		l.log.Warn("Could not check for an existing model", "error", err)
		return false
	}
	return exists
}

// LoadOrTrain retrains when forceRetrain is set or no artifact exists, and
// loads the artifact otherwise. A present but unreadable artifact is not
// replaced: the call fails with MODEL_UNAVAILABLE and the artifact stays
// as it is until a forced retrain.
func (l *Loader) LoadOrTrain(ctx context.Context, dataPath string, forceRetrain bool) (nlu.Model, error) {
	model, _, err := l.Resolve(ctx, dataPath, forceRetrain)
	return model, err
}

// Resolve is LoadOrTrain that also reports which path produced the model.
// Training runs only when forceRetrain is set or the store reports the
// artifact definitely absent; a failed presence check is MODEL_UNAVAILABLE.
func (l *Loader) Resolve(ctx context.Context, dataPath string, forceRetrain bool) (nlu.Model, Outcome, error) {
	train := forceRetrain
	if !train {
		exists, err := l.store.Exists(ctx)
		if err != nil {
			l.log.Error("Could not check for an existing model", "error", err)
			return nil, "", errors.ModelUnavailable("could not determine whether an artifact exists", err).
				WithDetail("location", l.store.Location())
		}
		train = !exists
	}

	if train {
		if forceRetrain {
			l.log.Info("Forced retrain requested")
		}
		model, err := l.trainer.Train(ctx, dataPath)
		if err != nil {
			return nil, "", errors.ModelUnavailable("training did not produce a model", err).
				WithDetail("location", l.store.Location())
		}
		if model == nil {
			return nil, "", errors.ModelUnavailable("training did not produce a model", nil).
				WithDetail("location", l.store.Location())
		}
		return model, OutcomeTrained, nil
	}

	model, ok := l.load(ctx)
	if !ok {
		return nil, "", errors.ModelUnavailable("existing artifact could not be loaded; retrain with force to replace it", nil).
			WithDetail("location", l.store.Location())
	}
	return model, OutcomeLoaded, nil
}

// LoadModel reconstructs the model from the artifact. It reports false when
// there is no artifact or the artifact cannot be read or imported; failures
// are logged, never returned.
func (l *Loader) LoadModel(ctx context.Context) (nlu.Model, bool) {
	exists, err := l.store.Exists(ctx)
	if err != nil {
		l.log.Error("Could not check for an existing model", "error", err)
		return nil, false
	}
	if !exists {
		l.log.Info("No model found at the specified path.")
		return nil, false
	}
	return l.load(ctx)
}

// load imports the artifact known to be present.
func (l *Loader) load(ctx context.Context) (nlu.Model, bool) {
	l.log.Info("Loading existing model...")

	data, err := l.store.Read(ctx)
	if err != nil {
		l.corrupt(ctx, err)
		return nil, false
	}

	model := l.factory()
	if err := model.Import(data); err != nil {
		l.corrupt(ctx, err)
		return nil, false
	}

	digest := hash.Digest(data)
	l.log.Info("Model loaded successfully.", "digest", digest)
	l.publish(ctx, bus.TopicModelLoaded, bus.ModelLoaded{
		ModelPath: l.store.Location(),
		Digest:    digest,
	})
	return model, true
}

func (l *Loader) corrupt(ctx context.Context, cause error) {
	err := errors.ArtifactCorrupt(l.store.Location(), cause)
	l.log.Error("Failed to load model", "code", err.Code, "error", err)
	l.publish(ctx, bus.TopicArtifactCorrupt, bus.ArtifactCorrupt{
		ModelPath: l.store.Location(),
		Error:     err.Error(),
	})
}

func (l *Loader) publish(ctx context.Context, topic string, payload any) {
	if l.bus == nil {
		return
	}
	if err := l.bus.Publish(context.WithoutCancel(ctx), topic, bus.NewEvent(topic, "loader", payload)); err != nil {
		l.log.Warn("Failed to publish loader event", "topic", topic, "error", err)
	}
}
