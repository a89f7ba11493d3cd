package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-nlu/internal/artifact"
	"github.com/ricesearch/rice-nlu/internal/bus"
	"github.com/ricesearch/rice-nlu/internal/config"
	"github.com/ricesearch/rice-nlu/internal/history"
	"github.com/ricesearch/rice-nlu/internal/loader"
	"github.com/ricesearch/rice-nlu/internal/pkg/logger"
	"github.com/ricesearch/rice-nlu/internal/registry"
	"github.com/ricesearch/rice-nlu/internal/training"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   artifact.Store
	bus     bus.Bus
	history *history.Store
	trainer *training.Trainer
	loader  *loader.Loader
}

// loadEnvFile applies a .env file when present. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Flag overrides
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Model.Path = model
	}
	if data, _ := cmd.Flags().GetString("data"); data != "" {
		cfg.Model.TrainingData = data
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	log := logger.NewWithOptions(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	a := &app{cfg: cfg, log: log}
	if cfg.IsDevelopment() {
		log.Debug("Effective configuration",
			"model", cfg.Model.Path,
			"training_data", cfg.Model.TrainingData,
			"languages", cfg.Model.Languages,
			"artifact", cfg.Artifact.Type,
			"bus", cfg.Bus.Type,
			"history", cfg.History.Enabled,
		)
	}

	a.store, err = artifact.NewStore(cfg.Artifact, cfg.Model.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	a.bus, err = bus.NewBus(cfg.Bus, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	trainerOpts := []training.Option{
		training.WithLanguages(cfg.Model.Languages...),
		training.WithStrictEntities(cfg.Model.StrictEntities),
		training.WithLogger(log),
		training.WithBus(a.bus),
	}
	if cfg.History.Enabled {
		a.history, err = history.Open(cfg.History.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open training history: %w", err)
		}
		trainerOpts = append(trainerOpts, training.WithRecorder(a.history))
	}

	a.trainer = training.NewTrainer(a.store, trainerOpts...)
	a.loader = loader.New(a.store, a.trainer,
		loader.WithLogger(log),
		loader.WithBus(a.bus),
	)

	return a, nil
}

// Close releases the bus, the journal, and a Redis connection if one is open.
func (a *app) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn("Failed to close event bus", "error", err)
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn("Failed to close training history", "error", err)
		}
	}
	if rs, ok := a.store.(*artifact.RedisStore); ok {
		if err := rs.Close(); err != nil {
			a.log.Warn("Failed to close redis", "error", err)
		}
	}
}

// followPeers keeps the cached model in step with training done by other
// instances sharing the Kafka bus: a trained event for key drops the cached
// model and loads the new artifact. Each instance needs its own kafka_group
// to see every event.
func (a *app) followPeers(ctx context.Context, reg *registry.Registry, key string) error {
	return a.bus.Subscribe(ctx, bus.TopicModelTrained, func(ctx context.Context, event bus.Event) error {
		var trained bus.ModelTrained
		if err := bus.DecodePayload(event, &trained); err != nil {
			return err
		}
		if trained.ModelPath != key || !reg.Cached(key) {
			return nil
		}
		a.log.Info("Model retrained elsewhere, reloading", "model", key, "digest", trained.Digest)
		reg.Invalidate(key)
		_, err := reg.Get(ctx, key, false)
		return err
	})
}

// logEvents mirrors lifecycle events into the log.
func (a *app) logEvents(ctx context.Context) error {
	for _, topic := range []string{
		bus.TopicModelTrained,
		bus.TopicTrainingFailed,
		bus.TopicModelLoaded,
		bus.TopicArtifactCorrupt,
	} {
		err := a.bus.Subscribe(ctx, topic, func(ctx context.Context, event bus.Event) error {
			a.log.Debug("Lifecycle event", "topic", event.Type, "event_id", event.ID, "source", event.Source)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
