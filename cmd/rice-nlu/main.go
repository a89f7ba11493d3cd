// Package main provides the rice-nlu command line tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-nlu/internal/history"
	"github.com/ricesearch/rice-nlu/internal/pkg/security"
	"github.com/ricesearch/rice-nlu/internal/registry"
	"github.com/ricesearch/rice-nlu/internal/scheduler"
	"github.com/ricesearch/rice-nlu/internal/watch"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rice-nlu",
		Short: "Rice NLU - intent model training and loading",
		Long: `Rice NLU trains intent classification models from labeled utterances
and serves them from a persisted artifact.

An existing artifact is loaded as is. Without one, or with --force, a new
model is trained from the training data file and saved atomically.

Run 'rice-nlu --help' for available commands.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return loadEnvFile(envFile)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before configuration")
	rootCmd.PersistentFlags().StringP("model", "m", "", "model artifact path (overrides config)")
	rootCmd.PersistentFlags().StringP("data", "d", "", "training data path (overrides config)")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		trainCmd(),
		loadCmd(),
		classifyCmd(),
		historyCmd(),
		watchCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train a new model and overwrite the artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.trainer.Train(cmd.Context(), a.cfg.Model.TrainingData); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model trained: %s\n", a.store.Location())
			return nil
		},
	}
}

func loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load the model, training it first when no artifact exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			force, _ := cmd.Flags().GetBool("force")

			_, outcome, err := a.loader.Resolve(cmd.Context(), a.cfg.Model.TrainingData, force || a.cfg.Model.ForceRetrain)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model %s: %s\n", outcome, a.store.Location())
			return nil
		},
	}

	cmd.Flags().BoolP("force", "f", false, "retrain even if an artifact exists")
	return cmd
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <utterance>...",
		Short: "Classify utterances with the current model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			force, _ := cmd.Flags().GetBool("force")
			lang, _ := cmd.Flags().GetString("lang")
			format, _ := cmd.Flags().GetString("format")
			if lang == "" {
				lang = a.cfg.DefaultLanguage()
			}

			model, err := a.loader.LoadOrTrain(cmd.Context(), a.cfg.Model.TrainingData, force || a.cfg.Model.ForceRetrain)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, utterance := range args {
				if err := security.ValidateUtterance(utterance); err != nil {
					return err
				}
				result, err := model.Process(cmd.Context(), lang, utterance)
				if err != nil {
					return err
				}
				a.log.Debug("Classified utterance",
					"utterance", security.SanitizeForLog(utterance),
					"intent", result.Intent,
					"score", result.Score,
				)

				if format == "json" {
					data, err := json.MarshalIndent(result, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(data))
					continue
				}

				fmt.Fprintf(out, "%s\t%s (%.3f)\n", utterance, result.Intent, result.Score)
				for _, e := range result.Entities {
					fmt.Fprintf(out, "  %s: %s\n", e.Type, e.Value)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolP("force", "f", false, "retrain before classifying")
	cmd.Flags().StringP("lang", "l", "", "utterance language (default: first configured)")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded training runs for the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			all, _ := cmd.Flags().GetBool("all")
			format, _ := cmd.Flags().GetString("format")

			journal := a.history
			if journal == nil {
				// Reading does not require recording to be enabled.
				journal, err = history.Open(a.cfg.History.Path)
				if err != nil {
					return fmt.Errorf("failed to open training history: %w", err)
				}
				defer journal.Close()
			}

			modelPath := a.store.Location()
			if all {
				modelPath = ""
			}
			runs, err := journal.List(cmd.Context(), modelPath, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				data, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			if len(runs) == 0 {
				fmt.Fprintln(out, "No training runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TRAINED AT\tSTAGE\tEXAMPLES\tINTENTS\tDURATION\tDETAIL")
			for _, run := range runs {
				detail := run.Digest
				if !run.Succeeded() {
					detail = run.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
					run.TrainedAt.Local().Format(time.DateTime),
					run.Stage,
					run.Examples,
					strings.Join(run.Intents, ","),
					run.Duration.Round(time.Millisecond),
					detail,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "maximum number of runs")
	cmd.Flags().Bool("all", false, "include runs of every model")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the model current as the training data changes",
		Long: `Load (or train) the model, then retrain whenever the training data file
changes and, when schedule.cron is set, on that schedule. A failed retrain
leaves the current model in service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.logEvents(ctx); err != nil {
				return err
			}

			reg, err := registry.New(a.cfg.Cache.Size, a.log)
			if err != nil {
				return err
			}
			// Runs before a.Close so a retrain still in flight can record
			// and publish its result.
			defer reg.Close()
			key := reg.Register(a.loader, a.cfg.Model.TrainingData)

			if _, err := reg.Get(ctx, key, a.cfg.Model.ForceRetrain); err != nil {
				return err
			}
			if a.cfg.Bus.Type == "kafka" {
				if err := a.followPeers(ctx, reg, key); err != nil {
					return err
				}
			}

			retrain := func(ctx context.Context) error {
				_, err := reg.Reload(ctx, key)
				return err
			}

			files := a.cfg.Watch.Enabled
			if cmd.Flags().Changed("files") {
				files, _ = cmd.Flags().GetBool("files")
			}
			var w *watch.Watcher
			if files {
				w, err = watch.New(watch.Config{
					DataPath:    a.cfg.Model.TrainingData,
					Debounce:    a.cfg.Watch.Debounce,
					MinInterval: a.cfg.Watch.MinInterval,
				}, retrain, a.log)
				if err != nil {
					return err
				}
				if err := w.Start(ctx); err != nil {
					return fmt.Errorf("failed to watch training data: %w", err)
				}
				defer w.Stop()
			}

			if a.cfg.Schedule.Cron != "" {
				s, err := scheduler.New(a.cfg.Schedule.Cron, retrain, a.log)
				if err != nil {
					return err
				}
				if err := s.Start(); err != nil {
					return err
				}
				defer s.Stop()
			}

			a.log.Info("Model ready, waiting for changes", "models", reg.Keys())
			<-ctx.Done()

			if w != nil {
				retrains, last := w.Stats()
				a.log.Info("Shutdown signal received", "file_retrains", retrains, "last_retrain", last)
			} else {
				a.log.Info("Shutdown signal received")
			}
			return nil
		},
	}

	cmd.Flags().Bool("files", true, "retrain when the training data file changes (overrides watch.enabled)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rice-nlu %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}
