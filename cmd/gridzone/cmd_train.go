package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/gridzone/internal/checkpoint"
	gzerrors "github.com/danielpatrickdp/gridzone/internal/errors"
	"github.com/danielpatrickdp/gridzone/internal/logging"
	"github.com/danielpatrickdp/gridzone/internal/trainer"
)

var (
	trainEpisodes int
	trainResume   bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the partitioning agent",
	Long: `Runs the training loop: scenario draw, rollout, metrics, safety check,
curriculum update, PPO update, checkpoint and periodic greedy evaluation.

SIGINT or SIGTERM stops the run between episodes. With --resume (or
run.resume) training continues from the active checkpoint in run.database.`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().IntVar(&trainEpisodes, "episodes", 0, "override training.episodes")
	trainCmd.Flags().BoolVar(&trainResume, "resume", false, "continue from the active checkpoint")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	log := logging.New("cli")
	if trainEpisodes > 0 {
		cfg.Training.Episodes = trainEpisodes
	}
	resume := trainResume || cfg.Run.Resume

	// The seed and run id must be fixed before the agent is built, so the
	// checkpoint is read from its own handle first.
	var ck *checkpoint.Record
	if resume {
		rec, err := latestCheckpoint(cfg.Run.Database)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			log.Warn("no checkpoint to resume from, starting fresh", "database", cfg.Run.Database)
		case err != nil:
			return err
		default:
			ck = &rec
			cfg.Run.Seed = rec.Seed
			cfg.Run.ID = rec.RunID
		}
	}
	if cfg.Run.ID == "" {
		cfg.Run.ID = uuid.NewString()
	}

	comp, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer comp.Close()

	reg := metricsRegistry(cfg.Metrics.PrometheusAddr)
	sink, _, err := buildSink(cfg, comp.store, registerer(reg))
	if err != nil {
		return err
	}

	tcfg := trainer.Config{
		RunID:              cfg.Run.ID,
		Seed:               cfg.Run.Seed,
		Episodes:           cfg.Training.Episodes,
		UpdateInterval:     cfg.Training.UpdateInterval,
		CheckpointInterval: cfg.Training.CheckpointInterval,
		EvalInterval:       cfg.Training.EvalInterval,
		LogInterval:        cfg.Training.LogInterval,
		ParallelWorkers:    cfg.Training.ParallelWorkers,
		CurriculumEnabled:  cfg.Curriculum.Enabled,
		Env:                cfg.EnvConfig(),
		Success:            cfg.SuccessCriteria,
	}
	tr, err := trainer.New(tcfg, trainer.Deps{
		Generator:  comp.generator,
		Encoder:    comp.encoder,
		Agent:      comp.agent,
		Curriculum: comp.ctrl,
		Safety:     comp.safety,
		Sink:       sink,
		Store:      comp.store,
		Evaluator:  comp.harness,
	})
	if err != nil {
		return err
	}
	if ck != nil {
		if err := tr.Resume(*ck); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if reg != nil {
		srv := serveMetrics(cfg.Metrics.PrometheusAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sum, runErr := tr.Run(ctx)
	out, _ := json.MarshalIndent(sum, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, context.Canceled):
		log.Warn("training interrupted", "next_episode", sum.Episodes)
		return nil
	case gzerrors.Is(runErr, gzerrors.ErrSafetyViolation):
		log.Error("training halted by safety monitor", "error", runErr)
	}
	return runErr
}

func latestCheckpoint(path string) (checkpoint.Record, error) {
	store, err := checkpoint.Open(path)
	if err != nil {
		return checkpoint.Record{}, err
	}
	defer store.Close()
	return store.Latest()
}

// metricsRegistry returns a registry with the Go and process collectors, or
// nil when no exporter address is configured.
func metricsRegistry(addr string) *prometheus.Registry {
	if addr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// registerer converts reg to a Registerer, keeping a nil registry a nil
// interface.
func registerer(reg *prometheus.Registry) prometheus.Registerer {
	if reg == nil {
		return nil
	}
	return reg
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.New("cli").Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logging.New("cli").Info("serving metrics", "addr", addr)
	return srv
}
