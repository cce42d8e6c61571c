package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/gridzone/internal/checkpoint"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/logging"
	"github.com/danielpatrickdp/gridzone/internal/replay"
)

var (
	evalCheckpoint string
	evalScenarios  int
	evalJSON       bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Greedily evaluate a checkpoint on held-out scenarios",
	RunE:  runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalCheckpoint, "checkpoint", "", "checkpoint id (default: active checkpoint)")
	evalCmd.Flags().IntVar(&evalScenarios, "scenarios", 0, "override evaluation.scenarios")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output as JSON instead of a table")
}

type evalReport struct {
	Checkpoint string            `json:"checkpoint,omitempty"`
	Episode    int               `json:"episode"`
	Params     curriculum.Params `json:"params"`
	Summary    replay.Summary    `json:"summary"`
	Episodes   []replay.Episode  `json:"episodes"`
}

func runEval(cmd *cobra.Command, _ []string) error {
	if evalScenarios > 0 {
		cfg.Evaluation.Scenarios = evalScenarios
	}

	// The agent must be built with the checkpoint's seed.
	rec, found, err := loadCheckpoint(cfg.Run.Database, evalCheckpoint)
	if err != nil {
		return err
	}
	if found {
		cfg.Run.Seed = rec.Seed
	}

	comp, err := buildComponents(cfg)
	if err != nil {
		return err
	}
	defer comp.Close()

	report := evalReport{}
	if found {
		if err := comp.agent.Restore(rec.Agent); err != nil {
			return fmt.Errorf("restore agent: %w", err)
		}
		if err := comp.ctrl.Restore(rec.Curriculum); err != nil {
			return fmt.Errorf("restore curriculum: %w", err)
		}
		report.Checkpoint = rec.ID
		report.Episode = rec.Episode
	} else {
		logging.New("cli").Warn("no checkpoint found, evaluating an untrained agent", "database", cfg.Run.Database)
	}
	report.Params = comp.ctrl.Stage().Params

	eps, err := comp.harness.Run(cmd.Context(), comp.agent, report.Params)
	if err != nil {
		return err
	}
	report.Episodes = eps
	report.Summary = replay.Summarize(eps)

	if evalJSON {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	printEval(cmd.OutOrStdout(), report)
	return nil
}

// loadCheckpoint reads checkpoint id, or the active one when id is empty.
// A missing active checkpoint is not an error.
func loadCheckpoint(path, id string) (checkpoint.Record, bool, error) {
	store, err := checkpoint.Open(path)
	if err != nil {
		return checkpoint.Record{}, false, err
	}
	defer store.Close()

	var rec checkpoint.Record
	if id != "" {
		rec, err = store.Get(id)
	} else {
		rec, err = store.Latest()
	}
	switch {
	case id == "" && errors.Is(err, checkpoint.ErrNotFound):
		return checkpoint.Record{}, false, nil
	case err != nil:
		return checkpoint.Record{}, false, err
	}
	return rec, true, nil
}

func printEval(w io.Writer, r evalReport) {
	if r.Checkpoint != "" {
		fmt.Fprintf(w, "checkpoint %s (episode %d), %d partitions\n\n", r.Checkpoint, r.Episode, r.Params.PartitionTarget)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tKIND\tREWARD\tLEN\tLOAD_CV\tCOUPLING\tCONN\tEND\tOK\tREASON")
	for _, e := range r.Episodes {
		kind := string(e.Kind)
		if e.Fallback {
			kind += "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%d\t%.3f\t%.3f\t%.2f\t%s\t%v\t%s\n",
			e.Index, kind, e.Reward, e.Length, e.Metrics.LoadCV, e.Metrics.CouplingRatio,
			e.Metrics.Connectivity, e.Termination, e.Success, e.Reason)
	}
	tw.Flush()

	s := r.Summary
	fmt.Fprintf(w, "\n%d/%d successful (%.1f%%), mean reward %.3f, mean cv %.3f, mean coupling %.3f, mean length %.1f\n",
		s.Successes, s.Episodes, 100*s.SuccessRate, s.MeanReward, s.MeanCV, s.MeanCoupling, s.MeanLength)
}
