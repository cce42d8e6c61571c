package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/gridzone/internal/checkpoint"
	"github.com/danielpatrickdp/gridzone/internal/logging"
	"github.com/danielpatrickdp/gridzone/internal/metrics"
)

var (
	inspectRun      string
	inspectLast     int
	inspectActivate string
	inspectJSON     bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show checkpoints, curriculum decisions and recent episodes",
	Long: `Reads run.database and lists the newest checkpoints, curriculum
transitions and episode records for a run. --activate moves the active
checkpoint so the next "train --resume" branches from it.`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectRun, "run", "", "run id (default: run of the active checkpoint)")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 10, "rows per section")
	inspectCmd.Flags().StringVar(&inspectActivate, "activate", "", "make this checkpoint active")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of tables")
}

type inspectReport struct {
	RunID       string                    `json:"run_id"`
	SuccessRate float64                   `json:"success_rate"`
	RateWindow  int                       `json:"rate_window"`
	Checkpoints []checkpoint.Summary      `json:"checkpoints"`
	Transitions []logging.TransitionEntry `json:"transitions"`
	Episodes    []metrics.EpisodeRecord   `json:"episodes"`
}

func runInspect(cmd *cobra.Command, _ []string) error {
	store, err := checkpoint.Open(cfg.Run.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	if inspectActivate != "" {
		if err := store.Activate(inspectActivate); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active checkpoint: %s\n", inspectActivate)
	}

	runID := inspectRun
	if runID == "" {
		runID = cfg.Run.ID
	}
	if runID == "" {
		active, err := store.Latest()
		switch {
		case err == nil:
			runID = active.RunID
		case !errors.Is(err, checkpoint.ErrNotFound):
			return err
		}
	}

	r := inspectReport{RunID: runID}
	if r.Checkpoints, err = store.List(runID, inspectLast); err != nil {
		return err
	}
	if r.Transitions, err = logging.RecentTransitions(store.DB(), runID, inspectLast); err != nil {
		return err
	}
	sink, err := metrics.NewSQLiteSink(store.DB())
	if err != nil {
		return err
	}
	if r.Episodes, err = sink.Recent(cmd.Context(), runID, inspectLast); err != nil {
		return err
	}
	if r.SuccessRate, r.RateWindow, err = sink.SuccessRate(cmd.Context(), runID, 100); err != nil {
		return err
	}

	if inspectJSON {
		out, _ := json.MarshalIndent(r, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}
	printInspect(cmd.OutOrStdout(), r)
	return nil
}

func printInspect(w io.Writer, r inspectReport) {
	run := r.RunID
	if run == "" {
		run = "(all runs)"
	}
	fmt.Fprintf(w, "run %s: success rate %.1f%% over the last %d episodes\n", run, 100*r.SuccessRate, r.RateWindow)

	fmt.Fprintln(w, "\ncheckpoints")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEPISODE\tPHASE\tVERSION\tUPDATES\tACTIVE\tCREATED")
	for _, c := range r.Checkpoints {
		marker := ""
		if c.Active {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
			c.ID, c.Episode, c.Phase, c.StageVersion, c.Updates, marker, c.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	tw.Flush()

	fmt.Fprintln(w, "\ncurriculum decisions")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EPISODE\tKIND\tFROM\tTO\tVERSION\tREASON")
	for _, e := range r.Transitions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", e.Episode, e.Kind, e.FromPhase, e.ToPhase, e.StageVersion, e.Reason)
	}
	tw.Flush()

	fmt.Fprintln(w, "\nrecent episodes")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EPISODE\tSCENARIO\tREWARD\tLEN\tLOAD_CV\tCOUPLING\tK\tPHASE\tOK")
	for _, e := range r.Episodes {
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%d\t%.3f\t%.3f\t%d\t%s\t%v\n",
			e.Episode, e.Scenario, e.Reward, e.Length, e.Metrics.LoadCV, e.Metrics.CouplingRatio,
			e.Params.PartitionTarget, e.Phase, e.Success)
	}
	tw.Flush()
}
