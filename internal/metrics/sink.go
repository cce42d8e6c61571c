// Package metrics receives one flat record per training episode.
package metrics

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/env"
)

// #region record
// EpisodeRecord is the per-episode output of the training loop.
type EpisodeRecord struct {
	RunID            string               `json:"run_id"`
	Episode          int                  `json:"episode"`
	Scenario         string               `json:"scenario"`
	Reward           float64              `json:"reward"`
	Components       env.RewardComponents `json:"components"`
	Metrics          env.PartitionMetrics `json:"metrics"`
	Length           int                  `json:"length"`
	Termination      env.Termination      `json:"termination"`
	Success          bool                 `json:"success"`
	EarlyTermination bool                 `json:"early_termination"`
	Phase            curriculum.Phase     `json:"phase"`
	StageVersion     int                  `json:"stage_version"`
	Params           curriculum.Params    `json:"params"`
	Loss             float64              `json:"loss,omitempty"`
	HasLoss          bool                 `json:"has_loss"`
}
// #endregion record

// #region sink
// Sink consumes episode records. Implementations must not block training for
// long; the trainer logs and drops their errors.
type Sink interface {
	Record(ctx context.Context, r EpisodeRecord) error
}

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ctx context.Context, r EpisodeRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, EpisodeRecord) error { return nil }
// #endregion sink
