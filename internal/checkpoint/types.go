// Package checkpoint persists versioned training snapshots in SQLite.
package checkpoint

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
)

// ErrNotFound is returned when no checkpoint matches.
var ErrNotFound = errors.New("checkpoint not found")

// #region record
// Record is one checkpoint: everything needed to continue a run.
// Episode is the next episode the run will play.
type Record struct {
	ID          string
	ParentID    string
	RunID       string
	Episode     int
	Seed        uint64
	Agent       agent.Snapshot
	Curriculum  curriculum.State
	Safety      curriculum.SafetyState
	Loop        LoopState
	CreatedAt   time.Time
	MetricsJSON string
}

// LoopState is the trainer bookkeeping carried between episodes.
type LoopState struct {
	LastLoss  float64 `json:"last_loss"`
	HasLoss   bool    `json:"has_loss"` // LastLoss not yet seen by the safety monitor
	NaNStreak int     `json:"nan_streak"`
}

// Summary is the listing view of a checkpoint, without parameters.
type Summary struct {
	ID           string
	ParentID     string
	RunID        string
	Episode      int
	Phase        curriculum.Phase
	StageVersion int
	Updates      int
	Active       bool
	CreatedAt    time.Time
}
// #endregion record

// #region payload
// payload is the JSON column: everything except the parameter vectors,
// which are stored as blobs.
type payload struct {
	Agent      agent.Snapshot         `json:"agent"`
	Curriculum curriculum.State       `json:"curriculum"`
	Safety     curriculum.SafetyState `json:"safety"`
	Loop       LoopState              `json:"loop"`
}
// #endregion payload
