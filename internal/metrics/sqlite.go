package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region schema
const episodesSchema = `
CREATE TABLE IF NOT EXISTS episodes (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id            TEXT NOT NULL,
	episode           INTEGER NOT NULL,
	scenario          TEXT,
	reward            REAL NOT NULL,
	length            INTEGER NOT NULL,
	termination       TEXT,
	success           INTEGER NOT NULL,
	early_termination INTEGER NOT NULL,
	load_cv           REAL NOT NULL,
	coupling_ratio    REAL NOT NULL,
	connectivity      REAL NOT NULL,
	phase             TEXT NOT NULL,
	stage_version     INTEGER NOT NULL,
	loss              REAL,
	record_json       TEXT NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_run ON episodes(run_id, episode);
`
// #endregion schema

// #region sqlite-sink
// SQLiteSink appends episode records to the episodes table of the run
// database.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink migrates the episodes table on db.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if _, err := db.Exec(episodesSchema); err != nil {
		return nil, fmt.Errorf("migrate episodes: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Record implements Sink.
func (s *SQLiteSink) Record(ctx context.Context, r EpisodeRecord) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal episode: %w", err)
	}
	var loss interface{}
	if r.HasLoss {
		loss = r.Loss
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO episodes (run_id, episode, scenario, reward, length, termination, success, early_termination,
		                       load_cv, coupling_ratio, connectivity, phase, stage_version, loss, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Episode, r.Scenario, r.Reward, r.Length, string(r.Termination), r.Success, r.EarlyTermination,
		r.Metrics.LoadCV, r.Metrics.CouplingRatio, r.Metrics.Connectivity,
		string(r.Phase), r.StageVersion, loss, string(body),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert episode %d: %w", r.Episode, err)
	}
	return nil
}

// Recent returns the newest records for runID, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, runID string, limit int) ([]EpisodeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_json FROM episodes WHERE run_id = ? ORDER BY episode DESC, id DESC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	var out []EpisodeRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		var r EpisodeRecord
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("unmarshal episode: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SuccessRate returns the success fraction over the newest window episodes
// of runID.
func (s *SQLiteSink) SuccessRate(ctx context.Context, runID string, window int) (float64, int, error) {
	var rate sql.NullFloat64
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(success), COUNT(*) FROM (
		   SELECT success FROM episodes WHERE run_id = ? ORDER BY episode DESC, id DESC LIMIT ?
		 )`, runID, window,
	).Scan(&rate, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("success rate: %w", err)
	}
	return rate.Float64, n, nil
}
// #endregion sqlite-sink
