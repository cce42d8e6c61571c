package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
// Schema creates the curriculum_log table.
const Schema = `
CREATE TABLE IF NOT EXISTS curriculum_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	episode       INTEGER NOT NULL,
	kind          TEXT NOT NULL,
	from_phase    TEXT,
	to_phase      TEXT,
	stage_version INTEGER NOT NULL,
	params_json   TEXT,
	signals_json  TEXT,
	reason        TEXT,
	created_at    TEXT NOT NULL
);
`

// EnsureSchema runs the curriculum_log migration.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("migrate curriculum_log: %w", err)
	}
	return nil
}
// #endregion schema

// #region log-transition
// LogTransition writes a curriculum decision to the curriculum_log table.
func LogTransition(db *sql.DB, entry TransitionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO curriculum_log (run_id, episode, kind, from_phase, to_phase, stage_version, params_json, signals_json, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Episode,
		entry.Kind,
		nullIfEmpty(entry.FromPhase),
		nullIfEmpty(entry.ToPhase),
		entry.StageVersion,
		nullIfEmpty(entry.ParamsJSON),
		nullIfEmpty(entry.SignalsJSON),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log transition: %w", err)
	}
	return nil
}
// #endregion log-transition

// #region recent
// RecentTransitions returns up to limit entries for runID, newest first.
// An empty runID matches every run.
func RecentTransitions(db *sql.DB, runID string, limit int) ([]TransitionEntry, error) {
	query := `SELECT run_id, episode, kind, from_phase, to_phase, stage_version, params_json, signals_json, reason, created_at
		FROM curriculum_log`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionEntry
	for rows.Next() {
		var e TransitionEntry
		var from, to, params, signals, reason sql.NullString
		var created string
		if err := rows.Scan(&e.RunID, &e.Episode, &e.Kind, &from, &to, &e.StageVersion, &params, &signals, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.FromPhase = from.String
		e.ToPhase = to.String
		e.ParamsJSON = params.String
		e.SignalsJSON = signals.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion recent

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
