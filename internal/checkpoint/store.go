package checkpoint

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/gridzone/internal/agent"
	"github.com/danielpatrickdp/gridzone/internal/curriculum"
	"github.com/danielpatrickdp/gridzone/internal/logging"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id TEXT PRIMARY KEY,
	parent_id     TEXT,
	run_id        TEXT NOT NULL,
	episode       INTEGER NOT NULL,
	seed          INTEGER NOT NULL,
	phase         TEXT NOT NULL,
	stage_version INTEGER NOT NULL,
	updates       INTEGER NOT NULL,
	actor         BLOB NOT NULL,
	critic        BLOB NOT NULL,
	payload_json  TEXT NOT NULL,
	metrics_json  TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES checkpoints(checkpoint_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints(run_id, episode);

CREATE TABLE IF NOT EXISTS active_checkpoint (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	checkpoint_id TEXT NOT NULL,
	FOREIGN KEY (checkpoint_id) REFERENCES checkpoints(checkpoint_id)
);
`
// #endregion schema

// #region store-struct
// Store is the run database: checkpoints plus the curriculum log.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := logging.EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying handle for the curriculum log and metrics sink.
func (s *Store) DB() *sql.DB { return s.db }
// #endregion constructor

// #region save
// Save inserts rec as a new checkpoint whose parent is the currently active
// one, and makes it active. ID, ParentID and CreatedAt are assigned here.
func (s *Store) Save(rec Record) (Record, error) {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()

	body, err := json.Marshal(payload{
		Agent:      stripParams(rec.Agent),
		Curriculum: rec.Curriculum,
		Safety:     rec.Safety,
		Loop:       rec.Loop,
	})
	if err != nil {
		return Record{}, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parent sql.NullString
	err = tx.QueryRow(`SELECT checkpoint_id FROM active_checkpoint WHERE id = 1`).Scan(&parent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("read active: %w", err)
	}
	rec.ParentID = ""
	var parentPtr interface{}
	if parent.Valid {
		rec.ParentID = parent.String
		parentPtr = parent.String
	}

	var metricsPtr interface{}
	if rec.MetricsJSON != "" {
		metricsPtr = rec.MetricsJSON
	}

	_, err = tx.Exec(
		`INSERT INTO checkpoints (checkpoint_id, parent_id, run_id, episode, seed, phase, stage_version, updates,
		                          actor, critic, payload_json, metrics_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, parentPtr, rec.RunID, rec.Episode, int64(rec.Seed),
		string(rec.Curriculum.Stage.Phase), rec.Curriculum.Stage.Version, rec.Agent.Updates,
		encodeVector(rec.Agent.Actor), encodeVector(rec.Agent.Critic), string(body), metricsPtr,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_checkpoint (id, checkpoint_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET checkpoint_id = excluded.checkpoint_id`,
		rec.ID,
	)
	if err != nil {
		return Record{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}
// #endregion save

// #region read
// Latest returns the active checkpoint.
func (s *Store) Latest() (Record, error) {
	var id string
	err := s.db.QueryRow(`SELECT checkpoint_id FROM active_checkpoint WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get active: %w", err)
	}
	return s.Get(id)
}

// Get loads one checkpoint by id.
func (s *Store) Get(id string) (Record, error) {
	var (
		rec         Record
		parentID    sql.NullString
		seed        int64
		actor       []byte
		critic      []byte
		body        string
		metricsJSON sql.NullString
		createdStr  string
	)
	err := s.db.QueryRow(
		`SELECT checkpoint_id, parent_id, run_id, episode, seed, actor, critic, payload_json, metrics_json, created_at
		 FROM checkpoints WHERE checkpoint_id = ?`, id,
	).Scan(&rec.ID, &parentID, &rec.RunID, &rec.Episode, &seed, &actor, &critic, &body, &metricsJSON, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get checkpoint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get checkpoint %s: %w", id, err)
	}

	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return Record{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	rec.Agent = p.Agent
	rec.Agent.Actor = decodeVector(actor)
	rec.Agent.Critic = decodeVector(critic)
	rec.Curriculum = p.Curriculum
	rec.Safety = p.Safety
	rec.Loop = p.Loop
	rec.Seed = uint64(seed)
	if parentID.Valid {
		rec.ParentID = parentID.String
	}
	if metricsJSON.Valid {
		rec.MetricsJSON = metricsJSON.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// List returns summaries newest first. An empty runID lists every run.
func (s *Store) List(runID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT c.checkpoint_id, c.parent_id, c.run_id, c.episode, c.phase, c.stage_version, c.updates,
		        c.created_at, a.checkpoint_id IS NOT NULL
		 FROM checkpoints c
		 LEFT JOIN active_checkpoint a ON a.checkpoint_id = c.checkpoint_id
		 WHERE (? = '' OR c.run_id = ?)
		 ORDER BY c.created_at DESC, c.episode DESC
		 LIMIT ?`, runID, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum        Summary
			parentID   sql.NullString
			phase      string
			createdStr string
		)
		if err := rows.Scan(&sum.ID, &parentID, &sum.RunID, &sum.Episode, &phase, &sum.StageVersion,
			&sum.Updates, &createdStr, &sum.Active); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if parentID.Valid {
			sum.ParentID = parentID.String
		}
		sum.Phase = curriculum.Phase(phase)
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, sum)
	}
	return out, rows.Err()
}
// #endregion read

// #region activate
// Activate points the active checkpoint at id, so the next resume starts
// from it.
func (s *Store) Activate(id string) error {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM checkpoints WHERE checkpoint_id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check checkpoint: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("activate %s: %w", id, ErrNotFound)
	}
	_, err := s.db.Exec(
		`INSERT INTO active_checkpoint (id, checkpoint_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET checkpoint_id = excluded.checkpoint_id`, id,
	)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}
// #endregion activate

// #region vector-encoding
func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}
// #endregion vector-encoding

func stripParams(s agent.Snapshot) agent.Snapshot {
	s.Actor, s.Critic = nil, nil
	return s
}
