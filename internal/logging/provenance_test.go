package logging

import (
	"bytes"
	"database/sql"
	"log/slog"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// #endregion helpers

// #region log-transition-tests
func TestLogTransition_Success(t *testing.T) {
	db := setupDB(t)

	entry := TransitionEntry{
		RunID:        "run-1",
		Episode:      120,
		Kind:         KindTransition,
		FromPhase:    "progressing",
		ToPhase:      "plateaued",
		StageVersion: 4,
		ParamsJSON:   `{"partition_target":3}`,
		SignalsJSON:  `{"confidence":0.81}`,
		Reason:       "confidence sustained",
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogTransition(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM curriculum_log").Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	var kind, to string
	var version int
	db.QueryRow("SELECT kind, to_phase, stage_version FROM curriculum_log").Scan(&kind, &to, &version)
	if kind != KindTransition || to != "plateaued" || version != 4 {
		t.Errorf("unexpected row: kind=%s to=%s version=%d", kind, to, version)
	}
}

func TestLogTransition_NullableFields(t *testing.T) {
	db := setupDB(t)

	if err := LogTransition(db, TransitionEntry{RunID: "r", Episode: 1, Kind: KindEvolution}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var from, reason sql.NullString
	var created string
	db.QueryRow("SELECT from_phase, reason, created_at FROM curriculum_log").Scan(&from, &reason, &created)
	if from.Valid || reason.Valid {
		t.Error("empty strings should be stored as NULL")
	}
	if created == "" {
		t.Error("created_at should default to now")
	}
}

func TestLogTransition_MissingTable(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := LogTransition(db, TransitionEntry{RunID: "r", Kind: KindSafety}); err == nil {
		t.Fatal("expected error without curriculum_log table")
	}
}

func TestRecentTransitions(t *testing.T) {
	db := setupDB(t)
	for i := 0; i < 5; i++ {
		run := "a"
		if i%2 == 1 {
			run = "b"
		}
		if err := LogTransition(db, TransitionEntry{RunID: run, Episode: i, Kind: KindEvolution, StageVersion: i}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	all, err := RecentTransitions(db, "", 10)
	if err != nil {
		t.Fatalf("RecentTransitions: %v", err)
	}
	if len(all) != 5 || all[0].Episode != 4 {
		t.Fatalf("expected 5 entries newest first, got %d (first episode %d)", len(all), all[0].Episode)
	}

	onlyA, err := RecentTransitions(db, "a", 2)
	if err != nil {
		t.Fatalf("RecentTransitions: %v", err)
	}
	if len(onlyA) != 2 || onlyA[0].Episode != 4 || onlyA[1].Episode != 2 {
		t.Fatalf("unexpected filtered entries %+v", onlyA)
	}
}

// #endregion log-transition-tests

// #region slog-tests
func TestInitAndNew(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Init(slog.LevelInfo, "json", &buf)
	New("trainer").Debug("hidden")
	New("trainer").Info("episode done", "episode", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message should be filtered at info level")
	}
	if !strings.Contains(out, `"component":"trainer"`) || !strings.Contains(out, `"episode":3`) {
		t.Errorf("missing attributes in %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

// #endregion slog-tests
