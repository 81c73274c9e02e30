// episode_store persists training runs and their per-episode results in
// SQLite, using the pure-Go modernc.org/sqlite driver.
package episode_store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var logger = log.WithPrefix("episode_store")

// ErrUnknownRun is returned when a run id was never created in the store.
var ErrUnknownRun = errors.New("unknown training run")

const timeLayout = "2006-01-02 15:04:05"

// Store wraps the database connection.
type Store struct {
	db *sql.DB
}

// Run is a training session: a track and variant trained under one id.
type Run struct {
	ID        string
	Track     string
	Variant   string
	CreatedAt time.Time
}

// EpisodeRecord is the outcome of one processed episode.
type EpisodeRecord struct {
	RunID      string
	Episode    int
	Worker     int
	Steps      int
	Return     float64
	Terminated bool
	Truncated  bool
	Collisions int
	CreatedAt  time.Time
}

// Summary aggregates the episodes of a run.
type Summary struct {
	Run         Run
	Episodes    int
	Successes   int
	MeanReturn  float64
	BestReturn  float64
	MeanSteps   float64
	LastEpisode time.Time
}

// SuccessRate is the fraction of episodes that reached the target.
func (s *Summary) SuccessRate() float64 {
	if s.Episodes == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Episodes)
}

// Open creates or opens the database at path, creating parent directories
// and the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("episode_store: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("episode_store: open %s: %w", path, err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("episode_store: connect %s: %w", path, err)
	}
	// sqlite serializes writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err = store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("episode_store: migrate: %w", err)
	}
	logger.Debug("store opened", "path", path)
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			track TEXT NOT NULL,
			variant TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS episodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			episode INTEGER NOT NULL,
			worker INTEGER NOT NULL DEFAULT 0,
			steps INTEGER NOT NULL,
			total_return REAL NOT NULL,
			terminated INTEGER NOT NULL DEFAULT 0,
			truncated INTEGER NOT NULL DEFAULT 0,
			collisions INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_episodes_run ON episodes(run_id, episode);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// NewRun registers a training run and returns it with a fresh id.
func (s *Store) NewRun(track, variant string) (*Run, error) {
	run := &Run{
		ID:      uuid.NewString(),
		Track:   track,
		Variant: variant,
	}
	if _, err := s.db.Exec(
		"INSERT INTO runs (id, track, variant) VALUES (?, ?, ?)",
		run.ID, run.Track, run.Variant,
	); err != nil {
		return nil, fmt.Errorf("episode_store: create run: %w", err)
	}
	return run, nil
}

// Record appends an episode to its run.
func (s *Store) Record(rec EpisodeRecord) error {
	if _, err := s.db.Exec(
		`INSERT INTO episodes
		 (run_id, episode, worker, steps, total_return, terminated, truncated, collisions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Episode,
		rec.Worker,
		rec.Steps,
		rec.Return,
		rec.Terminated,
		rec.Truncated,
		rec.Collisions,
	); err != nil {
		return fmt.Errorf("episode_store: record episode %d of run %s: %w", rec.Episode, rec.RunID, err)
	}
	return nil
}

// RecordBatch appends several episodes in one transaction.
func (s *Store) RecordBatch(recs []EpisodeRecord) (err error) {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("episode_store: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(
		`INSERT INTO episodes
		 (run_id, episode, worker, steps, total_return, terminated, truncated, collisions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("episode_store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err = stmt.Exec(
			rec.RunID,
			rec.Episode,
			rec.Worker,
			rec.Steps,
			rec.Return,
			rec.Terminated,
			rec.Truncated,
			rec.Collisions,
		); err != nil {
			return fmt.Errorf("episode_store: record episode %d of run %s: %w", rec.Episode, rec.RunID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("episode_store: commit: %w", err)
	}
	return nil
}

// GetRun looks up a run by id.
func (s *Store) GetRun(id string) (*Run, error) {
	run := &Run{}
	var createdAt any
	err := s.db.QueryRow(
		"SELECT id, track, variant, created_at FROM runs WHERE id = ?", id,
	).Scan(&run.ID, &run.Track, &run.Variant, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	if err != nil {
		return nil, fmt.Errorf("episode_store: query run %s: %w", id, err)
	}
	run.CreatedAt = parseTime(createdAt)
	return run, nil
}

// Summarize aggregates every recorded episode of a run.
func (s *Store) Summarize(id string) (*Summary, error) {
	run, err := s.GetRun(id)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Run: *run}
	var lastEpisode any
	err = s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(terminated), 0), COALESCE(AVG(total_return), 0),
		        COALESCE(MAX(total_return), 0), COALESCE(AVG(steps), 0), MAX(created_at)
		 FROM episodes WHERE run_id = ?`,
		id,
	).Scan(
		&summary.Episodes,
		&summary.Successes,
		&summary.MeanReturn,
		&summary.BestReturn,
		&summary.MeanSteps,
		&lastEpisode,
	)
	if err != nil {
		return nil, fmt.Errorf("episode_store: summarize run %s: %w", id, err)
	}
	summary.LastEpisode = parseTime(lastEpisode)
	return summary, nil
}

// Recent returns up to limit of the latest episodes of a run, newest first.
func (s *Store) Recent(id string, limit int) ([]EpisodeRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT run_id, episode, worker, steps, total_return, terminated, truncated, collisions, created_at
		 FROM episodes
		 WHERE run_id = ?
		 ORDER BY episode DESC
		 LIMIT ?`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("episode_store: query episodes of run %s: %w", id, err)
	}
	defer rows.Close()

	var records []EpisodeRecord
	for rows.Next() {
		var rec EpisodeRecord
		var createdAt any
		if err := rows.Scan(
			&rec.RunID,
			&rec.Episode,
			&rec.Worker,
			&rec.Steps,
			&rec.Return,
			&rec.Terminated,
			&rec.Truncated,
			&rec.Collisions,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("episode_store: scan episode: %w", err)
		}
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("episode_store: iterate episodes: %w", err)
	}
	return records, nil
}

// parseTime accepts the driver's time.Time or sqlite's text timestamp.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(timeLayout, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
