package catalog

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"chronosnap-pi/pkg/types"
	"chronosnap-pi/pkg/utils"
)

const opTimeout = 5 * time.Second

// Run is one recorded time-lapse sequence.
type Run struct {
	ID         int64      `json:"id"`
	SequenceID string     `json:"sequenceId"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	Frames     int        `json:"frames"`
	Error      string     `json:"error,omitempty"`
}

// Frame is one written image.
type Frame struct {
	SequenceID string    `json:"sequenceId"`
	Index      int       `json:"index"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	WrittenAt  time.Time `json:"writtenAt"`
}

// Catalog records runs and frames in sqlite. It is a status sink, an error
// sink and a frame indexer at the same time.
type Catalog struct {
	db     *sql.DB
	logger *zap.SugaredLogger

	lock      sync.Mutex
	activeRun int64
	activeAt  time.Time
	lastRun   map[string]int64
}

func Open(ctx context.Context, dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	c := &Catalog{
		db:      db,
		logger:  utils.GetLogger(),
		lastRun: make(map[string]int64),
	}
	if err := c.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return c, nil
}

func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Catalog) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sequence_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			frames INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			sequence_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			written_at TEXT NOT NULL,
			PRIMARY KEY (sequence_id, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_sequence ON runs(sequence_id);`,
	}
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate failed")
		}
	}
	// runs left open by a crash are closed at their last known frame count
	_, err := c.db.ExecContext(ctx, `UPDATE runs SET ended_at = started_at WHERE ended_at IS NULL`)
	return errors.Wrap(err, "close dangling runs")
}

func (c *Catalog) IndexFrame(sequenceID string, index int, path string, size int64) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO frames (sequence_id, idx, path, size, written_at) VALUES (?, ?, ?, ?, ?)`,
		sequenceID, index, path, size, formatTime(time.Now()))
	if err != nil {
		c.logger.Warnf("catalog: index frame %d of %s: %s", index, sequenceID, err)
	}
}

func (c *Catalog) PublishStatus(s types.Snapshot) {
	c.lock.Lock()
	defer c.lock.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var err error
	switch {
	case s.Running && s.StartTime != nil && (c.activeRun == 0 || !c.activeAt.Equal(*s.StartTime)):
		var res sql.Result
		res, err = c.db.ExecContext(ctx,
			`INSERT INTO runs (sequence_id, started_at, frames) VALUES (?, ?, ?)`,
			s.SequenceID, formatTime(*s.StartTime), s.ImagesCaptured)
		if err == nil {
			c.activeRun, err = res.LastInsertId()
			c.activeAt = *s.StartTime
			c.lastRun[s.SequenceID] = c.activeRun
		}
	case s.Running && c.activeRun != 0:
		_, err = c.db.ExecContext(ctx, `UPDATE runs SET frames = ? WHERE id = ?`, s.ImagesCaptured, c.activeRun)
	case !s.Running && c.activeRun != 0:
		_, err = c.db.ExecContext(ctx, `UPDATE runs SET frames = ?, ended_at = ? WHERE id = ?`,
			s.ImagesCaptured, formatTime(time.Now()), c.activeRun)
		c.activeRun = 0
	}
	if err != nil {
		c.logger.Warnf("catalog: record status of %s: %s", s.SequenceID, err)
	}
}

func (c *Catalog) NotifyError(sequenceID, message string) {
	c.lock.Lock()
	id := c.lastRun[sequenceID]
	c.lock.Unlock()
	if id == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := c.db.ExecContext(ctx, `UPDATE runs SET error = ? WHERE id = ?`, message, id); err != nil {
		c.logger.Warnf("catalog: record error of %s: %s", sequenceID, err)
	}
}

// Runs returns the most recent runs first.
func (c *Catalog) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, sequence_id, started_at, ended_at, frames, error FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	res := make([]Run, 0)
	for rows.Next() {
		var (
			r       Run
			started string
			ended   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SequenceID, &started, &ended, &r.Frames, &r.Error); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.StartedAt = parseTime(started)
		if ended.Valid {
			t := parseTime(ended.String)
			r.EndedAt = &t
		}
		res = append(res, r)
	}

	return res, rows.Err()
}

func (c *Catalog) Frames(ctx context.Context, sequenceID string) ([]Frame, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT sequence_id, idx, path, size, written_at FROM frames WHERE sequence_id = ? ORDER BY idx`, sequenceID)
	if err != nil {
		return nil, errors.Wrap(err, "query frames")
	}
	defer rows.Close()

	res := make([]Frame, 0)
	for rows.Next() {
		var (
			f       Frame
			written string
		)
		if err := rows.Scan(&f.SequenceID, &f.Index, &f.Path, &f.Size, &written); err != nil {
			return nil, errors.Wrap(err, "scan frame")
		}
		f.WrittenAt = parseTime(written)
		res = append(res, f)
	}

	return res, rows.Err()
}

// DeleteSequence forgets the frames of a deleted sequence.
func (c *Catalog) DeleteSequence(ctx context.Context, sequenceID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM frames WHERE sequence_id = ?`, sequenceID)
	return errors.Wrap(err, "delete frames")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
