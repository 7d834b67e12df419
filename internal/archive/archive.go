// Package archive keeps finished measurement sessions in a SQLite database
// so they can be listed and reloaded later.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/motionlab/internal/calibration"
	"github.com/banshee-data/motionlab/internal/geom"
	"github.com/banshee-data/motionlab/internal/monitoring"
	"github.com/banshee-data/motionlab/internal/samples"
)

var logf = monitoring.Component("archive")

// ErrNotFound is returned when a session ID is not in the archive.
var ErrNotFound = errors.New("archive: session not found")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Archive is a session database.
type Archive struct {
	*sql.DB
}

// Open opens or creates the archive at path and migrates it to the latest
// schema.
func Open(path string) (*Archive, error) {
	a, err := OpenUnmigrated(path)
	if err != nil {
		return nil, err
	}
	if err := a.MigrateUp(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// OpenUnmigrated opens the archive at path without touching its schema, so a
// dirty database can be inspected and forced to a known version.
func OpenUnmigrated(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	// WAL and foreign_keys are per connection.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return &Archive{db}, nil
}

// Session is the archived summary of a measurement session.
type Session struct {
	ID          uuid.UUID
	VideoPath   string
	CreatedAt   time.Time
	Calibration calibration.Calibration
	StartFrame  int
	SampleCount int
}

// SaveSession stores s and its samples in one transaction, replacing any
// session with the same ID. A nil ID is assigned a new random one.
func (a *Archive) SaveSession(ctx context.Context, s *Session, ss []samples.Sample) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	tx, err := a.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := s.ID.String()
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("replace session %s: %w", id, err)
	}

	c := s.Calibration
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, video_path, created_unix_nanos,
			px_per_meter, origin_x, origin_y, has_origin, axis_config, start_frame,
			scale_ax, scale_ay, scale_bx, scale_by, real_distance
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.VideoPath, s.CreatedAt.UnixNano(),
		c.PxPerMeter, c.Origin.X, c.Origin.Y, c.HasOrigin, int(c.Axes), s.StartFrame,
		c.ScaleA.X, c.ScaleA.Y, c.ScaleB.X, c.ScaleB.Y, c.RealDistance,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (session_id, seq, time_sec, pixel_x, pixel_y)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i, smp := range ss {
		if _, err := stmt.ExecContext(ctx, id, i, smp.Time, smp.Pos.X, smp.Pos.Y); err != nil {
			return fmt.Errorf("insert sample %d of session %s: %w", i, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", id, err)
	}
	s.SampleCount = len(ss)
	logf("archived session %s: %d samples", id, len(ss))
	return nil
}

const sessionColumns = `
	s.session_id, s.video_path, s.created_unix_nanos,
	s.px_per_meter, s.origin_x, s.origin_y, s.has_origin, s.axis_config, s.start_frame,
	s.scale_ax, s.scale_ay, s.scale_bx, s.scale_by, s.real_distance,
	(SELECT COUNT(*) FROM samples p WHERE p.session_id = s.session_id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var (
		s       Session
		id      string
		created int64
		axes    int
		c       = &s.Calibration
	)
	err := r.Scan(&id, &s.VideoPath, &created,
		&c.PxPerMeter, &c.Origin.X, &c.Origin.Y, &c.HasOrigin, &axes, &s.StartFrame,
		&c.ScaleA.X, &c.ScaleA.Y, &c.ScaleB.X, &c.ScaleB.Y, &c.RealDistance,
		&s.SampleCount)
	if err != nil {
		return nil, err
	}
	if s.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("session id %q: %w", id, err)
	}
	c.Axes = calibration.AxisConfig(axes)
	s.CreatedAt = time.Unix(0, created)
	return &s, nil
}

// ListSessions returns every archived session, newest first.
func (a *Archive) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := a.QueryContext(ctx, `SELECT `+sessionColumns+`
		FROM sessions s ORDER BY s.created_unix_nanos DESC, s.session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSession returns the session with the given ID.
func (a *Archive) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := a.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM sessions s WHERE s.session_id = ?`, id.String())
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

// LoadSamples returns the samples of a session in their stored order.
func (a *Archive) LoadSamples(ctx context.Context, id uuid.UUID) ([]samples.Sample, error) {
	if _, err := a.GetSession(ctx, id); err != nil {
		return nil, err
	}
	rows, err := a.QueryContext(ctx, `
		SELECT time_sec, pixel_x, pixel_y FROM samples
		WHERE session_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, fmt.Errorf("load samples of %s: %w", id, err)
	}
	defer rows.Close()

	var out []samples.Sample
	for rows.Next() {
		var s samples.Sample
		var p geom.Point
		if err := rows.Scan(&s.Time, &p.X, &p.Y); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.Pos = p
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its samples.
func (a *Archive) DeleteSession(ctx context.Context, id uuid.UUID) error {
	res, err := a.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
