package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store handles frame persistence on a local SQLite file. Connections
// open lazily: the write connection runs the schema on first use, and a
// schema failure is cached and surfaces from every write, so a broken
// store never half-works. The read connection also opens read-write and
// runs the schema, so a reader that races the first write still sees
// the tables; readers never contend with the single writer beyond WAL
// semantics.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewStore creates a store for the SQLite database at dbPath. The file
// and schema are created on first write.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// The writer may not have created the file yet; opening the
		// read connection in rwc mode with the shared schema keeps
		// early readers from failing on a missing database.
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.readDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// LogFrame durably appends one frame as its own committed transaction.
// Durability is favored over throughput here on purpose: a dropped
// frame is gone, a slow insert is not.
func (s *Store) LogFrame(ctx context.Context, frame Frame) (frameID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertFrameSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, frame.Timestamp.UTC(), frame.PID, frame.Value, frame.Raw)
	if err != nil {
		err = fmt.Errorf("inserting frame: %w", err)
		return
	}

	frameID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting frame ID: %w", err)
	}
	return
}

// FramesSince returns up to limit frames strictly after the watermark,
// ordered by (timestamp, id). Callers advance their watermark over the
// returned frames.
func (s *Store) FramesSince(ctx context.Context, w Watermark, limit int) ([]Frame, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid limit %d", limit)
	}

	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	ts := w.Timestamp.UTC()
	return s.queryFrames(ctx, db, selectFramesSinceSQL, ts, ts, w.ID, limit)
}

// FramesSinceByPID is FramesSince restricted to a single bus identifier.
func (s *Store) FramesSinceByPID(ctx context.Context, pid string, w Watermark, limit int) ([]Frame, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid limit %d", limit)
	}

	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	ts := w.Timestamp.UTC()
	return s.queryFrames(ctx, db, selectFramesByPIDSQL, pid, ts, ts, w.ID, limit)
}

func (s *Store) queryFrames(ctx context.Context, db *sql.DB, query string, args ...any) (frames []Frame, err error) {
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("querying frames: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var f Frame
		var raw []byte
		if err = rows.Scan(&f.ID, &f.Timestamp, &f.PID, &f.Value, &raw); err != nil {
			return nil, fmt.Errorf("scanning frame: %w", err)
		}
		f.Timestamp = f.Timestamp.UTC()
		f.Raw = raw
		frames = append(frames, f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating frames: %w", err)
	}

	return frames, nil
}

// FrameCount returns the total number of logged frames.
func (s *Store) FrameCount(ctx context.Context) (count int64, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	if err = db.QueryRowContext(ctx, countFramesSQL).Scan(&count); err != nil {
		err = fmt.Errorf("counting frames: %w", err)
	}
	return
}

// Close releases both database connections. Safe to call multiple
// times; the store cannot be reused afterwards.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
