package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/listing"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	StatusDone    = "done"
	StatusStopped = "stopped"
	StatusFailed  = "failed"
)

var ErrClosed = errors.New("history store closed")

// SessionSummary is one finished session as recorded in the history.
type SessionSummary struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Count      int       `json:"count"`
	Filename   string    `json:"filename"`
}

type entry struct {
	summary SessionSummary
	records []listing.Record
}

// SqliteOutput records finished sessions. The sqlite driver does not allow concurrent writes, so all
// inserts go through one goroutine; HandleSession is safe to use by multiple go routines.
type SqliteOutput struct {
	Database string
	Logger   *zap.Logger

	db      *sql.DB
	entries chan entry
	wg      sync.WaitGroup

	closeLock sync.RWMutex
	closed    bool
}

func (o *SqliteOutput) Init() error {
	if o.Database == "" {
		return errors.New("sqlite database file not set")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", o.Database)
	if err != nil {
		return fmt.Errorf("opening history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT NOT NULL PRIMARY KEY,
		query TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		count INTEGER NOT NULL,
		filename TEXT
	);
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER NOT NULL PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		position INTEGER NOT NULL,
		business_name TEXT,
		address TEXT,
		category TEXT,
		maps_link TEXT,
		phone TEXT,
		rating TEXT,
		review_count TEXT,
		website TEXT,
		email TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_records_session ON records(session_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create history tables: %w", err)
	}
	o.db = db

	//Buffered channel as sessions can finish in bursts
	o.entries = make(chan entry, 20)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for e := range o.entries {
			if err := o.insert(e); err != nil {
				o.Logger.Error("failed to record session", zap.String("session", e.summary.ID), zap.Error(err))
			}
		}
	}()
	return nil
}

// Cleanup flushes pending sessions and closes the database.
func (o *SqliteOutput) Cleanup() error {
	o.closeLock.Lock()
	if o.closed {
		o.closeLock.Unlock()
		return nil
	}
	o.closed = true
	close(o.entries)
	o.closeLock.Unlock()

	o.wg.Wait()
	return o.db.Close()
}

// HandleSession queues a finished session and its records for insertion.
func (o *SqliteOutput) HandleSession(summary SessionSummary, records []listing.Record) error {
	o.closeLock.RLock()
	defer o.closeLock.RUnlock()
	if o.closed {
		return ErrClosed
	}
	o.entries <- entry{summary: summary, records: append([]listing.Record(nil), records...)}
	return nil
}

func (o *SqliteOutput) insert(e entry) error {
	tx, err := o.db.Begin()
	if err != nil {
		return err
	}

	s := e.summary
	_, err = tx.Exec(`INSERT OR REPLACE INTO sessions(id, query, started_at, finished_at, status, count, filename)
		VALUES (?, ?, ?, ?, ?, ?, ?);`,
		s.ID, s.Query, s.StartedAt.UTC(), s.FinishedAt.UTC(), s.Status, s.Count, s.Filename)
	if err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("DELETE FROM records WHERE session_id = ?;", s.ID); err != nil {
		tx.Rollback()
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO records(session_id, position, business_name, address, category,
		maps_link, phone, rating, review_count, website, email) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, r := range e.records {
		_, err := stmt.Exec(s.ID, i, r.BusinessName, r.Address, r.Category,
			r.MapsLink, r.Phone, r.Rating, r.ReviewCount, r.Website, r.Email)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Sessions returns the most recently finished sessions first.
func (o *SqliteOutput) Sessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	rows, err := o.db.QueryContext(ctx, `SELECT id, query, started_at, finished_at, status, count, filename
		FROM sessions ORDER BY finished_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var filename sql.NullString
		if err := rows.Scan(&s.ID, &s.Query, &s.StartedAt, &s.FinishedAt, &s.Status, &s.Count, &filename); err != nil {
			return nil, err
		}
		s.Filename = filename.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// Records returns a session's records in their original order.
func (o *SqliteOutput) Records(ctx context.Context, sessionID string) ([]listing.Record, error) {
	rows, err := o.db.QueryContext(ctx, `SELECT business_name, address, category, maps_link, phone, rating,
		review_count, website, email FROM records WHERE session_id = ? ORDER BY position;`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []listing.Record
	for rows.Next() {
		var r listing.Record
		err := rows.Scan(&r.BusinessName, &r.Address, &r.Category, &r.MapsLink, &r.Phone, &r.Rating,
			&r.ReviewCount, &r.Website, &r.Email)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
