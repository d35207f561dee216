package history

import (
	"context"
	"database/sql"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// Entry is one FetchWaveform outcome.
type Entry struct {
	FetchedAt time.Time
	Handle    string
	Outcome   string
	Path      string
	Message   string
	Station   string
	Component string
	Start     time.Time
}

// Store keeps a local ledger of waveform requests.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if necessary) the sqlite database at `path`,
// ":memory:" is allowed.
func Open(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Store{}, err
	}
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)

	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return Store{}, err
	}
	return Store{db: db}, nil
}

func (s Store) Close() error {
	return s.db.Close()
}

func (s Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into fetches(fetched_at, handle, outcome, path, message, station, component, start_time)
		values (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.FetchedAt.Unix(),
		e.Handle,
		e.Outcome,
		e.Path,
		e.Message,
		e.Station,
		e.Component,
		e.Start.Unix(),
	)
	return err
}

// Recent returns up to `limit` entries, newest first.
func (s Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`select fetched_at, handle, outcome, path, message, station, component, start_time
		from fetches
		order by fetched_at desc, id desc
		limit ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var fetchedAt, start int64
		err := rows.Scan(
			&fetchedAt,
			&e.Handle,
			&e.Outcome,
			&e.Path,
			&e.Message,
			&e.Station,
			&e.Component,
			&start,
		)
		if err != nil {
			return nil, err
		}
		e.FetchedAt = time.Unix(fetchedAt, 0).UTC()
		e.Start = time.Unix(start, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
