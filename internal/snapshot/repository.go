package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Record is one stored snapshot.
type Record struct {
	ID             int64
	InstrumentUUID string
	InstrumentName string
	Kind           string
	TakenAt        time.Time
	Data           map[string]any
}

// Repository stores snapshots and instrument metadata.
type Repository interface {
	Save(ctx context.Context, rec Record) (int64, error)
	Latest(ctx context.Context, uuid string) (Record, error)
	ListByInstrument(ctx context.Context, name string, limit int) ([]Record, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	LoadMetadata(ctx context.Context, name string) (map[string]any, error)
	SaveMetadata(ctx context.Context, name string, md map[string]any) error
}

// SQLiteRepository implements Repository on the instrument_snapshots and
// instrument_metadata tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository using db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Save inserts rec and returns its row id. A zero TakenAt is stamped with
// the current time.
func (r *SQLiteRepository) Save(ctx context.Context, rec Record) (int64, error) {
	if rec.InstrumentUUID == "" || rec.InstrumentName == "" {
		return 0, fmt.Errorf("%w: uuid and name are required", ErrInvalidRecord)
	}
	if rec.TakenAt.IsZero() {
		rec.TakenAt = r.now()
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}

	data, err := json.Marshal(rec.Data)
	if err != nil {
		return 0, fmt.Errorf("marshalling snapshot: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO instrument_snapshots (instrument_uuid, instrument_name, kind, taken_at, data)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.InstrumentUUID,
		rec.InstrumentName,
		rec.Kind,
		formatTime(rec.TakenAt),
		string(data),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading snapshot id: %w", err)
	}
	return id, nil
}

// Latest returns the newest snapshot of the instrument with uuid.
func (r *SQLiteRepository) Latest(ctx context.Context, uuid string) (Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, instrument_uuid, instrument_name, kind, taken_at, data
		 FROM instrument_snapshots
		 WHERE instrument_uuid = ?
		 ORDER BY taken_at DESC, id DESC
		 LIMIT 1`,
		uuid,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: instrument %s", ErrNotFound, uuid)
	}
	return rec, err
}

// ListByInstrument returns snapshots of every instrument called name,
// newest first. limit defaults to 50 and is capped at 500.
func (r *SQLiteRepository) ListByInstrument(ctx context.Context, name string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, instrument_uuid, instrument_name, kind, taken_at, data
		 FROM instrument_snapshots
		 WHERE instrument_name = ?
		 ORDER BY taken_at DESC, id DESC
		 LIMIT ?`,
		name,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return out, nil
}

// Prune deletes snapshots taken before olderThan and returns how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM instrument_snapshots WHERE taken_at < ?",
		formatTime(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned snapshots: %w", err)
	}
	return n, nil
}

// LoadMetadata returns the metadata stored for name, or an empty map.
func (r *SQLiteRepository) LoadMetadata(ctx context.Context, name string) (map[string]any, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		"SELECT data FROM instrument_metadata WHERE instrument_name = ?",
		name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying metadata: %w", err)
	}

	md := map[string]any{}
	if err := json.Unmarshal([]byte(data), &md); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	return md, nil
}

// SaveMetadata replaces the metadata stored for name.
func (r *SQLiteRepository) SaveMetadata(ctx context.Context, name string, md map[string]any) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}
	if md == nil {
		md = map[string]any{}
	}
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO instrument_metadata (instrument_name, data, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(instrument_name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		name,
		string(data),
		formatTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("saving metadata: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec     Record
		takenAt string
		data    string
	)
	if err := s.Scan(&rec.ID, &rec.InstrumentUUID, &rec.InstrumentName, &rec.Kind, &takenAt, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scanning snapshot: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, takenAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing snapshot time %q: %w", takenAt, err)
	}
	rec.TakenAt = t

	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return Record{}, fmt.Errorf("unmarshalling snapshot: %w", err)
	}
	return rec, nil
}

// formatTime renders t so that string order matches time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
