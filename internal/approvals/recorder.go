package approvals

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder persists approval history in PostgreSQL.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder constructs Recorder.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record writes one approval entry.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if r == nil {
		return errors.New("approvals: recorder not initialised")
	}
	if entry.Type == "" || entry.ReferenceID == 0 || entry.Action == "" {
		return errors.New("approvals: type, reference id and action required")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approval_entries (type, reference_id, reference_code, amount, action, actor_id, note, at)
VALUES ($1,$2,$3,$4,$5,$6,$7,COALESCE($8, NOW()))`,
		entry.Type, entry.ReferenceID, entry.ReferenceCode, entry.Amount, string(entry.Action),
		entry.ActorID, entry.Note, zeroTimeToNull(entry.At))
	return err
}

// List returns history for a type/reference, oldest first.
func (r *Recorder) List(ctx context.Context, typ string, referenceID int64) ([]Entry, error) {
	if r == nil {
		return nil, errors.New("approvals: recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, type, reference_id, reference_code, amount, action, actor_id, note, at
FROM approval_entries WHERE type=$1 AND reference_id=$2 ORDER BY at ASC, id ASC`, typ, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		if err := rows.Scan(&e.ID, &e.Type, &e.ReferenceID, &e.ReferenceCode, &e.Amount, &action, &e.ActorID, &e.Note, &e.At); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func zeroTimeToNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
