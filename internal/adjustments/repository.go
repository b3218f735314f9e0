package adjustments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists adjustments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the writes available inside one transaction.
type TxRepository interface {
	InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error)
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get loads one adjustment with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Adjustment, error) {
	var adj Adjustment
	var reason, status string
	err := r.pool.QueryRow(ctx, `SELECT id, code, tenant_id, warehouse_id, reason, status, note, magnitude, created_by, created_at, updated_at
FROM stock_adjustments WHERE id=$1`, id).Scan(
		&adj.ID, &adj.Code, &adj.TenantID, &adj.WarehouseID, &reason, &status,
		&adj.Note, &adj.Magnitude, &adj.CreatedBy, &adj.CreatedAt, &adj.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Adjustment{}, ErrNotFound
	}
	if err != nil {
		return Adjustment{}, err
	}
	adj.Reason = Reason(reason)
	adj.Status = Status(status)

	rows, err := r.pool.Query(ctx, `SELECT id, adjustment_id, item_id, system_qty, counted_qty, difference_qty, unit_cost
FROM stock_adjustment_lines WHERE adjustment_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Adjustment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.AdjustmentID, &line.ItemID,
			&line.SystemQty, &line.CountedQty, &line.DifferenceQty, &line.UnitCost); err != nil {
			return Adjustment{}, err
		}
		adj.Lines = append(adj.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}

// List returns adjustments for a tenant, newest first, without lines.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Adjustment, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_adjustments
WHERE tenant_id=$1
  AND ($2::bigint = 0 OR warehouse_id=$2)
  AND ($3::text = '' OR status=$3)`,
		filter.TenantID, filter.WarehouseID, string(filter.Status)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	offset := (filter.Page - 1) * filter.PerPage
	rows, err := r.pool.Query(ctx, `SELECT id, code, tenant_id, warehouse_id, reason, status, note, magnitude, created_by, created_at, updated_at
FROM stock_adjustments
WHERE tenant_id=$1
  AND ($2::bigint = 0 OR warehouse_id=$2)
  AND ($3::text = '' OR status=$3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`,
		filter.TenantID, filter.WarehouseID, string(filter.Status), filter.PerPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Adjustment
	for rows.Next() {
		var adj Adjustment
		var reason, status string
		if err := rows.Scan(&adj.ID, &adj.Code, &adj.TenantID, &adj.WarehouseID, &reason, &status,
			&adj.Note, &adj.Magnitude, &adj.CreatedBy, &adj.CreatedAt, &adj.UpdatedAt); err != nil {
			return nil, 0, err
		}
		adj.Reason = Reason(reason)
		adj.Status = Status(status)
		items = append(items, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_adjustments (code, tenant_id, warehouse_id, reason, status, note, magnitude, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
RETURNING id`,
		adj.Code, adj.TenantID, adj.WarehouseID, string(adj.Reason), string(adj.Status),
		adj.Note, adj.Magnitude, adj.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_adjustment_lines (adjustment_id, item_id, system_qty, counted_qty, difference_qty, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id`,
		line.AdjustmentID, line.ItemID, line.SystemQty, line.CountedQty, line.DifferenceQty, line.UnitCost).Scan(&id)
	return id, err
}

// TransitionStatus moves the adjustment from one status to another. The WHERE
// clause makes the transition a compare-and-swap: false means the row was not
// in the expected status.
func (r *txRepository) TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_adjustments SET status=$3, updated_at=NOW()
WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
