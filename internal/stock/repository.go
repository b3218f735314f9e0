package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetAggregateForUpdate(ctx context.Context, key AggregateKey) (Aggregate, error)
	UpsertAggregate(ctx context.Context, agg Aggregate) error
	GetBatchForUpdate(ctx context.Context, itemID, warehouseID int64, batchNumber string) (Batch, error)
	ListBatchesForUpdate(ctx context.Context, itemID, warehouseID int64) ([]Batch, error)
	UpdateBatchRemaining(ctx context.Context, batchID int64, remaining decimal.Decimal) error
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// ErrAggregateNotFound indicates a missing aggregate row.
var ErrAggregateNotFound = errors.New("stock aggregate not found")

// WithTx executes the callback inside a repeatable-read transaction. The row
// locks taken by the ForUpdate queries serialize movements per aggregate key
// for the duration of the transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetAggregate loads one aggregate snapshot outside a transaction.
func (r *Repository) GetAggregate(ctx context.Context, key AggregateKey) (Aggregate, error) {
	if r == nil {
		return Aggregate{}, errors.New("stock repository not initialised")
	}
	row := r.pool.QueryRow(ctx, `SELECT id, tenant_id, item_id, warehouse_id, opening_qty, in_qty, out_qty, closing_qty, average_cost, stock_value, updated_at
FROM stock_aggregates WHERE tenant_id=$1 AND item_id=$2 AND warehouse_id=$3`, key.TenantID, key.ItemID, key.WarehouseID)
	return scanAggregate(row)
}

// ListLedger lists ledger rows for a tenant, optionally narrowed to one key,
// newest first, with the total row count for pagination.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int, error) {
	if r == nil {
		return nil, 0, errors.New("stock repository not initialised")
	}
	offset := (filter.Page - 1) * filter.PerPage
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_ledger
WHERE tenant_id=$1 AND ($2::bigint = 0 OR item_id=$2) AND ($3::bigint = 0 OR warehouse_id=$3)`,
		filter.TenantID, filter.ItemID, filter.WarehouseID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, item_id, warehouse_id, tx_type, quantity, reference_type, reference_id, before_qty, after_qty, unit_price, total_value, batch_number, created_at
FROM stock_ledger
WHERE tenant_id=$1 AND ($2::bigint = 0 OR item_id=$2) AND ($3::bigint = 0 OR warehouse_id=$3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`, filter.TenantID, filter.ItemID, filter.WarehouseID, filter.PerPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		var txType, refType string
		var batchNumber *string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ItemID, &e.WarehouseID, &txType, &e.Quantity, &refType, &e.ReferenceID, &e.BeforeQty, &e.AfterQty, &e.UnitPrice, &e.TotalValue, &batchNumber, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.TxType = Direction(txType)
		e.ReferenceType = ReferenceType(refType)
		if batchNumber != nil {
			e.BatchNumber = *batchNumber
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// HasLedgerReference reports whether a ledger row already exists for the
// reference on the given key. An empty batchNumber matches any row.
func (r *Repository) HasLedgerReference(ctx context.Context, key AggregateKey, refType ReferenceType, refID, batchNumber string) (bool, error) {
	if r == nil {
		return false, errors.New("stock repository not initialised")
	}
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM stock_ledger
	WHERE tenant_id=$1 AND item_id=$2 AND warehouse_id=$3
	AND reference_type=$4 AND reference_id=$5
	AND ($6::text = '' OR batch_number=$6))`,
		key.TenantID, key.ItemID, key.WarehouseID, string(refType), refID, batchNumber).Scan(&exists)
	return exists, err
}

// GetBatch loads one batch by number regardless of remaining quantity.
func (r *Repository) GetBatch(ctx context.Context, itemID, warehouseID int64, batchNumber string) (Batch, error) {
	if r == nil {
		return Batch{}, errors.New("stock repository not initialised")
	}
	row := r.pool.QueryRow(ctx, `SELECT id, item_id, warehouse_id, batch_number, initial_qty, remaining_qty, buy_price, expiry_date, receipt_ref, created_at
FROM stock_batches WHERE item_id=$1 AND warehouse_id=$2 AND batch_number=$3`, itemID, warehouseID, batchNumber)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return batch, nil
}

// SearchBatches returns open batches for an item/warehouse ordered by expiry
// then batch number. Batches without expiry sort last.
func (r *Repository) SearchBatches(ctx context.Context, itemID, warehouseID int64) ([]Batch, error) {
	if r == nil {
		return nil, errors.New("stock repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, warehouse_id, batch_number, initial_qty, remaining_qty, buy_price, expiry_date, receipt_ref, created_at
FROM stock_batches
WHERE item_id=$1 AND warehouse_id=$2 AND remaining_qty > 0
ORDER BY expiry_date ASC NULLS LAST, batch_number ASC`, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (r *txRepository) GetAggregateForUpdate(ctx context.Context, key AggregateKey) (Aggregate, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, tenant_id, item_id, warehouse_id, opening_qty, in_qty, out_qty, closing_qty, average_cost, stock_value, updated_at
FROM stock_aggregates WHERE tenant_id=$1 AND item_id=$2 AND warehouse_id=$3 FOR UPDATE`, key.TenantID, key.ItemID, key.WarehouseID)
	return scanAggregate(row)
}

func (r *txRepository) UpsertAggregate(ctx context.Context, agg Aggregate) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_aggregates (tenant_id, item_id, warehouse_id, opening_qty, in_qty, out_qty, closing_qty, average_cost, stock_value, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (tenant_id, item_id, warehouse_id) DO UPDATE SET
	opening_qty=EXCLUDED.opening_qty, in_qty=EXCLUDED.in_qty, out_qty=EXCLUDED.out_qty,
	closing_qty=EXCLUDED.closing_qty, average_cost=EXCLUDED.average_cost,
	stock_value=EXCLUDED.stock_value, updated_at=NOW()`,
		agg.TenantID, agg.ItemID, agg.WarehouseID, agg.OpeningQty, agg.InQty, agg.OutQty,
		agg.ClosingQty, agg.AverageCost, agg.StockValue)
	return err
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, itemID, warehouseID int64, batchNumber string) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, item_id, warehouse_id, batch_number, initial_qty, remaining_qty, buy_price, expiry_date, receipt_ref, created_at
FROM stock_batches WHERE item_id=$1 AND warehouse_id=$2 AND batch_number=$3 FOR UPDATE`, itemID, warehouseID, batchNumber)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return batch, nil
}

func (r *txRepository) ListBatchesForUpdate(ctx context.Context, itemID, warehouseID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, item_id, warehouse_id, batch_number, initial_qty, remaining_qty, buy_price, expiry_date, receipt_ref, created_at
FROM stock_batches
WHERE item_id=$1 AND warehouse_id=$2 AND remaining_qty > 0
ORDER BY created_at ASC, id ASC
FOR UPDATE`, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (r *txRepository) UpdateBatchRemaining(ctx context.Context, batchID int64, remaining decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_batches SET remaining_qty=$2 WHERE id=$1`, batchID, remaining)
	return err
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_batches (item_id, warehouse_id, batch_number, initial_qty, remaining_qty, buy_price, expiry_date, receipt_ref, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		batch.ItemID, batch.WarehouseID, batch.BatchNumber, batch.InitialQty, batch.RemainingQty,
		batch.BuyPrice, nullTime(batch.ExpiryDate), batch.ReceiptRef).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateBatch
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (tenant_id, item_id, warehouse_id, tx_type, quantity, reference_type, reference_id, before_qty, after_qty, unit_price, total_value, batch_number, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW()) RETURNING id`,
		entry.TenantID, entry.ItemID, entry.WarehouseID, string(entry.TxType), entry.Quantity,
		string(entry.ReferenceType), entry.ReferenceID, entry.BeforeQty, entry.AfterQty,
		entry.UnitPrice, entry.TotalValue, nullString(entry.BatchNumber)).Scan(&id)
	return id, err
}

func scanAggregate(row pgx.Row) (Aggregate, error) {
	var agg Aggregate
	err := row.Scan(&agg.ID, &agg.TenantID, &agg.ItemID, &agg.WarehouseID, &agg.OpeningQty,
		&agg.InQty, &agg.OutQty, &agg.ClosingQty, &agg.AverageCost, &agg.StockValue, &agg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Aggregate{}, ErrAggregateNotFound
		}
		return Aggregate{}, err
	}
	return agg, nil
}

func scanBatch(row pgx.Row) (Batch, error) {
	var batch Batch
	var expiry *time.Time
	var receiptRef *string
	err := row.Scan(&batch.ID, &batch.ItemID, &batch.WarehouseID, &batch.BatchNumber,
		&batch.InitialQty, &batch.RemainingQty, &batch.BuyPrice, &expiry, &receiptRef, &batch.CreatedAt)
	if err != nil {
		return Batch{}, err
	}
	if expiry != nil {
		batch.ExpiryDate = *expiry
	}
	if receiptRef != nil {
		batch.ReceiptRef = *receiptRef
	}
	return batch, nil
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	batches := []Batch{}
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
