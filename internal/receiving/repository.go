package receiving

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists receipts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the receipt and its lines in one transaction.
func (r *Repository) Create(ctx context.Context, receipt Receipt) (Receipt, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO goods_receipts (code, tenant_id, warehouse_id, supplier_ref, status, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
RETURNING id, created_at`,
			receipt.Code, receipt.TenantID, receipt.WarehouseID, receipt.SupplierRef,
			string(receipt.Status), receipt.Note, receipt.CreatedBy).Scan(&receipt.ID, &receipt.CreatedAt)
		if err != nil {
			return err
		}
		for i := range receipt.Lines {
			receipt.Lines[i].ReceiptID = receipt.ID
			err := tx.QueryRow(ctx, `INSERT INTO goods_receipt_lines (receipt_id, item_id, batch_number, quantity, buy_price, expiry_date)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id`,
				receipt.ID, receipt.Lines[i].ItemID, receipt.Lines[i].BatchNumber,
				receipt.Lines[i].Quantity, receipt.Lines[i].BuyPrice,
				nullTime(receipt.Lines[i].ExpiryDate)).Scan(&receipt.Lines[i].ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// Get loads one receipt with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Receipt, error) {
	var receipt Receipt
	var status string
	err := r.pool.QueryRow(ctx, `SELECT id, code, tenant_id, warehouse_id, supplier_ref, status, note, created_by, created_at, posted_at
FROM goods_receipts WHERE id=$1`, id).Scan(
		&receipt.ID, &receipt.Code, &receipt.TenantID, &receipt.WarehouseID, &receipt.SupplierRef,
		&status, &receipt.Note, &receipt.CreatedBy, &receipt.CreatedAt, &receipt.PostedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	receipt.Status = Status(status)

	rows, err := r.pool.Query(ctx, `SELECT id, receipt_id, item_id, batch_number, quantity, buy_price, expiry_date
FROM goods_receipt_lines WHERE receipt_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Receipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		var expiry *time.Time
		if err := rows.Scan(&line.ID, &line.ReceiptID, &line.ItemID, &line.BatchNumber,
			&line.Quantity, &line.BuyPrice, &expiry); err != nil {
			return Receipt{}, err
		}
		if expiry != nil {
			line.ExpiryDate = *expiry
		}
		receipt.Lines = append(receipt.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// MarkPosted flips the receipt to POSTED once. False means it already was.
func (r *Repository) MarkPosted(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE goods_receipts SET status=$2, posted_at=NOW()
WHERE id=$1 AND status=$3`, id, string(StatusPosted), string(StatusDraft))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
