package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads master data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetItem loads one item.
func (r *Repository) GetItem(ctx context.Context, tenantID, id int64) (Item, error) {
	var item Item
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, sku, name, unit, active, created_at
FROM items WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(
		&item.ID, &item.TenantID, &item.SKU, &item.Name, &item.Unit, &item.Active, &item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// ListItems lists active items for a tenant.
func (r *Repository) ListItems(ctx context.Context, tenantID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, sku, name, unit, active, created_at
FROM items WHERE tenant_id=$1 AND active ORDER BY sku ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.TenantID, &item.SKU, &item.Name, &item.Unit, &item.Active, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetWarehouse loads one warehouse.
func (r *Repository) GetWarehouse(ctx context.Context, tenantID, id int64) (Warehouse, error) {
	var wh Warehouse
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, code, name, address, created_at
FROM warehouses WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(
		&wh.ID, &wh.TenantID, &wh.Code, &wh.Name, &wh.Address, &wh.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrWarehouseNotFound
	}
	if err != nil {
		return Warehouse{}, err
	}
	return wh, nil
}

// ListWarehouses lists warehouses for a tenant.
func (r *Repository) ListWarehouses(ctx context.Context, tenantID int64) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, code, name, address, created_at
FROM warehouses WHERE tenant_id=$1 ORDER BY code ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var warehouses []Warehouse
	for rows.Next() {
		var wh Warehouse
		if err := rows.Scan(&wh.ID, &wh.TenantID, &wh.Code, &wh.Name, &wh.Address, &wh.CreatedAt); err != nil {
			return nil, err
		}
		warehouses = append(warehouses, wh)
	}
	return warehouses, rows.Err()
}
