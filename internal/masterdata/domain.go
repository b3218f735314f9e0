// Package masterdata provides read-only lookups for the reference entities the
// stock engine points at. Item and warehouse lifecycles are owned elsewhere.
package masterdata

import (
	"errors"
	"time"
)

// Item is a sellable or stockable product.
type Item struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Warehouse is a physical stock location.
type Warehouse struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrItemNotFound indicates a missing item.
var ErrItemNotFound = errors.New("masterdata: item not found")

// ErrWarehouseNotFound indicates a missing warehouse.
var ErrWarehouseNotFound = errors.New("masterdata: warehouse not found")
