package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAggregate(ctx context.Context, key AggregateKey) (Aggregate, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, int, error)
	SearchBatches(ctx context.Context, itemID, warehouseID int64) ([]Batch, error)
	GetBatch(ctx context.Context, itemID, warehouseID int64, batchNumber string) (Batch, error)
	HasLedgerReference(ctx context.Context, key AggregateKey, refType ReferenceType, refID, batchNumber string) (bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts applied movements.
type MetricsPort interface {
	MovementApplied(direction string)
}

// Service is the movement engine. Every mutation of aggregate, batches and
// ledger goes through ApplyMovement inside a single transaction.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	cache   *SnapshotCache
	metrics MetricsPort
	logger  *slog.Logger
	group   singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cache *SnapshotCache, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cache: cache, metrics: metrics, logger: logger}
}

// ApplyMovement applies one IN/OUT movement atomically across the aggregate,
// the batches it touches and the ledger. Any failure rolls back all writes.
func (s *Service) ApplyMovement(ctx context.Context, input MovementInput) (MovementResult, error) {
	if !input.Quantity.IsPositive() {
		return MovementResult{}, ErrInvalidQuantity
	}
	if input.TenantID == 0 || input.ItemID == 0 || input.WarehouseID == 0 {
		return MovementResult{}, errors.New("stock: tenant, item and warehouse required")
	}
	if input.Direction != DirectionIn && input.Direction != DirectionOut {
		return MovementResult{}, fmt.Errorf("stock: unknown direction %q", input.Direction)
	}
	if input.ReferenceType == "" {
		return MovementResult{}, errors.New("stock: reference type required")
	}

	key := AggregateKey{TenantID: input.TenantID, ItemID: input.ItemID, WarehouseID: input.WarehouseID}
	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		agg, err := tx.GetAggregateForUpdate(ctx, key)
		if err != nil && !errors.Is(err, ErrAggregateNotFound) {
			return err
		}
		if errors.Is(err, ErrAggregateNotFound) {
			agg = Aggregate{TenantID: key.TenantID, ItemID: key.ItemID, WarehouseID: key.WarehouseID}
		}
		switch input.Direction {
		case DirectionIn:
			result, err = s.applyInbound(ctx, tx, agg, input)
		case DirectionOut:
			result, err = s.applyOutbound(ctx, tx, agg, input)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDataInconsistency) {
			s.logger.Error("stock data inconsistency detected",
				slog.Int64("tenant_id", input.TenantID),
				slog.Int64("item_id", input.ItemID),
				slog.Int64("warehouse_id", input.WarehouseID),
				slog.String("quantity", input.Quantity.String()))
		}
		return MovementResult{}, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, key); err != nil {
			s.logger.Warn("invalidate aggregate snapshot", slog.Any("error", err))
		}
	}
	if s.metrics != nil {
		s.metrics.MovementApplied(string(input.Direction))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("stock:%s", input.Direction),
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%s:%s", input.ReferenceType, input.ReferenceID),
			Meta: map[string]any{
				"tenant_id":    input.TenantID,
				"item_id":      input.ItemID,
				"warehouse_id": input.WarehouseID,
				"qty":          input.Quantity.String(),
				"batch_ref":    result.BatchRef,
			},
		})
	}
	return result, nil
}

func (s *Service) applyInbound(ctx context.Context, tx TxRepository, agg Aggregate, input MovementInput) (MovementResult, error) {
	before := agg.ClosingQty
	if input.UnitPrice.IsPositive() {
		total := agg.AverageCost.Mul(agg.ClosingQty).Add(input.UnitPrice.Mul(input.Quantity))
		agg.AverageCost = total.Div(agg.ClosingQty.Add(input.Quantity)).Round(2)
	}
	agg.InQty = agg.InQty.Add(input.Quantity)
	agg.ClosingQty = agg.ClosingQty.Add(input.Quantity)
	agg.StockValue = agg.AverageCost.Mul(agg.ClosingQty).Round(2)
	if err := tx.UpsertAggregate(ctx, agg); err != nil {
		return MovementResult{}, err
	}
	entry := LedgerEntry{
		TenantID:      input.TenantID,
		ItemID:        input.ItemID,
		WarehouseID:   input.WarehouseID,
		TxType:        DirectionIn,
		Quantity:      input.Quantity,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		BeforeQty:     before,
		AfterQty:      agg.ClosingQty,
		UnitPrice:     input.UnitPrice,
		TotalValue:    input.Quantity.Mul(input.UnitPrice).Round(2),
		BatchNumber:   input.BatchNumber,
	}
	id, err := tx.InsertLedgerEntry(ctx, entry)
	if err != nil {
		return MovementResult{}, err
	}
	return MovementResult{LedgerEntryIDs: []int64{id}, BatchRef: input.BatchNumber, Aggregate: agg}, nil
}

func (s *Service) applyOutbound(ctx context.Context, tx TxRepository, agg Aggregate, input MovementInput) (MovementResult, error) {
	if agg.ClosingQty.LessThan(input.Quantity) {
		return MovementResult{}, fmt.Errorf("%w: requested %s, available %s",
			ErrInsufficientStock, input.Quantity.String(), agg.ClosingQty.String())
	}

	var allocations []Allocation
	if input.BatchNumber != "" {
		batch, err := tx.GetBatchForUpdate(ctx, input.ItemID, input.WarehouseID, input.BatchNumber)
		if err != nil {
			return MovementResult{}, err
		}
		if batch.RemainingQty.LessThan(input.Quantity) {
			return MovementResult{}, fmt.Errorf("%w: batch %s holds %s, requested %s",
				ErrInsufficientBatchStock, batch.BatchNumber, batch.RemainingQty.String(), input.Quantity.String())
		}
		allocations = []Allocation{{Batch: batch, Qty: input.Quantity}}
	} else {
		batches, err := tx.ListBatchesForUpdate(ctx, input.ItemID, input.WarehouseID)
		if err != nil {
			return MovementResult{}, err
		}
		var shortfall decimal.Decimal
		allocations, shortfall = AllocateFIFO(input.Quantity, batches)
		if shortfall.IsPositive() {
			return MovementResult{}, fmt.Errorf("%w: %s short of requested %s",
				ErrDataInconsistency, shortfall.String(), input.Quantity.String())
		}
	}

	before := agg.ClosingQty
	agg.OutQty = agg.OutQty.Add(input.Quantity)
	agg.ClosingQty = agg.ClosingQty.Sub(input.Quantity)
	agg.StockValue = agg.AverageCost.Mul(agg.ClosingQty).Round(2)
	if err := tx.UpsertAggregate(ctx, agg); err != nil {
		return MovementResult{}, err
	}

	// One ledger row per batch touched, priced at that batch's own cost, so a
	// sale spanning multiple batches keeps batch-level cost accuracy.
	running := before
	ids := make([]int64, 0, len(allocations))
	refs := make([]string, 0, len(allocations))
	for _, alloc := range allocations {
		remaining := alloc.Batch.RemainingQty.Sub(alloc.Qty)
		if err := tx.UpdateBatchRemaining(ctx, alloc.Batch.ID, remaining); err != nil {
			return MovementResult{}, err
		}
		entry := LedgerEntry{
			TenantID:      input.TenantID,
			ItemID:        input.ItemID,
			WarehouseID:   input.WarehouseID,
			TxType:        DirectionOut,
			Quantity:      alloc.Qty,
			ReferenceType: input.ReferenceType,
			ReferenceID:   input.ReferenceID,
			BeforeQty:     running,
			AfterQty:      running.Sub(alloc.Qty),
			UnitPrice:     alloc.Batch.BuyPrice,
			TotalValue:    alloc.Qty.Mul(alloc.Batch.BuyPrice).Round(2),
			BatchNumber:   alloc.Batch.BatchNumber,
		}
		id, err := tx.InsertLedgerEntry(ctx, entry)
		if err != nil {
			return MovementResult{}, err
		}
		ids = append(ids, id)
		refs = append(refs, fmt.Sprintf("%s:%s", alloc.Batch.BatchNumber, alloc.Qty.String()))
		running = running.Sub(alloc.Qty)
	}
	return MovementResult{LedgerEntryIDs: ids, BatchRef: strings.Join(refs, "|"), Aggregate: agg}, nil
}

// CreateBatch registers a purchased lot. Receipt posting calls this alongside
// the matching IN movement.
func (s *Service) CreateBatch(ctx context.Context, input BatchInput) (Batch, error) {
	if !input.Quantity.IsPositive() {
		return Batch{}, ErrInvalidQuantity
	}
	if input.ItemID == 0 || input.WarehouseID == 0 {
		return Batch{}, errors.New("stock: item and warehouse required")
	}
	if input.BatchNumber == "" {
		return Batch{}, errors.New("stock: batch number required")
	}
	if input.BuyPrice.IsNegative() {
		return Batch{}, errors.New("stock: buy price must be >= 0")
	}
	batch := Batch{
		ItemID:       input.ItemID,
		WarehouseID:  input.WarehouseID,
		BatchNumber:  input.BatchNumber,
		InitialQty:   input.Quantity,
		RemainingQty: input.Quantity,
		BuyPrice:     input.BuyPrice,
		ExpiryDate:   input.ExpiryDate,
		ReceiptRef:   input.ReceiptRef,
	}
	var created Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		created = batch
		created.ID = id
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	return created, nil
}

// GetAggregate returns the current snapshot for a key. Missing keys resolve to
// a zeroed aggregate, matching the lazy creation on first movement. Reads go
// through the Redis snapshot cache and are collapsed per key in flight.
func (s *Service) GetAggregate(ctx context.Context, key AggregateKey) (Aggregate, error) {
	if key.TenantID == 0 || key.ItemID == 0 || key.WarehouseID == 0 {
		return Aggregate{}, errors.New("stock: tenant, item and warehouse required")
	}
	load := func(ctx context.Context) (Aggregate, error) {
		agg, err := s.repo.GetAggregate(ctx, key)
		if errors.Is(err, ErrAggregateNotFound) {
			return Aggregate{TenantID: key.TenantID, ItemID: key.ItemID, WarehouseID: key.WarehouseID}, nil
		}
		return agg, err
	}
	if s.cache == nil {
		return load(ctx)
	}
	v, err, _ := s.group.Do(snapshotKey(key), func() (any, error) {
		var agg Aggregate
		if err := s.cache.Fetch(ctx, key, &agg, load); err != nil {
			return Aggregate{}, err
		}
		return agg, nil
	})
	if err != nil {
		return Aggregate{}, err
	}
	return v.(Aggregate), nil
}

// ListLedger lists ledger history for a tenant, optionally narrowed to one
// item/warehouse key, newest first.
func (s *Service) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, shared.Pagination, error) {
	if filter.TenantID == 0 {
		return nil, shared.Pagination{}, errors.New("stock: tenant required")
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	entries, total, err := s.repo.ListLedger(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// SearchBatches returns open batches for an item/warehouse ordered by expiry
// then batch number.
func (s *Service) SearchBatches(ctx context.Context, itemID, warehouseID int64) ([]Batch, error) {
	if itemID == 0 || warehouseID == 0 {
		return nil, errors.New("stock: item and warehouse required")
	}
	return s.repo.SearchBatches(ctx, itemID, warehouseID)
}

// FindBatch returns one batch by its number, including fully consumed ones.
func (s *Service) FindBatch(ctx context.Context, itemID, warehouseID int64, batchNumber string) (Batch, error) {
	if itemID == 0 || warehouseID == 0 {
		return Batch{}, errors.New("stock: item and warehouse required")
	}
	if batchNumber == "" {
		return Batch{}, errors.New("stock: batch number required")
	}
	return s.repo.GetBatch(ctx, itemID, warehouseID, batchNumber)
}

// MovementRecorded reports whether a movement for the given reference already
// hit the ledger for this key. The ledger row commits in the same transaction
// as the movement itself, so document workflows use this to resume after a
// partial failure without applying the same movement twice. An empty
// batchNumber matches any row for the reference.
func (s *Service) MovementRecorded(ctx context.Context, key AggregateKey, refType ReferenceType, refID, batchNumber string) (bool, error) {
	if key.TenantID == 0 || key.ItemID == 0 || key.WarehouseID == 0 {
		return false, errors.New("stock: tenant, item and warehouse required")
	}
	if refType == "" || refID == "" {
		return false, errors.New("stock: reference required")
	}
	return s.repo.HasLedgerReference(ctx, key, refType, refID, batchNumber)
}
