package stock

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	nextID     int64
	createdSeq time.Time
	aggregates map[AggregateKey]Aggregate
	batches    []Batch
	ledger     []LedgerEntry
}

func newMemRepo() *memRepo {
	return &memRepo{
		createdSeq: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		aggregates: make(map[AggregateKey]Aggregate),
	}
}

// WithTx snapshots state up front and restores it when fn fails, mirroring a
// database rollback.
func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	backupAgg := make(map[AggregateKey]Aggregate, len(m.aggregates))
	for k, v := range m.aggregates {
		backupAgg[k] = v
	}
	backupBatches := append([]Batch(nil), m.batches...)
	backupLedger := append([]LedgerEntry(nil), m.ledger...)
	if err := fn(ctx, m); err != nil {
		m.aggregates = backupAgg
		m.batches = backupBatches
		m.ledger = backupLedger
		return err
	}
	return nil
}

func (m *memRepo) GetAggregate(_ context.Context, key AggregateKey) (Aggregate, error) {
	agg, ok := m.aggregates[key]
	if !ok {
		return Aggregate{}, ErrAggregateNotFound
	}
	return agg, nil
}

func (m *memRepo) ListLedger(_ context.Context, filter LedgerFilter) ([]LedgerEntry, int, error) {
	var entries []LedgerEntry
	for _, e := range m.ledger {
		if e.TenantID == filter.TenantID {
			entries = append(entries, e)
		}
	}
	return entries, len(entries), nil
}

func (m *memRepo) SearchBatches(_ context.Context, itemID, warehouseID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.ItemID == itemID && b.WarehouseID == warehouseID && b.RemainingQty.IsPositive() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepo) GetBatch(ctx context.Context, itemID, warehouseID int64, batchNumber string) (Batch, error) {
	return m.GetBatchForUpdate(ctx, itemID, warehouseID, batchNumber)
}

func (m *memRepo) HasLedgerReference(_ context.Context, key AggregateKey, refType ReferenceType, refID, batchNumber string) (bool, error) {
	for _, e := range m.ledger {
		if e.TenantID != key.TenantID || e.ItemID != key.ItemID || e.WarehouseID != key.WarehouseID {
			continue
		}
		if e.ReferenceType != refType || e.ReferenceID != refID {
			continue
		}
		if batchNumber != "" && e.BatchNumber != batchNumber {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (m *memRepo) GetAggregateForUpdate(ctx context.Context, key AggregateKey) (Aggregate, error) {
	return m.GetAggregate(ctx, key)
}

func (m *memRepo) UpsertAggregate(_ context.Context, agg Aggregate) error {
	if agg.ID == 0 {
		m.nextID++
		agg.ID = m.nextID
	}
	m.aggregates[agg.Key()] = agg
	return nil
}

func (m *memRepo) GetBatchForUpdate(_ context.Context, itemID, warehouseID int64, batchNumber string) (Batch, error) {
	for _, b := range m.batches {
		if b.ItemID == itemID && b.WarehouseID == warehouseID && b.BatchNumber == batchNumber {
			return b, nil
		}
	}
	return Batch{}, ErrBatchNotFound
}

func (m *memRepo) ListBatchesForUpdate(_ context.Context, itemID, warehouseID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.ItemID == itemID && b.WarehouseID == warehouseID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memRepo) UpdateBatchRemaining(_ context.Context, batchID int64, remaining decimal.Decimal) error {
	for i := range m.batches {
		if m.batches[i].ID == batchID {
			m.batches[i].RemainingQty = remaining
			return nil
		}
	}
	return ErrBatchNotFound
}

func (m *memRepo) InsertBatch(_ context.Context, batch Batch) (int64, error) {
	for _, b := range m.batches {
		if b.ItemID == batch.ItemID && b.WarehouseID == batch.WarehouseID && b.BatchNumber == batch.BatchNumber {
			return 0, ErrDuplicateBatch
		}
	}
	m.nextID++
	batch.ID = m.nextID
	m.createdSeq = m.createdSeq.Add(time.Minute)
	batch.CreatedAt = m.createdSeq
	m.batches = append(m.batches, batch)
	return batch.ID, nil
}

func (m *memRepo) InsertLedgerEntry(_ context.Context, entry LedgerEntry) (int64, error) {
	m.nextID++
	entry.ID = m.nextID
	m.ledger = append(m.ledger, entry)
	return entry.ID, nil
}

func (m *memRepo) batchByNumber(t *testing.T, number string) Batch {
	t.Helper()
	for _, b := range m.batches {
		if b.BatchNumber == number {
			return b
		}
	}
	t.Fatalf("batch %s not found", number)
	return Batch{}
}

var testKey = AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}

func newTestService(t *testing.T) (*Service, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	return NewService(repo, nil, nil, nil, slog.Default()), repo
}

func receiveBatch(t *testing.T, svc *Service, number string, qty, price int64) {
	t.Helper()
	_, err := svc.CreateBatch(context.Background(), BatchInput{
		ItemID:      testKey.ItemID,
		WarehouseID: testKey.WarehouseID,
		BatchNumber: number,
		Quantity:    decimal.NewFromInt(qty),
		BuyPrice:    decimal.NewFromInt(price),
	})
	require.NoError(t, err)
	_, err = svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      testKey.TenantID,
		ItemID:        testKey.ItemID,
		WarehouseID:   testKey.WarehouseID,
		Quantity:      decimal.NewFromInt(qty),
		Direction:     DirectionIn,
		UnitPrice:     decimal.NewFromInt(price),
		BatchNumber:   number,
		ReferenceType: ReferenceReceipt,
		ReferenceID:   "GRN-1",
	})
	require.NoError(t, err)
}

func TestWeightedAverageAndFIFOSale(t *testing.T) {
	svc, repo := newTestService(t)
	receiveBatch(t, svc, "BN-001", 100, 10)
	receiveBatch(t, svc, "BN-002", 50, 14)

	agg, err := svc.GetAggregate(context.Background(), testKey)
	require.NoError(t, err)
	require.Equal(t, "150", agg.ClosingQty.String())
	require.Equal(t, "11.33", agg.AverageCost.StringFixed(2))
	require.Equal(t, "1699.50", agg.StockValue.StringFixed(2))

	result, err := svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      testKey.TenantID,
		ItemID:        testKey.ItemID,
		WarehouseID:   testKey.WarehouseID,
		Quantity:      decimal.NewFromInt(120),
		Direction:     DirectionOut,
		ReferenceType: ReferenceSale,
		ReferenceID:   "SO-9",
	})
	require.NoError(t, err)
	require.Equal(t, "30", result.Aggregate.ClosingQty.String())
	require.Equal(t, "11.33", result.Aggregate.AverageCost.StringFixed(2))
	require.Equal(t, "339.90", result.Aggregate.StockValue.StringFixed(2))
	require.Equal(t, "BN-001:100|BN-002:20", result.BatchRef)
	require.Len(t, result.LedgerEntryIDs, 2)

	require.Equal(t, "0", repo.batchByNumber(t, "BN-001").RemainingQty.String())
	require.Equal(t, "30", repo.batchByNumber(t, "BN-002").RemainingQty.String())

	// The sale wrote one row per consumed batch, priced at each batch's cost.
	out := repo.ledger[len(repo.ledger)-2:]
	require.Equal(t, "100", out[0].Quantity.String())
	require.Equal(t, "10", out[0].UnitPrice.String())
	require.Equal(t, "150", out[0].BeforeQty.String())
	require.Equal(t, "50", out[0].AfterQty.String())
	require.Equal(t, "20", out[1].Quantity.String())
	require.Equal(t, "14", out[1].UnitPrice.String())
	require.Equal(t, "50", out[1].BeforeQty.String())
	require.Equal(t, "30", out[1].AfterQty.String())
}

func TestLedgerChainIsContiguous(t *testing.T) {
	svc, repo := newTestService(t)
	receiveBatch(t, svc, "BN-001", 100, 10)
	receiveBatch(t, svc, "BN-002", 50, 14)

	_, err := svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      testKey.TenantID,
		ItemID:        testKey.ItemID,
		WarehouseID:   testKey.WarehouseID,
		Quantity:      decimal.NewFromInt(120),
		Direction:     DirectionOut,
		ReferenceType: ReferenceSale,
		ReferenceID:   "SO-9",
	})
	require.NoError(t, err)

	for i := 1; i < len(repo.ledger); i++ {
		require.True(t, repo.ledger[i].BeforeQty.Equal(repo.ledger[i-1].AfterQty),
			"row %d before_qty must equal row %d after_qty", i, i-1)
	}
	agg := repo.aggregates[testKey]
	require.True(t, agg.ClosingQty.Equal(agg.OpeningQty.Add(agg.InQty).Sub(agg.OutQty)))
}

func TestOutboundInsufficientStockWritesNothing(t *testing.T) {
	svc, repo := newTestService(t)
	receiveBatch(t, svc, "BN-001", 100, 10)
	before := repo.aggregates[testKey]
	ledgerBefore := len(repo.ledger)

	_, err := svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      testKey.TenantID,
		ItemID:        testKey.ItemID,
		WarehouseID:   testKey.WarehouseID,
		Quantity:      decimal.NewFromInt(200),
		Direction:     DirectionOut,
		ReferenceType: ReferenceSale,
		ReferenceID:   "SO-9",
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, before, repo.aggregates[testKey])
	require.Len(t, repo.ledger, ledgerBefore)
	require.Equal(t, "100", repo.batchByNumber(t, "BN-001").RemainingQty.String())
}

func TestOutboundNamedBatch(t *testing.T) {
	svc, repo := newTestService(t)
	receiveBatch(t, svc, "BN-001", 100, 10)
	receiveBatch(t, svc, "BN-002", 50, 14)

	result, err := svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      testKey.TenantID,
		ItemID:        testKey.ItemID,
		WarehouseID:   testKey.WarehouseID,
		Quantity:      decimal.NewFromInt(30),
		Direction:     DirectionOut,
		BatchNumber:   "BN-002",
		ReferenceType: ReferenceSale,
		ReferenceID:   "SO-10",
	})
	require.NoError(t, err)
	require.Equal(t, "BN-002:30", result.BatchRef)
	require.Equal(t, "20", repo.batchByNumber(t, "BN-002").RemainingQty.String())
	require.Equal(t, "100", repo.batchByNumber(t, "BN-001").RemainingQty.String(), "older batch untouched when one is named")

	_, err = svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      testKey.TenantID,
		ItemID:        testKey.ItemID,
		WarehouseID:   testKey.WarehouseID,
		Quantity:      decimal.NewFromInt(25),
		Direction:     DirectionOut,
		BatchNumber:   "BN-002",
		ReferenceType: ReferenceSale,
		ReferenceID:   "SO-11",
	})
	require.ErrorIs(t, err, ErrInsufficientBatchStock)
}

func TestOutboundUnknownBatch(t *testing.T) {
	svc, _ := newTestService(t)
	receiveBatch(t, svc, "BN-001", 100, 10)

	_, err := svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      testKey.TenantID,
		ItemID:        testKey.ItemID,
		WarehouseID:   testKey.WarehouseID,
		Quantity:      decimal.NewFromInt(1),
		Direction:     DirectionOut,
		BatchNumber:   "BN-404",
		ReferenceType: ReferenceSale,
		ReferenceID:   "SO-12",
	})
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestOutboundDetectsAggregateBatchDrift(t *testing.T) {
	svc, repo := newTestService(t)
	receiveBatch(t, svc, "BN-001", 100, 10)
	// Simulate drift: aggregate says more than the batches can supply.
	agg := repo.aggregates[testKey]
	agg.ClosingQty = decimal.NewFromInt(150)
	repo.aggregates[testKey] = agg
	ledgerBefore := len(repo.ledger)

	_, err := svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      testKey.TenantID,
		ItemID:        testKey.ItemID,
		WarehouseID:   testKey.WarehouseID,
		Quantity:      decimal.NewFromInt(120),
		Direction:     DirectionOut,
		ReferenceType: ReferenceSale,
		ReferenceID:   "SO-13",
	})
	require.ErrorIs(t, err, ErrDataInconsistency)
	require.Len(t, repo.ledger, ledgerBefore)
	require.Equal(t, "100", repo.batchByNumber(t, "BN-001").RemainingQty.String())
}

func TestInvalidMovementInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      1,
		ItemID:        10,
		WarehouseID:   5,
		Quantity:      decimal.Zero,
		Direction:     DirectionIn,
		ReferenceType: ReferenceReceipt,
		ReferenceID:   "GRN-1",
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      1,
		ItemID:        10,
		WarehouseID:   5,
		Quantity:      decimal.NewFromInt(-3),
		Direction:     DirectionOut,
		ReferenceType: ReferenceSale,
		ReferenceID:   "SO-1",
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      1,
		ItemID:        10,
		WarehouseID:   5,
		Quantity:      decimal.NewFromInt(3),
		Direction:     Direction("SIDEWAYS"),
		ReferenceType: ReferenceSale,
		ReferenceID:   "SO-1",
	})
	require.Error(t, err)
}

func TestInboundWithoutPriceKeepsAverage(t *testing.T) {
	svc, _ := newTestService(t)
	receiveBatch(t, svc, "BN-001", 100, 10)

	// A return carries no purchase price; the blended cost must not move.
	result, err := svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      testKey.TenantID,
		ItemID:        testKey.ItemID,
		WarehouseID:   testKey.WarehouseID,
		Quantity:      decimal.NewFromInt(5),
		Direction:     DirectionIn,
		ReferenceType: ReferenceReturn,
		ReferenceID:   "RET-1",
	})
	require.NoError(t, err)
	require.Equal(t, "10", result.Aggregate.AverageCost.String())
	require.Equal(t, "105", result.Aggregate.ClosingQty.String())
	require.Equal(t, "1050.00", result.Aggregate.StockValue.StringFixed(2))
}

func TestMovementRecordedMatchesLedgerReference(t *testing.T) {
	svc, _ := newTestService(t)
	receiveBatch(t, svc, "BN-001", 100, 10)

	done, err := svc.MovementRecorded(context.Background(), testKey, ReferenceReceipt, "GRN-1", "BN-001")
	require.NoError(t, err)
	require.True(t, done)

	done, err = svc.MovementRecorded(context.Background(), testKey, ReferenceReceipt, "GRN-1", "BN-404")
	require.NoError(t, err)
	require.False(t, done)

	done, err = svc.MovementRecorded(context.Background(), testKey, ReferenceReceipt, "GRN-2", "")
	require.NoError(t, err)
	require.False(t, done)
}

func TestFindBatchIncludesConsumedBatches(t *testing.T) {
	svc, _ := newTestService(t)
	receiveBatch(t, svc, "BN-001", 100, 10)

	_, err := svc.ApplyMovement(context.Background(), MovementInput{
		TenantID:      testKey.TenantID,
		ItemID:        testKey.ItemID,
		WarehouseID:   testKey.WarehouseID,
		Quantity:      decimal.NewFromInt(100),
		Direction:     DirectionOut,
		ReferenceType: ReferenceSale,
		ReferenceID:   "SO-20",
	})
	require.NoError(t, err)

	open, err := svc.SearchBatches(context.Background(), testKey.ItemID, testKey.WarehouseID)
	require.NoError(t, err)
	require.Empty(t, open)

	batch, err := svc.FindBatch(context.Background(), testKey.ItemID, testKey.WarehouseID, "BN-001")
	require.NoError(t, err)
	require.Equal(t, "0", batch.RemainingQty.String())
}

func TestCreateBatchRejectsDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	receiveBatch(t, svc, "BN-001", 100, 10)

	_, err := svc.CreateBatch(context.Background(), BatchInput{
		ItemID:      testKey.ItemID,
		WarehouseID: testKey.WarehouseID,
		BatchNumber: "BN-001",
		Quantity:    decimal.NewFromInt(10),
		BuyPrice:    decimal.NewFromInt(9),
	})
	require.ErrorIs(t, err, ErrDuplicateBatch)
}
