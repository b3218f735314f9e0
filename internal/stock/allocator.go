package stock

import "github.com/shopspring/decimal"

// Allocation records the quantity taken from one batch.
type Allocation struct {
	Batch Batch
	Qty   decimal.Decimal
}

// AllocateFIFO greedily consumes batches in the given order (ascending
// creation time) until the target is met. Batches with nothing remaining are
// skipped. The second return value is the unfilled remainder; zero means the
// target was fully allocated. The input slice is not modified.
func AllocateFIFO(target decimal.Decimal, batches []Batch) ([]Allocation, decimal.Decimal) {
	remaining := target
	var allocations []Allocation
	for _, batch := range batches {
		if !remaining.IsPositive() {
			break
		}
		if !batch.RemainingQty.IsPositive() {
			continue
		}
		take := decimal.Min(batch.RemainingQty, remaining)
		allocations = append(allocations, Allocation{Batch: batch, Qty: take})
		remaining = remaining.Sub(take)
	}
	return allocations, remaining
}
