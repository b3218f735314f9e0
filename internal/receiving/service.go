package receiving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Create(ctx context.Context, receipt Receipt) (Receipt, error)
	Get(ctx context.Context, id int64) (Receipt, error)
	MarkPosted(ctx context.Context, id int64) (bool, error)
}

// StockPort is the slice of the movement engine receipt posting needs.
type StockPort interface {
	CreateBatch(ctx context.Context, input stock.BatchInput) (stock.Batch, error)
	ApplyMovement(ctx context.Context, input stock.MovementInput) (stock.MovementResult, error)
	FindBatch(ctx context.Context, itemID, warehouseID int64, batchNumber string) (stock.Batch, error)
	MovementRecorded(ctx context.Context, key stock.AggregateKey, refType stock.ReferenceType, refID, batchNumber string) (bool, error)
}

// IdempotencyPort guards posting against re-delivery.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages goods receipts. Posting feeds the movement engine: one
// batch plus one priced IN movement per line, so average cost picks up the
// purchase price.
type Service struct {
	repo   RepositoryPort
	stock  StockPort
	idem   IdempotencyPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, stockPort StockPort, idem IdempotencyPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stockPort, idem: idem, audit: audit, logger: logger}
}

// Create validates and stores a draft receipt.
func (s *Service) Create(ctx context.Context, input CreateInput) (Receipt, error) {
	if input.TenantID == 0 || input.WarehouseID == 0 {
		return Receipt{}, errors.New("receiving: tenant and warehouse required")
	}
	if len(input.Lines) == 0 {
		return Receipt{}, errors.New("receiving: at least one line required")
	}
	receipt := Receipt{
		Code:        fmt.Sprintf("GRN-%s", strings.ToUpper(uuid.NewString()[:8])),
		TenantID:    input.TenantID,
		WarehouseID: input.WarehouseID,
		SupplierRef: input.SupplierRef,
		Status:      StatusDraft,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
	}
	seen := make(map[string]bool, len(input.Lines))
	for _, li := range input.Lines {
		if li.ItemID == 0 {
			return Receipt{}, errors.New("receiving: line item required")
		}
		if !li.Quantity.IsPositive() {
			return Receipt{}, errors.New("receiving: line quantity must be positive")
		}
		if li.BuyPrice.IsNegative() {
			return Receipt{}, errors.New("receiving: line buy price must be >= 0")
		}
		if li.BatchNumber == "" {
			return Receipt{}, errors.New("receiving: line batch number required")
		}
		lineKey := fmt.Sprintf("%d/%s", li.ItemID, li.BatchNumber)
		if seen[lineKey] {
			return Receipt{}, fmt.Errorf("receiving: duplicate line for item %d batch %s", li.ItemID, li.BatchNumber)
		}
		seen[lineKey] = true
		receipt.Lines = append(receipt.Lines, Line{
			ItemID:      li.ItemID,
			BatchNumber: li.BatchNumber,
			Quantity:    li.Quantity,
			BuyPrice:    li.BuyPrice,
			ExpiryDate:  li.ExpiryDate,
		})
	}
	created, err := s.repo.Create(ctx, receipt)
	if err != nil {
		return Receipt{}, err
	}
	s.logger.Info("receipt created",
		slog.String("code", created.Code),
		slog.Int("lines", len(created.Lines)))
	return created, nil
}

// Get returns one receipt with lines.
func (s *Service) Get(ctx context.Context, id int64) (Receipt, error) {
	return s.repo.Get(ctx, id)
}

// Post applies the receipt to stock. Posting is resumable: each line checks
// the ledger before moving anything, and a batch left over from a failed
// attempt (matched by this receipt's code) is reused rather than treated as a
// conflict. A receipt that failed halfway can therefore be posted again and
// finishes exactly what is missing.
func (s *Service) Post(ctx context.Context, id, actorID int64) (Receipt, error) {
	receipt, err := s.repo.Get(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if receipt.Status == StatusPosted {
		return Receipt{}, ErrAlreadyPosted
	}

	idemKey := fmt.Sprintf("receiving:post:%s", receipt.Code)
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idemKey, "receiving"); err != nil {
			if !errors.Is(err, shared.ErrIdempotencyConflict) {
				return Receipt{}, err
			}
			// Key survived a crashed attempt; the receipt is still DRAFT, so
			// carry on and let the per-line checks skip the finished work.
			s.logger.Warn("resuming interrupted receipt posting", slog.String("code", receipt.Code))
		}
	}

	release := func() {
		if s.idem != nil {
			if err := s.idem.Delete(ctx, idemKey); err != nil {
				s.logger.Warn("release idempotency key", slog.String("key", idemKey), slog.Any("error", err))
			}
		}
	}

	for _, line := range receipt.Lines {
		key := stock.AggregateKey{TenantID: receipt.TenantID, ItemID: line.ItemID, WarehouseID: receipt.WarehouseID}
		done, err := s.stock.MovementRecorded(ctx, key, stock.ReferenceReceipt, receipt.Code, line.BatchNumber)
		if err != nil {
			release()
			return Receipt{}, fmt.Errorf("receiving: post %s batch %s: %w", receipt.Code, line.BatchNumber, err)
		}
		if done {
			continue
		}
		if _, err := s.stock.CreateBatch(ctx, stock.BatchInput{
			ItemID:      line.ItemID,
			WarehouseID: receipt.WarehouseID,
			BatchNumber: line.BatchNumber,
			Quantity:    line.Quantity,
			BuyPrice:    line.BuyPrice,
			ExpiryDate:  line.ExpiryDate,
			ReceiptRef:  receipt.Code,
		}); err != nil {
			if !errors.Is(err, stock.ErrDuplicateBatch) {
				release()
				return Receipt{}, fmt.Errorf("receiving: post %s batch %s: %w", receipt.Code, line.BatchNumber, err)
			}
			existing, ferr := s.stock.FindBatch(ctx, line.ItemID, receipt.WarehouseID, line.BatchNumber)
			if ferr != nil {
				release()
				return Receipt{}, fmt.Errorf("receiving: post %s batch %s: %w", receipt.Code, line.BatchNumber, ferr)
			}
			if existing.ReceiptRef != receipt.Code {
				release()
				return Receipt{}, fmt.Errorf("receiving: post %s batch %s: %w", receipt.Code, line.BatchNumber, err)
			}
			// Batch was created by an earlier attempt that died before its
			// movement landed; fall through and post the movement.
		}
		if _, err := s.stock.ApplyMovement(ctx, stock.MovementInput{
			TenantID:      receipt.TenantID,
			ItemID:        line.ItemID,
			WarehouseID:   receipt.WarehouseID,
			Quantity:      line.Quantity,
			Direction:     stock.DirectionIn,
			UnitPrice:     line.BuyPrice,
			BatchNumber:   line.BatchNumber,
			ReferenceType: stock.ReferenceReceipt,
			ReferenceID:   receipt.Code,
			ActorID:       actorID,
		}); err != nil {
			release()
			return Receipt{}, fmt.Errorf("receiving: post %s line item %d: %w", receipt.Code, line.ItemID, err)
		}
	}

	moved, err := s.repo.MarkPosted(ctx, receipt.ID)
	if err != nil {
		return Receipt{}, err
	}
	if !moved {
		return Receipt{}, ErrAlreadyPosted
	}
	receipt.Status = StatusPosted

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "receiving:post",
			Entity:   "goods_receipt",
			EntityID: receipt.Code,
			Meta:     map[string]any{"lines": len(receipt.Lines)},
		})
	}
	s.logger.Info("receipt posted", slog.String("code", receipt.Code))
	return receipt, nil
}
