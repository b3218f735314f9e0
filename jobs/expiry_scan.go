package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// BatchExpiryScanJob reports batches past their expiry date that still carry
// stock, so operators can raise EXPIRED adjustments for them.
type BatchExpiryScanJob struct {
	pool    *pgxpool.Pool
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewBatchExpiryScanJob constructs the job.
func NewBatchExpiryScanJob(pool *pgxpool.Pool, metrics *jobmetrics.Metrics, logger *slog.Logger) *BatchExpiryScanJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchExpiryScanJob{pool: pool, metrics: metrics, logger: logger}
}

// Handle processes one TaskBatchExpiryScan task.
func (j *BatchExpiryScanJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track(TaskBatchExpiryScan)
	count, err := j.scan(ctx)
	tracker.End(err)
	if err != nil {
		return err
	}
	j.metrics.AddExpiredBatches(count)
	j.logger.Info("batch expiry scan finished", slog.Int("expired_with_stock", count))
	return nil
}

func (j *BatchExpiryScanJob) scan(ctx context.Context) (int, error) {
	rows, err := j.pool.Query(ctx, `SELECT batch_number, item_id, warehouse_id, remaining_qty, expiry_date
FROM stock_batches
WHERE expiry_date IS NOT NULL AND expiry_date < NOW() AND remaining_qty > 0
ORDER BY expiry_date ASC`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		var batchNumber string
		var itemID, warehouseID int64
		var remaining decimal.Decimal
		var expiry time.Time
		if err := rows.Scan(&batchNumber, &itemID, &warehouseID, &remaining, &expiry); err != nil {
			return count, err
		}
		count++
		j.logger.Warn("expired batch still holds stock",
			slog.String("batch_number", batchNumber),
			slog.Int64("item_id", itemID),
			slog.Int64("warehouse_id", warehouseID),
			slog.String("remaining_qty", remaining.String()),
			slog.Time("expiry_date", expiry))
	}
	return count, rows.Err()
}

// TaskHandlers returns the handler registrations for the worker.
func (j *BatchExpiryScanJob) TaskHandlers() []TaskHandler {
	return []TaskHandler{{Type: TaskBatchExpiryScan, Handler: j.Handle}}
}
