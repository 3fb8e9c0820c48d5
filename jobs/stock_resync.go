package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskStockResync triggers the nightly stock balance reconciliation.
const TaskStockResync = "inventory:stock_resync"

// StockRebuilder recomputes every cached balance from the movement ledger.
type StockRebuilder interface {
	RebuildAll(ctx context.Context) (int, error)
}

// StockResyncPayload carries scheduling metadata.
type StockResyncPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStockResyncTask constructs an Asynq task for stock reconciliation.
func NewStockResyncTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(StockResyncPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockResync, body, asynq.Queue(QueueDefault)), nil
}

// StockResyncJob rebuilds stock item rows from the ledger.
type StockResyncJob struct {
	rebuilder StockRebuilder
	logger    *slog.Logger
}

// NewStockResyncJob constructs a StockResyncJob.
func NewStockResyncJob(rebuilder StockRebuilder, logger *slog.Logger) *StockResyncJob {
	return &StockResyncJob{rebuilder: rebuilder, logger: logger}
}

// Handle processes TaskStockResync tasks.
func (j *StockResyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload StockResyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	start := time.Now()
	count, err := j.rebuilder.RebuildAll(ctx)
	if err != nil {
		j.logger.Error("stock resync", slog.Any("error", err))
		return err
	}
	j.logger.Info("stock resync complete",
		slog.Int("materials", count),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}
