package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetStockItem(ctx context.Context, materialID int64) (StockItem, error)
	ListStockItems(ctx context.Context) ([]StockItem, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	AllMaterialIDs(ctx context.Context) ([]int64, error)
}

const onHandCacheTTL = 5 * time.Minute

// Service exposes ledger queries plus the reconciliation entrypoint used by
// the background worker. Mutations flow exclusively through the posting
// engines; the service offers no direct adjustment path.
type Service struct {
	repo   RepositoryPort
	ledger *Ledger
	cache  *redis.Client
	logger *slog.Logger
}

// NewService builds Service. The cache client is optional.
func NewService(repo RepositoryPort, ledger *Ledger, cache *redis.Client, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: ledger, cache: cache, logger: logger}
}

// OnHand returns the cached on-hand quantity for one material. A material
// with no stock row has zero on hand.
func (s *Service) OnHand(ctx context.Context, materialID int64) (decimal.Decimal, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, onHandKey(materialID)).Result()
		if err == nil {
			if qty, perr := decimal.NewFromString(cached); perr == nil {
				return qty, nil
			}
		} else if !errors.Is(err, redis.Nil) && s.logger != nil {
			s.logger.Warn("on-hand cache read", slog.Any("error", err))
		}
	}
	item, err := s.repo.GetStockItem(ctx, materialID)
	if errors.Is(err, shared.ErrNotFound) {
		item = StockItem{MaterialID: materialID, QtyOnHand: decimal.Zero}
	} else if err != nil {
		return decimal.Zero, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, onHandKey(materialID), item.QtyOnHand.String(), onHandCacheTTL).Err(); err != nil && s.logger != nil {
			s.logger.Warn("on-hand cache write", slog.Any("error", err))
		}
	}
	return item.QtyOnHand, nil
}

// ListStockItems returns every cached balance row.
func (s *Service) ListStockItems(ctx context.Context) ([]StockItem, error) {
	return s.repo.ListStockItems(ctx)
}

// ListMovements returns ledger entries matching the filter.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.repo.ListMovements(ctx, filter)
}

// InvalidateOnHand drops cached balances for the given materials. Posting
// engines call it after a transaction that touched the ledger commits.
func (s *Service) InvalidateOnHand(ctx context.Context, materialIDs []int64) {
	if s.cache == nil || len(materialIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(materialIDs))
	for _, id := range materialIDs {
		keys = append(keys, onHandKey(id))
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil && s.logger != nil {
		s.logger.Warn("on-hand cache invalidate", slog.Any("error", err))
	}
}

// RebuildAll recomputes every material's balance from the movement log.
// Used by the nightly reconciliation job and as a manual repair tool.
func (s *Service) RebuildAll(ctx context.Context) (int, error) {
	ids, err := s.repo.AllMaterialIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		return s.ledger.SyncStockItems(ctx, store, ids)
	})
	if err != nil {
		return 0, err
	}
	s.InvalidateOnHand(ctx, ids)
	if s.logger != nil {
		s.logger.Info("stock balances rebuilt", slog.Int("materials", len(ids)))
	}
	return len(ids), nil
}

func onHandKey(materialID int64) string {
	return fmt.Sprintf("inventory:onhand:%d", materialID)
}
