package inventory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

type memoryInvRepo struct {
	store *memoryTxStore
}

func newMemoryInvRepo() *memoryInvRepo {
	return &memoryInvRepo{store: newMemoryTxStore()}
}

func (r *memoryInvRepo) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, r.store)
}

func (r *memoryInvRepo) GetStockItem(ctx context.Context, materialID int64) (StockItem, error) {
	qty, ok := r.store.stock[materialID]
	if !ok {
		return StockItem{}, shared.ErrNotFound
	}
	return StockItem{MaterialID: materialID, QtyOnHand: qty, UpdatedAt: time.Now()}, nil
}

func (r *memoryInvRepo) ListStockItems(ctx context.Context) ([]StockItem, error) {
	items := make([]StockItem, 0, len(r.store.stock))
	for id, qty := range r.store.stock {
		items = append(items, StockItem{MaterialID: id, QtyOnHand: qty})
	}
	return items, nil
}

func (r *memoryInvRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var out []Movement
	for _, mv := range r.store.movements {
		if filter.MaterialID > 0 && mv.MaterialID != filter.MaterialID {
			continue
		}
		if filter.RefType != "" && mv.RefType != filter.RefType {
			continue
		}
		if filter.RefID > 0 && mv.RefID != filter.RefID {
			continue
		}
		out = append(out, mv)
	}
	return out, nil
}

func (r *memoryInvRepo) AllMaterialIDs(ctx context.Context) ([]int64, error) {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, mv := range r.store.movements {
		if _, ok := seen[mv.MaterialID]; !ok {
			seen[mv.MaterialID] = struct{}{}
			ids = append(ids, mv.MaterialID)
		}
	}
	for id := range r.store.stock {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func newTestCache(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestOnHandUnknownMaterialIsZero(t *testing.T) {
	repo := newMemoryInvRepo()
	svc := NewService(repo, NewLedger(), nil, slog.Default())

	qty, err := svc.OnHand(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, qty.IsZero())
}

func TestOnHandUsesCache(t *testing.T) {
	repo := newMemoryInvRepo()
	repo.store.stock[7] = decimal.RequireFromString("12.5")
	cache := newTestCache(t)
	svc := NewService(repo, NewLedger(), cache, slog.Default())
	ctx := context.Background()

	qty, err := svc.OnHand(ctx, 7)
	require.NoError(t, err)
	require.True(t, qty.Equal(decimal.RequireFromString("12.5")))

	// a stale balance row is served from cache until invalidated
	repo.store.stock[7] = decimal.RequireFromString("99")
	qty, err = svc.OnHand(ctx, 7)
	require.NoError(t, err)
	require.True(t, qty.Equal(decimal.RequireFromString("12.5")))

	svc.InvalidateOnHand(ctx, []int64{7})
	qty, err = svc.OnHand(ctx, 7)
	require.NoError(t, err)
	require.True(t, qty.Equal(decimal.RequireFromString("99")))
}

func TestRebuildAllRecomputesBalances(t *testing.T) {
	repo := newMemoryInvRepo()
	ledger := NewLedger()
	ctx := context.Background()

	_, err := ledger.PostMovement(ctx, repo.store, Movement{MaterialID: 1, RefType: RefTypeQCPass, RefID: 1, QtyChange: decimal.RequireFromString("5")})
	require.NoError(t, err)
	_, err = ledger.PostMovement(ctx, repo.store, Movement{MaterialID: 1, RefType: RefTypeReturn, RefID: 2, QtyChange: decimal.RequireFromString("-2")})
	require.NoError(t, err)
	repo.store.stock[1] = decimal.RequireFromString("77")

	svc := NewService(repo, ledger, newTestCache(t), slog.Default())
	count, err := svc.RebuildAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.True(t, repo.store.stock[1].Equal(decimal.RequireFromString("3")))
}

func TestListMovementsDefaultsLimit(t *testing.T) {
	repo := newMemoryInvRepo()
	svc := NewService(repo, NewLedger(), nil, slog.Default())

	_, err := svc.ListMovements(context.Background(), MovementFilter{})
	require.NoError(t, err)
}
