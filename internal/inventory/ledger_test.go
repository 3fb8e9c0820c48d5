package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryTxStore struct {
	movements []Movement
	stock     map[int64]decimal.Decimal
	nextID    int64
}

func newMemoryTxStore() *memoryTxStore {
	return &memoryTxStore{stock: make(map[int64]decimal.Decimal)}
}

func (s *memoryTxStore) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	s.nextID++
	mv.ID = s.nextID
	mv.CreatedAt = time.Now()
	s.movements = append(s.movements, mv)
	return mv.ID, nil
}

func (s *memoryTxStore) MovementsByRef(ctx context.Context, refType string, refID int64) ([]Movement, error) {
	var out []Movement
	for _, mv := range s.movements {
		if mv.RefType == refType && mv.RefID == refID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (s *memoryTxStore) DeleteMovementsByRef(ctx context.Context, refType string, refID int64) error {
	kept := s.movements[:0]
	for _, mv := range s.movements {
		if mv.RefType != refType || mv.RefID != refID {
			kept = append(kept, mv)
		}
	}
	s.movements = kept
	return nil
}

func (s *memoryTxStore) SumByMaterial(ctx context.Context, materialIDs []int64) (map[int64]decimal.Decimal, error) {
	wanted := make(map[int64]struct{}, len(materialIDs))
	for _, id := range materialIDs {
		wanted[id] = struct{}{}
	}
	totals := make(map[int64]decimal.Decimal)
	for _, mv := range s.movements {
		if _, ok := wanted[mv.MaterialID]; ok {
			totals[mv.MaterialID] = totals[mv.MaterialID].Add(mv.QtyChange)
		}
	}
	return totals, nil
}

func (s *memoryTxStore) UpsertStockItem(ctx context.Context, materialID int64, onHand decimal.Decimal) error {
	s.stock[materialID] = onHand
	return nil
}

func (s *memoryTxStore) AdjustStockItem(ctx context.Context, materialID int64, delta decimal.Decimal) error {
	s.stock[materialID] = s.stock[materialID].Add(delta)
	return nil
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPostMovementBumpsBalance(t *testing.T) {
	store := newMemoryTxStore()
	ledger := NewLedger()
	ctx := context.Background()

	mv, err := ledger.PostMovement(ctx, store, Movement{MaterialID: 7, RefType: RefTypeQCPass, RefID: 11, QtyChange: qty("4")})
	require.NoError(t, err)
	require.NotZero(t, mv.ID)
	require.True(t, store.stock[7].Equal(qty("4")))

	_, err = ledger.PostMovement(ctx, store, Movement{MaterialID: 7, RefType: RefTypeReturn, RefID: 3, QtyChange: qty("-1.5")})
	require.NoError(t, err)
	require.True(t, store.stock[7].Equal(qty("2.5")))
}

func TestPostMovementRejectsInvalid(t *testing.T) {
	store := newMemoryTxStore()
	ledger := NewLedger()
	ctx := context.Background()

	_, err := ledger.PostMovement(ctx, store, Movement{MaterialID: 1, RefType: RefTypeQCPass, RefID: 1, QtyChange: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = ledger.PostMovement(ctx, store, Movement{MaterialID: 1, QtyChange: qty("2")})
	require.ErrorIs(t, err, ErrInvalidRef)
}

func TestRemoveMovementsReversesBalances(t *testing.T) {
	store := newMemoryTxStore()
	ledger := NewLedger()
	ctx := context.Background()

	_, err := ledger.PostMovement(ctx, store, Movement{MaterialID: 1, RefType: RefTypeQCPass, RefID: 5, QtyChange: qty("4")})
	require.NoError(t, err)
	_, err = ledger.PostMovement(ctx, store, Movement{MaterialID: 2, RefType: RefTypeQCPass, RefID: 5, QtyChange: qty("6")})
	require.NoError(t, err)
	_, err = ledger.PostMovement(ctx, store, Movement{MaterialID: 1, RefType: RefTypeQCPass, RefID: 9, QtyChange: qty("2")})
	require.NoError(t, err)

	affected, err := ledger.RemoveMovements(ctx, store, RefTypeQCPass, 5)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 2}, affected)
	require.True(t, store.stock[1].Equal(qty("2")))
	require.True(t, store.stock[2].IsZero())
	require.Len(t, store.movements, 1)
}

func TestRemoveMovementsNoRowsIsNoop(t *testing.T) {
	store := newMemoryTxStore()
	ledger := NewLedger()

	affected, err := ledger.RemoveMovements(context.Background(), store, RefTypeQCPass, 99)
	require.NoError(t, err)
	require.Empty(t, affected)
}

func TestRepostCycleIsIdempotent(t *testing.T) {
	store := newMemoryTxStore()
	ledger := NewLedger()
	ctx := context.Background()

	post := func() {
		_, err := ledger.RemoveMovements(ctx, store, RefTypeQCPass, 5)
		require.NoError(t, err)
		_, err = ledger.PostMovement(ctx, store, Movement{MaterialID: 3, RefType: RefTypeQCPass, RefID: 5, QtyChange: qty("8")})
		require.NoError(t, err)
		require.NoError(t, ledger.SyncStockItems(ctx, store, []int64{3}))
	}

	post()
	post()
	post()

	require.Len(t, store.movements, 1)
	require.True(t, store.stock[3].Equal(qty("8")))
}

func TestSyncStockItemsCorrectsDrift(t *testing.T) {
	store := newMemoryTxStore()
	ledger := NewLedger()
	ctx := context.Background()

	_, err := ledger.PostMovement(ctx, store, Movement{MaterialID: 4, RefType: RefTypeQCPass, RefID: 1, QtyChange: qty("10")})
	require.NoError(t, err)

	// simulate a corrupted balance row
	store.stock[4] = qty("999")

	require.NoError(t, ledger.SyncStockItems(ctx, store, []int64{4, 5}))
	require.True(t, store.stock[4].Equal(qty("10")))
	require.True(t, store.stock[5].IsZero())
}
