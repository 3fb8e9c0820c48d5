package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// TxStore is the transactional slice of the ledger handed to posting
// engines so movement writes commit or roll back together with the
// document that caused them.
type TxStore interface {
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
	MovementsByRef(ctx context.Context, refType string, refID int64) ([]Movement, error)
	DeleteMovementsByRef(ctx context.Context, refType string, refID int64) error
	SumByMaterial(ctx context.Context, materialIDs []int64) (map[int64]decimal.Decimal, error)
	UpsertStockItem(ctx context.Context, materialID int64, onHand decimal.Decimal) error
	AdjustStockItem(ctx context.Context, materialID int64, delta decimal.Decimal) error
}

// Ledger implements the movement log discipline: append-only movements,
// balance cache bumped alongside, rollback by reference pair, and full
// recompute for reconciliation. It carries no state of its own so the
// same instance serves every posting engine.
type Ledger struct{}

// NewLedger returns a Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// PostMovement appends one movement and bumps the cached balance by the
// signed amount.
func (*Ledger) PostMovement(ctx context.Context, store TxStore, mv Movement) (Movement, error) {
	if mv.QtyChange.IsZero() {
		return Movement{}, ErrInvalidQuantity
	}
	if mv.RefType == "" || mv.RefID == 0 {
		return Movement{}, ErrInvalidRef
	}
	id, err := store.InsertMovement(ctx, mv)
	if err != nil {
		return Movement{}, err
	}
	mv.ID = id
	if err := store.AdjustStockItem(ctx, mv.MaterialID, mv.QtyChange); err != nil {
		return Movement{}, err
	}
	return mv, nil
}

// RemoveMovements deletes all movements carrying the (refType, refID) pair
// and subtracts each from the cached balance. Returns the affected material
// ids so the caller can re-sync after re-posting. Calling it before every
// re-post makes repeated finalize cycles exactly idempotent.
func (*Ledger) RemoveMovements(ctx context.Context, store TxStore, refType string, refID int64) ([]int64, error) {
	movements, err := store.MovementsByRef(ctx, refType, refID)
	if err != nil {
		return nil, err
	}
	if len(movements) == 0 {
		return nil, nil
	}
	seen := make(map[int64]struct{}, len(movements))
	var affected []int64
	for _, mv := range movements {
		if err := store.AdjustStockItem(ctx, mv.MaterialID, mv.QtyChange.Neg()); err != nil {
			return nil, err
		}
		if _, ok := seen[mv.MaterialID]; !ok {
			seen[mv.MaterialID] = struct{}{}
			affected = append(affected, mv.MaterialID)
		}
	}
	if err := store.DeleteMovementsByRef(ctx, refType, refID); err != nil {
		return nil, err
	}
	return affected, nil
}

// SyncStockItems recomputes each material's cached balance as the exact sum
// of its ledger movements. This is the authoritative reconciliation path;
// incremental bumps are an optimisation it corrects.
func (*Ledger) SyncStockItems(ctx context.Context, store TxStore, materialIDs []int64) error {
	if len(materialIDs) == 0 {
		return nil
	}
	totals, err := store.SumByMaterial(ctx, materialIDs)
	if err != nil {
		return err
	}
	for _, id := range dedupe(materialIDs) {
		total, ok := totals[id]
		if !ok {
			total = decimal.Zero
		}
		if err := store.UpsertStockItem(ctx, id, total); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
