package receiving

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/inventory"
	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// ReturnLineInput describes one quantity being sent back to the vendor.
type ReturnLineInput struct {
	ReceiptLineID int64
	Qty           decimal.Decimal
	Reason        string
}

// CreateReturnInput describes return creation.
type CreateReturnInput struct {
	ReceiptID int64
	Status    string
	Lines     []ReturnLineInput
}

// CreateReturn records a vendor return against a receipt. A return created
// directly in POSTED state posts its negative movements in the same
// transaction.
func (s *Service) CreateReturn(ctx context.Context, input CreateReturnInput) (Return, error) {
	ret := Return{ReceiptID: input.ReceiptID, Status: ParseReturnStatus(input.Status)}
	var affected []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, grLines, err := tx.GetReceipt(ctx, input.ReceiptID)
		if err != nil {
			return err
		}
		lines, err := buildReturnLines(ctx, tx, input.ReceiptID, grLines, input.Lines, 0)
		if err != nil {
			return err
		}
		id, err := tx.InsertReturn(ctx, ret)
		if err != nil {
			return err
		}
		ret.ID = id
		if err := tx.ReplaceReturnLines(ctx, id, lines); err != nil {
			return err
		}
		affected, err = s.postReturn(ctx, tx, ret, lines, grLines)
		return err
	})
	if err != nil {
		return Return{}, err
	}
	s.invalidate(ctx, affected)
	s.recordAudit(ctx, "RET_CREATE", ret.ID, map[string]any{"receipt_id": input.ReceiptID, "status": string(ret.Status)})
	return ret, nil
}

// UpdateReturnInput edits a return. A non-zero ReceiptID retargets the
// return while it is still unposted; lines replace the existing set when
// provided.
type UpdateReturnInput struct {
	ReceiptID int64
	Status    string
	Lines     []ReturnLineInput
}

// UpdateReturn edits a return that has not been posted. Every save rolls
// back this return's prior movements and re-posts them only when the
// resulting status is POSTED.
func (s *Service) UpdateReturn(ctx context.Context, id int64, input UpdateReturnInput) (Return, error) {
	var (
		updated  Return
		affected []int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ret, lines, err := tx.GetReturn(ctx, id)
		if err != nil {
			return err
		}
		if ret.Status == ReturnPosted {
			return fmt.Errorf("%w: return %d is posted", shared.ErrImmutable, id)
		}
		if input.ReceiptID != 0 && input.ReceiptID != ret.ReceiptID {
			ret.ReceiptID = input.ReceiptID
			if input.Lines == nil {
				return fmt.Errorf("%w: retargeting a return requires new lines", shared.ErrValidation)
			}
		}
		_, grLines, err := tx.GetReceipt(ctx, ret.ReceiptID)
		if err != nil {
			return err
		}
		if input.Lines != nil {
			if lines, err = buildReturnLines(ctx, tx, ret.ReceiptID, grLines, input.Lines, id); err != nil {
				return err
			}
			if err := tx.ReplaceReturnLines(ctx, id, lines); err != nil {
				return err
			}
		}
		ret.Status = ParseReturnStatus(input.Status)
		if ret.Status == ReturnPosted && input.Lines == nil {
			// promoting kept lines still has to respect the bound,
			// capacity may have been consumed since they were saved
			if err := checkReturnBound(ctx, tx, ret.ReceiptID, lines, id); err != nil {
				return err
			}
		}
		if err := tx.UpdateReturn(ctx, ret); err != nil {
			return err
		}
		affected, err = s.postReturn(ctx, tx, ret, lines, grLines)
		if err != nil {
			return err
		}
		updated = ret
		return nil
	})
	if err != nil {
		return Return{}, err
	}
	s.invalidate(ctx, affected)
	s.recordAudit(ctx, "RET_UPDATE", id, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// DeleteReturn removes a return and rolls back any movements it posted.
func (s *Service) DeleteReturn(ctx context.Context, id int64) error {
	var affected []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, _, err := tx.GetReturn(ctx, id); err != nil {
			return err
		}
		store := tx.Ledger()
		var err error
		if affected, err = s.ledger.RemoveMovements(ctx, store, inventory.RefTypeReturn, id); err != nil {
			return err
		}
		if err := s.ledger.SyncStockItems(ctx, store, affected); err != nil {
			return err
		}
		return tx.DeleteReturn(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, affected)
	s.recordAudit(ctx, "RET_DELETE", id, nil)
	return nil
}

// GetReturn returns one return with its lines.
func (s *Service) GetReturn(ctx context.Context, id int64) (Return, []ReturnLine, error) {
	return s.repo.GetReturn(ctx, id)
}

// ListReturns returns returns, optionally narrowed to one receipt.
func (s *Service) ListReturns(ctx context.Context, receiptID int64) ([]Return, error) {
	return s.repo.ListReturns(ctx, receiptID)
}

// postReturn implements the save-time posting discipline: roll back this
// return's movements, then post one negative movement per line when the
// return is POSTED, then sync the touched balances.
func (s *Service) postReturn(ctx context.Context, tx TxRepository, ret Return, lines []ReturnLine, grLines []ReceiptLine) ([]int64, error) {
	store := tx.Ledger()
	affected, err := s.ledger.RemoveMovements(ctx, store, inventory.RefTypeReturn, ret.ID)
	if err != nil {
		return nil, err
	}
	if ret.Status == ReturnPosted {
		materialByLine := make(map[int64]int64, len(grLines))
		for _, grLine := range grLines {
			materialByLine[grLine.ID] = grLine.MaterialID
		}
		for _, line := range lines {
			if line.Qty.Sign() <= 0 {
				continue
			}
			materialID := materialByLine[line.ReceiptLineID]
			if _, err := s.ledger.PostMovement(ctx, store, inventory.Movement{
				MaterialID: materialID,
				RefType:    inventory.RefTypeReturn,
				RefID:      ret.ID,
				QtyChange:  line.Qty.Neg(),
			}); err != nil {
				return nil, err
			}
			affected = append(affected, materialID)
		}
	}
	if err := s.ledger.SyncStockItems(ctx, store, affected); err != nil {
		return nil, err
	}
	return affected, nil
}

// buildReturnLines validates references and the over-return bound: per
// receipt line, cumulative posted returns may never exceed the accepted
// quantity recorded by passed QC reports. The edited return's own posted
// quantities are excluded from the sum.
func buildReturnLines(ctx context.Context, tx TxRepository, receiptID int64, grLines []ReceiptLine, inputs []ReturnLineInput, excludeReturnID int64) ([]ReturnLine, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	byID := make(map[int64]ReceiptLine, len(grLines))
	for _, grLine := range grLines {
		byID[grLine.ID] = grLine
	}
	lines := make([]ReturnLine, 0, len(inputs))
	for _, in := range inputs {
		if _, ok := byID[in.ReceiptLineID]; !ok {
			return nil, fmt.Errorf("%w: receipt line %d", ErrForeignLine, in.ReceiptLineID)
		}
		if in.Qty.Sign() < 0 {
			return nil, fmt.Errorf("%w: line quantity must not be negative", shared.ErrValidation)
		}
		lines = append(lines, ReturnLine{ReceiptLineID: in.ReceiptLineID, Qty: in.Qty, Reason: in.Reason})
	}
	if err := checkReturnBound(ctx, tx, receiptID, lines, excludeReturnID); err != nil {
		return nil, err
	}
	return lines, nil
}

// checkReturnBound enforces the per-line ceiling against the current
// accepted and already-returned sums.
func checkReturnBound(ctx context.Context, tx TxRepository, receiptID int64, lines []ReturnLine, excludeReturnID int64) error {
	accepted, err := tx.AcceptedByReceiptLine(ctx, receiptID)
	if err != nil {
		return err
	}
	returned, err := tx.ReturnedByReceiptLine(ctx, receiptID, excludeReturnID)
	if err != nil {
		return err
	}
	grouped := make(map[int64]decimal.Decimal)
	for _, line := range lines {
		grouped[line.ReceiptLineID] = grouped[line.ReceiptLineID].Add(line.Qty)
	}
	for lineID, qty := range grouped {
		remaining := accepted[lineID].Sub(returned[lineID])
		if remaining.Sign() < 0 {
			remaining = decimal.Zero
		}
		if qty.Cmp(remaining) > 0 {
			return fmt.Errorf("%w: receipt line %d remaining %s, got %s", ErrOverReturn, lineID, remaining, qty)
		}
	}
	return nil
}
