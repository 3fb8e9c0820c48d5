package receiving

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/inventory"
	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// QCLineInput records one inspection result. AcceptedQty may be nil on a
// pass line, defaulting to the full receipt-line quantity.
type QCLineInput struct {
	ReceiptLineID int64
	Result        string
	AcceptedQty   *decimal.Decimal
	Note          string
}

// CreateQCInput describes report creation.
type CreateQCInput struct {
	ReceiptID int64
	Status    string
	Lines     []QCLineInput
}

// CreateQCReport opens an inspection report on a posted receipt. Plain
// saves never touch the ledger; stock moves only through Finalize.
func (s *Service) CreateQCReport(ctx context.Context, input CreateQCInput) (QCReport, error) {
	qc := QCReport{ReceiptID: input.ReceiptID, Status: ParseQCStatus(input.Status)}
	if qc.Status != QCPending {
		now := time.Now()
		qc.CheckedAt = &now
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gr, grLines, err := tx.GetReceipt(ctx, input.ReceiptID)
		if err != nil {
			return err
		}
		if gr.Status != ReceiptPosted {
			return fmt.Errorf("%w: receipt %d is %s", ErrGRNotPosted, gr.ID, gr.Status)
		}
		lines, err := buildQCLines(grLines, input.Lines)
		if err != nil {
			return err
		}
		id, err := tx.InsertQCReport(ctx, qc)
		if err != nil {
			return err
		}
		qc.ID = id
		return tx.ReplaceQCLines(ctx, id, lines)
	})
	if err != nil {
		return QCReport{}, err
	}
	s.recordAudit(ctx, "QC_CREATE", qc.ID, map[string]any{"receipt_id": input.ReceiptID, "status": string(qc.Status)})
	return qc, nil
}

// UpdateQCInput edits a report. Lines replace the existing set when
// provided.
type UpdateQCInput struct {
	Status string
	Lines  []QCLineInput
}

// UpdateQCReport edits a report that has not passed. Returning the report
// to PENDING clears the checked-at timestamp; leaving PENDING sets it once.
func (s *Service) UpdateQCReport(ctx context.Context, id int64, input UpdateQCInput) (QCReport, error) {
	var updated QCReport
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		qc, _, err := tx.GetQCReport(ctx, id)
		if err != nil {
			return err
		}
		if qc.Status == QCPassed {
			return fmt.Errorf("%w: qc report %d has passed", shared.ErrImmutable, id)
		}
		_, grLines, err := tx.GetReceipt(ctx, qc.ReceiptID)
		if err != nil {
			return err
		}
		applyQCStatus(&qc, ParseQCStatus(input.Status))
		if err := tx.UpdateQCReport(ctx, qc); err != nil {
			return err
		}
		if input.Lines != nil {
			lines, err := buildQCLines(grLines, input.Lines)
			if err != nil {
				return err
			}
			if err := tx.ReplaceQCLines(ctx, id, lines); err != nil {
				return err
			}
		}
		updated = qc
		return nil
	})
	if err != nil {
		return QCReport{}, err
	}
	s.recordAudit(ctx, "QC_UPDATE", id, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// FinalizeQCInput commits an inspection outcome.
type FinalizeQCInput struct {
	Status string
	Lines  []QCLineInput
}

// FinalizeQCReport commits the report to PASSED or FAILED. Passing rolls
// back any prior movements for this report, posts one positive movement
// per accepted line and recomputes the affected balances, so repeated
// finalizes with the same input land on the same on-hand quantity.
func (s *Service) FinalizeQCReport(ctx context.Context, id int64, input FinalizeQCInput) (QCReport, error) {
	target := ParseQCStatus(input.Status)
	if target == QCPending {
		return QCReport{}, ErrCannotFinalizePending
	}
	var (
		finalized QCReport
		affected  []int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		qc, lines, err := tx.GetQCReport(ctx, id)
		if err != nil {
			return err
		}
		// a passed report can only be finalized to PASSED again; the
		// remove-then-repost cycle keeps the repeat idempotent
		if qc.Status == QCPassed && target != QCPassed {
			return fmt.Errorf("%w: qc report %d has passed", shared.ErrImmutable, id)
		}
		_, grLines, err := tx.GetReceipt(ctx, qc.ReceiptID)
		if err != nil {
			return err
		}
		if input.Lines != nil {
			if lines, err = buildQCLines(grLines, input.Lines); err != nil {
				return err
			}
			if err := tx.ReplaceQCLines(ctx, id, lines); err != nil {
				return err
			}
		}
		applyQCStatus(&qc, target)
		if err := tx.UpdateQCReport(ctx, qc); err != nil {
			return err
		}
		if target == QCPassed {
			materialByLine := make(map[int64]int64, len(grLines))
			for _, grLine := range grLines {
				materialByLine[grLine.ID] = grLine.MaterialID
			}
			store := tx.Ledger()
			if affected, err = s.ledger.RemoveMovements(ctx, store, inventory.RefTypeQCPass, id); err != nil {
				return err
			}
			for _, line := range lines {
				if line.AcceptedQty.Sign() <= 0 {
					continue
				}
				materialID := materialByLine[line.ReceiptLineID]
				if _, err := s.ledger.PostMovement(ctx, store, inventory.Movement{
					MaterialID: materialID,
					RefType:    inventory.RefTypeQCPass,
					RefID:      id,
					QtyChange:  line.AcceptedQty,
				}); err != nil {
					return err
				}
				affected = append(affected, materialID)
			}
			if err := s.ledger.SyncStockItems(ctx, store, affected); err != nil {
				return err
			}
		}
		finalized = qc
		return nil
	})
	if err != nil {
		return QCReport{}, err
	}
	s.invalidate(ctx, affected)
	s.recordAudit(ctx, "QC_FINALIZE", id, map[string]any{"status": string(finalized.Status)})
	return finalized, nil
}

// DeleteQCReport removes a report that has not passed, sweeping any of its
// ledger movements.
func (s *Service) DeleteQCReport(ctx context.Context, id int64) error {
	var affected []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		qc, _, err := tx.GetQCReport(ctx, id)
		if err != nil {
			return err
		}
		if qc.Status == QCPassed {
			return fmt.Errorf("%w: qc report %d has passed", shared.ErrImmutable, id)
		}
		store := tx.Ledger()
		if affected, err = s.ledger.RemoveMovements(ctx, store, inventory.RefTypeQCPass, id); err != nil {
			return err
		}
		if err := s.ledger.SyncStockItems(ctx, store, affected); err != nil {
			return err
		}
		return tx.DeleteQCReport(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, affected)
	s.recordAudit(ctx, "QC_DELETE", id, nil)
	return nil
}

// GetQCReport returns one report with its lines.
func (s *Service) GetQCReport(ctx context.Context, id int64) (QCReport, []QCLine, error) {
	return s.repo.GetQCReport(ctx, id)
}

// ListQCReports returns reports, optionally narrowed to one receipt.
func (s *Service) ListQCReports(ctx context.Context, receiptID int64) ([]QCReport, error) {
	return s.repo.ListQCReports(ctx, receiptID)
}

// applyQCStatus moves the report to next, clearing the checked-at timestamp
// on a return to PENDING and setting it exactly once on the way out.
func applyQCStatus(qc *QCReport, next QCStatus) {
	if next == QCPending {
		qc.CheckedAt = nil
	} else if qc.CheckedAt == nil {
		now := time.Now()
		qc.CheckedAt = &now
	}
	qc.Status = next
}

// buildQCLines validates result and accepted-quantity rules against the
// receipt's lines: references must belong to the receipt and be unique,
// failed lines accept nothing, passed lines default to the full quantity.
func buildQCLines(grLines []ReceiptLine, inputs []QCLineInput) ([]QCLine, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	byID := make(map[int64]ReceiptLine, len(grLines))
	for _, grLine := range grLines {
		byID[grLine.ID] = grLine
	}
	seen := make(map[int64]struct{}, len(inputs))
	lines := make([]QCLine, 0, len(inputs))
	for _, in := range inputs {
		grLine, ok := byID[in.ReceiptLineID]
		if !ok {
			return nil, fmt.Errorf("%w: receipt line %d", ErrForeignLine, in.ReceiptLineID)
		}
		if _, dup := seen[in.ReceiptLineID]; dup {
			return nil, fmt.Errorf("%w: receipt line %d", ErrDuplicateLine, in.ReceiptLineID)
		}
		seen[in.ReceiptLineID] = struct{}{}
		result, err := parseResult(in.Result)
		if err != nil {
			return nil, err
		}
		var accepted decimal.Decimal
		switch result {
		case ResultFail:
			if in.AcceptedQty != nil && in.AcceptedQty.Sign() != 0 {
				return nil, fmt.Errorf("%w: failed line must accept zero", ErrAcceptedQtyOutOfRange)
			}
		case ResultPass:
			if in.AcceptedQty == nil {
				accepted = grLine.Qty
			} else {
				accepted = *in.AcceptedQty
				if accepted.Sign() < 0 || accepted.Cmp(grLine.Qty) > 0 {
					return nil, fmt.Errorf("%w: accepted %s of %s", ErrAcceptedQtyOutOfRange, accepted, grLine.Qty)
				}
			}
		}
		lines = append(lines, QCLine{ReceiptLineID: in.ReceiptLineID, Result: result, AcceptedQty: accepted, Note: in.Note})
	}
	return lines, nil
}

func parseResult(s string) (QCResult, error) {
	switch QCResult(strings.ToLower(strings.TrimSpace(s))) {
	case ResultFail:
		return ResultFail, nil
	case ResultPass, "":
		return ResultPass, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResult, s)
	}
}
