package procurement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// QuotationLineInput carries a vendor's priced line.
type QuotationLineInput struct {
	MaterialID int64
	Qty        decimal.Decimal
	UnitPrice  decimal.Decimal
}

// CreateQuotationInput describes a vendor quotation payload.
type CreateQuotationInput struct {
	RFQID    int64
	VendorID int64
	Status   string
	Lines    []QuotationLineInput
}

// CreateQuotation records a vendor's response to an approved RFQ. When no
// lines are supplied they are copied from the RFQ with zero prices, to be
// priced in later.
func (s *Service) CreateQuotation(ctx context.Context, input CreateQuotationInput) (Quotation, error) {
	if input.VendorID <= 0 {
		return Quotation{}, fmt.Errorf("%w: vendor required", shared.ErrValidation)
	}
	vq := Quotation{RFQID: input.RFQID, VendorID: input.VendorID, Status: ParseQuotationStatus(input.Status)}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rfq, rfqLines, err := tx.GetRFQ(ctx, input.RFQID)
		if err != nil {
			return err
		}
		if rfq.Status != RFQApproved {
			return fmt.Errorf("%w: rfq %d is %s, need %s", shared.ErrPreconditionFailed, input.RFQID, rfq.Status, RFQApproved)
		}
		if vq.Status == QuotationSelected {
			if err := ensureNoOtherSelection(ctx, tx, input.RFQID, 0); err != nil {
				return err
			}
		}
		lines, err := buildQuotationLines(input.Lines, rfqLines)
		if err != nil {
			return err
		}
		id, err := tx.InsertQuotation(ctx, vq)
		if err != nil {
			return err
		}
		vq.ID = id
		return tx.ReplaceQuotationLines(ctx, id, lines)
	})
	if err != nil {
		return Quotation{}, err
	}
	s.recordAudit(ctx, "VQ_CREATE", vq.ID, map[string]any{"rfq_id": input.RFQID, "vendor_id": input.VendorID})
	return vq, nil
}

// UpdateQuotationInput edits a quotation. A zero RFQID keeps the current
// binding; lines are replaced when provided.
type UpdateQuotationInput struct {
	RFQID    int64
	VendorID int64
	Status   string
	Lines    []QuotationLineInput
}

// UpdateQuotation edits a quotation not yet consumed by an order.
func (s *Service) UpdateQuotation(ctx context.Context, id int64, input UpdateQuotationInput) (Quotation, error) {
	var updated Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		vq, _, err := tx.GetQuotation(ctx, id)
		if err != nil {
			return err
		}
		orderID, err := tx.OrderIDForQuotation(ctx, id)
		if err != nil {
			return err
		}
		if orderID != 0 {
			return fmt.Errorf("%w: quotation %d is bound to order %d", shared.ErrImmutable, id, orderID)
		}
		if input.RFQID != 0 {
			vq.RFQID = input.RFQID
		}
		if input.VendorID != 0 {
			vq.VendorID = input.VendorID
		}
		rfq, _, err := tx.GetRFQ(ctx, vq.RFQID)
		if err != nil {
			return err
		}
		if rfq.Status != RFQApproved {
			return fmt.Errorf("%w: rfq %d is %s, need %s", shared.ErrPreconditionFailed, vq.RFQID, rfq.Status, RFQApproved)
		}
		vq.Status = ParseQuotationStatus(input.Status)
		if vq.Status == QuotationSelected {
			if err := ensureNoOtherSelection(ctx, tx, vq.RFQID, id); err != nil {
				return err
			}
		}
		if err := tx.UpdateQuotation(ctx, vq); err != nil {
			return err
		}
		if input.Lines != nil {
			lines, err := buildQuotationLines(input.Lines, nil)
			if err != nil {
				return err
			}
			if err := tx.ReplaceQuotationLines(ctx, id, lines); err != nil {
				return err
			}
		}
		updated = vq
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.recordAudit(ctx, "VQ_UPDATE", id, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// SelectQuotation marks one quotation SELECTED, enforcing at most one
// selection per RFQ.
func (s *Service) SelectQuotation(ctx context.Context, id int64) (Quotation, error) {
	var selected Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		vq, _, err := tx.GetQuotation(ctx, id)
		if err != nil {
			return err
		}
		if vq.Status == QuotationSelected {
			selected = vq
			return nil
		}
		if err := ensureNoOtherSelection(ctx, tx, vq.RFQID, id); err != nil {
			return err
		}
		vq.Status = QuotationSelected
		if err := tx.UpdateQuotation(ctx, vq); err != nil {
			return err
		}
		selected = vq
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.recordAudit(ctx, "VQ_SELECT", id, map[string]any{"rfq_id": selected.RFQID})
	return selected, nil
}

// DeleteQuotation removes a quotation not yet consumed by an order.
func (s *Service) DeleteQuotation(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, _, err := tx.GetQuotation(ctx, id); err != nil {
			return err
		}
		orderID, err := tx.OrderIDForQuotation(ctx, id)
		if err != nil {
			return err
		}
		if orderID != 0 {
			return fmt.Errorf("%w: quotation %d is bound to order %d", ErrInUse, id, orderID)
		}
		return tx.DeleteQuotation(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "VQ_DELETE", id, nil)
	return nil
}

// GetQuotation returns one quotation with its lines.
func (s *Service) GetQuotation(ctx context.Context, id int64) (Quotation, []QuotationLine, error) {
	return s.repo.GetQuotation(ctx, id)
}

// ListQuotationsByRFQ returns every quotation under an RFQ.
func (s *Service) ListQuotationsByRFQ(ctx context.Context, rfqID int64) ([]Quotation, error) {
	return s.repo.ListQuotationsByRFQ(ctx, rfqID)
}

func ensureNoOtherSelection(ctx context.Context, tx TxRepository, rfqID, selfID int64) error {
	current, err := tx.SelectedQuotationID(ctx, rfqID)
	if err != nil {
		return err
	}
	if current != 0 && current != selfID {
		return fmt.Errorf("%w: quotation %d", ErrConflictingSelection, current)
	}
	return nil
}

// buildQuotationLines validates explicit lines, or copies the RFQ snapshot
// with zero prices when none were supplied.
func buildQuotationLines(inputs []QuotationLineInput, rfqLines []RFQLine) ([]QuotationLine, error) {
	if len(inputs) == 0 {
		lines := make([]QuotationLine, 0, len(rfqLines))
		for _, line := range rfqLines {
			lines = append(lines, QuotationLine{MaterialID: line.MaterialID, Qty: line.Qty, UnitPrice: decimal.Zero})
		}
		return lines, nil
	}
	lines := make([]QuotationLine, 0, len(inputs))
	for _, in := range inputs {
		if in.MaterialID <= 0 {
			return nil, fmt.Errorf("%w: line material required", shared.ErrValidation)
		}
		if in.Qty.Sign() <= 0 {
			return nil, fmt.Errorf("%w: line quantity must be positive", shared.ErrValidation)
		}
		if in.UnitPrice.Sign() < 0 {
			return nil, fmt.Errorf("%w: line price must not be negative", shared.ErrValidation)
		}
		lines = append(lines, QuotationLine{MaterialID: in.MaterialID, Qty: in.Qty, UnitPrice: in.UnitPrice})
	}
	return lines, nil
}
