package procurement

import (
	"context"
	"fmt"

	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// CreateRFQInput derives an RFQ from an approved requisition.
type CreateRFQInput struct {
	RequisitionID int64
	Status        string
}

// CreateRFQ snapshots the requisition's lines into a new RFQ. The
// requisition must be APPROVED.
func (s *Service) CreateRFQ(ctx context.Context, input CreateRFQInput) (RFQ, error) {
	rfq := RFQ{RequisitionID: input.RequisitionID, Status: ParseRFQStatus(input.Status)}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, err := snapshotRequisition(ctx, tx, input.RequisitionID)
		if err != nil {
			return err
		}
		id, err := tx.InsertRFQ(ctx, rfq)
		if err != nil {
			return err
		}
		rfq.ID = id
		return tx.ReplaceRFQLines(ctx, id, lines)
	})
	if err != nil {
		return RFQ{}, err
	}
	s.recordAudit(ctx, "RFQ_CREATE", rfq.ID, map[string]any{"requisition_id": input.RequisitionID})
	return rfq, nil
}

// UpdateRFQInput edits an RFQ; retargeting the requisition re-validates
// the gate and re-snapshots the lines.
type UpdateRFQInput struct {
	RequisitionID int64
	Status        string
}

// UpdateRFQ edits an RFQ that has not yet been approved.
func (s *Service) UpdateRFQ(ctx context.Context, id int64, input UpdateRFQInput) (RFQ, error) {
	var updated RFQ
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rfq, _, err := tx.GetRFQ(ctx, id)
		if err != nil {
			return err
		}
		if rfq.Status == RFQApproved {
			return fmt.Errorf("%w: rfq %d is approved", shared.ErrImmutable, id)
		}
		if input.RequisitionID != 0 && input.RequisitionID != rfq.RequisitionID {
			lines, err := snapshotRequisition(ctx, tx, input.RequisitionID)
			if err != nil {
				return err
			}
			rfq.RequisitionID = input.RequisitionID
			if err := tx.ReplaceRFQLines(ctx, id, lines); err != nil {
				return err
			}
		}
		rfq.Status = ParseRFQStatus(input.Status)
		if err := tx.UpdateRFQ(ctx, rfq); err != nil {
			return err
		}
		updated = rfq
		return nil
	})
	if err != nil {
		return RFQ{}, err
	}
	s.recordAudit(ctx, "RFQ_UPDATE", id, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// DeleteRFQ removes an RFQ not yet consumed by a vendor quotation.
func (s *Service) DeleteRFQ(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, _, err := tx.GetRFQ(ctx, id); err != nil {
			return err
		}
		inUse, err := tx.QuotationExistsForRFQ(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("%w: rfq %d has quotations", ErrInUse, id)
		}
		return tx.DeleteRFQ(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "RFQ_DELETE", id, nil)
	return nil
}

// GetRFQ returns one RFQ with its line snapshot.
func (s *Service) GetRFQ(ctx context.Context, id int64) (RFQ, []RFQLine, error) {
	return s.repo.GetRFQ(ctx, id)
}

// ListRFQs returns RFQs, optionally filtered by status.
func (s *Service) ListRFQs(ctx context.Context, status string) ([]RFQ, error) {
	var filter RFQStatus
	if status != "" {
		filter = ParseRFQStatus(status)
	}
	return s.repo.ListRFQs(ctx, filter)
}

// snapshotRequisition checks the APPROVED gate and copies the requisition's
// lines for an RFQ.
func snapshotRequisition(ctx context.Context, tx TxRepository, requisitionID int64) ([]RFQLine, error) {
	pr, prLines, err := tx.GetRequisition(ctx, requisitionID)
	if err != nil {
		return nil, err
	}
	if pr.Status != RequisitionApproved {
		return nil, fmt.Errorf("%w: requisition %d is %s, need %s", shared.ErrPreconditionFailed, requisitionID, pr.Status, RequisitionApproved)
	}
	lines := make([]RFQLine, 0, len(prLines))
	for _, line := range prLines {
		lines = append(lines, RFQLine{MaterialID: line.MaterialID, Qty: line.Qty})
	}
	return lines, nil
}
