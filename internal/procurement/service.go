package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// Reader describes the read operations shared by the pool-backed repository
// and the transactional repository, so gating validations can run on the
// same snapshot as the writes they guard.
type Reader interface {
	GetRequisition(ctx context.Context, id int64) (Requisition, []RequisitionLine, error)
	GetRFQ(ctx context.Context, id int64) (RFQ, []RFQLine, error)
	GetQuotation(ctx context.Context, id int64) (Quotation, []QuotationLine, error)
	GetOrder(ctx context.Context, id int64) (Order, []OrderItem, error)
	RFQExistsForRequisition(ctx context.Context, requisitionID int64) (bool, error)
	QuotationExistsForRFQ(ctx context.Context, rfqID int64) (bool, error)
	SelectedQuotationID(ctx context.Context, rfqID int64) (int64, error)
	OrderIDForQuotation(ctx context.Context, quotationID int64) (int64, error)
	ReceiptCountForOrder(ctx context.Context, orderID int64) (int64, error)
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListRequisitions(ctx context.Context, status RequisitionStatus) ([]Requisition, error)
	ListRFQs(ctx context.Context, status RFQStatus) ([]RFQ, error)
	ListQuotationsByRFQ(ctx context.Context, rfqID int64) ([]Quotation, error)
	ListOrders(ctx context.Context, status OrderStatus) ([]Order, error)
	ReceivedQtyByOrderItem(ctx context.Context, orderID int64) (map[int64]decimal.Decimal, error)
}

// TxRepository groups mutations executed inside one transaction.
type TxRepository interface {
	Reader
	InsertRequisition(ctx context.Context, pr Requisition) (int64, error)
	UpdateRequisition(ctx context.Context, pr Requisition) error
	ReplaceRequisitionLines(ctx context.Context, requisitionID int64, lines []RequisitionLine) error
	DeleteRequisition(ctx context.Context, id int64) error
	InsertRFQ(ctx context.Context, rfq RFQ) (int64, error)
	UpdateRFQ(ctx context.Context, rfq RFQ) error
	ReplaceRFQLines(ctx context.Context, rfqID int64, lines []RFQLine) error
	DeleteRFQ(ctx context.Context, id int64) error
	InsertQuotation(ctx context.Context, vq Quotation) (int64, error)
	UpdateQuotation(ctx context.Context, vq Quotation) error
	ReplaceQuotationLines(ctx context.Context, quotationID int64, lines []QuotationLine) error
	DeleteQuotation(ctx context.Context, id int64) error
	InsertOrder(ctx context.Context, po Order) (int64, error)
	UpdateOrder(ctx context.Context, po Order) error
	ReplaceOrderItems(ctx context.Context, orderID int64, items []OrderItem) error
	DeleteOrder(ctx context.Context, id int64) error
}

// AuditPort records mutation trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the requisition, RFQ, quotation and order engines.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// RequisitionLineInput describes one requested material.
type RequisitionLineInput struct {
	MaterialID int64
	Qty        decimal.Decimal
}

// CreateRequisitionInput describes creation payload.
type CreateRequisitionInput struct {
	RequesterID int64
	Note        string
	Status      string
	Lines       []RequisitionLineInput
}

// CreateRequisition persists a requisition with its lines.
func (s *Service) CreateRequisition(ctx context.Context, input CreateRequisitionInput) (Requisition, error) {
	lines, err := buildRequisitionLines(input.Lines)
	if err != nil {
		return Requisition{}, err
	}
	pr := Requisition{
		RequesterID: input.RequesterID,
		Note:        input.Note,
		Status:      ParseRequisitionStatus(input.Status),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertRequisition(ctx, pr)
		if err != nil {
			return err
		}
		pr.ID = id
		return tx.ReplaceRequisitionLines(ctx, id, lines)
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, "PR_CREATE", pr.ID, map[string]any{"lines": len(lines)})
	return pr, nil
}

// UpdateRequisitionInput describes an edit payload. Lines replace the
// existing set atomically when provided.
type UpdateRequisitionInput struct {
	Note   string
	Status string
	Lines  []RequisitionLineInput
}

// UpdateRequisition edits a requisition that has not yet been approved.
func (s *Service) UpdateRequisition(ctx context.Context, id int64, input UpdateRequisitionInput) (Requisition, error) {
	var updated Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, _, err := tx.GetRequisition(ctx, id)
		if err != nil {
			return err
		}
		if pr.Status == RequisitionApproved {
			return fmt.Errorf("%w: requisition %d is approved", shared.ErrImmutable, id)
		}
		next := ParseRequisitionStatus(input.Status)
		if next == RequisitionApproved {
			// the role gate lives on ApproveRequisition only
			return fmt.Errorf("%w: approval goes through the approve operation", shared.ErrValidation)
		}
		pr.Note = input.Note
		pr.Status = next
		if err := tx.UpdateRequisition(ctx, pr); err != nil {
			return err
		}
		if input.Lines != nil {
			lines, err := buildRequisitionLines(input.Lines)
			if err != nil {
				return err
			}
			if err := tx.ReplaceRequisitionLines(ctx, id, lines); err != nil {
				return err
			}
		}
		updated = pr
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, "PR_UPDATE", id, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// ApproveRequisition marks the requisition APPROVED. The caller supplies
// the already-resolved actor role; a buyer may not approve requests.
func (s *Service) ApproveRequisition(ctx context.Context, id int64, actorRole string) (Requisition, error) {
	if strings.EqualFold(strings.TrimSpace(actorRole), "buyer") {
		return Requisition{}, ErrRoleNotAllowed
	}
	var approved Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, _, err := tx.GetRequisition(ctx, id)
		if err != nil {
			return err
		}
		if pr.Status == RequisitionApproved {
			return fmt.Errorf("%w: requisition %d is approved", shared.ErrImmutable, id)
		}
		pr.Status = RequisitionApproved
		if err := tx.UpdateRequisition(ctx, pr); err != nil {
			return err
		}
		approved = pr
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, "PR_APPROVE", id, map[string]any{"role": actorRole})
	return approved, nil
}

// DeleteRequisition removes a requisition not yet consumed by an RFQ.
func (s *Service) DeleteRequisition(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, _, err := tx.GetRequisition(ctx, id); err != nil {
			return err
		}
		inUse, err := tx.RFQExistsForRequisition(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("%w: requisition %d has rfqs", ErrInUse, id)
		}
		return tx.DeleteRequisition(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PR_DELETE", id, nil)
	return nil
}

// GetRequisition returns one requisition with its lines.
func (s *Service) GetRequisition(ctx context.Context, id int64) (Requisition, []RequisitionLine, error) {
	return s.repo.GetRequisition(ctx, id)
}

// ListRequisitions returns requisitions, optionally filtered by status.
func (s *Service) ListRequisitions(ctx context.Context, status string) ([]Requisition, error) {
	var filter RequisitionStatus
	if strings.TrimSpace(status) != "" {
		filter = ParseRequisitionStatus(status)
	}
	return s.repo.ListRequisitions(ctx, filter)
}

// ListApprovedRequisitions returns the RFQ-eligible requisitions.
func (s *Service) ListApprovedRequisitions(ctx context.Context) ([]Requisition, error) {
	return s.repo.ListRequisitions(ctx, RequisitionApproved)
}

func buildRequisitionLines(inputs []RequisitionLineInput) ([]RequisitionLine, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	lines := make([]RequisitionLine, 0, len(inputs))
	for _, in := range inputs {
		if in.MaterialID <= 0 {
			return nil, fmt.Errorf("%w: line material required", shared.ErrValidation)
		}
		if in.Qty.Sign() <= 0 {
			return nil, fmt.Errorf("%w: line quantity must be positive", shared.ErrValidation)
		}
		lines = append(lines, RequisitionLine{MaterialID: in.MaterialID, Qty: in.Qty})
	}
	return lines, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "procurement", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
