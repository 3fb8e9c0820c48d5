package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// Reader describes read operations shared by the pool-backed repository and
// the transactional repository, so payment sums are read on the same
// snapshot as the derivation they feed.
type Reader interface {
	GetInvoice(ctx context.Context, id int64) (Invoice, []InvoiceLine, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
	PaidSum(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
	PaymentCount(ctx context.Context, invoiceID int64) (int64, error)
	OrderVendorID(ctx context.Context, orderID int64) (int64, error)
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListInvoices(ctx context.Context, vendorID int64, status InvoiceStatus) ([]Invoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
}

// TxRepository groups mutations executed inside one transaction.
type TxRepository interface {
	Reader
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	ReplaceInvoiceLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error
	DeleteInvoice(ctx context.Context, id int64) error
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	UpdatePayment(ctx context.Context, p Payment) error
	DeletePayment(ctx context.Context, id int64) error
}

// AuditPort records mutation trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements the invoice and payment engine.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs billing service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// InvoiceLineInput describes one billed position.
type InvoiceLineInput struct {
	MaterialID int64
	Qty        decimal.Decimal
	Price      decimal.Decimal
}

// CreateInvoiceInput describes invoice creation. Total is taken from the
// lines when any are given, otherwise from the explicit field.
type CreateInvoiceInput struct {
	Number    string
	VendorID  int64
	OrderID   int64
	Status    string
	IssueDate time.Time
	Total     decimal.Decimal
	Lines     []InvoiceLineInput
}

// CreateInvoice persists a vendor invoice. When an order is referenced the
// invoice vendor must equal the order vendor.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, error) {
	inv := Invoice{
		Number:    input.Number,
		VendorID:  input.VendorID,
		OrderID:   input.OrderID,
		Status:    ParseInvoiceStatus(input.Status),
		IssueDate: defaultDate(input.IssueDate),
		Total:     input.Total,
	}
	if inv.Number == "" {
		inv.Number = generateNumber("INV")
	}
	if inv.VendorID <= 0 {
		return Invoice{}, fmt.Errorf("%w: vendor is required", shared.ErrValidation)
	}
	var lines []InvoiceLine
	if len(input.Lines) > 0 {
		var err error
		if lines, inv.Total, err = buildInvoiceLines(input.Lines); err != nil {
			return Invoice{}, err
		}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := checkVendorConsistency(ctx, tx, inv); err != nil {
			return err
		}
		inv.Status = deriveStatus(inv, decimal.Zero)
		id, err := tx.InsertInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		return tx.ReplaceInvoiceLines(ctx, id, lines)
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "INV_CREATE", inv.ID, map[string]any{"number": inv.Number, "total": inv.Total.String()})
	return inv, nil
}

// UpdateInvoiceInput edits an invoice. Lines replace the existing set when
// provided; TotalSet distinguishes an explicit total from an omitted one.
type UpdateInvoiceInput struct {
	VendorID  int64
	OrderID   int64
	Status    string
	IssueDate time.Time
	Total     *decimal.Decimal
	Lines     []InvoiceLineInput
}

// UpdateInvoice edits an invoice. Structural fields (vendor, order, lines,
// total) are frozen once any payment exists; status and issue date stay
// editable until the invoice reaches a terminal state.
func (s *Service) UpdateInvoice(ctx context.Context, id int64, input UpdateInvoiceInput) (Invoice, error) {
	var updated Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, _, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == InvoicePaid || inv.Status == InvoiceCanceled {
			return fmt.Errorf("%w: invoice %d is %s", shared.ErrImmutable, id, inv.Status)
		}
		count, err := tx.PaymentCount(ctx, id)
		if err != nil {
			return err
		}
		structural := input.Lines != nil || input.Total != nil ||
			(input.VendorID != 0 && input.VendorID != inv.VendorID) ||
			(input.OrderID != 0 && input.OrderID != inv.OrderID)
		if structural && count > 0 {
			return fmt.Errorf("%w: invoice %d", ErrHasPayments, id)
		}
		if input.VendorID != 0 {
			inv.VendorID = input.VendorID
		}
		if input.OrderID != 0 {
			inv.OrderID = input.OrderID
		}
		if input.Total != nil {
			inv.Total = *input.Total
		}
		var lines []InvoiceLine
		if input.Lines != nil {
			if lines, inv.Total, err = buildInvoiceLines(input.Lines); err != nil {
				return err
			}
		}
		if err := checkVendorConsistency(ctx, tx, inv); err != nil {
			return err
		}
		if !input.IssueDate.IsZero() {
			inv.IssueDate = input.IssueDate
		}
		inv.Status = ParseInvoiceStatus(input.Status)
		paid, err := tx.PaidSum(ctx, id)
		if err != nil {
			return err
		}
		inv.Status = deriveStatus(inv, paid)
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		if input.Lines != nil {
			if err := tx.ReplaceInvoiceLines(ctx, id, lines); err != nil {
				return err
			}
		}
		updated = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, "INV_UPDATE", id, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// DeleteInvoice removes a draft invoice with no payment history.
func (s *Service) DeleteInvoice(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, _, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceDraft {
			return fmt.Errorf("%w: only draft invoices can be deleted", shared.ErrImmutable)
		}
		count, err := tx.PaymentCount(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: invoice %d", ErrHasPayments, id)
		}
		return tx.DeleteInvoice(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "INV_DELETE", id, nil)
	return nil
}

// GetInvoice returns one invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, []InvoiceLine, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns invoices, optionally narrowed by vendor and status.
func (s *Service) ListInvoices(ctx context.Context, vendorID int64, status string) ([]Invoice, error) {
	var filter InvoiceStatus
	if status != "" {
		filter = ParseInvoiceStatus(status)
	}
	return s.repo.ListInvoices(ctx, vendorID, filter)
}

// deriveStatus applies the payment-derived part of the lifecycle. CANCELED
// is sticky; a non-positive total means nothing is owed; otherwise the paid
// sum decides between the caller-set state, PARTIALLY_PAID and PAID.
func deriveStatus(inv Invoice, paid decimal.Decimal) InvoiceStatus {
	switch {
	case inv.Status == InvoiceCanceled:
		return InvoiceCanceled
	case inv.Total.Sign() <= 0:
		return InvoicePaid
	case paid.Sign() <= 0:
		if inv.Status == InvoiceDraft {
			return InvoiceDraft
		}
		return InvoiceValidated
	case paid.Cmp(inv.Total) < 0:
		return InvoicePartiallyPaid
	default:
		return InvoicePaid
	}
}

// reDerive recomputes and persists the invoice status from its current
// payment history. Runs inside the same transaction as the payment write
// that triggered it.
func reDerive(ctx context.Context, tx TxRepository, invoiceID int64) (Invoice, error) {
	inv, _, err := tx.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	paid, err := tx.PaidSum(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	next := deriveStatus(inv, paid)
	if next == inv.Status {
		return inv, nil
	}
	inv.Status = next
	return inv, tx.UpdateInvoice(ctx, inv)
}

func checkVendorConsistency(ctx context.Context, tx TxRepository, inv Invoice) error {
	if inv.OrderID == 0 {
		return nil
	}
	vendorID, err := tx.OrderVendorID(ctx, inv.OrderID)
	if err != nil {
		return err
	}
	if vendorID != inv.VendorID {
		return fmt.Errorf("%w: invoice vendor %d, order vendor %d", ErrVendorMismatch, inv.VendorID, vendorID)
	}
	return nil
}

func buildInvoiceLines(inputs []InvoiceLineInput) ([]InvoiceLine, decimal.Decimal, error) {
	lines := make([]InvoiceLine, 0, len(inputs))
	total := decimal.Zero
	for _, in := range inputs {
		if in.MaterialID <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: line material is required", shared.ErrValidation)
		}
		if in.Qty.Sign() <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: line quantity must be positive", shared.ErrValidation)
		}
		lineTotal := in.Qty.Mul(in.Price).Round(2)
		lines = append(lines, InvoiceLine{MaterialID: in.MaterialID, Qty: in.Qty, Price: in.Price, LineTotal: lineTotal})
		total = total.Add(lineTotal)
	}
	return lines, total.Round(2), nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "billing", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultDate(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
