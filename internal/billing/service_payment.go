package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// CreatePaymentInput describes payment creation.
type CreatePaymentInput struct {
	InvoiceID int64
	Amount    decimal.Decimal
	Method    string
	PaidAt    time.Time
	Note      string
}

// CreatePayment records a payment and re-derives the owning invoice in the
// same transaction.
func (s *Service) CreatePayment(ctx context.Context, input CreatePaymentInput) (Payment, error) {
	p := Payment{
		InvoiceID: input.InvoiceID,
		Amount:    input.Amount,
		Method:    input.Method,
		PaidAt:    defaultDate(input.PaidAt),
		Note:      input.Note,
	}
	if p.Amount.Sign() <= 0 {
		return Payment{}, fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, _, err := tx.GetInvoice(ctx, input.InvoiceID); err != nil {
			return err
		}
		id, err := tx.InsertPayment(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		_, err = reDerive(ctx, tx, input.InvoiceID)
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	s.recordAudit(ctx, "PAY_CREATE", p.ID, map[string]any{"invoice_id": p.InvoiceID, "amount": p.Amount.String()})
	return p, nil
}

// UpdatePaymentInput edits a payment. A non-zero InvoiceID re-points the
// payment to another invoice.
type UpdatePaymentInput struct {
	InvoiceID int64
	Amount    decimal.Decimal
	Method    string
	PaidAt    time.Time
	Note      string
}

// UpdatePayment edits a payment. Re-pointing the payment re-derives both
// the old and the new invoice.
func (s *Service) UpdatePayment(ctx context.Context, id int64, input UpdatePaymentInput) (Payment, error) {
	if input.Amount.Sign() <= 0 {
		return Payment{}, fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	var updated Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		previousInvoice := p.InvoiceID
		if input.InvoiceID != 0 && input.InvoiceID != p.InvoiceID {
			if _, _, err := tx.GetInvoice(ctx, input.InvoiceID); err != nil {
				return err
			}
			p.InvoiceID = input.InvoiceID
		}
		p.Amount = input.Amount
		p.Method = input.Method
		if !input.PaidAt.IsZero() {
			p.PaidAt = input.PaidAt
		}
		p.Note = input.Note
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if _, err := reDerive(ctx, tx, p.InvoiceID); err != nil {
			return err
		}
		if previousInvoice != p.InvoiceID {
			if _, err := reDerive(ctx, tx, previousInvoice); err != nil {
				return err
			}
		}
		updated = p
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.recordAudit(ctx, "PAY_UPDATE", id, map[string]any{"amount": updated.Amount.String()})
	return updated, nil
}

// DeletePayment removes a payment and re-derives the owning invoice.
func (s *Service) DeletePayment(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, id); err != nil {
			return err
		}
		_, err = reDerive(ctx, tx, p.InvoiceID)
		return err
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PAY_DELETE", id, nil)
	return nil
}

// GetPayment returns one payment.
func (s *Service) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListPayments returns payments, optionally narrowed to one invoice.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, invoiceID)
}
