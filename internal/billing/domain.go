package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the vendor invoice lifecycle. DRAFT and VALIDATED and
// CANCELED are caller-set; PARTIALLY_PAID and PAID are derived from the
// payment history and never trusted from input.
type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "DRAFT"
	InvoiceValidated     InvoiceStatus = "VALIDATED"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoicePaid          InvoiceStatus = "PAID"
	InvoiceCanceled      InvoiceStatus = "CANCELED"
)

// ParseInvoiceStatus folds case and maps unknown or empty input to DRAFT.
// "CANCELLED" is accepted as a spelling of CANCELED.
func ParseInvoiceStatus(s string) InvoiceStatus {
	switch InvoiceStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case InvoiceValidated:
		return InvoiceValidated
	case InvoicePartiallyPaid:
		return InvoicePartiallyPaid
	case InvoicePaid:
		return InvoicePaid
	case InvoiceCanceled, "CANCELLED":
		return InvoiceCanceled
	default:
		return InvoiceDraft
	}
}

// Invoice is a vendor invoice. OrderID is zero when the invoice is not
// tied to a purchase order; when set, the invoice vendor must match the
// order vendor.
type Invoice struct {
	ID        int64           `json:"id"`
	Number    string          `json:"number"`
	VendorID  int64           `json:"vendor_id"`
	OrderID   int64           `json:"order_id,omitempty"`
	Status    InvoiceStatus   `json:"status"`
	IssueDate time.Time       `json:"issue_date"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// InvoiceLine is one billed position.
type InvoiceLine struct {
	ID         int64           `json:"id"`
	InvoiceID  int64           `json:"invoice_id"`
	MaterialID int64           `json:"material_id"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

// Payment settles part or all of one invoice.
type Payment struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	PaidAt    time.Time       `json:"paid_at"`
	Note      string          `json:"note,omitempty"`
}

var (
	// ErrHasPayments blocks structural invoice edits once payments exist.
	ErrHasPayments = errors.New("billing: invoice has payments")
	// ErrVendorMismatch indicates the invoice vendor differs from the
	// referenced order's vendor.
	ErrVendorMismatch = errors.New("billing: invoice vendor does not match order vendor")
)
