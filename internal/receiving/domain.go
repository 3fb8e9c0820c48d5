package receiving

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Goods receipt lifecycle statuses.
type ReceiptStatus string

const (
	ReceiptDraft   ReceiptStatus = "DRAFT"
	ReceiptChecked ReceiptStatus = "CHECKED"
	ReceiptPosted  ReceiptStatus = "POSTED"
)

// ParseReceiptStatus accepts case-insensitive input, defaulting to DRAFT.
func ParseReceiptStatus(s string) ReceiptStatus {
	switch ReceiptStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case ReceiptChecked:
		return ReceiptChecked
	case ReceiptPosted:
		return ReceiptPosted
	default:
		return ReceiptDraft
	}
}

// countsTowardReceived reports whether a receipt in this status consumes
// the order item's remaining quantity.
func (s ReceiptStatus) countsTowardReceived() bool {
	return s == ReceiptChecked || s == ReceiptPosted
}

// QC report lifecycle statuses.
type QCStatus string

const (
	QCPending QCStatus = "PENDING"
	QCPassed  QCStatus = "PASSED"
	QCFailed  QCStatus = "FAILED"
)

// ParseQCStatus accepts case-insensitive input, defaulting to PENDING.
func ParseQCStatus(s string) QCStatus {
	switch QCStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case QCPassed:
		return QCPassed
	case QCFailed:
		return QCFailed
	default:
		return QCPending
	}
}

// QC line results.
type QCResult string

const (
	ResultPass QCResult = "pass"
	ResultFail QCResult = "fail"
)

// Purchase return lifecycle statuses.
type ReturnStatus string

const (
	ReturnDraft    ReturnStatus = "DRAFT"
	ReturnApproved ReturnStatus = "APPROVED"
	ReturnReturned ReturnStatus = "RETURNED"
	ReturnPosted   ReturnStatus = "POSTED"
)

// ParseReturnStatus accepts case-insensitive input, defaulting to DRAFT.
func ParseReturnStatus(s string) ReturnStatus {
	switch ReturnStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case ReturnApproved:
		return ReturnApproved
	case ReturnReturned:
		return ReturnReturned
	case ReturnPosted:
		return ReturnPosted
	default:
		return ReturnDraft
	}
}

// OrderRef is the slice of a purchase order the receiving engine needs.
type OrderRef struct {
	ID       int64
	Number   string
	VendorID int64
	Status   string
}

// Confirmed reports whether the order is open for receiving.
func (o OrderRef) Confirmed() bool {
	return o.Status == "CONFIRMED"
}

// OrderItemRef is one orderable line of the referenced purchase order.
type OrderItemRef struct {
	ID         int64
	MaterialID int64
	Qty        decimal.Decimal
}

// Receipt records a physical goods receipt against a confirmed order.
// The order reference never changes after creation.
type Receipt struct {
	ID         int64
	OrderID    int64
	Status     ReceiptStatus
	ReceivedAt time.Time
	Note       string
	CreatedAt  time.Time
}

// ReceiptLine is one received quantity, resolved to a specific order item.
type ReceiptLine struct {
	ID          int64
	ReceiptID   int64
	OrderItemID int64
	MaterialID  int64
	Qty         decimal.Decimal
}

// QCReport is the inspection outcome of one posted receipt. CheckedAt is
// set once on the first transition out of PENDING and cleared when the
// report returns to PENDING.
type QCReport struct {
	ID        int64
	ReceiptID int64
	Status    QCStatus
	CheckedAt *time.Time
	CreatedAt time.Time
}

// QCLine records the inspection result for one receipt line.
type QCLine struct {
	ID            int64
	ReportID      int64
	ReceiptLineID int64
	Result        QCResult
	AcceptedQty   decimal.Decimal
	Note          string
}

// Return ships accepted-but-rejected goods back to the vendor.
type Return struct {
	ID        int64
	ReceiptID int64
	Status    ReturnStatus
	CreatedAt time.Time
}

// ReturnLine is one returned quantity against a receipt line.
type ReturnLine struct {
	ID            int64
	ReturnID      int64
	ReceiptLineID int64
	Qty           decimal.Decimal
	Reason        string
}

var (
	// ErrNotConfirmed indicates the order is not open for receiving.
	ErrNotConfirmed = errors.New("receiving: order is not confirmed")
	// ErrOverReceipt indicates received quantity would exceed an order
	// item's remaining quantity.
	ErrOverReceipt = errors.New("receiving: quantity exceeds remaining for order item")
	// ErrUnknownMaterial indicates no order item carries the line's material.
	ErrUnknownMaterial = errors.New("receiving: material not on order")
	// ErrAmbiguousMaterial indicates multiple order items carry the line's
	// material, so the line must name the item explicitly.
	ErrAmbiguousMaterial = errors.New("receiving: material matches multiple order items")
	// ErrForeignLine indicates a line references a row of another document.
	ErrForeignLine = errors.New("receiving: line belongs to a different document")
	// ErrDuplicateLine indicates the same receipt line appears twice.
	ErrDuplicateLine = errors.New("receiving: duplicate line reference")
	// ErrGRNotPosted indicates the receipt is not posted yet.
	ErrGRNotPosted = errors.New("receiving: receipt is not posted")
	// ErrAcceptedQtyOutOfRange indicates an accepted quantity outside
	// [0, receipt line qty], or non-zero on a failed line.
	ErrAcceptedQtyOutOfRange = errors.New("receiving: accepted quantity out of range")
	// ErrCannotFinalizePending indicates finalize was asked to target PENDING.
	ErrCannotFinalizePending = errors.New("receiving: cannot finalize to pending")
	// ErrOverReturn indicates returned quantity would exceed the accepted
	// quantity still on hand for a receipt line.
	ErrOverReturn = errors.New("receiving: quantity exceeds remaining to return")
	// ErrInUse blocks deletion of a receipt consumed downstream.
	ErrInUse = errors.New("receiving: document is referenced downstream")
	// ErrInvalidResult indicates a QC line result other than pass or fail.
	ErrInvalidResult = errors.New("receiving: result must be pass or fail")
)
