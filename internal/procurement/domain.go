package procurement

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Requisition lifecycle statuses.
type RequisitionStatus string

const (
	RequisitionDraft     RequisitionStatus = "DRAFT"
	RequisitionSubmitted RequisitionStatus = "SUBMITTED"
	RequisitionApproved  RequisitionStatus = "APPROVED"
	RequisitionRejected  RequisitionStatus = "REJECTED"
)

// ParseRequisitionStatus accepts case-insensitive input and falls back to
// the initial state on empty or unrecognized values.
func ParseRequisitionStatus(s string) RequisitionStatus {
	switch RequisitionStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case RequisitionSubmitted:
		return RequisitionSubmitted
	case RequisitionApproved:
		return RequisitionApproved
	case RequisitionRejected:
		return RequisitionRejected
	default:
		return RequisitionDraft
	}
}

// RFQ lifecycle statuses.
type RFQStatus string

const (
	RFQDraft     RFQStatus = "DRAFT"
	RFQSubmitted RFQStatus = "SUBMITTED"
	RFQApproved  RFQStatus = "APPROVED"
	RFQRejected  RFQStatus = "REJECTED"
)

// ParseRFQStatus accepts case-insensitive input, defaulting to DRAFT.
func ParseRFQStatus(s string) RFQStatus {
	switch RFQStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case RFQSubmitted:
		return RFQSubmitted
	case RFQApproved:
		return RFQApproved
	case RFQRejected:
		return RFQRejected
	default:
		return RFQDraft
	}
}

// Vendor quotation lifecycle statuses.
type QuotationStatus string

const (
	QuotationReceived QuotationStatus = "RECEIVED"
	QuotationSelected QuotationStatus = "SELECTED"
	QuotationRejected QuotationStatus = "REJECTED"
)

// ParseQuotationStatus accepts case-insensitive input, defaulting to RECEIVED.
func ParseQuotationStatus(s string) QuotationStatus {
	switch QuotationStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case QuotationSelected:
		return QuotationSelected
	case QuotationRejected:
		return QuotationRejected
	default:
		return QuotationReceived
	}
}

// Purchase order lifecycle statuses.
type OrderStatus string

const (
	OrderDraft     OrderStatus = "DRAFT"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderCompleted OrderStatus = "COMPLETED"
)

// ParseOrderStatus accepts case-insensitive input, defaulting to DRAFT.
func ParseOrderStatus(s string) OrderStatus {
	switch OrderStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderConfirmed:
		return OrderConfirmed
	case OrderCancelled:
		return OrderCancelled
	case OrderCompleted:
		return OrderCompleted
	default:
		return OrderDraft
	}
}

// Requisition is an internal request for materials.
type Requisition struct {
	ID          int64
	RequesterID int64
	Note        string
	Status      RequisitionStatus
	CreatedAt   time.Time
}

// RequisitionLine is one requested material row.
type RequisitionLine struct {
	ID            int64
	RequisitionID int64
	MaterialID    int64
	Qty           decimal.Decimal
}

// RFQ derives from an approved requisition; its lines are a snapshot,
// not a live view of requisition lines.
type RFQ struct {
	ID            int64
	RequisitionID int64
	Status        RFQStatus
	CreatedAt     time.Time
}

// RFQLine mirrors a requisition line at RFQ creation time.
type RFQLine struct {
	ID         int64
	RFQID      int64
	MaterialID int64
	Qty        decimal.Decimal
}

// Quotation is a vendor's priced response to an RFQ.
type Quotation struct {
	ID        int64
	RFQID     int64
	VendorID  int64
	Status    QuotationStatus
	CreatedAt time.Time
}

// QuotationLine carries a vendor's price per material.
type QuotationLine struct {
	ID          int64
	QuotationID int64
	MaterialID  int64
	Qty         decimal.Decimal
	UnitPrice   decimal.Decimal
}

// Order is a binding purchase order, usually created from a selected
// quotation; QuotationID is zero for orders entered directly.
type Order struct {
	ID           int64
	Number       string
	VendorID     int64
	QuotationID  int64
	Status       OrderStatus
	OrderDate    time.Time
	ExpectedDate time.Time
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	Total        decimal.Decimal
	CreatedAt    time.Time
}

// OrderItem is one ordered material row with its snapshotted price.
type OrderItem struct {
	ID         int64
	OrderID    int64
	MaterialID int64
	Qty        decimal.Decimal
	UnitPrice  decimal.Decimal
	LineTotal  decimal.Decimal
}

// ItemRemaining reports how much of an order item is still open to receive.
type ItemRemaining struct {
	Item      OrderItem
	Ordered   decimal.Decimal
	Received  decimal.Decimal
	Remaining decimal.Decimal
}

var (
	// ErrConflictingSelection occurs when another quotation under the same
	// RFQ already holds SELECTED.
	ErrConflictingSelection = errors.New("procurement: another quotation is already selected for this rfq")
	// ErrRoleNotAllowed occurs when the acting role may not approve.
	ErrRoleNotAllowed = errors.New("procurement: role not allowed to approve")
	// ErrInUse blocks deletion of a document consumed downstream.
	ErrInUse = errors.New("procurement: document is referenced downstream")
	// ErrHasReceipts blocks order deletion while goods receipts exist.
	ErrHasReceipts = errors.New("procurement: order has goods receipts")
	// ErrVendorMismatch occurs when an order's vendor differs from its
	// quotation's vendor.
	ErrVendorMismatch = errors.New("procurement: order vendor must match quotation vendor")
	// ErrInvalidState occurs when a status change violates the workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
)
