package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Reference types tag each movement with the posting document kind.
const (
	// RefTypeGoodsReceipt is reserved: goods receipts do not post stock
	// directly, stock enters on QC pass. Receipt deletion still sweeps
	// this tag so historical rows cannot linger.
	RefTypeGoodsReceipt = "GRN"
	// RefTypeQCPass marks positive movements from accepted QC lines.
	RefTypeQCPass = "QC_PASS"
	// RefTypeReturn marks negative movements from posted vendor returns.
	RefTypeReturn = "RETURN"
)

// Movement is one signed, append-only stock-change record. Movements never
// mutate once written; correction is rollback plus re-append.
type Movement struct {
	ID         int64
	MaterialID int64
	RefType    string
	RefID      int64
	QtyChange  decimal.Decimal
	CreatedAt  time.Time
}

// StockItem caches the current on-hand quantity per material. It is a
// derived projection of the movement log, never independently authoritative.
type StockItem struct {
	ID         int64
	MaterialID int64
	QtyOnHand  decimal.Decimal
	UpdatedAt  time.Time
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	MaterialID int64
	RefType    string
	RefID      int64
	Limit      int
	Offset     int
}

var (
	// ErrInvalidQuantity indicates a zero movement delta.
	ErrInvalidQuantity = errors.New("inventory: quantity change must be non zero")
	// ErrInvalidRef indicates a movement without a reference document.
	ErrInvalidRef = errors.New("inventory: movement requires ref type and ref id")
)
