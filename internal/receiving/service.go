package receiving

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/inventory"
	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// Reader describes the read operations shared by the pool-backed repository
// and the transactional repository. Aggregate validations (received sums,
// accepted sums, returned sums) must run on the same snapshot as the writes
// they guard, so both repositories expose them.
type Reader interface {
	GetOrder(ctx context.Context, orderID int64) (OrderRef, []OrderItemRef, error)
	GetReceipt(ctx context.Context, id int64) (Receipt, []ReceiptLine, error)
	ReceivedByOrderItem(ctx context.Context, orderID, excludeReceiptID int64) (map[int64]decimal.Decimal, error)
	GetQCReport(ctx context.Context, id int64) (QCReport, []QCLine, error)
	AcceptedByReceiptLine(ctx context.Context, receiptID int64) (map[int64]decimal.Decimal, error)
	ReturnedByReceiptLine(ctx context.Context, receiptID, excludeReturnID int64) (map[int64]decimal.Decimal, error)
	GetReturn(ctx context.Context, id int64) (Return, []ReturnLine, error)
	QCExistsForReceipt(ctx context.Context, receiptID int64) (bool, error)
	ReturnExistsForReceipt(ctx context.Context, receiptID int64) (bool, error)
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListReceipts(ctx context.Context, orderID int64, status ReceiptStatus) ([]Receipt, error)
	ListQCReports(ctx context.Context, receiptID int64) ([]QCReport, error)
	ListReturns(ctx context.Context, receiptID int64) ([]Return, error)
}

// TxRepository groups mutations executed inside one transaction. Ledger
// exposes the movement store bound to the same transaction so stock
// postings commit or roll back together with the document write.
type TxRepository interface {
	Reader
	InsertReceipt(ctx context.Context, gr Receipt) (int64, error)
	UpdateReceipt(ctx context.Context, gr Receipt) error
	ReplaceReceiptLines(ctx context.Context, receiptID int64, lines []ReceiptLine) error
	DeleteReceipt(ctx context.Context, id int64) error
	InsertQCReport(ctx context.Context, qc QCReport) (int64, error)
	UpdateQCReport(ctx context.Context, qc QCReport) error
	ReplaceQCLines(ctx context.Context, reportID int64, lines []QCLine) error
	DeleteQCReport(ctx context.Context, id int64) error
	InsertReturn(ctx context.Context, ret Return) (int64, error)
	UpdateReturn(ctx context.Context, ret Return) error
	ReplaceReturnLines(ctx context.Context, returnID int64, lines []ReturnLine) error
	DeleteReturn(ctx context.Context, id int64) error
	Ledger() inventory.TxStore
}

// StockCachePort invalidates cached on-hand balances after a ledger write
// commits.
type StockCachePort interface {
	InvalidateOnHand(ctx context.Context, materialIDs []int64)
}

// AuditPort records mutation trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the receipt, quality and return engines.
type Service struct {
	repo   RepositoryPort
	ledger *inventory.Ledger
	stock  StockCachePort
	audit  AuditPort
}

// NewService constructs receiving service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, stock StockCachePort, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, stock: stock, audit: audit}
}

// ReceiptLineInput describes one received quantity. OrderItemID may be
// zero; the line is then resolved by material, provided the material is
// unique among the order's items.
type ReceiptLineInput struct {
	OrderItemID int64
	MaterialID  int64
	Qty         decimal.Decimal
}

// CreateReceiptInput describes receipt creation.
type CreateReceiptInput struct {
	OrderID    int64
	Status     string
	ReceivedAt time.Time
	Note       string
	Lines      []ReceiptLineInput
}

// CreateReceipt records a goods receipt against a confirmed order.
func (s *Service) CreateReceipt(ctx context.Context, input CreateReceiptInput) (Receipt, error) {
	gr := Receipt{
		OrderID:    input.OrderID,
		Status:     ParseReceiptStatus(input.Status),
		ReceivedAt: defaultTime(input.ReceivedAt),
		Note:       input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, items, err := tx.GetOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if !order.Confirmed() {
			return fmt.Errorf("%w: order %d is %s", ErrNotConfirmed, order.ID, order.Status)
		}
		lines, err := resolveReceiptLines(items, input.Lines)
		if err != nil {
			return err
		}
		if err := checkOverReceipt(ctx, tx, order.ID, items, lines, 0); err != nil {
			return err
		}
		id, err := tx.InsertReceipt(ctx, gr)
		if err != nil {
			return err
		}
		gr.ID = id
		return tx.ReplaceReceiptLines(ctx, id, lines)
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, "GR_CREATE", gr.ID, map[string]any{"order_id": gr.OrderID, "status": string(gr.Status)})
	return gr, nil
}

// UpdateReceiptInput edits a receipt. OrderID must stay zero or equal the
// current order; the binding cannot change after creation. Lines replace
// the existing set when provided.
type UpdateReceiptInput struct {
	OrderID    int64
	Status     string
	ReceivedAt time.Time
	Note       string
	Lines      []ReceiptLineInput
}

// UpdateReceipt edits a receipt that has not been posted.
func (s *Service) UpdateReceipt(ctx context.Context, id int64, input UpdateReceiptInput) (Receipt, error) {
	var updated Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gr, existing, err := tx.GetReceipt(ctx, id)
		if err != nil {
			return err
		}
		if gr.Status == ReceiptPosted {
			return fmt.Errorf("%w: receipt %d is posted", shared.ErrImmutable, id)
		}
		if input.OrderID != 0 && input.OrderID != gr.OrderID {
			return fmt.Errorf("%w: receipt order reference cannot change", shared.ErrValidation)
		}
		order, items, err := tx.GetOrder(ctx, gr.OrderID)
		if err != nil {
			return err
		}
		if !order.Confirmed() {
			return fmt.Errorf("%w: order %d is %s", ErrNotConfirmed, order.ID, order.Status)
		}
		lines := existing
		if input.Lines != nil {
			if lines, err = resolveReceiptLines(items, input.Lines); err != nil {
				return err
			}
		}
		// remaining is computed as if this receipt did not exist yet,
		// so editing a counted receipt does not block itself
		if err := checkOverReceipt(ctx, tx, gr.OrderID, items, lines, id); err != nil {
			return err
		}
		gr.Status = ParseReceiptStatus(input.Status)
		if !input.ReceivedAt.IsZero() {
			gr.ReceivedAt = input.ReceivedAt
		}
		gr.Note = input.Note
		if err := tx.UpdateReceipt(ctx, gr); err != nil {
			return err
		}
		if input.Lines != nil {
			if err := tx.ReplaceReceiptLines(ctx, id, lines); err != nil {
				return err
			}
		}
		updated = gr
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, "GR_UPDATE", id, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// DeleteReceipt removes a receipt not yet consumed by QC or a return, and
// sweeps any receipt-tagged ledger movements.
func (s *Service) DeleteReceipt(ctx context.Context, id int64) error {
	var affected []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, _, err := tx.GetReceipt(ctx, id); err != nil {
			return err
		}
		hasQC, err := tx.QCExistsForReceipt(ctx, id)
		if err != nil {
			return err
		}
		if hasQC {
			return fmt.Errorf("%w: receipt %d has qc reports", ErrInUse, id)
		}
		hasReturn, err := tx.ReturnExistsForReceipt(ctx, id)
		if err != nil {
			return err
		}
		if hasReturn {
			return fmt.Errorf("%w: receipt %d has returns", ErrInUse, id)
		}
		// the receipt tag is reserved and normally unposted; sweep it
		// anyway so no historical rows survive the document
		store := tx.Ledger()
		if affected, err = s.ledger.RemoveMovements(ctx, store, inventory.RefTypeGoodsReceipt, id); err != nil {
			return err
		}
		if err := s.ledger.SyncStockItems(ctx, store, affected); err != nil {
			return err
		}
		return tx.DeleteReceipt(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, affected)
	s.recordAudit(ctx, "GR_DELETE", id, nil)
	return nil
}

// GetReceipt returns one receipt with its lines.
func (s *Service) GetReceipt(ctx context.Context, id int64) (Receipt, []ReceiptLine, error) {
	return s.repo.GetReceipt(ctx, id)
}

// ListReceipts returns receipts, optionally narrowed by order and status.
func (s *Service) ListReceipts(ctx context.Context, orderID int64, status string) ([]Receipt, error) {
	var filter ReceiptStatus
	if status != "" {
		filter = ParseReceiptStatus(status)
	}
	return s.repo.ListReceipts(ctx, orderID, filter)
}

// resolveReceiptLines maps each input to a concrete order item. Explicit
// item references must belong to the order and carry its material; implicit
// ones resolve by material when exactly one item matches.
func resolveReceiptLines(items []OrderItemRef, inputs []ReceiptLineInput) ([]ReceiptLine, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	byID := make(map[int64]OrderItemRef, len(items))
	byMaterial := make(map[int64][]OrderItemRef)
	for _, item := range items {
		byID[item.ID] = item
		byMaterial[item.MaterialID] = append(byMaterial[item.MaterialID], item)
	}
	lines := make([]ReceiptLine, 0, len(inputs))
	for _, in := range inputs {
		if in.Qty.Sign() <= 0 {
			return nil, fmt.Errorf("%w: line quantity must be positive", shared.ErrValidation)
		}
		var item OrderItemRef
		switch {
		case in.OrderItemID != 0:
			var ok bool
			if item, ok = byID[in.OrderItemID]; !ok {
				return nil, fmt.Errorf("%w: order item %d", ErrForeignLine, in.OrderItemID)
			}
			if in.MaterialID != 0 && in.MaterialID != item.MaterialID {
				return nil, fmt.Errorf("%w: line material does not match order item", shared.ErrValidation)
			}
		default:
			candidates := byMaterial[in.MaterialID]
			switch len(candidates) {
			case 0:
				return nil, fmt.Errorf("%w: material %d", ErrUnknownMaterial, in.MaterialID)
			case 1:
				item = candidates[0]
			default:
				return nil, fmt.Errorf("%w: material %d", ErrAmbiguousMaterial, in.MaterialID)
			}
		}
		lines = append(lines, ReceiptLine{OrderItemID: item.ID, MaterialID: item.MaterialID, Qty: in.Qty})
	}
	return lines, nil
}

// checkOverReceipt groups resolved lines by order item and rejects any
// group exceeding the item's remaining quantity. Receipts in CHECKED or
// POSTED state count toward received; excludeReceiptID removes the edited
// receipt's own prior lines from the sum.
func checkOverReceipt(ctx context.Context, tx TxRepository, orderID int64, items []OrderItemRef, lines []ReceiptLine, excludeReceiptID int64) error {
	received, err := tx.ReceivedByOrderItem(ctx, orderID, excludeReceiptID)
	if err != nil {
		return err
	}
	ordered := make(map[int64]decimal.Decimal, len(items))
	for _, item := range items {
		ordered[item.ID] = item.Qty
	}
	grouped := make(map[int64]decimal.Decimal)
	for _, line := range lines {
		grouped[line.OrderItemID] = grouped[line.OrderItemID].Add(line.Qty)
	}
	for itemID, qty := range grouped {
		remaining := ordered[itemID].Sub(received[itemID])
		if remaining.Sign() < 0 {
			remaining = decimal.Zero
		}
		if qty.Cmp(remaining) > 0 {
			return fmt.Errorf("%w: order item %d remaining %s, got %s", ErrOverReceipt, itemID, remaining, qty)
		}
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, materialIDs []int64) {
	if s.stock != nil && len(materialIDs) > 0 {
		s.stock.InvalidateOnHand(ctx, materialIDs)
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "receiving", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func defaultTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
