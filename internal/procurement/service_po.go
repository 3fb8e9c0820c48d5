package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// OrderItemInput carries one directly entered order line.
type OrderItemInput struct {
	MaterialID int64
	Qty        decimal.Decimal
	UnitPrice  decimal.Decimal
}

// CreateOrderInput describes order creation. With a QuotationID, items and
// vendor come from the quotation; otherwise VendorID and Items are required.
// TaxAmount wins over TaxRate when both are given.
type CreateOrderInput struct {
	QuotationID  int64
	Number       string
	VendorID     int64
	OrderDate    time.Time
	ExpectedDate time.Time
	TaxAmount    *decimal.Decimal
	TaxRate      *decimal.Decimal
	Status       string
	Items        []OrderItemInput
}

// CreateOrder persists a purchase order. When a quotation backs the order it
// must be SELECTED and not already bound to another order.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (Order, error) {
	if input.Number == "" {
		input.Number = generateNumber("PO")
	}
	po := Order{
		Number:       input.Number,
		QuotationID:  input.QuotationID,
		Status:       ParseOrderStatus(input.Status),
		OrderDate:    defaultDate(input.OrderDate),
		ExpectedDate: input.ExpectedDate,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var items []OrderItem
		if input.QuotationID != 0 {
			vq, vqLines, err := requireSelectedUnbound(ctx, tx, input.QuotationID, 0)
			if err != nil {
				return err
			}
			if input.VendorID != 0 && input.VendorID != vq.VendorID {
				return ErrVendorMismatch
			}
			po.VendorID = vq.VendorID
			items = itemsFromQuotation(vqLines)
		} else {
			if input.VendorID <= 0 {
				return fmt.Errorf("%w: vendor required", shared.ErrValidation)
			}
			po.VendorID = input.VendorID
			var err error
			items, err = buildOrderItems(input.Items)
			if err != nil {
				return err
			}
		}
		po.Subtotal, po.Tax, po.Total = computeTotals(items, input.TaxAmount, input.TaxRate)
		id, err := tx.InsertOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		return tx.ReplaceOrderItems(ctx, id, items)
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, "PO_CREATE", po.ID, map[string]any{"number": po.Number, "quotation_id": input.QuotationID})
	return po, nil
}

// UpdateOrderInput edits a draft order. A zero QuotationID keeps the
// current binding; items are replaced and totals recomputed when provided.
type UpdateOrderInput struct {
	QuotationID  int64
	Number       string
	OrderDate    time.Time
	ExpectedDate time.Time
	TaxAmount    *decimal.Decimal
	TaxRate      *decimal.Decimal
	Items        []OrderItemInput
}

// UpdateOrder edits an order still in DRAFT.
func (s *Service) UpdateOrder(ctx context.Context, id int64, input UpdateOrderInput) (Order, error) {
	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, items, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != OrderDraft {
			return fmt.Errorf("%w: order %d is %s", shared.ErrImmutable, id, po.Status)
		}
		if input.QuotationID != 0 && input.QuotationID != po.QuotationID {
			vq, vqLines, err := requireSelectedUnbound(ctx, tx, input.QuotationID, id)
			if err != nil {
				return err
			}
			po.QuotationID = input.QuotationID
			po.VendorID = vq.VendorID
			items = itemsFromQuotation(vqLines)
		} else if input.Items != nil {
			items, err = buildOrderItems(input.Items)
			if err != nil {
				return err
			}
		}
		if input.Number != "" {
			po.Number = input.Number
		}
		if !input.OrderDate.IsZero() {
			po.OrderDate = input.OrderDate
		}
		if !input.ExpectedDate.IsZero() {
			po.ExpectedDate = input.ExpectedDate
		}
		po.Subtotal, po.Tax, po.Total = computeTotals(items, input.TaxAmount, input.TaxRate)
		if err := tx.UpdateOrder(ctx, po); err != nil {
			return err
		}
		if err := tx.ReplaceOrderItems(ctx, id, items); err != nil {
			return err
		}
		updated = po
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, "PO_UPDATE", id, map[string]any{"number": updated.Number})
	return updated, nil
}

// ConfirmOrder transitions DRAFT to CONFIRMED, opening the order for
// receiving.
func (s *Service) ConfirmOrder(ctx context.Context, id int64) (Order, error) {
	return s.transitionOrder(ctx, id, "PO_CONFIRM", func(po Order) (OrderStatus, error) {
		if po.Status != OrderDraft {
			return "", fmt.Errorf("%w: order is %s", ErrInvalidState, po.Status)
		}
		return OrderConfirmed, nil
	})
}

// CancelOrder cancels an order that has not completed.
func (s *Service) CancelOrder(ctx context.Context, id int64) (Order, error) {
	return s.transitionOrder(ctx, id, "PO_CANCEL", func(po Order) (OrderStatus, error) {
		if po.Status == OrderCompleted || po.Status == OrderCancelled {
			return "", fmt.Errorf("%w: order is %s", ErrInvalidState, po.Status)
		}
		return OrderCancelled, nil
	})
}

// CompleteOrder closes a confirmed order.
func (s *Service) CompleteOrder(ctx context.Context, id int64) (Order, error) {
	return s.transitionOrder(ctx, id, "PO_COMPLETE", func(po Order) (OrderStatus, error) {
		if po.Status != OrderConfirmed {
			return "", fmt.Errorf("%w: order is %s", ErrInvalidState, po.Status)
		}
		return OrderCompleted, nil
	})
}

func (s *Service) transitionOrder(ctx context.Context, id int64, action string, next func(Order) (OrderStatus, error)) (Order, error) {
	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, _, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		status, err := next(po)
		if err != nil {
			return err
		}
		po.Status = status
		if err := tx.UpdateOrder(ctx, po); err != nil {
			return err
		}
		updated = po
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, action, id, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// DeleteOrder removes an order with no goods receipts.
func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, _, err := tx.GetOrder(ctx, id); err != nil {
			return err
		}
		receipts, err := tx.ReceiptCountForOrder(ctx, id)
		if err != nil {
			return err
		}
		if receipts > 0 {
			return fmt.Errorf("%w: order %d", ErrHasReceipts, id)
		}
		return tx.DeleteOrder(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_DELETE", id, nil)
	return nil
}

// GetOrder returns one order with its items.
func (s *Service) GetOrder(ctx context.Context, id int64) (Order, []OrderItem, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListOrders returns orders, optionally filtered by status.
func (s *Service) ListOrders(ctx context.Context, status string) ([]Order, error) {
	var filter OrderStatus
	if status != "" {
		filter = ParseOrderStatus(status)
	}
	return s.repo.ListOrders(ctx, filter)
}

// ListConfirmedOrders returns the orders open for receiving.
func (s *Service) ListConfirmedOrders(ctx context.Context) ([]Order, error) {
	return s.repo.ListOrders(ctx, OrderConfirmed)
}

// ItemsRemaining reports per order item how much has been received on
// checked or posted receipts and how much is still open.
func (s *Service) ItemsRemaining(ctx context.Context, orderID int64) ([]ItemRemaining, error) {
	_, items, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	received, err := s.repo.ReceivedQtyByOrderItem(ctx, orderID)
	if err != nil {
		return nil, err
	}
	out := make([]ItemRemaining, 0, len(items))
	for _, item := range items {
		got := received[item.ID]
		remaining := item.Qty.Sub(got)
		if remaining.Sign() < 0 {
			remaining = decimal.Zero
		}
		out = append(out, ItemRemaining{Item: item, Ordered: item.Qty, Received: got, Remaining: remaining})
	}
	return out, nil
}

// requireSelectedUnbound loads a quotation and checks it is SELECTED and not
// bound to an order other than selfOrderID.
func requireSelectedUnbound(ctx context.Context, tx TxRepository, quotationID, selfOrderID int64) (Quotation, []QuotationLine, error) {
	vq, vqLines, err := tx.GetQuotation(ctx, quotationID)
	if err != nil {
		return Quotation{}, nil, err
	}
	if vq.Status != QuotationSelected {
		return Quotation{}, nil, fmt.Errorf("%w: quotation %d is %s, need %s", shared.ErrPreconditionFailed, quotationID, vq.Status, QuotationSelected)
	}
	boundTo, err := tx.OrderIDForQuotation(ctx, quotationID)
	if err != nil {
		return Quotation{}, nil, err
	}
	if boundTo != 0 && boundTo != selfOrderID {
		return Quotation{}, nil, fmt.Errorf("%w: quotation %d already backs order %d", shared.ErrPreconditionFailed, quotationID, boundTo)
	}
	return vq, vqLines, nil
}

func itemsFromQuotation(lines []QuotationLine) []OrderItem {
	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, OrderItem{
			MaterialID: line.MaterialID,
			Qty:        line.Qty,
			UnitPrice:  line.UnitPrice,
			LineTotal:  line.Qty.Mul(line.UnitPrice).Round(2),
		})
	}
	return items
}

func buildOrderItems(inputs []OrderItemInput) ([]OrderItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}
	items := make([]OrderItem, 0, len(inputs))
	for _, in := range inputs {
		if in.MaterialID <= 0 {
			return nil, fmt.Errorf("%w: item material required", shared.ErrValidation)
		}
		if in.Qty.Sign() <= 0 {
			return nil, fmt.Errorf("%w: item quantity must be positive", shared.ErrValidation)
		}
		if in.UnitPrice.Sign() < 0 {
			return nil, fmt.Errorf("%w: item price must not be negative", shared.ErrValidation)
		}
		items = append(items, OrderItem{
			MaterialID: in.MaterialID,
			Qty:        in.Qty,
			UnitPrice:  in.UnitPrice,
			LineTotal:  in.Qty.Mul(in.UnitPrice).Round(2),
		})
	}
	return items, nil
}

// computeTotals derives subtotal, tax and total with round-half-up at two
// decimal places. A flat tax amount wins over a rate when both are present.
func computeTotals(items []OrderItem, taxAmount, taxRate *decimal.Decimal) (subtotal, tax, total decimal.Decimal) {
	for _, item := range items {
		subtotal = subtotal.Add(item.Qty.Mul(item.UnitPrice))
	}
	subtotal = subtotal.Round(2)
	switch {
	case taxAmount != nil:
		tax = taxAmount.Round(2)
	case taxRate != nil:
		tax = subtotal.Mul(*taxRate).Round(2)
	default:
		tax = decimal.Zero
	}
	total = subtotal.Add(tax).Round(2)
	return subtotal, tax, total
}

func defaultDate(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
