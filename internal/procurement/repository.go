package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/platform/db"
	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// querier is the query surface shared by pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides PostgreSQL backed persistence for procurement.
type Repository struct {
	pool *pgxpool.Pool
	reader
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, reader: reader{q: pool}}
}

// WithTx runs fn inside one RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, reader: reader{q: tx}})
	})
}

// ListRequisitions returns requisitions, newest first. Empty status means all.
func (r *Repository) ListRequisitions(ctx context.Context, status RequisitionStatus) ([]Requisition, error) {
	sql := `SELECT id, requester_id, note, status, created_at FROM requisitions`
	args := []any{}
	if status != "" {
		sql += ` WHERE status = $1`
		args = append(args, status)
	}
	sql += ` ORDER BY id DESC`
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prs []Requisition
	for rows.Next() {
		var pr Requisition
		if err := rows.Scan(&pr.ID, &pr.RequesterID, &pr.Note, &pr.Status, &pr.CreatedAt); err != nil {
			return nil, err
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}

// ListRFQs returns RFQs, newest first. Empty status means all.
func (r *Repository) ListRFQs(ctx context.Context, status RFQStatus) ([]RFQ, error) {
	sql := `SELECT id, requisition_id, status, created_at FROM rfqs`
	args := []any{}
	if status != "" {
		sql += ` WHERE status = $1`
		args = append(args, status)
	}
	sql += ` ORDER BY id DESC`
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rfqs []RFQ
	for rows.Next() {
		var rfq RFQ
		if err := rows.Scan(&rfq.ID, &rfq.RequisitionID, &rfq.Status, &rfq.CreatedAt); err != nil {
			return nil, err
		}
		rfqs = append(rfqs, rfq)
	}
	return rfqs, rows.Err()
}

// ListQuotationsByRFQ returns every quotation under the RFQ.
func (r *Repository) ListQuotationsByRFQ(ctx context.Context, rfqID int64) ([]Quotation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, rfq_id, vendor_id, status, created_at FROM quotations WHERE rfq_id = $1 ORDER BY id`, rfqID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vqs []Quotation
	for rows.Next() {
		var vq Quotation
		if err := rows.Scan(&vq.ID, &vq.RFQID, &vq.VendorID, &vq.Status, &vq.CreatedAt); err != nil {
			return nil, err
		}
		vqs = append(vqs, vq)
	}
	return vqs, rows.Err()
}

// ListOrders returns orders, newest first. Empty status means all.
func (r *Repository) ListOrders(ctx context.Context, status OrderStatus) ([]Order, error) {
	sql := `SELECT id, number, vendor_id, COALESCE(quotation_id, 0), status, order_date, expected_date, subtotal::text, tax::text, total::text, created_at FROM purchase_orders`
	args := []any{}
	if status != "" {
		sql += ` WHERE status = $1`
		args = append(args, status)
	}
	sql += ` ORDER BY id DESC`
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

// ReceivedQtyByOrderItem sums receipt-line quantities per order item over
// receipts in CHECKED or POSTED state.
func (r *Repository) ReceivedQtyByOrderItem(ctx context.Context, orderID int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT grl.order_item_id, COALESCE(SUM(grl.qty), 0)::text
		FROM goods_receipt_lines grl
		JOIN goods_receipts gr ON gr.id = grl.receipt_id
		WHERE gr.order_id = $1 AND gr.status IN ('CHECKED', 'POSTED')
		GROUP BY grl.order_item_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var itemID int64
		var raw string
		if err := rows.Scan(&itemID, &raw); err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("procurement: parse received qty: %w", err)
		}
		sums[itemID] = qty
	}
	return sums, rows.Err()
}

type reader struct {
	q querier
}

func (r reader) GetRequisition(ctx context.Context, id int64) (Requisition, []RequisitionLine, error) {
	var pr Requisition
	err := r.q.QueryRow(ctx, `SELECT id, requester_id, note, status, created_at FROM requisitions WHERE id = $1`, id).
		Scan(&pr.ID, &pr.RequesterID, &pr.Note, &pr.Status, &pr.CreatedAt)
	if err != nil {
		return Requisition{}, nil, translateNotFound(err)
	}
	rows, err := r.q.Query(ctx, `SELECT id, requisition_id, material_id, qty::text FROM requisition_lines WHERE requisition_id = $1 ORDER BY id`, id)
	if err != nil {
		return Requisition{}, nil, err
	}
	defer rows.Close()

	var lines []RequisitionLine
	for rows.Next() {
		var line RequisitionLine
		var raw string
		if err := rows.Scan(&line.ID, &line.RequisitionID, &line.MaterialID, &raw); err != nil {
			return Requisition{}, nil, err
		}
		if line.Qty, err = decimal.NewFromString(raw); err != nil {
			return Requisition{}, nil, fmt.Errorf("procurement: parse line qty: %w", err)
		}
		lines = append(lines, line)
	}
	return pr, lines, rows.Err()
}

func (r reader) GetRFQ(ctx context.Context, id int64) (RFQ, []RFQLine, error) {
	var rfq RFQ
	err := r.q.QueryRow(ctx, `SELECT id, requisition_id, status, created_at FROM rfqs WHERE id = $1`, id).
		Scan(&rfq.ID, &rfq.RequisitionID, &rfq.Status, &rfq.CreatedAt)
	if err != nil {
		return RFQ{}, nil, translateNotFound(err)
	}
	rows, err := r.q.Query(ctx, `SELECT id, rfq_id, material_id, qty::text FROM rfq_lines WHERE rfq_id = $1 ORDER BY id`, id)
	if err != nil {
		return RFQ{}, nil, err
	}
	defer rows.Close()

	var lines []RFQLine
	for rows.Next() {
		var line RFQLine
		var raw string
		if err := rows.Scan(&line.ID, &line.RFQID, &line.MaterialID, &raw); err != nil {
			return RFQ{}, nil, err
		}
		if line.Qty, err = decimal.NewFromString(raw); err != nil {
			return RFQ{}, nil, fmt.Errorf("procurement: parse line qty: %w", err)
		}
		lines = append(lines, line)
	}
	return rfq, lines, rows.Err()
}

func (r reader) GetQuotation(ctx context.Context, id int64) (Quotation, []QuotationLine, error) {
	var vq Quotation
	err := r.q.QueryRow(ctx, `SELECT id, rfq_id, vendor_id, status, created_at FROM quotations WHERE id = $1`, id).
		Scan(&vq.ID, &vq.RFQID, &vq.VendorID, &vq.Status, &vq.CreatedAt)
	if err != nil {
		return Quotation{}, nil, translateNotFound(err)
	}
	rows, err := r.q.Query(ctx, `SELECT id, quotation_id, material_id, qty::text, unit_price::text FROM quotation_lines WHERE quotation_id = $1 ORDER BY id`, id)
	if err != nil {
		return Quotation{}, nil, err
	}
	defer rows.Close()

	var lines []QuotationLine
	for rows.Next() {
		var line QuotationLine
		var rawQty, rawPrice string
		if err := rows.Scan(&line.ID, &line.QuotationID, &line.MaterialID, &rawQty, &rawPrice); err != nil {
			return Quotation{}, nil, err
		}
		if line.Qty, err = decimal.NewFromString(rawQty); err != nil {
			return Quotation{}, nil, fmt.Errorf("procurement: parse line qty: %w", err)
		}
		if line.UnitPrice, err = decimal.NewFromString(rawPrice); err != nil {
			return Quotation{}, nil, fmt.Errorf("procurement: parse line price: %w", err)
		}
		lines = append(lines, line)
	}
	return vq, lines, rows.Err()
}

func (r reader) GetOrder(ctx context.Context, id int64) (Order, []OrderItem, error) {
	row := r.q.QueryRow(ctx, `SELECT id, number, vendor_id, COALESCE(quotation_id, 0), status, order_date, expected_date, subtotal::text, tax::text, total::text, created_at FROM purchase_orders WHERE id = $1`, id)
	po, err := scanOrder(row)
	if err != nil {
		return Order{}, nil, err
	}
	rows, err := r.q.Query(ctx, `SELECT id, order_id, material_id, qty::text, unit_price::text, line_total::text FROM purchase_order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return Order{}, nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		var rawQty, rawPrice, rawTotal string
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MaterialID, &rawQty, &rawPrice, &rawTotal); err != nil {
			return Order{}, nil, err
		}
		if item.Qty, err = decimal.NewFromString(rawQty); err != nil {
			return Order{}, nil, fmt.Errorf("procurement: parse item qty: %w", err)
		}
		if item.UnitPrice, err = decimal.NewFromString(rawPrice); err != nil {
			return Order{}, nil, fmt.Errorf("procurement: parse item price: %w", err)
		}
		if item.LineTotal, err = decimal.NewFromString(rawTotal); err != nil {
			return Order{}, nil, fmt.Errorf("procurement: parse item total: %w", err)
		}
		items = append(items, item)
	}
	return po, items, rows.Err()
}

func (r reader) RFQExistsForRequisition(ctx context.Context, requisitionID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rfqs WHERE requisition_id = $1)`, requisitionID).Scan(&exists)
	return exists, err
}

func (r reader) QuotationExistsForRFQ(ctx context.Context, rfqID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM quotations WHERE rfq_id = $1)`, rfqID).Scan(&exists)
	return exists, err
}

func (r reader) SelectedQuotationID(ctx context.Context, rfqID int64) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `SELECT id FROM quotations WHERE rfq_id = $1 AND status = $2`, rfqID, QuotationSelected).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (r reader) OrderIDForQuotation(ctx context.Context, quotationID int64) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `SELECT id FROM purchase_orders WHERE quotation_id = $1`, quotationID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (r reader) ReceiptCountForOrder(ctx context.Context, orderID int64) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(1) FROM goods_receipts WHERE order_id = $1`, orderID).Scan(&count)
	return count, err
}

type txRepo struct {
	tx pgx.Tx
	reader
}

func (t *txRepo) InsertRequisition(ctx context.Context, pr Requisition) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO requisitions (requester_id, note, status, created_at) VALUES ($1, $2, $3, NOW()) RETURNING id`,
		pr.RequesterID, pr.Note, pr.Status).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateRequisition(ctx context.Context, pr Requisition) error {
	tag, err := t.tx.Exec(ctx, `UPDATE requisitions SET requester_id = $2, note = $3, status = $4 WHERE id = $1`,
		pr.ID, pr.RequesterID, pr.Note, pr.Status)
	return requireAffected(tag, err)
}

func (t *txRepo) ReplaceRequisitionLines(ctx context.Context, requisitionID int64, lines []RequisitionLine) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM requisition_lines WHERE requisition_id = $1`, requisitionID); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := t.tx.Exec(ctx, `INSERT INTO requisition_lines (requisition_id, material_id, qty) VALUES ($1, $2, $3::numeric)`,
			requisitionID, line.MaterialID, line.Qty.String()); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) DeleteRequisition(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM requisition_lines WHERE requisition_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM requisitions WHERE id = $1`, id)
	return requireAffected(tag, err)
}

func (t *txRepo) InsertRFQ(ctx context.Context, rfq RFQ) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO rfqs (requisition_id, status, created_at) VALUES ($1, $2, NOW()) RETURNING id`,
		rfq.RequisitionID, rfq.Status).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateRFQ(ctx context.Context, rfq RFQ) error {
	tag, err := t.tx.Exec(ctx, `UPDATE rfqs SET requisition_id = $2, status = $3 WHERE id = $1`,
		rfq.ID, rfq.RequisitionID, rfq.Status)
	return requireAffected(tag, err)
}

func (t *txRepo) ReplaceRFQLines(ctx context.Context, rfqID int64, lines []RFQLine) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM rfq_lines WHERE rfq_id = $1`, rfqID); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := t.tx.Exec(ctx, `INSERT INTO rfq_lines (rfq_id, material_id, qty) VALUES ($1, $2, $3::numeric)`,
			rfqID, line.MaterialID, line.Qty.String()); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) DeleteRFQ(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM rfq_lines WHERE rfq_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM rfqs WHERE id = $1`, id)
	return requireAffected(tag, err)
}

func (t *txRepo) InsertQuotation(ctx context.Context, vq Quotation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO quotations (rfq_id, vendor_id, status, created_at) VALUES ($1, $2, $3, NOW()) RETURNING id`,
		vq.RFQID, vq.VendorID, vq.Status).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateQuotation(ctx context.Context, vq Quotation) error {
	tag, err := t.tx.Exec(ctx, `UPDATE quotations SET rfq_id = $2, vendor_id = $3, status = $4 WHERE id = $1`,
		vq.ID, vq.RFQID, vq.VendorID, vq.Status)
	return requireAffected(tag, err)
}

func (t *txRepo) ReplaceQuotationLines(ctx context.Context, quotationID int64, lines []QuotationLine) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM quotation_lines WHERE quotation_id = $1`, quotationID); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := t.tx.Exec(ctx, `INSERT INTO quotation_lines (quotation_id, material_id, qty, unit_price) VALUES ($1, $2, $3::numeric, $4::numeric)`,
			quotationID, line.MaterialID, line.Qty.String(), line.UnitPrice.String()); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) DeleteQuotation(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM quotation_lines WHERE quotation_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM quotations WHERE id = $1`, id)
	return requireAffected(tag, err)
}

func (t *txRepo) InsertOrder(ctx context.Context, po Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO purchase_orders (number, vendor_id, quotation_id, status, order_date, expected_date, subtotal, tax, total, created_at)
		 VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, NOW()) RETURNING id`,
		po.Number, po.VendorID, po.QuotationID, po.Status, po.OrderDate, nullableTime(po.ExpectedDate),
		po.Subtotal.String(), po.Tax.String(), po.Total.String()).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateOrder(ctx context.Context, po Order) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_orders SET number = $2, vendor_id = $3, quotation_id = NULLIF($4, 0), status = $5, order_date = $6, expected_date = $7, subtotal = $8::numeric, tax = $9::numeric, total = $10::numeric WHERE id = $1`,
		po.ID, po.Number, po.VendorID, po.QuotationID, po.Status, po.OrderDate, nullableTime(po.ExpectedDate),
		po.Subtotal.String(), po.Tax.String(), po.Total.String())
	return requireAffected(tag, err)
}

func (t *txRepo) ReplaceOrderItems(ctx context.Context, orderID int64, items []OrderItem) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	for _, item := range items {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO purchase_order_items (order_id, material_id, qty, unit_price, line_total) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric)`,
			orderID, item.MaterialID, item.Qty.String(), item.UnitPrice.String(), item.LineTotal.String()); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) DeleteOrder(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE order_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id)
	return requireAffected(tag, err)
}

func scanOrder(row pgx.Row) (Order, error) {
	var po Order
	var rawSubtotal, rawTax, rawTotal string
	var expected *time.Time
	err := row.Scan(&po.ID, &po.Number, &po.VendorID, &po.QuotationID, &po.Status, &po.OrderDate, &expected, &rawSubtotal, &rawTax, &rawTotal, &po.CreatedAt)
	if err != nil {
		return Order{}, translateNotFound(err)
	}
	if expected != nil {
		po.ExpectedDate = *expected
	}
	if po.Subtotal, err = decimal.NewFromString(rawSubtotal); err != nil {
		return Order{}, fmt.Errorf("procurement: parse subtotal: %w", err)
	}
	if po.Tax, err = decimal.NewFromString(rawTax); err != nil {
		return Order{}, fmt.Errorf("procurement: parse tax: %w", err)
	}
	if po.Total, err = decimal.NewFromString(rawTotal); err != nil {
		return Order{}, fmt.Errorf("procurement: parse total: %w", err)
	}
	return po, nil
}

func translateNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	return err
}

func requireAffected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
