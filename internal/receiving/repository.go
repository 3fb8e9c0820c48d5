package receiving

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/inventory"
	"github.com/cobalt-erp/cobalt-erp/internal/platform/db"
	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides PostgreSQL backed persistence for receiving.
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

// ListReceipts returns receipts, newest first. Zero orderID and empty
// status mean no filter.
func (r *Repository) ListReceipts(ctx context.Context, orderID int64, status ReceiptStatus) ([]Receipt, error) {
	sql := `SELECT id, order_id, status, received_at, note, created_at FROM goods_receipts WHERE 1=1`
	args := []any{}
	argNum := 1
	if orderID > 0 {
		sql += fmt.Sprintf(` AND order_id = $%d`, argNum)
		args = append(args, orderID)
		argNum++
	}
	if status != "" {
		sql += fmt.Sprintf(` AND status = $%d`, argNum)
		args = append(args, status)
	}
	sql += ` ORDER BY id DESC`
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var gr Receipt
		if err := rows.Scan(&gr.ID, &gr.OrderID, &gr.Status, &gr.ReceivedAt, &gr.Note, &gr.CreatedAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, gr)
	}
	return receipts, rows.Err()
}

// ListQCReports returns reports, newest first. Zero receiptID means all.
func (r *Repository) ListQCReports(ctx context.Context, receiptID int64) ([]QCReport, error) {
	sql := `SELECT id, receipt_id, status, checked_at, created_at FROM qc_reports`
	args := []any{}
	if receiptID > 0 {
		sql += ` WHERE receipt_id = $1`
		args = append(args, receiptID)
	}
	sql += ` ORDER BY id DESC`
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []QCReport
	for rows.Next() {
		var qc QCReport
		if err := rows.Scan(&qc.ID, &qc.ReceiptID, &qc.Status, &qc.CheckedAt, &qc.CreatedAt); err != nil {
			return nil, err
		}
		reports = append(reports, qc)
	}
	return reports, rows.Err()
}

// ListReturns returns returns, newest first. Zero receiptID means all.
func (r *Repository) ListReturns(ctx context.Context, receiptID int64) ([]Return, error) {
	sql := `SELECT id, receipt_id, status, created_at FROM purchase_returns`
	args := []any{}
	if receiptID > 0 {
		sql += ` WHERE receipt_id = $1`
		args = append(args, receiptID)
	}
	sql += ` ORDER BY id DESC`
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var returns []Return
	for rows.Next() {
		var ret Return
		if err := rows.Scan(&ret.ID, &ret.ReceiptID, &ret.Status, &ret.CreatedAt); err != nil {
			return nil, err
		}
		returns = append(returns, ret)
	}
	return returns, rows.Err()
}

type reader struct {
	q querier
}

func (r reader) GetOrder(ctx context.Context, orderID int64) (OrderRef, []OrderItemRef, error) {
	var order OrderRef
	err := r.q.QueryRow(ctx, `SELECT id, number, vendor_id, status FROM purchase_orders WHERE id = $1`, orderID).
		Scan(&order.ID, &order.Number, &order.VendorID, &order.Status)
	if err != nil {
		return OrderRef{}, nil, translateNotFound(err)
	}
	rows, err := r.q.Query(ctx, `SELECT id, material_id, qty::text FROM purchase_order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return OrderRef{}, nil, err
	}
	defer rows.Close()

	var items []OrderItemRef
	for rows.Next() {
		var item OrderItemRef
		var raw string
		if err := rows.Scan(&item.ID, &item.MaterialID, &raw); err != nil {
			return OrderRef{}, nil, err
		}
		if item.Qty, err = decimal.NewFromString(raw); err != nil {
			return OrderRef{}, nil, fmt.Errorf("receiving: parse item qty: %w", err)
		}
		items = append(items, item)
	}
	return order, items, rows.Err()
}

func (r reader) GetReceipt(ctx context.Context, id int64) (Receipt, []ReceiptLine, error) {
	var gr Receipt
	err := r.q.QueryRow(ctx, `SELECT id, order_id, status, received_at, note, created_at FROM goods_receipts WHERE id = $1`, id).
		Scan(&gr.ID, &gr.OrderID, &gr.Status, &gr.ReceivedAt, &gr.Note, &gr.CreatedAt)
	if err != nil {
		return Receipt{}, nil, translateNotFound(err)
	}
	rows, err := r.q.Query(ctx, `SELECT id, receipt_id, order_item_id, material_id, qty::text FROM goods_receipt_lines WHERE receipt_id = $1 ORDER BY id`, id)
	if err != nil {
		return Receipt{}, nil, err
	}
	defer rows.Close()

	var lines []ReceiptLine
	for rows.Next() {
		var line ReceiptLine
		var raw string
		if err := rows.Scan(&line.ID, &line.ReceiptID, &line.OrderItemID, &line.MaterialID, &raw); err != nil {
			return Receipt{}, nil, err
		}
		if line.Qty, err = decimal.NewFromString(raw); err != nil {
			return Receipt{}, nil, fmt.Errorf("receiving: parse line qty: %w", err)
		}
		lines = append(lines, line)
	}
	return gr, lines, rows.Err()
}

func (r reader) ReceivedByOrderItem(ctx context.Context, orderID, excludeReceiptID int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.q.Query(ctx, `
		SELECT grl.order_item_id, COALESCE(SUM(grl.qty), 0)::text
		FROM goods_receipt_lines grl
		JOIN goods_receipts gr ON gr.id = grl.receipt_id
		WHERE gr.order_id = $1 AND gr.status IN ('CHECKED', 'POSTED') AND ($2 = 0 OR gr.id <> $2)
		GROUP BY grl.order_item_id`, orderID, excludeReceiptID)
	if err != nil {
		return nil, err
	}
	return scanSums(rows, "received qty")
}

func (r reader) GetQCReport(ctx context.Context, id int64) (QCReport, []QCLine, error) {
	var qc QCReport
	err := r.q.QueryRow(ctx, `SELECT id, receipt_id, status, checked_at, created_at FROM qc_reports WHERE id = $1`, id).
		Scan(&qc.ID, &qc.ReceiptID, &qc.Status, &qc.CheckedAt, &qc.CreatedAt)
	if err != nil {
		return QCReport{}, nil, translateNotFound(err)
	}
	rows, err := r.q.Query(ctx, `SELECT id, report_id, receipt_line_id, result, accepted_qty::text, note FROM qc_lines WHERE report_id = $1 ORDER BY id`, id)
	if err != nil {
		return QCReport{}, nil, err
	}
	defer rows.Close()

	var lines []QCLine
	for rows.Next() {
		var line QCLine
		var raw string
		if err := rows.Scan(&line.ID, &line.ReportID, &line.ReceiptLineID, &line.Result, &raw, &line.Note); err != nil {
			return QCReport{}, nil, err
		}
		if line.AcceptedQty, err = decimal.NewFromString(raw); err != nil {
			return QCReport{}, nil, fmt.Errorf("receiving: parse accepted qty: %w", err)
		}
		lines = append(lines, line)
	}
	return qc, lines, rows.Err()
}

func (r reader) AcceptedByReceiptLine(ctx context.Context, receiptID int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.q.Query(ctx, `
		SELECT ql.receipt_line_id, COALESCE(SUM(ql.accepted_qty), 0)::text
		FROM qc_lines ql
		JOIN qc_reports qc ON qc.id = ql.report_id
		WHERE qc.receipt_id = $1 AND qc.status = 'PASSED'
		GROUP BY ql.receipt_line_id`, receiptID)
	if err != nil {
		return nil, err
	}
	return scanSums(rows, "accepted qty")
}

func (r reader) ReturnedByReceiptLine(ctx context.Context, receiptID, excludeReturnID int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.q.Query(ctx, `
		SELECT rl.receipt_line_id, COALESCE(SUM(rl.qty), 0)::text
		FROM purchase_return_lines rl
		JOIN purchase_returns pr ON pr.id = rl.return_id
		WHERE pr.receipt_id = $1 AND pr.status = 'POSTED' AND ($2 = 0 OR pr.id <> $2)
		GROUP BY rl.receipt_line_id`, receiptID, excludeReturnID)
	if err != nil {
		return nil, err
	}
	return scanSums(rows, "returned qty")
}

func (r reader) GetReturn(ctx context.Context, id int64) (Return, []ReturnLine, error) {
	var ret Return
	err := r.q.QueryRow(ctx, `SELECT id, receipt_id, status, created_at FROM purchase_returns WHERE id = $1`, id).
		Scan(&ret.ID, &ret.ReceiptID, &ret.Status, &ret.CreatedAt)
	if err != nil {
		return Return{}, nil, translateNotFound(err)
	}
	rows, err := r.q.Query(ctx, `SELECT id, return_id, receipt_line_id, qty::text, reason FROM purchase_return_lines WHERE return_id = $1 ORDER BY id`, id)
	if err != nil {
		return Return{}, nil, err
	}
	defer rows.Close()

	var lines []ReturnLine
	for rows.Next() {
		var line ReturnLine
		var raw string
		if err := rows.Scan(&line.ID, &line.ReturnID, &line.ReceiptLineID, &raw, &line.Reason); err != nil {
			return Return{}, nil, err
		}
		if line.Qty, err = decimal.NewFromString(raw); err != nil {
			return Return{}, nil, fmt.Errorf("receiving: parse line qty: %w", err)
		}
		lines = append(lines, line)
	}
	return ret, lines, rows.Err()
}

func (r reader) QCExistsForReceipt(ctx context.Context, receiptID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM qc_reports WHERE receipt_id = $1)`, receiptID).Scan(&exists)
	return exists, err
}

func (r reader) ReturnExistsForReceipt(ctx context.Context, receiptID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM purchase_returns WHERE receipt_id = $1)`, receiptID).Scan(&exists)
	return exists, err
}

type txRepo struct {
	tx pgx.Tx
	reader
}

// Ledger binds the movement store to this transaction.
func (t *txRepo) Ledger() inventory.TxStore {
	return inventory.NewPgTxStore(t.tx)
}

func (t *txRepo) InsertReceipt(ctx context.Context, gr Receipt) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO goods_receipts (order_id, status, received_at, note, created_at) VALUES ($1, $2, $3, $4, NOW()) RETURNING id`,
		gr.OrderID, gr.Status, gr.ReceivedAt, gr.Note).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateReceipt(ctx context.Context, gr Receipt) error {
	tag, err := t.tx.Exec(ctx, `UPDATE goods_receipts SET status = $2, received_at = $3, note = $4 WHERE id = $1`,
		gr.ID, gr.Status, gr.ReceivedAt, gr.Note)
	return requireAffected(tag, err)
}

func (t *txRepo) ReplaceReceiptLines(ctx context.Context, receiptID int64, lines []ReceiptLine) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM goods_receipt_lines WHERE receipt_id = $1`, receiptID); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO goods_receipt_lines (receipt_id, order_item_id, material_id, qty) VALUES ($1, $2, $3, $4::numeric)`,
			receiptID, line.OrderItemID, line.MaterialID, line.Qty.String()); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) DeleteReceipt(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM goods_receipt_lines WHERE receipt_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM goods_receipts WHERE id = $1`, id)
	return requireAffected(tag, err)
}

func (t *txRepo) InsertQCReport(ctx context.Context, qc QCReport) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO qc_reports (receipt_id, status, checked_at, created_at) VALUES ($1, $2, $3, NOW()) RETURNING id`,
		qc.ReceiptID, qc.Status, qc.CheckedAt).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateQCReport(ctx context.Context, qc QCReport) error {
	tag, err := t.tx.Exec(ctx, `UPDATE qc_reports SET status = $2, checked_at = $3 WHERE id = $1`,
		qc.ID, qc.Status, qc.CheckedAt)
	return requireAffected(tag, err)
}

func (t *txRepo) ReplaceQCLines(ctx context.Context, reportID int64, lines []QCLine) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM qc_lines WHERE report_id = $1`, reportID); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO qc_lines (report_id, receipt_line_id, result, accepted_qty, note) VALUES ($1, $2, $3, $4::numeric, $5)`,
			reportID, line.ReceiptLineID, line.Result, line.AcceptedQty.String(), line.Note); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) DeleteQCReport(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM qc_lines WHERE report_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM qc_reports WHERE id = $1`, id)
	return requireAffected(tag, err)
}

func (t *txRepo) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO purchase_returns (receipt_id, status, created_at) VALUES ($1, $2, NOW()) RETURNING id`,
		ret.ReceiptID, ret.Status).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateReturn(ctx context.Context, ret Return) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_returns SET receipt_id = $2, status = $3 WHERE id = $1`,
		ret.ID, ret.ReceiptID, ret.Status)
	return requireAffected(tag, err)
}

func (t *txRepo) ReplaceReturnLines(ctx context.Context, returnID int64, lines []ReturnLine) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_return_lines WHERE return_id = $1`, returnID); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO purchase_return_lines (return_id, receipt_line_id, qty, reason) VALUES ($1, $2, $3::numeric, $4)`,
			returnID, line.ReceiptLineID, line.Qty.String(), line.Reason); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) DeleteReturn(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_return_lines WHERE return_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchase_returns WHERE id = $1`, id)
	return requireAffected(tag, err)
}

func scanSums(rows pgx.Rows, what string) (map[int64]decimal.Decimal, error) {
	defer rows.Close()
	sums := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("receiving: parse %s: %w", what, err)
		}
		sums[id] = qty
	}
	return sums, rows.Err()
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
