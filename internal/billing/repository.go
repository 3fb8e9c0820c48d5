package billing

import (
	"context"
	"errors"

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

// Repository provides PostgreSQL backed persistence for billing.
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

// ListInvoices returns invoices, newest first. Zero vendor and empty status
// mean all.
func (r *Repository) ListInvoices(ctx context.Context, vendorID int64, status InvoiceStatus) ([]Invoice, error) {
	sql := `SELECT id, number, vendor_id, COALESCE(order_id, 0), status, issue_date, total::text, created_at FROM vendor_invoices WHERE ($1 = 0 OR vendor_id = $1) AND ($2 = '' OR status = $2) ORDER BY id DESC`
	rows, err := r.pool.Query(ctx, sql, vendorID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// ListPayments returns payments, newest first. Zero invoice means all.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, amount::text, method, paid_at, note FROM payments WHERE $1 = 0 OR invoice_id = $1 ORDER BY id DESC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// reader holds the queries shared by Repository and txRepo. Validation
// reads issued through a txRepo run on the transaction snapshot.
type reader struct {
	q querier
}

func (r reader) GetInvoice(ctx context.Context, id int64) (Invoice, []InvoiceLine, error) {
	row := r.q.QueryRow(ctx, `SELECT id, number, vendor_id, COALESCE(order_id, 0), status, issue_date, total::text, created_at FROM vendor_invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		return Invoice{}, nil, translateNotFound(err)
	}
	rows, err := r.q.Query(ctx, `SELECT id, invoice_id, material_id, qty::text, price::text, line_total::text FROM vendor_invoice_lines WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, nil, err
	}
	defer rows.Close()

	var lines []InvoiceLine
	for rows.Next() {
		var (
			line            InvoiceLine
			qty, price, tot string
		)
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.MaterialID, &qty, &price, &tot); err != nil {
			return Invoice{}, nil, err
		}
		if line.Qty, err = decimal.NewFromString(qty); err != nil {
			return Invoice{}, nil, err
		}
		if line.Price, err = decimal.NewFromString(price); err != nil {
			return Invoice{}, nil, err
		}
		if line.LineTotal, err = decimal.NewFromString(tot); err != nil {
			return Invoice{}, nil, err
		}
		lines = append(lines, line)
	}
	return inv, lines, rows.Err()
}

func (r reader) GetPayment(ctx context.Context, id int64) (Payment, error) {
	row := r.q.QueryRow(ctx, `SELECT id, invoice_id, amount::text, method, paid_at, note FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		return Payment{}, translateNotFound(err)
	}
	return p, nil
}

func (r reader) PaidSum(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	var sum string
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM payments WHERE invoice_id = $1`, invoiceID).Scan(&sum)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(sum)
}

func (r reader) PaymentCount(ctx context.Context, invoiceID int64) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE invoice_id = $1`, invoiceID).Scan(&count)
	return count, err
}

func (r reader) OrderVendorID(ctx context.Context, orderID int64) (int64, error) {
	var vendorID int64
	err := r.q.QueryRow(ctx, `SELECT vendor_id FROM purchase_orders WHERE id = $1`, orderID).Scan(&vendorID)
	if err != nil {
		return 0, translateNotFound(err)
	}
	return vendorID, nil
}

// txRepo implements TxRepository on one pgx transaction.
type txRepo struct {
	tx pgx.Tx
	reader
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO vendor_invoices (number, vendor_id, order_id, status, issue_date, total, created_at) VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6::numeric, now()) RETURNING id`,
		inv.Number, inv.VendorID, inv.OrderID, inv.Status, inv.IssueDate, inv.Total.String(),
	).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateInvoice(ctx context.Context, inv Invoice) error {
	tag, err := t.tx.Exec(ctx, `UPDATE vendor_invoices SET number = $2, vendor_id = $3, order_id = NULLIF($4, 0), status = $5, issue_date = $6, total = $7::numeric WHERE id = $1`,
		inv.ID, inv.Number, inv.VendorID, inv.OrderID, inv.Status, inv.IssueDate, inv.Total.String(),
	)
	return requireAffected(tag, err)
}

func (t *txRepo) ReplaceInvoiceLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM vendor_invoice_lines WHERE invoice_id = $1`, invoiceID); err != nil {
		return err
	}
	for _, line := range lines {
		_, err := t.tx.Exec(ctx, `INSERT INTO vendor_invoice_lines (invoice_id, material_id, qty, price, line_total) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric)`,
			invoiceID, line.MaterialID, line.Qty.String(), line.Price.String(), line.LineTotal.String(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) DeleteInvoice(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM vendor_invoice_lines WHERE invoice_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM vendor_invoices WHERE id = $1`, id)
	return requireAffected(tag, err)
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO payments (invoice_id, amount, method, paid_at, note) VALUES ($1, $2::numeric, $3, $4, $5) RETURNING id`,
		p.InvoiceID, p.Amount.String(), p.Method, p.PaidAt, p.Note,
	).Scan(&id)
	return id, err
}

func (t *txRepo) UpdatePayment(ctx context.Context, p Payment) error {
	tag, err := t.tx.Exec(ctx, `UPDATE payments SET invoice_id = $2, amount = $3::numeric, method = $4, paid_at = $5, note = $6 WHERE id = $1`,
		p.ID, p.InvoiceID, p.Amount.String(), p.Method, p.PaidAt, p.Note,
	)
	return requireAffected(tag, err)
}

func (t *txRepo) DeletePayment(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	return requireAffected(tag, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (Invoice, error) {
	var (
		inv   Invoice
		total string
	)
	if err := row.Scan(&inv.ID, &inv.Number, &inv.VendorID, &inv.OrderID, &inv.Status, &inv.IssueDate, &total, &inv.CreatedAt); err != nil {
		return Invoice{}, err
	}
	var err error
	inv.Total, err = decimal.NewFromString(total)
	return inv, err
}

func scanPayment(row rowScanner) (Payment, error) {
	var (
		p      Payment
		amount string
	)
	if err := row.Scan(&p.ID, &p.InvoiceID, &amount, &p.Method, &p.PaidAt, &p.Note); err != nil {
		return Payment{}, err
	}
	var err error
	p.Amount, err = decimal.NewFromString(amount)
	return p, err
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
