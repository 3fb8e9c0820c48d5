package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/platform/db"
	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps fn in a RepeatableRead transaction bound to a TxStore.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgTxStore(tx))
	})
}

// GetStockItem returns the balance row for one material.
func (r *Repository) GetStockItem(ctx context.Context, materialID int64) (StockItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, material_id, qty_on_hand::text, updated_at FROM stock_items WHERE material_id = $1`, materialID)
	return scanStockItem(row)
}

// ListStockItems returns all balance rows ordered by material.
func (r *Repository) ListStockItems(ctx context.Context) ([]StockItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, material_id, qty_on_hand::text, updated_at FROM stock_items ORDER BY material_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListMovements returns ledger entries matching the filter, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	sql := `SELECT id, material_id, ref_type, ref_id, qty_change::text, created_at FROM stock_movements WHERE 1=1`
	args := []any{}
	argNum := 1
	if filter.MaterialID > 0 {
		sql += fmt.Sprintf(` AND material_id = $%d`, argNum)
		args = append(args, filter.MaterialID)
		argNum++
	}
	if filter.RefType != "" {
		sql += fmt.Sprintf(` AND ref_type = $%d`, argNum)
		args = append(args, filter.RefType)
		argNum++
	}
	if filter.RefID > 0 {
		sql += fmt.Sprintf(` AND ref_id = $%d`, argNum)
		args = append(args, filter.RefID)
		argNum++
	}
	sql += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d OFFSET $%d`, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		mv, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

// AllMaterialIDs returns every material referenced by a movement or balance row.
func (r *Repository) AllMaterialIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT material_id FROM stock_movements UNION SELECT material_id FROM stock_items ORDER BY material_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// pgTxStore implements TxStore over a pgx transaction so posting engines
// can share it with their own document writes.
type pgTxStore struct {
	tx pgx.Tx
}

// NewPgTxStore binds a TxStore to an open transaction.
func NewPgTxStore(tx pgx.Tx) TxStore {
	return &pgTxStore{tx: tx}
}

func (s *pgTxStore) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx,
		`INSERT INTO stock_movements (material_id, ref_type, ref_id, qty_change, created_at) VALUES ($1, $2, $3, $4::numeric, NOW()) RETURNING id`,
		mv.MaterialID, mv.RefType, mv.RefID, mv.QtyChange.String(),
	).Scan(&id)
	return id, err
}

func (s *pgTxStore) MovementsByRef(ctx context.Context, refType string, refID int64) ([]Movement, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT id, material_id, ref_type, ref_id, qty_change::text, created_at FROM stock_movements WHERE ref_type = $1 AND ref_id = $2 ORDER BY id`,
		refType, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		mv, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

func (s *pgTxStore) DeleteMovementsByRef(ctx context.Context, refType string, refID int64) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM stock_movements WHERE ref_type = $1 AND ref_id = $2`, refType, refID)
	return err
}

func (s *pgTxStore) SumByMaterial(ctx context.Context, materialIDs []int64) (map[int64]decimal.Decimal, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT material_id, COALESCE(SUM(qty_change), 0)::text FROM stock_movements WHERE material_id = ANY($1) GROUP BY material_id`,
		materialIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[int64]decimal.Decimal, len(materialIDs))
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		total, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("inventory: parse movement sum: %w", err)
		}
		totals[id] = total
	}
	return totals, rows.Err()
}

func (s *pgTxStore) UpsertStockItem(ctx context.Context, materialID int64, onHand decimal.Decimal) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO stock_items (material_id, qty_on_hand, updated_at) VALUES ($1, $2::numeric, NOW())
		 ON CONFLICT (material_id) DO UPDATE SET qty_on_hand = EXCLUDED.qty_on_hand, updated_at = NOW()`,
		materialID, onHand.String())
	return err
}

func (s *pgTxStore) AdjustStockItem(ctx context.Context, materialID int64, delta decimal.Decimal) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO stock_items (material_id, qty_on_hand, updated_at) VALUES ($1, $2::numeric, NOW())
		 ON CONFLICT (material_id) DO UPDATE SET qty_on_hand = stock_items.qty_on_hand + EXCLUDED.qty_on_hand, updated_at = NOW()`,
		materialID, delta.String())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockItem(row rowScanner) (StockItem, error) {
	var item StockItem
	var raw string
	if err := row.Scan(&item.ID, &item.MaterialID, &raw, &item.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, shared.ErrNotFound
		}
		return StockItem{}, err
	}
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		return StockItem{}, fmt.Errorf("inventory: parse on-hand qty: %w", err)
	}
	item.QtyOnHand = qty
	return item, nil
}

func scanMovement(row rowScanner) (Movement, error) {
	var mv Movement
	var raw string
	if err := row.Scan(&mv.ID, &mv.MaterialID, &mv.RefType, &mv.RefID, &raw, &mv.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, shared.ErrNotFound
		}
		return Movement{}, err
	}
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		return Movement{}, fmt.Errorf("inventory: parse qty change: %w", err)
	}
	mv.QtyChange = qty
	return mv, nil
}
