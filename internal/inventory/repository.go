package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// ListFilter filters stock item listings.
type ListFilter struct {
	Search   string
	IsActive *bool
	Page     int
	PerPage  int
}

// Repository persists stock items and ledger movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, code, name, qty_on_hand, cost_price, selling_price, price_a, price_b, price_d, price_e, vat_rate, min_stock, max_stock, is_active, created_at, updated_at`

func scanItem(row pgx.Row) (StockItem, error) {
	var it StockItem
	err := row.Scan(&it.ID, &it.Code, &it.Name, &it.QtyOnHand, &it.CostPrice, &it.SellingPrice,
		&it.PriceA, &it.PriceB, &it.PriceD, &it.PriceE,
		&it.VATRate, &it.MinStock, &it.MaxStock, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

// List returns stock items matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]StockItem, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filter.Search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.IsActive != nil {
		argCount++
		where += ` AND is_active = $` + strconv.Itoa(argCount)
		args = append(args, *filter.IsActive)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_items`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + itemColumns + ` FROM stock_items` + where + ` ORDER BY code`
	if filter.PerPage > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filter.PerPage)
		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filter.Page - 1) * filter.PerPage
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []StockItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// Get fetches a stock item by id.
func (r *Repository) Get(ctx context.Context, id int64) (StockItem, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockItem{}, NotFoundItem(id)
	}
	return it, err
}

// GetMany fetches a set of stock items keyed by id.
func (r *Repository) GetMany(ctx context.Context, ids []int64) (map[int64]StockItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[int64]StockItem, len(ids))
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items[it.ID] = it
	}
	return items, rows.Err()
}

// Create inserts a new stock item. Opening quantities arrive through GRVs,
// never at creation time.
func (r *Repository) Create(ctx context.Context, item StockItem) (StockItem, error) {
	now := time.Now()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO stock_items (code, name, qty_on_hand, cost_price, selling_price, price_a, price_b, price_d, price_e, vat_rate, min_stock, max_stock, is_active, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING id`,
		item.Code, item.Name, item.CostPrice, item.SellingPrice,
		item.PriceA, item.PriceB, item.PriceD, item.PriceE,
		item.VATRate, item.MinStock, item.MaxStock, item.IsActive, now,
	).Scan(&item.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return StockItem{}, fmt.Errorf("stock code %q already exists: %w", item.Code, shared.ErrConflict)
		}
		return StockItem{}, err
	}
	item.QtyOnHand = 0
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

// Update rewrites the whitelisted master fields. Quantity is deliberately
// absent: it belongs to the ledger.
func (r *Repository) Update(ctx context.Context, id int64, item StockItem) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE stock_items
		SET code = $1, name = $2, cost_price = $3, selling_price = $4,
		    price_a = $5, price_b = $6, price_d = $7, price_e = $8,
		    vat_rate = $9, min_stock = $10, max_stock = $11, is_active = $12, updated_at = NOW()
		WHERE id = $13`,
		item.Code, item.Name, item.CostPrice, item.SellingPrice,
		item.PriceA, item.PriceB, item.PriceD, item.PriceE,
		item.VATRate, item.MinStock, item.MaxStock, item.IsActive, id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("stock code %q already exists: %w", item.Code, shared.ErrConflict)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundItem(id)
	}
	return nil
}

// ListBelowMinimum returns active items at or below their minimum threshold.
func (r *Repository) ListBelowMinimum(ctx context.Context) ([]StockItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE is_active AND min_stock > 0 AND qty_on_hand <= min_stock ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []StockItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListMovements returns ledger rows for an item, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	query := `SELECT id, stock_item_id, kind, qty, cost_price, sell_price, ref_family, ref_id, batch_id, occurred_at
		FROM stock_movements WHERE stock_item_id = $1`
	args := []interface{}{filter.StockItemID}
	argCount := 1

	if !filter.From.IsZero() {
		argCount++
		args = append(args, filter.From)
		query += ` AND occurred_at >= $` + strconv.Itoa(argCount)
	}
	if !filter.To.IsZero() {
		argCount++
		args = append(args, filter.To)
		query += ` AND occurred_at <= $` + strconv.Itoa(argCount)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	argCount++
	args = append(args, limit)
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(argCount)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.StockItemID, &m.Kind, &m.Qty, &m.CostPrice, &m.SellPrice, &m.RefFamily, &m.RefID, &m.BatchID, &m.OccurredAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

type pgTxPort struct {
	db dbtx
}

// NewTxPort returns a TxPort bound to the given connection or transaction.
// Document repositories construct one over their open pgx.Tx so ledger
// writes commit and roll back with the document.
func NewTxPort(db dbtx) TxPort {
	return &pgTxPort{db: db}
}

func (p *pgTxPort) GetItemForUpdate(ctx context.Context, id int64) (StockItem, error) {
	it, err := scanItem(p.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockItem{}, NotFoundItem(id)
	}
	return it, err
}

func (p *pgTxPort) UpdateQuantity(ctx context.Context, id int64, qty float64) error {
	_, err := p.db.Exec(ctx, `UPDATE stock_items SET qty_on_hand = $1, updated_at = NOW() WHERE id = $2`, qty, id)
	return err
}

func (p *pgTxPort) UpdateQuantityAndPrices(ctx context.Context, id int64, qty, cost, sell float64) error {
	_, err := p.db.Exec(ctx, `UPDATE stock_items SET qty_on_hand = $1, cost_price = $2, selling_price = $3, updated_at = NOW() WHERE id = $4`, qty, cost, sell, id)
	return err
}

func (p *pgTxPort) InsertMovement(ctx context.Context, m Movement) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO stock_movements (stock_item_id, kind, qty, cost_price, sell_price, ref_family, ref_id, batch_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.StockItemID, m.Kind, m.Qty, m.CostPrice, m.SellPrice, m.RefFamily, m.RefID, m.BatchID, m.OccurredAt)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
