// Package postgres is the PostgreSQL core.Repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"procurement-reconciler/internal/core"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements core.Repository on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a repository backed by pool. The schema is created by migrations.Apply.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ core.Repository = (*Store)(nil)

const basketColumns = `id, supplier_id, status, sent_at, received_at, closed_at, created_at`

const lineSelect = `
	SELECT l.id, l.supplier_order_id, l.quantity, l.stock_item_id, l.is_selected, l.quote_received,
	       l.quote_price, l.lead_time_days, l.manufacturer, l.manufacturer_ref,
	       COALESCE(array_agg(r.purchase_request_id ORDER BY r.position)
	                FILTER (WHERE r.purchase_request_id IS NOT NULL), '{}')
	FROM supplier_order_lines l
	LEFT JOIN supplier_order_line_requests r ON r.line_id = l.id`

const requestColumns = `id, quantity, stock_item_id, status, preferred_supplier_id, created_at`

// GetBasket loads a basket and its lines.
func (s *Store) GetBasket(ctx context.Context, basketID string) (*core.SupplierOrder, error) {
	b, err := scanBasket(s.pool.QueryRow(ctx,
		"SELECT "+basketColumns+" FROM supplier_orders WHERE id = $1", basketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Entity: "basket", ID: basketID}
		}
		return nil, fmt.Errorf("get basket %s: %w", basketID, err)
	}
	b.Lines, err = queryLines(ctx, s.pool, lineSelect+` WHERE l.supplier_order_id = $1 GROUP BY l.id ORDER BY l.position`, basketID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBaskets returns every basket with its lines, fetched in two queries.
func (s *Store) ListBaskets(ctx context.Context) ([]core.SupplierOrder, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+basketColumns+" FROM supplier_orders ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list baskets: %w", err)
	}
	var baskets []core.SupplierOrder
	for rows.Next() {
		b, err := scanBasket(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan basket: %w", err)
		}
		baskets = append(baskets, *b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list baskets: %w", err)
	}

	lines, err := queryLines(ctx, s.pool, lineSelect+` GROUP BY l.id ORDER BY l.supplier_order_id, l.position`)
	if err != nil {
		return nil, err
	}
	byBasket := make(map[string][]core.SupplierOrderLine)
	for _, l := range lines {
		byBasket[l.BasketID] = append(byBasket[l.BasketID], l)
	}
	for i := range baskets {
		baskets[i].Lines = byBasket[baskets[i].ID]
	}
	return baskets, nil
}

// FetchLinesForBasket returns the lines of basketID in position order.
func (s *Store) FetchLinesForBasket(ctx context.Context, basketID string) ([]core.SupplierOrderLine, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM supplier_orders WHERE id = $1)", basketID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check basket %s: %w", basketID, err)
	}
	if !exists {
		return nil, &core.NotFoundError{Entity: "basket", ID: basketID}
	}
	return queryLines(ctx, s.pool, lineSelect+` WHERE l.supplier_order_id = $1 GROUP BY l.id ORDER BY l.position`, basketID)
}

// FindPoolingBasket returns the supplier's POOLING basket or a NotFoundError.
func (s *Store) FindPoolingBasket(ctx context.Context, supplierID string) (*core.SupplierOrder, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		"SELECT id FROM supplier_orders WHERE supplier_id = $1 AND status = 'POOLING'", supplierID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Entity: "pooling basket for supplier", ID: supplierID}
		}
		return nil, fmt.Errorf("find pooling basket: %w", err)
	}
	return s.GetBasket(ctx, id)
}

// CreateBasket inserts a POOLING basket. When another instance created one first, the
// partial unique index rejects the insert and the existing basket is returned.
func (s *Store) CreateBasket(ctx context.Context, supplierID string) (*core.SupplierOrder, error) {
	b, err := scanBasket(s.pool.QueryRow(ctx,
		`INSERT INTO supplier_orders (id, supplier_id, status) VALUES ($1, $2, 'POOLING')
		 RETURNING `+basketColumns,
		uuid.NewString(), supplierID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return s.FindPoolingBasket(ctx, supplierID)
		}
		return nil, fmt.Errorf("create basket: %w", err)
	}
	return b, nil
}

// UpdateBasket writes the non-nil fields and returns the updated basket.
func (s *Store) UpdateBasket(ctx context.Context, basketID string, fields core.BasketFields) (*core.SupplierOrder, error) {
	var status *string
	if fields.Status != nil {
		v := string(*fields.Status)
		status = &v
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE supplier_orders
		SET status      = COALESCE($2, status),
		    sent_at     = COALESCE($3, sent_at),
		    received_at = COALESCE($4, received_at),
		    closed_at   = COALESCE($5, closed_at)
		WHERE id = $1`,
		basketID, status, fields.SentAt, fields.ReceivedAt, fields.ClosedAt)
	if err != nil {
		return nil, fmt.Errorf("update basket %s: %w", basketID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &core.NotFoundError{Entity: "basket", ID: basketID}
	}
	return s.GetBasket(ctx, basketID)
}

// CreateLine inserts a line and its request references in one transaction.
func (s *Store) CreateLine(ctx context.Context, line core.SupplierOrderLine) (*core.SupplierOrderLine, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO supplier_order_lines
		    (id, supplier_order_id, quantity, stock_item_id, is_selected, quote_received,
		     quote_price, lead_time_days, manufacturer, manufacturer_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, line.BasketID, line.Quantity, line.StockItemID, line.IsSelected, line.QuoteReceived,
		line.QuotePrice, line.LeadTimeDays, line.Manufacturer, line.ManufacturerRef)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, &core.NotFoundError{Entity: "basket", ID: line.BasketID}
		}
		return nil, fmt.Errorf("insert line: %w", err)
	}
	if err := replaceRequestRefs(ctx, tx, id, line.RequestIDs); err != nil {
		return nil, err
	}

	created, err := getLine(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// UpdateLine applies the non-nil fields. RequestIDs replaces the reference set.
func (s *Store) UpdateLine(ctx context.Context, lineID string, fields core.LineFields) (*core.SupplierOrderLine, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE supplier_order_lines
		SET quantity       = COALESCE($2, quantity),
		    is_selected    = COALESCE($3, is_selected),
		    quote_received = COALESCE($4, quote_received),
		    quote_price    = COALESCE($5, quote_price),
		    lead_time_days = COALESCE($6, lead_time_days)
		WHERE id = $1`,
		lineID, fields.Quantity, fields.IsSelected, fields.QuoteReceived, fields.QuotePrice, fields.LeadTimeDays)
	if err != nil {
		return nil, fmt.Errorf("update line %s: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &core.NotFoundError{Entity: "line", ID: lineID}
	}
	if fields.RequestIDs != nil {
		if err := replaceRequestRefs(ctx, tx, lineID, fields.RequestIDs); err != nil {
			return nil, err
		}
	}

	updated, err := getLine(ctx, tx, lineID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

// DeleteLine removes a line. References cascade.
func (s *Store) DeleteLine(ctx context.Context, lineID string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM supplier_order_lines WHERE id = $1", lineID)
	if err != nil {
		return fmt.Errorf("delete line %s: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NotFoundError{Entity: "line", ID: lineID}
	}
	return nil
}

// GetPurchaseRequest loads one purchase request.
func (s *Store) GetPurchaseRequest(ctx context.Context, requestID string) (*core.PurchaseRequest, error) {
	pr, err := scanRequest(s.pool.QueryRow(ctx,
		"SELECT "+requestColumns+" FROM purchase_requests WHERE id = $1", requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Entity: "purchase request", ID: requestID}
		}
		return nil, fmt.Errorf("get purchase request %s: %w", requestID, err)
	}
	return pr, nil
}

// UpdatePurchaseRequest sets the status of a purchase request.
func (s *Store) UpdatePurchaseRequest(ctx context.Context, requestID string, status core.RequestStatus) (*core.PurchaseRequest, error) {
	pr, err := scanRequest(s.pool.QueryRow(ctx,
		"UPDATE purchase_requests SET status = $2 WHERE id = $1 RETURNING "+requestColumns,
		requestID, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &core.NotFoundError{Entity: "purchase request", ID: requestID}
		}
		return nil, fmt.Errorf("update purchase request %s: %w", requestID, err)
	}
	return pr, nil
}

// FetchOpenPurchaseRequests returns requests with status open, oldest first.
func (s *Store) FetchOpenPurchaseRequests(ctx context.Context) ([]core.PurchaseRequest, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+requestColumns+" FROM purchase_requests WHERE status = 'open' ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("fetch open purchase requests: %w", err)
	}
	defer rows.Close()

	var out []core.PurchaseRequest
	for rows.Next() {
		pr, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase request: %w", err)
		}
		out = append(out, *pr)
	}
	return out, rows.Err()
}

func replaceRequestRefs(ctx context.Context, q querier, lineID string, requestIDs []string) error {
	if _, err := q.Exec(ctx, "DELETE FROM supplier_order_line_requests WHERE line_id = $1", lineID); err != nil {
		return fmt.Errorf("clear request refs of line %s: %w", lineID, err)
	}
	seen := make(map[string]bool, len(requestIDs))
	pos := 0
	for _, rid := range requestIDs {
		if seen[rid] {
			continue
		}
		seen[rid] = true
		if _, err := q.Exec(ctx,
			"INSERT INTO supplier_order_line_requests (line_id, purchase_request_id, position) VALUES ($1, $2, $3)",
			lineID, rid, pos,
		); err != nil {
			return fmt.Errorf("link request %s to line %s: %w", rid, lineID, err)
		}
		pos++
	}
	return nil
}

func getLine(ctx context.Context, q querier, lineID string) (*core.SupplierOrderLine, error) {
	lines, err := queryLines(ctx, q, lineSelect+` WHERE l.id = $1 GROUP BY l.id`, lineID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, &core.NotFoundError{Entity: "line", ID: lineID}
	}
	return &lines[0], nil
}

func queryLines(ctx context.Context, q querier, sql string, args ...any) ([]core.SupplierOrderLine, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	var lines []core.SupplierOrderLine
	for rows.Next() {
		var (
			l          core.SupplierOrderLine
			quotePrice *decimal.Decimal
			leadTime   *int32
		)
		if err := rows.Scan(&l.ID, &l.BasketID, &l.Quantity, &l.StockItemID, &l.IsSelected, &l.QuoteReceived,
			&quotePrice, &leadTime, &l.Manufacturer, &l.ManufacturerRef, &l.RequestIDs); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		l.QuotePrice = quotePrice
		if leadTime != nil {
			days := int(*leadTime)
			l.LeadTimeDays = &days
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanBasket(row pgx.Row) (*core.SupplierOrder, error) {
	var (
		b      core.SupplierOrder
		status string
	)
	if err := row.Scan(&b.ID, &b.SupplierID, &status, &b.SentAt, &b.ReceivedAt, &b.ClosedAt, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Status = core.BasketStatus(status)
	return &b, nil
}

func scanRequest(row pgx.Row) (*core.PurchaseRequest, error) {
	var (
		pr        core.PurchaseRequest
		status    string
		createdAt time.Time
	)
	if err := row.Scan(&pr.ID, &pr.Quantity, &pr.StockItemID, &status, &pr.PreferredSupplierID, &createdAt); err != nil {
		return nil, err
	}
	pr.Status = core.RequestStatus(status)
	pr.CreatedAt = createdAt
	return &pr, nil
}
