package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrMasterNotFound      = errors.New("master not found")
	ErrMasterOrderNotFound = errors.New("master order not found")
	ErrExportPostNotFound  = errors.New("export post not found")
)

// Moderation states shared by orders, masters and export posts.
const (
	AdminCheckNew     = "new"
	AdminCheckInWork  = "inwork"
	AdminCheckBlocked = "blocked"
)

type OrderLocation struct {
	Address string
	City    string
	Country string
}

type Order struct {
	ID         int64
	AccountID  string
	Text       string
	AdminCheck string
	Locations  []OrderLocation
	ExpiresAt  time.Time
	ClosedAt   time.Time
	CreatedAt  time.Time
}

func (o Order) Closed() bool {
	return !o.ClosedAt.IsZero()
}

type CreateOrderInput struct {
	AccountID string
	Text      string
	Locations []OrderLocation
	ExpiresAt time.Time
}

type Master struct {
	ID         int64
	AccountID  string
	Text       string
	Country    string
	AdminCheck string
	ClosedAt   time.Time
}

type MasterOrder struct {
	ID       int64
	MasterID int64
	OrderID  int64
	Comments string
}

type ExportPost struct {
	ID          int64
	Text        string
	AdminStatus string
}

func (s *Store) CreateOrder(ctx context.Context, input CreateOrderInput) (Order, error) {
	accountID := strings.TrimSpace(input.AccountID)
	if accountID == "" {
		return Order{}, fmt.Errorf("order account id is required")
	}
	now := nowUnix()
	expiresAt := int64(0)
	if !input.ExpiresAt.IsZero() {
		expiresAt = input.ExpiresAt.UTC().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(
		ctx,
		`INSERT INTO orders (account_id, text, admin_check, expires_at_unix, created_at_unix, updated_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		accountID,
		strings.TrimSpace(input.Text),
		AdminCheckNew,
		nullIfZeroInt64(expiresAt),
		now,
		now,
	)
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	orderID, err := result.LastInsertId()
	if err != nil {
		return Order{}, fmt.Errorf("order id: %w", err)
	}
	for _, location := range input.Locations {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO order_locations (order_id, address, city, country) VALUES (?, ?, ?, ?)`,
			orderID,
			strings.TrimSpace(location.Address),
			strings.TrimSpace(location.City),
			strings.TrimSpace(location.Country),
		); err != nil {
			return Order{}, fmt.Errorf("insert order location: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Order{}, fmt.Errorf("commit order: %w", err)
	}
	return s.GetOrder(ctx, orderID)
}

func (s *Store) GetOrder(ctx context.Context, id int64) (Order, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, account_id, text, admin_check, expires_at_unix, closed_at_unix, created_at_unix
		 FROM orders WHERE id = ?`,
		id,
	)
	order, err := scanOrder(row)
	if err != nil {
		return Order{}, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT address, city, country FROM order_locations WHERE order_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return Order{}, fmt.Errorf("list order locations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var location OrderLocation
		if err := rows.Scan(&location.Address, &location.City, &location.Country); err != nil {
			return Order{}, fmt.Errorf("scan order location: %w", err)
		}
		order.Locations = append(order.Locations, location)
	}
	if err := rows.Err(); err != nil {
		return Order{}, fmt.Errorf("iterate order locations: %w", err)
	}
	return order, nil
}

func (s *Store) ListActiveOrders(ctx context.Context, accountID string, limit int) ([]Order, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, account_id, text, admin_check, expires_at_unix, closed_at_unix, created_at_unix
		 FROM orders
		 WHERE account_id = ? AND closed_at_unix IS NULL
		 ORDER BY id DESC
		 LIMIT ?`,
		strings.TrimSpace(accountID),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active orders: %w", err)
	}
	return orders, nil
}

// CloseOrder closes an order owned by accountID.
func (s *Store) CloseOrder(ctx context.Context, accountID string, id int64) error {
	now := nowUnix()
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE orders SET closed_at_unix = COALESCE(closed_at_unix, ?), updated_at_unix = ? WHERE id = ? AND account_id = ?`,
		now, now, id, strings.TrimSpace(accountID),
	)
	if err != nil {
		return fmt.Errorf("close order: %w", err)
	}
	return requireAffected(result, ErrOrderNotFound)
}

func (s *Store) CloseAllOrders(ctx context.Context, accountID string) (int64, error) {
	now := nowUnix()
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE orders SET closed_at_unix = ?, updated_at_unix = ? WHERE account_id = ? AND closed_at_unix IS NULL`,
		now, now, strings.TrimSpace(accountID),
	)
	if err != nil {
		return 0, fmt.Errorf("close all orders: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) ExtendOrder(ctx context.Context, id int64, until time.Time) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE orders SET expires_at_unix = ?, updated_at_unix = ? WHERE id = ?`,
		until.UTC().Unix(), nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("extend order: %w", err)
	}
	return requireAffected(result, ErrOrderNotFound)
}

func (s *Store) SetOrderAdminCheck(ctx context.Context, id int64, status string) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE orders SET admin_check = ?, updated_at_unix = ? WHERE id = ?`,
		strings.TrimSpace(status), nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("set order admin check: %w", err)
	}
	return requireAffected(result, ErrOrderNotFound)
}

// UpsertMaster creates the account's master profile or reactivates the existing
// one, sending it back to moderation either way.
func (s *Store) UpsertMaster(ctx context.Context, accountID, text, country string) (Master, bool, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Master{}, false, fmt.Errorf("master account id is required")
	}
	existing, err := s.getMasterByAccount(ctx, accountID, false)
	created := errors.Is(err, ErrMasterNotFound)
	if err != nil && !created {
		return Master{}, false, err
	}
	now := nowUnix()
	if created {
		_, err = s.db.ExecContext(
			ctx,
			`INSERT INTO masters (account_id, text, country, admin_check, created_at_unix, updated_at_unix)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			accountID, strings.TrimSpace(text), strings.TrimSpace(country), AdminCheckNew, now, now,
		)
	} else {
		_, err = s.db.ExecContext(
			ctx,
			`UPDATE masters SET text = ?, country = ?, admin_check = ?, closed_at_unix = NULL, updated_at_unix = ? WHERE id = ?`,
			strings.TrimSpace(text), strings.TrimSpace(country), AdminCheckNew, now, existing.ID,
		)
	}
	if err != nil {
		return Master{}, false, fmt.Errorf("upsert master: %w", err)
	}
	master, err := s.getMasterByAccount(ctx, accountID, false)
	if err != nil {
		return Master{}, false, err
	}
	return master, created, nil
}

func (s *Store) CloseMaster(ctx context.Context, accountID string) error {
	now := nowUnix()
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE masters SET closed_at_unix = COALESCE(closed_at_unix, ?), updated_at_unix = ? WHERE account_id = ?`,
		now, now, strings.TrimSpace(accountID),
	)
	if err != nil {
		return fmt.Errorf("close master: %w", err)
	}
	return requireAffected(result, ErrMasterNotFound)
}

func (s *Store) GetActiveMaster(ctx context.Context, accountID string) (Master, error) {
	return s.getMasterByAccount(ctx, accountID, true)
}

func (s *Store) GetMaster(ctx context.Context, id int64) (Master, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, account_id, text, country, admin_check, closed_at_unix FROM masters WHERE id = ?`,
		id,
	)
	return scanMaster(row)
}

func (s *Store) SetMasterAdminCheck(ctx context.Context, id int64, status string) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE masters SET admin_check = ?, updated_at_unix = ? WHERE id = ?`,
		strings.TrimSpace(status), nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("set master admin check: %w", err)
	}
	return requireAffected(result, ErrMasterNotFound)
}

func (s *Store) CreateMasterOrder(ctx context.Context, masterID, orderID int64) (MasterOrder, error) {
	now := nowUnix()
	result, err := s.db.ExecContext(
		ctx,
		`INSERT INTO master_orders (master_id, order_id, created_at_unix, updated_at_unix) VALUES (?, ?, ?, ?)`,
		masterID, orderID, now, now,
	)
	if err != nil {
		return MasterOrder{}, fmt.Errorf("insert master order: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return MasterOrder{}, fmt.Errorf("master order id: %w", err)
	}
	return s.GetMasterOrder(ctx, id)
}

func (s *Store) GetMasterOrder(ctx context.Context, id int64) (MasterOrder, error) {
	var (
		masterOrder MasterOrder
		comments    sql.NullString
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, master_id, order_id, comments FROM master_orders WHERE id = ?`,
		id,
	).Scan(&masterOrder.ID, &masterOrder.MasterID, &masterOrder.OrderID, &comments)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MasterOrder{}, ErrMasterOrderNotFound
		}
		return MasterOrder{}, fmt.Errorf("get master order: %w", err)
	}
	masterOrder.Comments = comments.String
	return masterOrder, nil
}

func (s *Store) SetMasterOrderComment(ctx context.Context, id int64, comment string) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE master_orders SET comments = ?, updated_at_unix = ? WHERE id = ?`,
		comment, nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("set master order comment: %w", err)
	}
	return requireAffected(result, ErrMasterOrderNotFound)
}

func (s *Store) CreateExportPost(ctx context.Context, text string) (ExportPost, error) {
	now := nowUnix()
	result, err := s.db.ExecContext(
		ctx,
		`INSERT INTO export_posts (text, admin_status, created_at_unix, updated_at_unix) VALUES (?, ?, ?, ?)`,
		strings.TrimSpace(text), AdminCheckNew, now, now,
	)
	if err != nil {
		return ExportPost{}, fmt.Errorf("insert export post: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return ExportPost{}, fmt.Errorf("export post id: %w", err)
	}
	return s.GetExportPost(ctx, id)
}

func (s *Store) GetExportPost(ctx context.Context, id int64) (ExportPost, error) {
	var post ExportPost
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, text, admin_status FROM export_posts WHERE id = ?`,
		id,
	).Scan(&post.ID, &post.Text, &post.AdminStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExportPost{}, ErrExportPostNotFound
		}
		return ExportPost{}, fmt.Errorf("get export post: %w", err)
	}
	return post, nil
}

func (s *Store) SetExportPostStatus(ctx context.Context, id int64, status string) error {
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE export_posts SET admin_status = ?, updated_at_unix = ? WHERE id = ?`,
		strings.TrimSpace(status), nowUnix(), id,
	)
	if err != nil {
		return fmt.Errorf("set export post status: %w", err)
	}
	return requireAffected(result, ErrExportPostNotFound)
}

func (s *Store) getMasterByAccount(ctx context.Context, accountID string, activeOnly bool) (Master, error) {
	query := `SELECT id, account_id, text, country, admin_check, closed_at_unix FROM masters WHERE account_id = ?`
	if activeOnly {
		query += ` AND closed_at_unix IS NULL`
	}
	return scanMaster(s.db.QueryRowContext(ctx, query, strings.TrimSpace(accountID)))
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		order     Order
		expiresAt sql.NullInt64
		closedAt  sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&order.ID, &order.AccountID, &order.Text, &order.AdminCheck, &expiresAt, &closedAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("scan order: %w", err)
	}
	order.ExpiresAt = unixOrZero(expiresAt)
	order.ClosedAt = unixOrZero(closedAt)
	order.CreatedAt = time.Unix(createdAt, 0).UTC()
	return order, nil
}

func scanMaster(row rowScanner) (Master, error) {
	var (
		master   Master
		closedAt sql.NullInt64
	)
	if err := row.Scan(&master.ID, &master.AccountID, &master.Text, &master.Country, &master.AdminCheck, &closedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Master{}, ErrMasterNotFound
		}
		return Master{}, fmt.Errorf("scan master: %w", err)
	}
	master.ClosedAt = unixOrZero(closedAt)
	return master, nil
}

func requireAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
