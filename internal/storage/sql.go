package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/sirupsen/logrus"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// SQLStore implements Store on database/sql for Postgres and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *logrus.Logger
}

func (s *SQLStore) reader() *sqlRepo {
	return &sqlRepo{q: s.db, d: s.dialect}
}

func (s *SQLStore) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.reader().GetOrder(ctx, id)
}

func (s *SQLStore) ListOrders(ctx context.Context) ([]*models.Order, error) {
	return s.reader().ListOrders(ctx)
}

func (s *SQLStore) ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return s.reader().ListOrdersByUser(ctx, userID)
}

func (s *SQLStore) GetLine(ctx context.Context, id uuid.UUID) (*models.OrderLine, error) {
	return s.reader().GetLine(ctx, id)
}

func (s *SQLStore) CreateOrder(ctx context.Context, o *models.Order) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		return tx.CreateOrder(ctx, o)
	})
}

func (s *SQLStore) SaveOrder(ctx context.Context, o *models.Order) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		return tx.SaveOrder(ctx, o)
	})
}

func (s *SQLStore) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		return tx.DeleteOrder(ctx, id)
	})
}

func (s *SQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlRepo{q: tx, d: s.dialect, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// sqlRepo does the actual statements. Writes only happen on a repo bound
// to a transaction.
type sqlRepo struct {
	q    querier
	d    dialect
	inTx bool
}

func (r *sqlRepo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.d.rebind(query), args...)
}

func (r *sqlRepo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.d.rebind(query), args...)
}

func (r *sqlRepo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.d.rebind(query), args...)
}

func (r *sqlRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if !r.inTx {
		return errors.New("storage: RunInTx called on a non-transactional reader")
	}
	return fn(ctx, r)
}

func (r *sqlRepo) CreateOrder(ctx context.Context, o *models.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := r.exec(ctx, `
		INSERT INTO orders (id, order_date, status, user_id)
		VALUES ($1, $2, $3, $4)`,
		o.ID, o.Date.UTC(), string(o.Status), o.UserID)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range o.Lines() {
		if err := r.upsertLine(ctx, o.ID, i, line); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqlRepo) SaveOrder(ctx context.Context, o *models.Order) error {
	res, err := r.exec(ctx, `
		UPDATE orders SET order_date = $1, status = $2, user_id = $3
		WHERE id = $4`,
		o.Date.UTC(), string(o.Status), o.UserID, o.ID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}

	for _, id := range o.RemovedLineIDs() {
		if _, err := r.exec(ctx, `DELETE FROM order_lines WHERE id = $1 AND order_id = $2`, id, o.ID); err != nil {
			return fmt.Errorf("delete removed order_line: %w", err)
		}
	}

	for i, line := range o.Lines() {
		if err := r.upsertLine(ctx, o.ID, i, line); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqlRepo) upsertLine(ctx context.Context, orderID uuid.UUID, position int, line *models.OrderLine) error {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	_, err := r.exec(ctx, `
		INSERT INTO order_lines (id, order_id, line_no, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			order_id = excluded.order_id,
			line_no = excluded.line_no,
			product_id = excluded.product_id,
			quantity = excluded.quantity,
			unit_price = excluded.unit_price`,
		line.ID, orderID, position, line.ProductID, line.Quantity, line.UnitPrice)
	if err != nil {
		return fmt.Errorf("upsert order_line: %w", err)
	}
	return nil
}

func (r *sqlRepo) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	// lines first; the foreign key cascades as well
	if _, err := r.exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, id); err != nil {
		return fmt.Errorf("delete order_lines: %w", err)
	}
	res, err := r.exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return nil
}

// orderByID locks the row on Postgres inside a transaction, so two
// read-modify-write cycles on one order run one after the other.
func (r *sqlRepo) orderByID() string {
	query := `SELECT id, order_date, status, user_id FROM orders WHERE id = $1`
	if r.inTx && r.d == dialectPostgres {
		query += ` FOR UPDATE`
	}
	return query
}

func (r *sqlRepo) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(r.queryRow(ctx, r.orderByID(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *sqlRepo) ListOrders(ctx context.Context) ([]*models.Order, error) {
	return r.queryOrders(ctx, `
		SELECT id, order_date, status, user_id FROM orders
		ORDER BY order_date DESC, id`)
}

func (r *sqlRepo) ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return r.queryOrders(ctx, `
		SELECT id, order_date, status, user_id FROM orders
		WHERE user_id = $1 ORDER BY order_date DESC, id`, userID)
}

func (r *sqlRepo) GetLine(ctx context.Context, id uuid.UUID) (*models.OrderLine, error) {
	var orderID uuid.UUID
	err := r.queryRow(ctx, `SELECT order_id FROM order_lines WHERE id = $1`, id).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order line %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	o, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	line := o.Line(id)
	if line == nil {
		return nil, fmt.Errorf("order line %s: %w", id, ErrNotFound)
	}
	return line, nil
}

// queryOrders reads all order rows before loading lines so only one result
// set is open at a time on the connection.
func (r *sqlRepo) queryOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, o := range orders {
		if err := r.loadLines(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *sqlRepo) loadLines(ctx context.Context, o *models.Order) error {
	rows, err := r.query(ctx, `
		SELECT id, product_id, quantity, unit_price
		FROM order_lines WHERE order_id = $1 ORDER BY line_no, id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		line := &models.OrderLine{}
		if err := rows.Scan(&line.ID, &line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return err
		}
		o.AddLine(line)
	}
	return rows.Err()
}

func scanOrder(row scanner) (*models.Order, error) {
	var (
		id     uuid.UUID
		date   time.Time
		status string
		userID string
	)
	if err := row.Scan(&id, &date, &status, &userID); err != nil {
		return nil, err
	}
	o := models.NewOrder(date, models.OrderStatus(status), userID)
	o.ID = id
	return o, nil
}
