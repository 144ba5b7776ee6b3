package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jogardn/order-service/pkg/models"
)

var (
	// ErrNotFound is returned when an order or line id does not resolve.
	ErrNotFound = errors.New("not found")
)

// Repository is the keyed order store. Loaded orders are fresh aggregates:
// mutating them has no effect until SaveOrder is called.
type Repository interface {
	// CreateOrder persists a new order and its lines, assigning ids to both.
	CreateOrder(ctx context.Context, o *models.Order) error

	// GetOrder loads an order with its lines in insertion order.
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)

	ListOrders(ctx context.Context) ([]*models.Order, error)

	ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error)

	// SaveOrder writes the order fields and reconciles its lines: new lines
	// get ids and are inserted, present ones are updated, and lines no
	// longer in the collection are deleted.
	SaveOrder(ctx context.Context, o *models.Order) error

	// DeleteOrder removes the order and every line it owns.
	DeleteOrder(ctx context.Context, id uuid.UUID) error

	// GetLine loads a line attached to a freshly loaded copy of its order.
	GetLine(ctx context.Context, id uuid.UUID) (*models.OrderLine, error)

	// RunInTx runs fn against a transactional view. Nothing fn wrote is
	// visible to others unless fn returns nil. Calling RunInTx on the view
	// passed to fn runs inside the same transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

// Store is a Repository that owns a connection.
type Store interface {
	Repository
	Ping(ctx context.Context) error
	Close() error
}
