package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusShipped   OrderStatus = "SHIPPED"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCancelled OrderStatus = "CANCELLED"
)

var ErrInvalidStatus = errors.New("invalid order status")

var orderStatuses = []OrderStatus{StatusPending, StatusShipped, StatusDelivered, StatusCancelled}

// ParseOrderStatus accepts a status literal in any letter case.
func ParseOrderStatus(s string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !candidate.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return candidate, nil
}

func (s OrderStatus) Valid() bool {
	for _, known := range orderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Order is the aggregate root. Its lines are only attached and detached
// through AddLine and RemoveLine so the back-reference on every line
// always points at the order holding it.
type Order struct {
	ID     uuid.UUID   `json:"id"`
	Date   time.Time   `json:"date"`
	Status OrderStatus `json:"status"`
	UserID string      `json:"user_id"`

	lines   []*OrderLine
	removed []uuid.UUID
}

// PriceScale is the number of decimal places a captured unit price keeps.
const PriceScale = 2

// RoundPrice rounds p half away from zero to PriceScale places.
func RoundPrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(PriceScale)
}

// OrderLine is a single product/quantity/price entry. UnitPrice is the
// catalog price captured when the line was priced, not a live value.
type OrderLine struct {
	ID        uuid.UUID       `json:"id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`

	order *Order
}

func NewOrder(date time.Time, status OrderStatus, userID string) *Order {
	return &Order{
		Date:   date,
		Status: status,
		UserID: userID,
		lines:  []*OrderLine{},
	}
}

func NewOrderLine(productID int64, quantity int) *OrderLine {
	return &OrderLine{ProductID: productID, Quantity: quantity}
}

// Lines returns the current line collection. The slice is a copy; the
// lines themselves are shared with the order.
func (o *Order) Lines() []*OrderLine {
	out := make([]*OrderLine, len(o.lines))
	copy(out, o.lines)
	return out
}

// Line finds a line of this order by id, or nil.
func (o *Order) Line(id uuid.UUID) *OrderLine {
	for _, l := range o.lines {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// AddLine sets the line's back-reference and appends it. The caller must
// not pass a line still owned by another order.
func (o *Order) AddLine(line *OrderLine) {
	line.order = o
	o.lines = append(o.lines, line)
}

// RemoveLine detaches the line and clears its back-reference. It reports
// false when the line is not part of this order.
func (o *Order) RemoveLine(line *OrderLine) bool {
	for i, l := range o.lines {
		if l != line {
			continue
		}
		o.lines = append(o.lines[:i], o.lines[i+1:]...)
		line.order = nil
		if line.ID != uuid.Nil {
			o.removed = append(o.removed, line.ID)
		}
		return true
	}
	return false
}

// RemovedLineIDs lists persisted lines detached since the order was
// loaded. Stores delete exactly these on save, never lines they merely
// did not see.
func (o *Order) RemovedLineIDs() []uuid.UUID {
	return append([]uuid.UUID(nil), o.removed...)
}

// TotalAmount is the sum of unit price times quantity over all lines.
func (o *Order) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// Order returns the owning order, or nil when the line is detached.
func (l *OrderLine) Order() *Order {
	return l.order
}

func (l *OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// HasProduct reports whether the line references a catalog product.
// Catalog identifiers start at 1.
func (l *OrderLine) HasProduct() bool {
	return l.ProductID != 0
}
