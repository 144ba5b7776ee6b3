package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderView is the read representation of an order. Product snapshots are
// attached here and never flow back into the persisted aggregate.
type OrderView struct {
	ID          uuid.UUID       `json:"id"`
	Date        time.Time       `json:"date"`
	Status      OrderStatus     `json:"status"`
	UserID      string          `json:"user_id"`
	Lines       []LineView      `json:"order_lines"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type LineView struct {
	ID              uuid.UUID       `json:"id"`
	OrderID         uuid.UUID       `json:"order_id"`
	ProductID       int64           `json:"product_id"`
	Product         *Product        `json:"product,omitempty"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	LineTotal       decimal.Decimal `json:"line_total"`
	EnrichmentError string          `json:"enrichment_error,omitempty"`
}

func NewOrderView(o *Order) OrderView {
	view := OrderView{
		ID:          o.ID,
		Date:        o.Date,
		Status:      o.Status,
		UserID:      o.UserID,
		Lines:       make([]LineView, 0, len(o.lines)),
		TotalAmount: o.TotalAmount(),
	}
	for _, l := range o.lines {
		view.Lines = append(view.Lines, NewLineView(l))
	}
	return view
}

func NewLineView(l *OrderLine) LineView {
	view := LineView{
		ID:        l.ID,
		ProductID: l.ProductID,
		Quantity:  l.Quantity,
		UnitPrice: l.UnitPrice,
		LineTotal: l.LineTotal(),
	}
	if l.order != nil {
		view.OrderID = l.order.ID
	}
	return view
}
