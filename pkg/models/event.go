package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated     = "order.created"
	EventOrderUpdated     = "order.updated"
	EventOrderDeleted     = "order.deleted"
	EventOrderLineAdded   = "order.line_added"
	EventOrderLineRemoved = "order.line_removed"
)

type OrderEvent struct {
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	OrderID     uuid.UUID       `json:"order_id"`
	UserID      string          `json:"user_id,omitempty"`
	Status      OrderStatus     `json:"status,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	LineCount   int             `json:"line_count"`
	LineID      *uuid.UUID      `json:"line_id,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// NewOrderEvent snapshots the order's summary. o may be nil for deletions,
// in which case only the id is known.
func NewOrderEvent(eventType string, orderID uuid.UUID, o *Order) OrderEvent {
	event := OrderEvent{
		EventID:     uuid.New().String(),
		Type:        eventType,
		OrderID:     orderID,
		TotalAmount: decimal.Zero,
		OccurredAt:  time.Now().UTC(),
	}
	if o != nil {
		event.UserID = o.UserID
		event.Status = o.Status
		event.TotalAmount = o.TotalAmount()
		event.LineCount = len(o.lines)
	}
	return event
}

func (e OrderEvent) WithLine(lineID uuid.UUID) OrderEvent {
	e.LineID = &lineID
	return e
}
