package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Optional carries a value together with whether the caller supplied it,
// so a legitimate zero value is not confused with an absent field.
// A JSON null is treated as absent.
type Optional[T any] struct {
	Value T
	Set   bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = v
	o.Set = true
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// LineRequest describes a line to be priced and attached. UnitPrice is
// replaced by the live catalog price whenever ProductID is set.
type LineRequest struct {
	ProductID int64            `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// CreateLineRequest is a standalone line naming the order it joins.
type CreateLineRequest struct {
	OrderID uuid.UUID `json:"order_id"`
	LineRequest
}

type CreateOrderRequest struct {
	Date   Optional[time.Time]   `json:"date"`
	Status Optional[OrderStatus] `json:"status"`
	UserID string                `json:"user_id"`
	Lines  []LineRequest         `json:"order_lines"`
}

// OrderPatch only touches the fields whose presence flag is set. Lines are
// never replaced: every entry is appended to the existing order.
type OrderPatch struct {
	Date   Optional[time.Time]   `json:"date"`
	Status Optional[OrderStatus] `json:"status"`
	UserID Optional[string]      `json:"user_id"`
	Lines  []LineRequest         `json:"order_lines"`
}

// Empty reports whether the patch carries no field at all.
func (p OrderPatch) Empty() bool {
	return !p.Date.Set && !p.Status.Set && !p.UserID.Set && len(p.Lines) == 0
}

type LinePatch struct {
	Quantity  Optional[int]   `json:"quantity"`
	ProductID Optional[int64] `json:"product_id"`
}
