package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pricedLine(productID int64, qty int, price string) *OrderLine {
	l := NewOrderLine(productID, qty)
	l.UnitPrice = decimal.RequireFromString(price)
	return l
}

func TestTotalAmountEmptyOrder(t *testing.T) {
	o := NewOrder(time.Now(), StatusPending, "user-1")
	assert.True(t, o.TotalAmount().IsZero())
}

func TestTotalAmountSumsLines(t *testing.T) {
	o := NewOrder(time.Now(), StatusPending, "user-1")
	o.AddLine(pricedLine(1, 3, "10.00"))
	o.AddLine(pricedLine(2, 2, "2.50"))

	assert.True(t, decimal.RequireFromString("35.00").Equal(o.TotalAmount()),
		"got %s", o.TotalAmount())
}

func TestTotalAmountPropagatesNegativeValues(t *testing.T) {
	o := NewOrder(time.Now(), StatusPending, "user-1")
	o.AddLine(pricedLine(1, 1, "-4.00"))
	o.AddLine(pricedLine(2, 1, "1.00"))

	assert.True(t, decimal.RequireFromString("-3").Equal(o.TotalAmount()))
}

func TestAddLineSetsBackReference(t *testing.T) {
	a := NewOrder(time.Now(), StatusPending, "user-1")
	b := NewOrder(time.Now(), StatusPending, "user-2")
	b.AddLine(pricedLine(9, 1, "1"))

	line := pricedLine(1, 1, "5")
	a.AddLine(line)

	assert.Same(t, a, line.Order())
	assert.Contains(t, a.Lines(), line)
	assert.Len(t, b.Lines(), 1)
	assert.NotContains(t, b.Lines(), line)
}

func TestAddThenRemoveRestoresCollection(t *testing.T) {
	o := NewOrder(time.Now(), StatusPending, "user-1")
	first := pricedLine(1, 1, "5")
	o.AddLine(first)
	before := o.Lines()

	line := pricedLine(2, 4, "3")
	o.AddLine(line)
	require.Len(t, o.Lines(), 2)

	assert.True(t, o.RemoveLine(line))
	assert.Equal(t, before, o.Lines())
	assert.Nil(t, line.Order())
	assert.Same(t, o, first.Order())
}

func TestRemoveLineNotPresent(t *testing.T) {
	o := NewOrder(time.Now(), StatusPending, "user-1")
	o.AddLine(pricedLine(1, 1, "5"))

	stranger := pricedLine(1, 1, "5")
	assert.False(t, o.RemoveLine(stranger))
	assert.Len(t, o.Lines(), 1)
}

func TestLinesReturnsCopy(t *testing.T) {
	o := NewOrder(time.Now(), StatusPending, "user-1")
	o.AddLine(pricedLine(1, 1, "5"))

	lines := o.Lines()
	lines[0] = nil
	assert.NotNil(t, o.Lines()[0])
}

func TestLineLookupByID(t *testing.T) {
	o := NewOrder(time.Now(), StatusPending, "user-1")
	line := pricedLine(1, 1, "5")
	line.ID = uuid.New()
	o.AddLine(line)

	assert.Same(t, line, o.Line(line.ID))
	assert.Nil(t, o.Line(uuid.New()))
}

func TestParseOrderStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    OrderStatus
		wantErr bool
	}{
		{"PENDING", StatusPending, false},
		{"shipped", StatusShipped, false},
		{" Delivered ", StatusDelivered, false},
		{"CANCELLED", StatusCancelled, false},
		{"CONFIRMED", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOrderStatus(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidStatus, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestOrderViewCarriesTotalsAndOwner(t *testing.T) {
	o := NewOrder(time.Now(), StatusShipped, "user-1")
	o.ID = uuid.New()
	o.AddLine(pricedLine(7, 3, "10.00"))

	view := NewOrderView(o)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, o.ID, view.Lines[0].OrderID)
	assert.True(t, decimal.RequireFromString("30").Equal(view.Lines[0].LineTotal))
	assert.True(t, decimal.RequireFromString("30").Equal(view.TotalAmount))
	assert.Nil(t, view.Lines[0].Product)
}

func TestOrderPatchPresence(t *testing.T) {
	var patch OrderPatch
	require.NoError(t, json.Unmarshal([]byte(`{"status":"SHIPPED"}`), &patch))

	assert.True(t, patch.Status.Set)
	assert.Equal(t, StatusShipped, patch.Status.Value)
	assert.False(t, patch.Date.Set)
	assert.False(t, patch.UserID.Set)
	assert.False(t, patch.Empty())
}

func TestOptionalDistinguishesZeroFromAbsent(t *testing.T) {
	var patch LinePatch
	require.NoError(t, json.Unmarshal([]byte(`{"quantity":0}`), &patch))
	assert.True(t, patch.Quantity.Set)
	assert.Equal(t, 0, patch.Quantity.Value)
	assert.False(t, patch.ProductID.Set)

	var absent LinePatch
	require.NoError(t, json.Unmarshal([]byte(`{"quantity":null}`), &absent))
	assert.False(t, absent.Quantity.Set)
}

func TestRemovedLineIDsTracksPersistedLines(t *testing.T) {
	o := NewOrder(time.Now(), StatusPending, "")
	stored := pricedLine(1, 1, "1.00")
	stored.ID = uuid.New()
	fresh := pricedLine(2, 1, "1.00")
	o.AddLine(stored)
	o.AddLine(fresh)

	require.True(t, o.RemoveLine(fresh))
	assert.Empty(t, o.RemovedLineIDs(), "never-saved lines have nothing to delete")

	require.True(t, o.RemoveLine(stored))
	assert.Equal(t, []uuid.UUID{stored.ID}, o.RemovedLineIDs())
	assert.False(t, o.RemoveLine(stored))
	assert.Len(t, o.RemovedLineIDs(), 1)
}

func TestRoundPrice(t *testing.T) {
	assert.Equal(t, "2.35", RoundPrice(decimal.RequireFromString("2.345")).String())
	assert.Equal(t, "10", RoundPrice(decimal.RequireFromString("9.999")).String())
	assert.Equal(t, "-1.01", RoundPrice(decimal.RequireFromString("-1.005")).String())
}
