package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// stores returns every backend that can run without external services.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := Open(context.Background(), DriverSQLite, ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleOrder(userID string, date time.Time) *models.Order {
	o := models.NewOrder(date, models.StatusPending, userID)
	l1 := models.NewOrderLine(1, 2)
	l1.UnitPrice = price("10.00")
	l2 := models.NewOrderLine(2, 1)
	l2.UnitPrice = price("15.00")
	o.AddLine(l1)
	o.AddLine(l2)
	return o
}

func TestCreateAndGetOrder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			o := sampleOrder("alice", date)

			require.NoError(t, store.CreateOrder(ctx, o))
			require.NotEqual(t, uuid.Nil, o.ID)
			for _, l := range o.Lines() {
				assert.NotEqual(t, uuid.Nil, l.ID)
			}

			loaded, err := store.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, o.ID, loaded.ID)
			assert.True(t, date.Equal(loaded.Date))
			assert.Equal(t, models.StatusPending, loaded.Status)
			assert.Equal(t, "alice", loaded.UserID)

			lines := loaded.Lines()
			require.Len(t, lines, 2)
			assert.Equal(t, int64(1), lines[0].ProductID)
			assert.Equal(t, int64(2), lines[1].ProductID)
			for _, l := range lines {
				assert.Same(t, loaded, l.Order())
			}
			assert.True(t, price("35").Equal(loaded.TotalAmount()))
		})
	}
}

func TestGetOrderNotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetOrder(context.Background(), uuid.New())
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = store.GetLine(context.Background(), uuid.New())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSaveOrderReconcilesLines(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := sampleOrder("bob", time.Now().UTC())
			require.NoError(t, store.CreateOrder(ctx, o))

			loaded, err := store.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			removed := loaded.Lines()[0]
			require.True(t, loaded.RemoveLine(removed))

			added := models.NewOrderLine(3, 4)
			added.UnitPrice = price("1.25")
			loaded.AddLine(added)
			loaded.Lines()[0].Quantity = 9
			loaded.Status = models.StatusShipped

			require.NoError(t, store.SaveOrder(ctx, loaded))
			assert.NotEqual(t, uuid.Nil, added.ID)

			again, err := store.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusShipped, again.Status)
			lines := again.Lines()
			require.Len(t, lines, 2)
			assert.Equal(t, int64(2), lines[0].ProductID)
			assert.Equal(t, 9, lines[0].Quantity)
			assert.Equal(t, added.ID, lines[1].ID)

			_, err = store.GetLine(ctx, removed.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSaveOrderMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			o := models.NewOrder(time.Now(), models.StatusPending, "")
			o.ID = uuid.New()
			assert.ErrorIs(t, store.SaveOrder(context.Background(), o), ErrNotFound)
		})
	}
}

func TestDeleteOrderCascades(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := sampleOrder("carol", time.Now().UTC())
			require.NoError(t, store.CreateOrder(ctx, o))
			lineID := o.Lines()[0].ID

			line, err := store.GetLine(ctx, lineID)
			require.NoError(t, err)
			assert.Equal(t, o.ID, line.Order().ID)

			require.NoError(t, store.DeleteOrder(ctx, o.ID))

			_, err = store.GetOrder(ctx, o.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.GetLine(ctx, lineID)
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, store.DeleteOrder(ctx, o.ID), ErrNotFound)
		})
	}
}

func TestListOrders(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			older := sampleOrder("dave", base)
			newer := sampleOrder("dave", base.Add(time.Hour))
			other := sampleOrder("erin", base.Add(2*time.Hour))
			for _, o := range []*models.Order{older, newer, other} {
				require.NoError(t, store.CreateOrder(ctx, o))
			}

			all, err := store.ListOrders(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, other.ID, all[0].ID)
			assert.Equal(t, older.ID, all[2].ID)

			mine, err := store.ListOrdersByUser(ctx, "dave")
			require.NoError(t, err)
			require.Len(t, mine, 2)
			assert.Equal(t, newer.ID, mine[0].ID)
			assert.Len(t, mine[0].Lines(), 2)

			none, err := store.ListOrdersByUser(ctx, "nobody")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestRunInTxRollsBack(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := sampleOrder("frank", time.Now().UTC())
			require.NoError(t, store.CreateOrder(ctx, o))

			boom := errors.New("boom")
			err := store.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
				loaded, err := tx.GetOrder(ctx, o.ID)
				if err != nil {
					return err
				}
				loaded.Status = models.StatusCancelled
				loaded.RemoveLine(loaded.Lines()[0])
				if err := tx.SaveOrder(ctx, loaded); err != nil {
					return err
				}
				if err := tx.CreateOrder(ctx, sampleOrder("frank", time.Now())); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)

			loaded, err := store.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusPending, loaded.Status)
			assert.Len(t, loaded.Lines(), 2)

			mine, err := store.ListOrdersByUser(ctx, "frank")
			require.NoError(t, err)
			assert.Len(t, mine, 1)
		})
	}
}

func TestRunInTxCommits(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var id uuid.UUID
			err := store.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
				o := sampleOrder("gina", time.Now().UTC())
				if err := tx.CreateOrder(ctx, o); err != nil {
					return err
				}
				id = o.ID
				// nested calls join the running transaction
				return tx.RunInTx(ctx, func(ctx context.Context, inner Repository) error {
					loaded, err := inner.GetOrder(ctx, id)
					if err != nil {
						return err
					}
					loaded.Status = models.StatusDelivered
					return inner.SaveOrder(ctx, loaded)
				})
			})
			require.NoError(t, err)

			loaded, err := store.GetOrder(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.StatusDelivered, loaded.Status)
		})
	}
}

func TestLoadedOrdersAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	o := sampleOrder("hank", time.Now().UTC())
	require.NoError(t, store.CreateOrder(ctx, o))

	first, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	first.Lines()[0].Quantity = 100

	second, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Lines()[0].Quantity)
}

func TestSQLiteRebind(t *testing.T) {
	assert.Equal(t, "SELECT ?1, ?2", dialectSQLite.rebind("SELECT $1, $2"))
	assert.Equal(t, "SELECT $1", dialectPostgres.rebind("SELECT $1"))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "", testLogger())
	assert.Error(t, err)
}

func TestSaveOrderKeepsLinesWrittenByOthers(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := sampleOrder("gina", time.Now().UTC())
			require.NoError(t, store.CreateOrder(ctx, o))

			first, err := store.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			second, err := store.GetOrder(ctx, o.ID)
			require.NoError(t, err)

			fromSecond := models.NewOrderLine(3, 1)
			fromSecond.UnitPrice = price("7.00")
			second.AddLine(fromSecond)
			require.NoError(t, store.SaveOrder(ctx, second))

			fromFirst := models.NewOrderLine(4, 1)
			fromFirst.UnitPrice = price("8.00")
			first.AddLine(fromFirst)
			require.True(t, first.RemoveLine(first.Lines()[0]))
			require.NoError(t, store.SaveOrder(ctx, first))

			again, err := store.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			var ids []uuid.UUID
			for _, l := range again.Lines() {
				ids = append(ids, l.ID)
			}
			assert.ElementsMatch(t, []uuid.UUID{o.Lines()[1].ID, fromSecond.ID, fromFirst.ID}, ids)
			assert.True(t, price("30.00").Equal(again.TotalAmount()))
		})
	}
}

func TestSaveOrderIgnoresLinesOfOtherOrders(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := sampleOrder("hank", time.Now().UTC())
			b := sampleOrder("ivy", time.Now().UTC())
			require.NoError(t, store.CreateOrder(ctx, a))
			require.NoError(t, store.CreateOrder(ctx, b))

			loaded, err := store.GetOrder(ctx, a.ID)
			require.NoError(t, err)
			require.True(t, loaded.RemoveLine(loaded.Lines()[0]))
			// a foreign id in the removed set must not touch order b
			foreign, err := store.GetOrder(ctx, b.ID)
			require.NoError(t, err)
			moved := foreign.Lines()[0]
			require.True(t, foreign.RemoveLine(moved))
			loaded.AddLine(moved)
			require.True(t, loaded.RemoveLine(moved))
			require.NoError(t, store.SaveOrder(ctx, loaded))

			_, err = store.GetLine(ctx, moved.ID)
			assert.NoError(t, err)
		})
	}
}

func TestUnitPriceRoundTrips(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := models.NewOrder(time.Now().UTC(), models.StatusPending, "jo")
			line := models.NewOrderLine(1, 3)
			line.UnitPrice = price("1234567890.123456789")
			o.AddLine(line)
			require.NoError(t, store.CreateOrder(ctx, o))

			again, err := store.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			require.Len(t, again.Lines(), 1)
			assert.Equal(t, "1234567890.123456789", again.Lines()[0].UnitPrice.String())
			assert.Equal(t, "3703703670.370370367", again.TotalAmount().String())
		})
	}
}

func TestOrderRowLockedInPostgresTx(t *testing.T) {
	assert.Contains(t, (&sqlRepo{d: dialectPostgres, inTx: true}).orderByID(), "FOR UPDATE")
	assert.NotContains(t, (&sqlRepo{d: dialectPostgres}).orderByID(), "FOR UPDATE")
	assert.NotContains(t, (&sqlRepo{d: dialectSQLite, inTx: true}).orderByID(), "FOR UPDATE")
}
