package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/shopspring/decimal"
)

type orderRecord struct {
	id     uuid.UUID
	date   time.Time
	status models.OrderStatus
	userID string
}

type lineRecord struct {
	id        uuid.UUID
	orderID   uuid.UUID
	productID int64
	quantity  int
	unitPrice decimal.Decimal
}

// memoryData is plain records only, so loaded aggregates never alias
// what is stored.
type memoryData struct {
	orders map[uuid.UUID]orderRecord
	lines  map[uuid.UUID]lineRecord
	owned  map[uuid.UUID][]uuid.UUID // order id -> line ids in order
}

func newMemoryData() *memoryData {
	return &memoryData{
		orders: make(map[uuid.UUID]orderRecord),
		lines:  make(map[uuid.UUID]lineRecord),
		owned:  make(map[uuid.UUID][]uuid.UUID),
	}
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		orders: make(map[uuid.UUID]orderRecord, len(d.orders)),
		lines:  make(map[uuid.UUID]lineRecord, len(d.lines)),
		owned:  make(map[uuid.UUID][]uuid.UUID, len(d.owned)),
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.lines {
		c.lines[k] = v
	}
	for k, v := range d.owned {
		c.owned[k] = append([]uuid.UUID(nil), v...)
	}
	return c
}

func (d *memoryData) load(id uuid.UUID) (*models.Order, error) {
	rec, ok := d.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o := models.NewOrder(rec.date, rec.status, rec.userID)
	o.ID = rec.id
	for _, lineID := range d.owned[id] {
		lr := d.lines[lineID]
		o.AddLine(&models.OrderLine{
			ID:        lr.id,
			ProductID: lr.productID,
			Quantity:  lr.quantity,
			UnitPrice: lr.unitPrice,
		})
	}
	return o, nil
}

func (d *memoryData) list(match func(orderRecord) bool) []*models.Order {
	recs := make([]orderRecord, 0, len(d.orders))
	for _, rec := range d.orders {
		if match(rec) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].date.Equal(recs[j].date) {
			return recs[i].date.After(recs[j].date)
		}
		return recs[i].id.String() < recs[j].id.String()
	})

	out := make([]*models.Order, 0, len(recs))
	for _, rec := range recs {
		o, _ := d.load(rec.id)
		out = append(out, o)
	}
	return out
}

func (d *memoryData) writeLines(o *models.Order) {
	ids := make([]uuid.UUID, 0, len(o.Lines()))
	for _, line := range o.Lines() {
		if line.ID == uuid.Nil {
			line.ID = uuid.New()
		}
		d.lines[line.ID] = lineRecord{
			id:        line.ID,
			orderID:   o.ID,
			productID: line.ProductID,
			quantity:  line.Quantity,
			unitPrice: line.UnitPrice,
		}
		ids = append(ids, line.ID)
	}
	d.owned[o.ID] = ids
}

func (d *memoryData) create(o *models.Order) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	d.orders[o.ID] = orderRecord{id: o.ID, date: o.Date.UTC(), status: o.Status, userID: o.UserID}
	d.writeLines(o)
}

func (d *memoryData) save(o *models.Order) error {
	if _, ok := d.orders[o.ID]; !ok {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	removed := make(map[uuid.UUID]bool)
	for _, lineID := range o.RemovedLineIDs() {
		if lr, ok := d.lines[lineID]; ok && lr.orderID == o.ID {
			delete(d.lines, lineID)
			removed[lineID] = true
		}
	}
	previous := d.owned[o.ID]

	d.orders[o.ID] = orderRecord{id: o.ID, date: o.Date.UTC(), status: o.Status, userID: o.UserID}
	d.writeLines(o)

	// lines stored since o was loaded stay, after o's own
	seen := make(map[uuid.UUID]bool, len(d.owned[o.ID]))
	for _, lineID := range d.owned[o.ID] {
		seen[lineID] = true
	}
	for _, lineID := range previous {
		if !seen[lineID] && !removed[lineID] {
			d.owned[o.ID] = append(d.owned[o.ID], lineID)
		}
	}
	return nil
}

func (d *memoryData) remove(id uuid.UUID) error {
	if _, ok := d.orders[id]; !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	for _, lineID := range d.owned[id] {
		delete(d.lines, lineID)
	}
	delete(d.owned, id)
	delete(d.orders, id)
	return nil
}

func (d *memoryData) line(id uuid.UUID) (*models.OrderLine, error) {
	lr, ok := d.lines[id]
	if !ok {
		return nil, fmt.Errorf("order line %s: %w", id, ErrNotFound)
	}
	o, err := d.load(lr.orderID)
	if err != nil {
		return nil, err
	}
	return o.Line(id), nil
}

// MemoryStore keeps orders in process memory. Used for local runs and
// tests; transactions copy the data and swap it in on success.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memoryData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.create(o)
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.load(id)
}

func (s *MemoryStore) ListOrders(ctx context.Context) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.list(func(orderRecord) bool { return true }), nil
}

func (s *MemoryStore) ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.list(func(rec orderRecord) bool { return rec.userID == userID }), nil
}

func (s *MemoryStore) SaveOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.save(o)
}

func (s *MemoryStore) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.remove(id)
}

func (s *MemoryStore) GetLine(ctx context.Context, id uuid.UUID) (*models.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.line(id)
}

// RunInTx serializes writers for the duration of fn.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{data: s.data.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// memoryTx works on a private copy; the store lock is already held.
type memoryTx struct {
	data *memoryData
}

func (t *memoryTx) CreateOrder(ctx context.Context, o *models.Order) error {
	t.data.create(o)
	return nil
}

func (t *memoryTx) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return t.data.load(id)
}

func (t *memoryTx) ListOrders(ctx context.Context) ([]*models.Order, error) {
	return t.data.list(func(orderRecord) bool { return true }), nil
}

func (t *memoryTx) ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return t.data.list(func(rec orderRecord) bool { return rec.userID == userID }), nil
}

func (t *memoryTx) SaveOrder(ctx context.Context, o *models.Order) error {
	return t.data.save(o)
}

func (t *memoryTx) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	return t.data.remove(id)
}

func (t *memoryTx) GetLine(ctx context.Context, id uuid.UUID) (*models.OrderLine, error) {
	return t.data.line(id)
}

func (t *memoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return fn(ctx, t)
}
