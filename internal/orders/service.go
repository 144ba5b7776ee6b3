package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/order-service/internal/events"
	"github.com/jogardn/order-service/internal/storage"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ProductLookup fetches a single product from the catalog.
type ProductLookup interface {
	GetProduct(ctx context.Context, productID int64) (*models.Product, error)
}

// Service coordinates the order store, the product catalog and the order
// aggregate. It holds no state between calls.
type Service struct {
	repo        storage.Repository
	products    ProductLookup
	publisher   events.Publisher
	concurrency int
	logger      *logrus.Logger
	now         func() time.Time
}

type Option func(*Service)

// WithConcurrency bounds the number of product lookups in flight per call.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo storage.Repository, products ProductLookup, logger *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		products:    products,
		concurrency: 8,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = events.NewNoopPublisher(logger)
	}
	return s
}

func (s *Service) ListOrders(ctx context.Context) ([]models.OrderView, error) {
	orders, err := s.repo.ListOrders(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return s.views(ctx, orders), nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (models.OrderView, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return models.OrderView{}, classify(err)
	}
	return s.view(ctx, o), nil
}

func (s *Service) ListOrdersByUser(ctx context.Context, userID string) ([]models.OrderView, error) {
	orders, err := s.repo.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return s.views(ctx, orders), nil
}

// CreateOrder prices every line from the catalog and stores the order.
// Nothing is stored if any lookup fails.
func (s *Service) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (uuid.UUID, error) {
	status := models.StatusPending
	if raw, ok := req.Status.Get(); ok {
		parsed, err := models.ParseOrderStatus(string(raw))
		if err != nil {
			return uuid.Nil, classify(err)
		}
		status = parsed
	}
	date := s.now().UTC()
	if d, ok := req.Date.Get(); ok && !d.IsZero() {
		date = d
	}

	lines, err := s.priceLines(ctx, req.Lines)
	if err != nil {
		return uuid.Nil, err
	}

	o := models.NewOrder(date, status, req.UserID)
	for _, line := range lines {
		o.AddLine(line)
	}

	if err := s.repo.RunInTx(ctx, func(ctx context.Context, tx storage.Repository) error {
		return tx.CreateOrder(ctx, o)
	}); err != nil {
		s.logger.WithError(err).Error("Failed to save order")
		return uuid.Nil, classify(err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":     o.ID,
		"user_id":      o.UserID,
		"total_amount": o.TotalAmount().String(),
		"lines":        len(lines),
	}).Info("Order created successfully")
	s.publish(ctx, models.NewOrderEvent(models.EventOrderCreated, o.ID, o))

	return o.ID, nil
}

// ApplyPatch copies the fields present in p onto o. Lines are not touched.
func ApplyPatch(o *models.Order, p models.OrderPatch) error {
	if raw, ok := p.Status.Get(); ok {
		status, err := models.ParseOrderStatus(string(raw))
		if err != nil {
			return classify(err)
		}
		o.Status = status
	}
	if d, ok := p.Date.Get(); ok {
		o.Date = d
	}
	if userID, ok := p.UserID.Get(); ok {
		o.UserID = userID
	}
	return nil
}

// Update applies the present fields of the patch and appends its lines to
// the order. Existing lines are never replaced or re-priced.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch models.OrderPatch) error {
	if raw, ok := patch.Status.Get(); ok {
		if _, err := models.ParseOrderStatus(string(raw)); err != nil {
			return classify(err)
		}
	}
	if _, err := s.repo.GetOrder(ctx, id); err != nil {
		return classify(err)
	}
	lines, err := s.priceLines(ctx, patch.Lines)
	if err != nil {
		return err
	}

	var updated *models.Order
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx storage.Repository) error {
		o, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := ApplyPatch(o, patch); err != nil {
			return err
		}
		for _, line := range lines {
			o.AddLine(line)
		}
		updated = o
		return tx.SaveOrder(ctx, o)
	})
	if err != nil {
		return classify(err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":       id,
		"status":         updated.Status,
		"appended_lines": len(lines),
	}).Info("Order updated successfully")
	s.publish(ctx, models.NewOrderEvent(models.EventOrderUpdated, id, updated))
	return nil
}

// AppendLines prices reqs and adds them to the order without touching any
// other field.
func (s *Service) AppendLines(ctx context.Context, id uuid.UUID, reqs []models.LineRequest) error {
	return s.Update(ctx, id, models.OrderPatch{Lines: reqs})
}

func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, literal string) error {
	status, err := models.ParseOrderStatus(literal)
	if err != nil {
		return classify(err)
	}
	return s.Update(ctx, id, models.OrderPatch{Status: models.Some(status)})
}

func (s *Service) AddLine(ctx context.Context, orderID uuid.UUID, req models.LineRequest) (models.OrderView, error) {
	updated, _, err := s.addLine(ctx, orderID, req)
	if err != nil {
		return models.OrderView{}, err
	}
	return s.view(ctx, updated), nil
}

// CreateLine adds a line to the order named in the request and returns
// the new line.
func (s *Service) CreateLine(ctx context.Context, req models.CreateLineRequest) (models.LineView, error) {
	if req.OrderID == uuid.Nil {
		return models.LineView{}, invalid("order_id is required")
	}
	_, line, err := s.addLine(ctx, req.OrderID, req.LineRequest)
	if err != nil {
		return models.LineView{}, err
	}
	view := models.NewLineView(line)
	s.enrich(ctx, []*models.LineView{&view})
	return view, nil
}

func (s *Service) addLine(ctx context.Context, orderID uuid.UUID, req models.LineRequest) (*models.Order, *models.OrderLine, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, nil, classify(err)
	}
	priced, err := s.priceLines(ctx, []models.LineRequest{req})
	if err != nil {
		return nil, nil, err
	}
	line := priced[0]

	var updated *models.Order
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx storage.Repository) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		o.AddLine(line)
		updated = o
		return tx.SaveOrder(ctx, o)
	})
	if err != nil {
		return nil, nil, classify(err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":   orderID,
		"line_id":    line.ID,
		"product_id": line.ProductID,
		"unit_price": line.UnitPrice.String(),
	}).Info("Order line added")
	s.publish(ctx, models.NewOrderEvent(models.EventOrderLineAdded, orderID, updated).WithLine(line.ID))

	return updated, line, nil
}

// RemoveLine detaches a line from the order. A line id that is unknown or
// belongs to a different order is reported as not found.
func (s *Service) RemoveLine(ctx context.Context, orderID, lineID uuid.UUID) (models.OrderView, error) {
	var updated *models.Order
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx storage.Repository) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		line := o.Line(lineID)
		if line == nil || !o.RemoveLine(line) {
			return storage.ErrNotFound
		}
		updated = o
		return tx.SaveOrder(ctx, o)
	})
	if err != nil {
		return models.OrderView{}, classify(err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"line_id":  lineID,
	}).Info("Order line removed")
	s.publish(ctx, models.NewOrderEvent(models.EventOrderLineRemoved, orderID, updated).WithLine(lineID))

	return s.view(ctx, updated), nil
}

func (s *Service) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx storage.Repository) error {
		return tx.DeleteOrder(ctx, id)
	})
	if err != nil {
		return classify(err)
	}

	s.logger.WithField("order_id", id).Info("Order deleted")
	s.publish(ctx, models.NewOrderEvent(models.EventOrderDeleted, id, nil))
	return nil
}

func (s *Service) GetLine(ctx context.Context, lineID uuid.UUID) (models.LineView, error) {
	line, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return models.LineView{}, classify(err)
	}
	view := models.NewLineView(line)
	s.enrich(ctx, []*models.LineView{&view})
	return view, nil
}

// ListAllLines returns every stored line across all orders, enriched in
// one pass so shared products are looked up once.
func (s *Service) ListAllLines(ctx context.Context) ([]models.LineView, error) {
	orders, err := s.repo.ListOrders(ctx)
	if err != nil {
		return nil, classify(err)
	}
	var views []models.LineView
	for _, o := range orders {
		for _, l := range o.Lines() {
			views = append(views, models.NewLineView(l))
		}
	}
	ptrs := make([]*models.LineView, len(views))
	for i := range views {
		ptrs[i] = &views[i]
	}
	s.enrich(ctx, ptrs)
	if views == nil {
		views = []models.LineView{}
	}
	return views, nil
}

func (s *Service) ListLines(ctx context.Context, orderID uuid.UUID) ([]models.LineView, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, classify(err)
	}
	return s.view(ctx, o).Lines, nil
}

// UpdateLine changes quantity and product of a single line. Setting a
// product re-prices the line from the catalog.
func (s *Service) UpdateLine(ctx context.Context, lineID uuid.UUID, patch models.LinePatch) (models.LineView, error) {
	if q, ok := patch.Quantity.Get(); ok && q <= 0 {
		return models.LineView{}, invalid("quantity must be positive, got %d", q)
	}
	if _, err := s.repo.GetLine(ctx, lineID); err != nil {
		return models.LineView{}, classify(err)
	}

	prices := map[int64]decimal.Decimal{}
	if pid, ok := patch.ProductID.Get(); ok {
		if pid < 0 {
			return models.LineView{}, invalid("invalid product id %d", pid)
		}
		looked, err := s.lookupPrices(ctx, []int64{pid})
		if err != nil {
			return models.LineView{}, err
		}
		prices = looked
	}

	var updated *models.OrderLine
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx storage.Repository) error {
		line, err := tx.GetLine(ctx, lineID)
		if err != nil {
			return err
		}
		if q, ok := patch.Quantity.Get(); ok {
			line.Quantity = q
		}
		if pid, ok := patch.ProductID.Get(); ok {
			line.ProductID = pid
			if price, priced := prices[pid]; priced {
				line.UnitPrice = price
			}
		}
		updated = line
		return tx.SaveOrder(ctx, line.Order())
	})
	if err != nil {
		return models.LineView{}, classify(err)
	}

	owner := updated.Order()
	s.logger.WithFields(logrus.Fields{
		"order_id":   owner.ID,
		"line_id":    lineID,
		"product_id": updated.ProductID,
		"quantity":   updated.Quantity,
	}).Info("Order line updated")
	s.publish(ctx, models.NewOrderEvent(models.EventOrderUpdated, owner.ID, owner).WithLine(lineID))

	view := models.NewLineView(updated)
	s.enrich(ctx, []*models.LineView{&view})
	return view, nil
}

// DeleteLine removes a line through its owning order.
func (s *Service) DeleteLine(ctx context.Context, lineID uuid.UUID) error {
	var owner *models.Order
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx storage.Repository) error {
		line, err := tx.GetLine(ctx, lineID)
		if err != nil {
			return err
		}
		owner = line.Order()
		owner.RemoveLine(line)
		return tx.SaveOrder(ctx, owner)
	})
	if err != nil {
		return classify(err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": owner.ID,
		"line_id":  lineID,
	}).Info("Order line deleted")
	s.publish(ctx, models.NewOrderEvent(models.EventOrderLineRemoved, owner.ID, owner).WithLine(lineID))
	return nil
}

func (s *Service) view(ctx context.Context, o *models.Order) models.OrderView {
	views := []models.OrderView{models.NewOrderView(o)}
	s.enrichViews(ctx, views)
	return views[0]
}

func (s *Service) views(ctx context.Context, orders []*models.Order) []models.OrderView {
	views := make([]models.OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, models.NewOrderView(o))
	}
	s.enrichViews(ctx, views)
	return views
}

// publish runs after commit; a failure is logged and never undoes the write.
func (s *Service) publish(ctx context.Context, event models.OrderEvent) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":   event.OrderID,
			"event_type": event.Type,
		}).Error("Failed to publish order event")
	}
}
