package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/jogardn/order-service/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type lookupResult struct {
	product *models.Product
	err     error
}

// uniqueProducts returns the distinct non-zero product ids in first-seen order.
func uniqueProducts(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// enrich attaches a product snapshot to every line that references one.
// A failed lookup only marks the affected lines.
func (s *Service) enrich(ctx context.Context, lines []*models.LineView) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products := uniqueProducts(ids)
	if len(products) == 0 {
		return
	}

	results := make([]lookupResult, len(products))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range products {
		g.Go(func() error {
			p, err := s.products.GetProduct(ctx, id)
			results[i] = lookupResult{product: p, err: err}
			return nil
		})
	}
	_ = g.Wait()

	index := make(map[int64]int, len(products))
	for i, id := range products {
		index[id] = i
		if err := results[i].err; err != nil {
			s.logger.WithError(err).WithField("product_id", id).Warn("Failed to enrich order line")
		}
	}

	for _, l := range lines {
		if l.ProductID == 0 {
			continue
		}
		r := results[index[l.ProductID]]
		if r.err != nil {
			l.EnrichmentError = r.err.Error()
			continue
		}
		snapshot := *r.product
		l.Product = &snapshot
	}
}

func (s *Service) enrichViews(ctx context.Context, views []models.OrderView) {
	var lines []*models.LineView
	for i := range views {
		for j := range views[i].Lines {
			lines = append(lines, &views[i].Lines[j])
		}
	}
	s.enrich(ctx, lines)
}

// lookupPrices fetches the current price of each product. Any failure
// cancels the remaining lookups and is returned.
func (s *Service) lookupPrices(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error) {
	products := uniqueProducts(productIDs)
	prices := make(map[int64]decimal.Decimal, len(products))
	if len(products) == 0 {
		return prices, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range products {
		g.Go(func() error {
			p, err := s.products.GetProduct(gctx, id)
			if err != nil {
				return fmt.Errorf("price product %d: %w", id, err)
			}
			mu.Lock()
			prices[id] = models.RoundPrice(p.Price)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.WithError(err).WithField("products", len(products)).Warn("Failed to price order lines")
		return nil, classify(err)
	}
	return prices, nil
}

// priceLines validates the requests and builds detached lines carrying the
// live catalog price, rounded to models.PriceScale. A caller supplied price only survives on lines that
// reference no product.
func (s *Service) priceLines(ctx context.Context, reqs []models.LineRequest) ([]*models.OrderLine, error) {
	ids := make([]int64, 0, len(reqs))
	for i, r := range reqs {
		if r.Quantity <= 0 {
			return nil, invalid("order line %d: quantity must be positive, got %d", i, r.Quantity)
		}
		if r.ProductID < 0 {
			return nil, invalid("order line %d: invalid product id %d", i, r.ProductID)
		}
		ids = append(ids, r.ProductID)
	}

	prices, err := s.lookupPrices(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]*models.OrderLine, 0, len(reqs))
	for _, r := range reqs {
		line := models.NewOrderLine(r.ProductID, r.Quantity)
		switch {
		case line.HasProduct():
			line.UnitPrice = prices[r.ProductID]
		case r.UnitPrice != nil:
			line.UnitPrice = models.RoundPrice(*r.UnitPrice)
		}
		lines = append(lines, line)
	}

	s.logger.WithFields(logrus.Fields{
		"lines":    len(lines),
		"products": len(prices),
	}).Debug("Priced order lines")
	return lines, nil
}
