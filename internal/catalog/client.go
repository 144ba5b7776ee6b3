package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jogardn/order-service/internal/circuitbreaker"
	"github.com/jogardn/order-service/internal/metrics"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrProductNotFound means the catalog answered and has no such product.
	ErrProductNotFound = errors.New("product not found")
	// ErrUnavailable covers transport failures, timeouts, bad responses and
	// an open circuit breaker.
	ErrUnavailable = errors.New("product service unavailable")
)

const BreakerName = "product-service"

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *circuitbreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient builds a lookup client for baseURL. timeout bounds every single
// lookup on top of whatever deadline the caller's context carries.
func NewClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    timeout,
		breaker:    breaker,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BreakerConfig is the breaker setup used for the catalog: a missing
// product is a valid answer and a caller hanging up says nothing about the
// catalog, so neither counts as a failure.
func BreakerConfig(maxFailures int, timeout time.Duration) circuitbreaker.Config {
	return circuitbreaker.Config{
		Name:        BreakerName,
		MaxFailures: maxFailures,
		Timeout:     timeout,
		MaxRequests: 1,
		IsFailure: func(err error) bool {
			return !errors.Is(err, ErrProductNotFound) && !errors.Is(err, context.Canceled)
		},
	}
}

func (c *Client) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	start := time.Now()
	var product *models.Product

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		p, err := c.fetch(ctx, productID)
		product = p
		return err
	})

	switch {
	case err == nil:
		c.metrics.ObserveLookup("ok", time.Since(start))
		return product, nil
	case errors.Is(err, ErrProductNotFound):
		c.metrics.ObserveLookup("not_found", time.Since(start))
		return nil, err
	case errors.Is(err, ErrUnavailable):
		c.metrics.ObserveLookup("error", time.Since(start))
		return nil, err
	case errors.Is(err, context.Canceled):
		c.metrics.ObserveLookup("cancelled", time.Since(start))
		return nil, err
	default:
		c.metrics.ObserveLookup("error", time.Since(start))
		c.logger.WithError(err).WithField("product_id", productID).Warn("Product lookup rejected")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

func (c *Client) fetch(ctx context.Context, productID int64) (*models.Product, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + "/products/" + strconv.FormatInt(productID, 10)
	req, err := http.NewRequestWithContext(lookupCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		c.logger.WithError(err).WithField("product_id", productID).Warn("Failed to reach product service")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: product service returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var product models.Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return nil, fmt.Errorf("%w: failed to decode product response: %w", ErrUnavailable, err)
	}

	c.logger.WithFields(logrus.Fields{
		"product_id": productID,
		"price":      product.Price.String(),
	}).Debug("Retrieved product from product service")

	return &product, nil
}
