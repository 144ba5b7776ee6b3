package orders

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jogardn/order-service/internal/catalog"
	"github.com/jogardn/order-service/internal/circuitbreaker"
	"github.com/jogardn/order-service/internal/storage"
	"github.com/jogardn/order-service/pkg/models"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("product service unavailable")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// classify maps lower-layer errors onto the service taxonomy while keeping
// the original error in the chain.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, ErrInvalidArgument):
		return err
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, catalog.ErrProductNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, catalog.ErrUnavailable),
		errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	case errors.Is(err, models.ErrInvalidStatus):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	default:
		return err
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// StatusCode returns the HTTP status for an error from the service.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
