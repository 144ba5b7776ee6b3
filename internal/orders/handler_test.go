package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jogardn/order-service/internal/circuitbreaker"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func newTestRouter(f *fixture, ping error) *mux.Router {
	breakers := circuitbreaker.NewManager(testLogger())
	breakers.GetOrCreate("product-service", circuitbreaker.Config{MaxFailures: 3})

	router := mux.NewRouter()
	NewHandler(f.service, stubPinger{err: ping}, breakers, testLogger()).RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type createResponse struct {
	Success bool      `json:"success"`
	ID      uuid.UUID `json:"id"`
}

type listResponse struct {
	Success bool               `json:"success"`
	Orders  []models.OrderView `json:"orders"`
	Count   int                `json:"count"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func TestHandlerCreateAndGetOrder(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f, nil)

	rec := doRequest(t, router, http.MethodPost, "/orders",
		`{"user_id":"payload-user","order_lines":[{"product_id":1,"quantity":3,"unit_price":1}]}`,
		UserIDHeader, "header-user")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[createResponse](t, rec)
	assert.True(t, created.Success)
	require.NotEqual(t, uuid.Nil, created.ID)

	rec = doRequest(t, router, http.MethodGet, "/orders/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decodeBody[models.OrderView](t, rec)
	assert.Equal(t, "header-user", order.UserID)
	assert.Equal(t, models.StatusPending, order.Status)
	require.Len(t, order.Lines, 1)
	assert.True(t, dec("30").Equal(order.TotalAmount))
	require.NotNil(t, order.Lines[0].Product)
	assert.Equal(t, "Keyboard", order.Lines[0].Product.Name)
}

func TestHandlerCreateOrderErrors(t *testing.T) {
	f := newFixture()
	f.catalog.fail(2)
	router := newTestRouter(f, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", `{"order_lines":`, http.StatusBadRequest},
		{"invalid status", `{"status":"lost"}`, http.StatusBadRequest},
		{"unknown product", `{"order_lines":[{"product_id":77,"quantity":1}]}`, http.StatusNotFound},
		{"catalog down", `{"order_lines":[{"product_id":2,"quantity":1}]}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/orders", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			resp := decodeBody[errorResponse](t, rec)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestHandlerListOrders(t *testing.T) {
	f := newFixture()
	f.create(t, "alice", line(1, 1))
	f.create(t, "bob", line(2, 1))
	router := newTestRouter(f, nil)

	rec := doRequest(t, router, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeBody[listResponse](t, rec)
	assert.Equal(t, 2, all.Count)

	rec = doRequest(t, router, http.MethodGet, "/orders/user/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decodeBody[listResponse](t, rec)
	require.Equal(t, 1, mine.Count)
	assert.Equal(t, "alice", mine.Orders[0].UserID)
	assert.NotNil(t, mine.Orders[0].Lines[0].Product)
}

func TestHandlerListMyOrders(t *testing.T) {
	f := newFixture()
	f.create(t, "alice", line(1, 1))
	f.create(t, "alice", line(2, 1))
	f.create(t, "bob", line(3, 1))
	router := newTestRouter(f, nil)

	for _, path := range []string{"/orders/me", "/orders/myOrders"} {
		rec := doRequest(t, router, http.MethodGet, path, nil, UserIDHeader, "alice")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		mine := decodeBody[listResponse](t, rec)
		assert.Equal(t, 2, mine.Count, path)
		for _, o := range mine.Orders {
			assert.Equal(t, "alice", o.UserID)
		}
	}

	rec := doRequest(t, router, http.MethodGet, "/orders/me", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerUpdateOrder(t *testing.T) {
	f := newFixture()
	id := f.create(t, "carol", line(1, 1))
	router := newTestRouter(f, nil)

	rec := doRequest(t, router, http.MethodPut, "/orders/"+id.String(),
		`{"status":"DELIVERED","user_id":null,"order_lines":[{"product_id":2,"quantity":2}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	order, err := f.service.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, order.Status)
	assert.Equal(t, "carol", order.UserID, "null is treated as absent")
	assert.Len(t, order.Lines, 2)

	rec = doRequest(t, router, http.MethodPut, "/orders/"+uuid.NewString(), `{"status":"SHIPPED"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodPut, "/orders/not-a-uuid", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerSetStatus(t *testing.T) {
	f := newFixture()
	id := f.create(t, "dave")
	router := newTestRouter(f, nil)

	rec := doRequest(t, router, http.MethodPatch, "/orders/"+id.String()+"/status?status=shipped", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPatch, "/orders/"+id.String()+"/status", map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)

	order, err := f.service.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, order.Status)

	rec = doRequest(t, router, http.MethodPatch, "/orders/"+id.String()+"/status?status=unknown", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPatch, "/orders/"+id.String()+"/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerLineLifecycle(t *testing.T) {
	f := newFixture()
	id := f.create(t, "erin", line(1, 1))
	router := newTestRouter(f, nil)
	base := "/orders/" + id.String()

	rec := doRequest(t, router, http.MethodPost, base+"/lines", models.LineRequest{ProductID: 3, Quantity: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decodeBody[models.OrderView](t, rec)
	require.Len(t, order.Lines, 2)
	added := order.Lines[1]
	assert.True(t, dec("250").Equal(order.TotalAmount))

	rec = doRequest(t, router, http.MethodGet, base+"/lines", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/order-lines/"+added.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[models.LineView](t, rec)
	assert.Equal(t, id, got.OrderID)

	rec = doRequest(t, router, http.MethodPatch, "/order-lines/"+added.ID.String(), `{"quantity":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeBody[models.LineView](t, rec)
	assert.Equal(t, 4, got.Quantity)

	rec = doRequest(t, router, http.MethodDelete, base+"/lines/"+added.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	order = decodeBody[models.OrderView](t, rec)
	assert.Len(t, order.Lines, 1)

	rec = doRequest(t, router, http.MethodDelete, base+"/lines/"+added.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/order-lines/"+order.Lines[0].ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, router, http.MethodGet, "/order-lines/"+order.Lines[0].ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type lineListResponse struct {
	Success    bool              `json:"success"`
	OrderLines []models.LineView `json:"order_lines"`
	Count      int               `json:"count"`
}

func TestHandlerStandaloneLines(t *testing.T) {
	f := newFixture()
	id := f.create(t, "gina", line(1, 1))
	f.create(t, "hank", line(2, 3))
	router := newTestRouter(f, nil)

	rec := doRequest(t, router, http.MethodPost, "/order-lines",
		`{"order_id":"`+id.String()+`","product_id":3,"quantity":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[models.LineView](t, rec)
	assert.Equal(t, id, created.OrderID)
	assert.True(t, dec("120").Equal(created.UnitPrice))

	rec = doRequest(t, router, http.MethodGet, "/order-lines/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/order-lines", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeBody[lineListResponse](t, rec)
	assert.True(t, all.Success)
	assert.Equal(t, 3, all.Count)
	for _, l := range all.OrderLines {
		assert.NotNil(t, l.Product)
	}

	rec = doRequest(t, router, http.MethodPost, "/order-lines", `{"product_id":1,"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, router, http.MethodPost, "/order-lines",
		`{"order_id":"`+uuid.NewString()+`","product_id":1,"quantity":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, router, http.MethodPost, "/order-lines", `{"order_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerDeleteOrder(t *testing.T) {
	f := newFixture()
	id := f.create(t, "frank", line(1, 1))
	router := newTestRouter(f, nil)

	rec := doRequest(t, router, http.MethodDelete, "/orders/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/orders/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/orders/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerHealthAndBreakers(t *testing.T) {
	f := newFixture()

	rec := doRequest(t, newTestRouter(f, nil), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, newTestRouter(f, errors.New("down")), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, newTestRouter(f, nil), http.MethodGet, "/circuit-breakers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	breakers := decodeBody[map[string]map[string]interface{}](t, rec)
	require.Contains(t, breakers, "product-service")
	assert.Equal(t, "closed", breakers["product-service"]["state"])

	rec = doRequest(t, newTestRouter(f, nil), http.MethodPost, "/circuit-breakers/product-service/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, newTestRouter(f, nil), http.MethodPost, "/circuit-breakers/inventory/reset", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, newTestRouter(f, nil), http.MethodPost, "/circuit-breakers/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusCode(classify(errors.Join(errors.New("x"), ErrNotFound))))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(classify(circuitbreaker.ErrCircuitBreakerOpen)))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(classify(context.DeadlineExceeded)))
	assert.Equal(t, http.StatusBadRequest, StatusCode(classify(models.ErrInvalidStatus)))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("boom")))
}
