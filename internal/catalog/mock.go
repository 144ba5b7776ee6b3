package catalog

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MockCatalog is an in-memory product service for local runs and tests.
// It can inject latency and random 503s to exercise the breaker.
type MockCatalog struct {
	products    map[int64]models.Product
	mu          sync.RWMutex
	maxLatency  time.Duration
	failureRate float64
	rand        *rand.Rand
	randMu      sync.Mutex
	logger      *logrus.Logger
}

func NewMockCatalog(maxLatency time.Duration, failureRate float64, logger *logrus.Logger) *MockCatalog {
	return &MockCatalog{
		products:    make(map[int64]models.Product),
		maxLatency:  maxLatency,
		failureRate: failureRate,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:      logger,
	}
}

// SeedProducts is the default product set.
func SeedProducts() []models.Product {
	return []models.Product{
		{ID: 1, Name: "Mechanical Keyboard", Description: "Tenkeyless, brown switches", Price: decimal.RequireFromString("89.90"), Quantity: 120},
		{ID: 2, Name: "Wireless Mouse", Description: "Ergonomic, 2.4GHz", Price: decimal.RequireFromString("24.50"), Quantity: 300},
		{ID: 3, Name: "27\" Monitor", Description: "1440p IPS", Price: decimal.RequireFromString("279.00"), Quantity: 40},
		{ID: 4, Name: "USB-C Dock", Description: "Dual display, 100W PD", Price: decimal.RequireFromString("149.99"), Quantity: 75},
		{ID: 5, Name: "Laptop Stand", Description: "Aluminium", Price: decimal.RequireFromString("39.00"), Quantity: 0},
	}
}

func (m *MockCatalog) Put(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *MockCatalog) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", m.health).Methods(http.MethodGet)
	router.HandleFunc("/products", m.listProducts).Methods(http.MethodGet)
	router.HandleFunc("/products", m.putProduct).Methods(http.MethodPost)
	router.HandleFunc("/products/{id}", m.getProduct).Methods(http.MethodGet)
}

// simulate sleeps for a random latency and reports whether to fail.
func (m *MockCatalog) simulate(r *http.Request) bool {
	m.randMu.Lock()
	var delay time.Duration
	if m.maxLatency > 0 {
		delay = time.Duration(m.rand.Int63n(int64(m.maxLatency)))
	}
	fail := m.failureRate > 0 && m.rand.Float64() < m.failureRate
	m.randMu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
		}
	}
	return fail
}

func (m *MockCatalog) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product id"})
		return
	}
	if m.simulate(r) {
		m.logger.WithField("product_id", id).Warn("Injected catalog failure")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
		return
	}

	m.mu.RLock()
	p, ok := m.products[id]
	m.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (m *MockCatalog) listProducts(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	out := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	writeJSON(w, http.StatusOK, map[string]interface{}{"products": out, "count": len(out)})
}

func (m *MockCatalog) putProduct(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.ID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product"})
		return
	}
	m.Put(p)
	m.logger.WithFields(logrus.Fields{"product_id": p.ID, "price": p.Price.String()}).Info("Product stored")
	writeJSON(w, http.StatusCreated, p)
}

func (m *MockCatalog) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "product-service"})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
