package orders

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jogardn/order-service/internal/circuitbreaker"
	"github.com/jogardn/order-service/pkg/models"
	"github.com/sirupsen/logrus"
)

// UserIDHeader carries the authenticated owner id set by the gateway.
const UserIDHeader = "X-User-ID"

type Pinger interface {
	Ping(ctx context.Context) error
}

type BreakerReporter interface {
	Snapshots() map[string]circuitbreaker.Snapshot
	Reset(name string) bool
	ResetAll()
}

type Handler struct {
	service  *Service
	store    Pinger
	breakers BreakerReporter
	logger   *logrus.Logger
}

func NewHandler(service *Service, store Pinger, breakers BreakerReporter, logger *logrus.Logger) *Handler {
	return &Handler{
		service:  service,
		store:    store,
		breakers: breakers,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/circuit-breakers", h.CircuitBreakers).Methods("GET")
	router.HandleFunc("/circuit-breakers/reset", h.ResetCircuitBreakers).Methods("POST")
	router.HandleFunc("/circuit-breakers/{name}/reset", h.ResetCircuitBreaker).Methods("POST")

	router.HandleFunc("/orders", h.ListOrders).Methods("GET")
	router.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/orders/user/{userId}", h.ListOrdersByUser).Methods("GET")
	router.HandleFunc("/orders/me", h.ListMyOrders).Methods("GET")
	router.HandleFunc("/orders/myOrders", h.ListMyOrders).Methods("GET")
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}", h.UpdateOrder).Methods("PUT")
	router.HandleFunc("/orders/{id}", h.DeleteOrder).Methods("DELETE")
	router.HandleFunc("/orders/{id}/status", h.SetStatus).Methods("PATCH")
	router.HandleFunc("/orders/{id}/lines", h.ListLines).Methods("GET")
	router.HandleFunc("/orders/{id}/lines", h.AddLine).Methods("POST")
	router.HandleFunc("/orders/{id}/lines/{lineId}", h.RemoveLine).Methods("DELETE")

	router.HandleFunc("/order-lines", h.ListAllLines).Methods("GET")
	router.HandleFunc("/order-lines", h.CreateLine).Methods("POST")
	router.HandleFunc("/order-lines/{id}", h.GetLine).Methods("GET")
	router.HandleFunc("/order-lines/{id}", h.UpdateLine).Methods("PATCH")
	router.HandleFunc("/order-lines/{id}", h.DeleteLine).Methods("DELETE")
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get orders")
		return
	}

	h.logger.WithField("count", len(orders)).Info("Retrieved orders")
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orders":  orders,
		"count":   len(orders),
	})
}

func (h *Handler) ListOrdersByUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	orders, err := h.service.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get orders")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orders":  orders,
		"count":   len(orders),
	})
}

// ListMyOrders lists the orders owned by the X-User-ID caller.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserIDHeader)
	if userID == "" {
		h.respondWithError(w, http.StatusBadRequest, UserIDHeader+" header is required")
		return
	}
	orders, err := h.service.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get orders")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orders":  orders,
		"count":   len(orders),
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get order")
		return
	}
	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode order request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if userID := r.Header.Get(UserIDHeader); userID != "" {
		req.UserID = userID
	}

	id, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to create order")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Order created successfully",
		"id":      id,
	})
}

func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var patch models.OrderPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.logger.WithError(err).Error("Failed to decode order update")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.Update(r.Context(), id, patch); err != nil {
		h.respondWithServiceError(w, err, "Failed to update order")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Order updated successfully",
	})
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteOrder(r.Context(), id); err != nil {
		h.respondWithServiceError(w, err, "Failed to delete order")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Order deleted successfully",
	})
}

// SetStatus takes the status from the query string, or from a JSON body
// of the form {"status": "..."}.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
			h.respondWithError(w, http.StatusBadRequest, "Missing status")
			return
		}
		status = body.Status
	}

	if err := h.service.SetStatus(r.Context(), id, status); err != nil {
		h.respondWithServiceError(w, err, "Failed to update order status")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Order status updated",
	})
}

func (h *Handler) ListLines(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	lines, err := h.service.ListLines(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get order lines")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"order_lines": lines,
		"count":       len(lines),
	})
}

func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req models.LineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode order line request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.AddLine(r.Context(), id, req)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to add order line")
		return
	}
	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) ListAllLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.ListAllLines(r.Context())
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get order lines")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"order_lines": lines,
		"count":       len(lines),
	})
}

func (h *Handler) CreateLine(w http.ResponseWriter, r *http.Request) {
	var req models.CreateLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode order line request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	line, err := h.service.CreateLine(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to create order line")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, line)
}

func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := h.pathID(w, r, "lineId")
	if !ok {
		return
	}

	order, err := h.service.RemoveLine(r.Context(), id, lineID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to remove order line")
		return
	}
	h.respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) GetLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	line, err := h.service.GetLine(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get order line")
		return
	}
	h.respondWithJSON(w, http.StatusOK, line)
}

func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var patch models.LinePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.logger.WithError(err).Error("Failed to decode order line update")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	line, err := h.service.UpdateLine(r.Context(), id, patch)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to update order line")
		return
	}
	h.respondWithJSON(w, http.StatusOK, line)
}

func (h *Handler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteLine(r.Context(), id); err != nil {
		h.respondWithServiceError(w, err, "Failed to delete order line")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Order line deleted successfully",
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "order-service",
			"error":   "database connection failed",
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "order-service",
	})
}

func (h *Handler) CircuitBreakers(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.breakers.Snapshots())
}

func (h *Handler) ResetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !h.breakers.Reset(name) {
		h.respondWithError(w, http.StatusNotFound, "Circuit breaker not found: "+name)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Circuit breaker reset",
	})
}

func (h *Handler) ResetCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	h.breakers.ResetAll()
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "All circuit breakers reset",
	})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid "+name+": "+raw)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error, message string) {
	code := StatusCode(err)
	entry := h.logger.WithError(err).WithField("status", code)
	if code == http.StatusInternalServerError {
		entry.Error(message)
		h.respondWithError(w, code, message)
		return
	}
	entry.Warn(message)
	h.respondWithError(w, code, err.Error())
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
		code = http.StatusInternalServerError
		response = []byte(`{"success":false,"message":"Failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
