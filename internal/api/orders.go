package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/erazemk/zaloga/internal/events"
	"github.com/erazemk/zaloga/internal/idempotency"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// OrdersHandler handles order endpoints.
type OrdersHandler struct {
	DB           *sql.DB
	Publisher    events.Publisher
	Guard        idempotency.Guard
	Policy       store.StockPolicy
	StrictStatus bool
}

type updateOrderStatusRequest struct {
	Status model.OrderStatus `json:"status"`
}

// List handles GET /api/orders.
func (h *OrdersHandler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := store.ListOrders(r.Context(), h.DB)
	if err != nil {
		storeError(w, err, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	jsonResponse(w, http.StatusOK, orders)
}

// Get handles GET /api/orders/{id}.
func (h *OrdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := store.GetOrder(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		storeError(w, err, "failed to get order")
		return
	}
	if order == nil {
		jsonError(w, http.StatusNotFound, "order not found")
		return
	}
	jsonResponse(w, http.StatusOK, order)
}

// Create handles POST /api/orders. A request carrying an Idempotency-Key
// that was already used returns the order created the first time.
func (h *OrdersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.OrderRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.Guard != nil {
		reserved, err := h.Guard.Reserve(ctx, key)
		if err != nil {
			slog.Error("reserving idempotency key", "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to check idempotency key")
			return
		}
		if !reserved {
			h.replay(w, r, key)
			return
		}
	} else {
		key = ""
	}

	// Settling the key must outlive a client that hung up mid-request.
	settleCtx := context.WithoutCancel(ctx)

	order, err := store.PlaceOrder(ctx, h.DB, req, h.Policy)
	var readBack *store.ReadBackError
	if errors.As(err, &readBack) {
		slog.Error("order placed but not read back", "order_id", readBack.OrderID, "error", readBack.Err)
		err = nil
	}
	if err != nil {
		if key != "" {
			if err := h.Guard.Release(settleCtx, key); err != nil {
				slog.Error("releasing idempotency key", "error", err)
			}
		}
		storeError(w, err, "failed to create order")
		return
	}

	if key != "" {
		if err := h.Guard.Complete(settleCtx, key, order.ID); err != nil {
			slog.Error("completing idempotency key", "order_id", order.ID, "error", err)
		}
	}

	h.publish(r, order)
	jsonResponse(w, http.StatusCreated, order)
}

// replay answers a repeated Idempotency-Key.
func (h *OrdersHandler) replay(w http.ResponseWriter, r *http.Request, key string) {
	id, err := h.Guard.Lookup(r.Context(), key)
	if err != nil {
		slog.Error("looking up idempotency key", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to check idempotency key")
		return
	}
	if id == "" {
		jsonError(w, http.StatusConflict, "a request with this Idempotency-Key is already in progress")
		return
	}

	order, err := store.GetOrder(r.Context(), h.DB, id)
	if err != nil {
		storeError(w, err, "failed to get order")
		return
	}
	if order == nil {
		jsonError(w, http.StatusNotFound, "order not found")
		return
	}
	w.Header().Set("Idempotent-Replayed", "true")
	jsonResponse(w, http.StatusOK, order)
}

// UpdateStatus handles PATCH /api/orders/{id}/status.
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateOrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := store.UpdateOrderStatus(r.Context(), h.DB, r.PathValue("id"), req.Status, h.StrictStatus)
	if err != nil {
		storeError(w, err, "failed to update order status")
		return
	}
	jsonResponse(w, http.StatusOK, order)
}

// publish emits one stock change per distinct item on the order.
func (h *OrdersHandler) publish(r *http.Request, order *model.Order) {
	seen := make(map[string]bool)
	var evs []events.StockChanged
	for _, line := range order.Items {
		if seen[line.StockItemID] || line.StockItem == nil {
			continue
		}
		seen[line.StockItemID] = true
		evs = append(evs, events.StockChanged{
			StockItemID:  line.StockItemID,
			CurrentStock: line.StockItem.CurrentStock,
			Reason:       events.ReasonOrderPlaced,
			OrderID:      order.ID,
			OccurredAt:   time.Now().UTC(),
		})
	}
	if err := h.Publisher.Publish(context.WithoutCancel(r.Context()), evs...); err != nil {
		slog.Error("publishing stock changes", "order_id", order.ID, "error", err)
	}
}
