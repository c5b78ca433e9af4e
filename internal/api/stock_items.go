package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/erazemk/zaloga/internal/events"
	"github.com/erazemk/zaloga/internal/imaging"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
	"github.com/erazemk/zaloga/internal/urgency"
)

// StockItemsHandler handles stock item endpoints.
type StockItemsHandler struct {
	DB        *sql.DB
	Publisher events.Publisher
	Now       func() time.Time
}

type createStockItemRequest struct {
	Name            string `json:"name"`
	Category        string `json:"category"`
	Description     string `json:"description"`
	CurrentStock    int    `json:"currentStock"`
	MinimumStock    int    `json:"minimumStock"`
	LastMinuteStock int    `json:"lastMinuteStock"`
	Unit            string `json:"unit"`
	ExpiryDate      string `json:"expiryDate"`
}

// updateStockItemRequest uses pointers so omitted fields stay unchanged.
// An empty expiryDate clears the date.
type updateStockItemRequest struct {
	Name            *string `json:"name"`
	Category        *string `json:"category"`
	Description     *string `json:"description"`
	CurrentStock    *int    `json:"currentStock"`
	MinimumStock    *int    `json:"minimumStock"`
	LastMinuteStock *int    `json:"lastMinuteStock"`
	Unit            *string `json:"unit"`
	ExpiryDate      *string `json:"expiryDate"`
	IsArchived      *bool   `json:"isArchived"`
}

// parseExpiry parses an expiry date. Unlike order deadlines, a malformed
// expiry date is rejected.
func parseExpiry(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t := model.ParseDeadline(s)
	if t == nil {
		return nil, &store.ValidationError{Field: "expiryDate", Message: "expected a date like 2006-01-02 or an RFC 3339 timestamp"}
	}
	return t, nil
}

// List handles GET /api/stock-items.
func (h *StockItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, ok := stockItemFilter(w, r)
	if !ok {
		return
	}

	items, err := store.ListStockItems(r.Context(), h.DB, filter)
	if err != nil {
		storeError(w, err, "failed to list stock items")
		return
	}
	if items == nil {
		items = []model.StockItem{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Levels handles GET /api/stock-items/levels.
func (h *StockItemsHandler) Levels(w http.ResponseWriter, r *http.Request) {
	filter, ok := stockItemFilter(w, r)
	if !ok {
		return
	}

	items, err := store.ListStockItems(r.Context(), h.DB, filter)
	if err != nil {
		storeError(w, err, "failed to list stock items")
		return
	}
	jsonResponse(w, http.StatusOK, urgency.StockLevels(items))
}

// Expiring handles GET /api/stock-items/expiring.
func (h *StockItemsHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	window := urgency.DefaultExpiryWindow
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		window = n
	}

	active := false
	items, err := store.ListStockItems(r.Context(), h.DB, store.StockItemFilter{Archived: &active})
	if err != nil {
		storeError(w, err, "failed to list stock items")
		return
	}
	jsonResponse(w, http.StatusOK, urgency.ExpiringItems(items, h.now(), window))
}

// Create handles POST /api/stock-items.
func (h *StockItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStockItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	expiry, err := parseExpiry(req.ExpiryDate)
	if err != nil {
		storeError(w, err, "")
		return
	}

	item, err := store.CreateStockItem(r.Context(), h.DB, model.StockItem{
		Name:            req.Name,
		Category:        strings.TrimSpace(req.Category),
		Description:     req.Description,
		CurrentStock:    req.CurrentStock,
		MinimumStock:    req.MinimumStock,
		LastMinuteStock: req.LastMinuteStock,
		Unit:            strings.TrimSpace(req.Unit),
		ExpiryDate:      expiry,
	})
	if err != nil {
		storeError(w, err, "failed to create stock item")
		return
	}

	h.publish(r, item, events.ReasonItemCreated)
	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/stock-items/{id}.
func (h *StockItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := store.GetStockItem(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		storeError(w, err, "failed to get stock item")
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "stock item not found")
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Update handles PUT /api/stock-items/{id}.
func (h *StockItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateStockItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := model.StockItemPatch{
		Name:            req.Name,
		Category:        req.Category,
		Description:     req.Description,
		CurrentStock:    req.CurrentStock,
		MinimumStock:    req.MinimumStock,
		LastMinuteStock: req.LastMinuteStock,
		Unit:            req.Unit,
		IsArchived:      req.IsArchived,
	}
	if req.ExpiryDate != nil {
		expiry, err := parseExpiry(*req.ExpiryDate)
		if err != nil {
			storeError(w, err, "")
			return
		}
		patch.ExpiryDate = expiry
		patch.ClearExpiry = expiry == nil
	}

	item, err := store.UpdateStockItem(r.Context(), h.DB, r.PathValue("id"), patch)
	if err != nil {
		storeError(w, err, "failed to update stock item")
		return
	}

	h.publish(r, item, events.ReasonItemUpdated)
	jsonResponse(w, http.StatusOK, item)
}

type adjustStockRequest struct {
	Delta int `json:"delta"`
}

// Adjust handles POST /api/stock-items/{id}/adjust.
func (h *StockItemsHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := store.AdjustStock(r.Context(), h.DB, r.PathValue("id"), req.Delta)
	if err != nil {
		storeError(w, err, "failed to adjust stock")
		return
	}

	h.publish(r, item, events.ReasonStockAdjusted)
	jsonResponse(w, http.StatusOK, item)
}

// Delete handles DELETE /api/stock-items/{id}.
func (h *StockItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := store.DeleteStockItem(r.Context(), h.DB, r.PathValue("id")); err != nil {
		storeError(w, err, "failed to delete stock item")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "stock item deleted"})
}

// UploadImage handles PUT /api/stock-items/{id}/image.
func (h *StockItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Normalize(file)
	if errors.Is(err, imaging.ErrTooLarge) {
		jsonError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.SetStockItemImage(r.Context(), h.DB, r.PathValue("id"), photo.Data, photo.MIME); err != nil {
		storeError(w, err, "failed to save image")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"message": "image uploaded",
		"width":   photo.Width,
		"height":  photo.Height,
	})
}

// GetImage handles GET /api/stock-items/{id}/image.
func (h *StockItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	data, mime, err := store.GetStockItemImage(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		storeError(w, err, "failed to get image")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "image not found")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// Categories handles GET /api/categories.
func (h *StockItemsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := store.ListCategories(r.Context(), h.DB)
	if err != nil {
		storeError(w, err, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []string{}
	}
	jsonResponse(w, http.StatusOK, categories)
}

// stockItemFilter reads the category and archived query parameters.
func stockItemFilter(w http.ResponseWriter, r *http.Request) (store.StockItemFilter, bool) {
	q := r.URL.Query()
	filter := store.StockItemFilter{Category: q.Get("category")}
	if v := q.Get("archived"); v != "" {
		archived, err := strconv.ParseBool(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "archived must be true or false")
			return filter, false
		}
		filter.Archived = &archived
	}
	return filter, true
}

func (h *StockItemsHandler) publish(r *http.Request, item *model.StockItem, reason string) {
	ev := events.StockChanged{
		StockItemID:  item.ID,
		CurrentStock: item.CurrentStock,
		Reason:       reason,
		OccurredAt:   h.now().UTC(),
	}
	if err := h.Publisher.Publish(r.Context(), ev); err != nil {
		slog.Error("publishing stock change", "stock_item_id", item.ID, "error", err)
	}
}

func (h *StockItemsHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}
