package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erazemk/zaloga/internal/alerting"
	"github.com/erazemk/zaloga/internal/auth"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/events"
	"github.com/erazemk/zaloga/internal/idempotency"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

const testJWTSecret = "test-secret"

func setupTestServer(t *testing.T, mutate func(*Options)) (*httptest.Server, string) {
	t.Helper()
	database := db.NewTestDB(t)
	verifier := auth.NewVerifier(testJWTSecret, "")

	generator := alerting.NewGenerator(database, slog.New(slog.NewTextHandler(io.Discard, nil)))
	opts := Options{
		DB:        database,
		Verifier:  verifier,
		Publisher: events.NewDirect(generator),
	}
	if mutate != nil {
		mutate(&opts)
	}

	server := httptest.NewServer(NewRouter(opts))
	t.Cleanup(server.Close)

	token, err := verifier.Sign("manager-1", model.RoleManager, time.Hour)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return server, token
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends a request and decodes the JSON response into out, if given.
func do(t *testing.T, method, url, token string, body, out any) *http.Response {
	t.Helper()
	req, err := authRequest(method, url, token, body)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, url, err)
		}
	}
	return resp
}

func createStockItem(t *testing.T, server *httptest.Server, token string, body map[string]any) model.StockItem {
	t.Helper()
	var item model.StockItem
	resp := do(t, "POST", server.URL+"/api/stock-items", token, body, &item)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create stock item: expected 201, got %d", resp.StatusCode)
	}
	return item
}

func TestHealth(t *testing.T) {
	server, _ := setupTestServer(t, nil)

	var body map[string]string
	resp := do(t, "GET", server.URL+"/api/health", "", nil, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("expected 200 ok, got %d %v", resp.StatusCode, body)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	server, _ := setupTestServer(t, nil)

	resp := do(t, "GET", server.URL+"/api/stock-items", "", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = do(t, "GET", server.URL+"/api/stock-items", "garbage", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", resp.StatusCode)
	}
}

func TestRoleBasedAccess(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	userToken, _ := auth.NewVerifier(testJWTSecret, "").Sign("user-1", model.RoleUser, time.Hour)

	resp := do(t, "POST", server.URL+"/api/stock-items", userToken, map[string]any{"name": "Test"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for user creating stock item, got %d", resp.StatusCode)
	}

	resp = do(t, "GET", server.URL+"/api/stock-items", userToken, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for user listing stock items, got %d", resp.StatusCode)
	}
}

func TestVerificationDisabled(t *testing.T) {
	server, _ := setupTestServer(t, func(o *Options) { o.Verifier = nil })

	resp := do(t, "POST", server.URL+"/api/stock-items", "", map[string]any{"name": "Open"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected 201 with verification disabled, got %d", resp.StatusCode)
	}
}

func TestStockItemsAPIFlow(t *testing.T) {
	server, token := setupTestServer(t, nil)

	item := createStockItem(t, server, token, map[string]any{
		"name":            "Flour",
		"category":        "Baking",
		"currentStock":    50,
		"minimumStock":    20,
		"lastMinuteStock": 5,
		"expiryDate":      "2030-01-01",
	})
	if item.ID == "" || item.Unit != model.DefaultUnit {
		t.Errorf("unexpected item: %+v", item)
	}

	var errBody map[string]string
	resp := do(t, "POST", server.URL+"/api/stock-items", token, map[string]any{
		"name": "Bad", "minimumStock": 2, "lastMinuteStock": 3,
	}, &errBody)
	if resp.StatusCode != http.StatusBadRequest || errBody["field"] != "lastMinuteStock" {
		t.Errorf("expected 400 on lastMinuteStock, got %d %v", resp.StatusCode, errBody)
	}

	resp = do(t, "POST", server.URL+"/api/stock-items", token, map[string]any{
		"name": "Bad date", "expiryDate": "soon",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad expiry date, got %d", resp.StatusCode)
	}

	var updated model.StockItem
	resp = do(t, "PUT", server.URL+"/api/stock-items/"+item.ID, token, map[string]any{
		"currentStock": 45,
		"expiryDate":   "",
	}, &updated)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	if updated.CurrentStock != 45 || updated.ExpiryDate != nil || updated.Name != "Flour" {
		t.Errorf("unexpected update result: %+v", updated)
	}

	var items []model.StockItem
	do(t, "GET", server.URL+"/api/stock-items?category=Baking", token, nil, &items)
	if len(items) != 1 {
		t.Errorf("expected 1 item in Baking, got %d", len(items))
	}

	var categories []string
	do(t, "GET", server.URL+"/api/categories", token, nil, &categories)
	if len(categories) != 1 || categories[0] != "Baking" {
		t.Errorf("unexpected categories: %v", categories)
	}

	resp = do(t, "GET", server.URL+"/api/stock-items/missing", token, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp = do(t, "DELETE", server.URL+"/api/stock-items/"+item.ID, token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", resp.StatusCode)
	}
}

func TestStockLevelsAndExpiring(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	server, token := setupTestServer(t, func(o *Options) { o.Now = func() time.Time { return now } })

	createStockItem(t, server, token, map[string]any{"name": "Plenty", "currentStock": 100, "minimumStock": 10, "lastMinuteStock": 2})
	createStockItem(t, server, token, map[string]any{"name": "Low", "currentStock": 8, "minimumStock": 10, "lastMinuteStock": 2})
	createStockItem(t, server, token, map[string]any{"name": "Critical", "currentStock": 2, "minimumStock": 10, "lastMinuteStock": 2})
	createStockItem(t, server, token, map[string]any{"name": "Milk", "currentStock": 100, "expiryDate": "2026-06-03"})
	createStockItem(t, server, token, map[string]any{"name": "Cheese", "currentStock": 100, "expiryDate": "2026-06-20"})
	createStockItem(t, server, token, map[string]any{"name": "Honey", "currentStock": 100, "expiryDate": "2027-01-01"})

	var levels []struct {
		Item  model.StockItem `json:"item"`
		Level string          `json:"level"`
	}
	do(t, "GET", server.URL+"/api/stock-items/levels", token, nil, &levels)
	got := map[string]string{}
	for _, l := range levels {
		got[l.Item.Name] = l.Level
	}
	if got["Plenty"] != "NORMAL" || got["Low"] != "LOW" || got["Critical"] != "CRITICAL" {
		t.Errorf("unexpected levels: %v", got)
	}

	var expiring []struct {
		Item     model.StockItem `json:"item"`
		DaysLeft int             `json:"daysLeft"`
		Band     string          `json:"band"`
	}
	do(t, "GET", server.URL+"/api/stock-items/expiring", token, nil, &expiring)
	if len(expiring) != 2 {
		t.Fatalf("expected 2 expiring items, got %d", len(expiring))
	}
	if expiring[0].Item.Name != "Milk" || expiring[0].DaysLeft != 2 || expiring[0].Band != "CRITICAL" {
		t.Errorf("unexpected first expiring item: %+v", expiring[0])
	}
	if expiring[1].Item.Name != "Cheese" || expiring[1].Band != "LOW" {
		t.Errorf("unexpected second expiring item: %+v", expiring[1])
	}

	do(t, "GET", server.URL+"/api/stock-items/expiring?days=7", token, nil, &expiring)
	if len(expiring) != 1 {
		t.Errorf("expected 1 item within 7 days, got %d", len(expiring))
	}

	resp := do(t, "GET", server.URL+"/api/stock-items/expiring?days=soon", token, nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad days, got %d", resp.StatusCode)
	}
}

func TestAdjustStockRaisesAlert(t *testing.T) {
	server, token := setupTestServer(t, nil)
	item := createStockItem(t, server, token, map[string]any{"name": "Rice", "currentStock": 20, "minimumStock": 10, "lastMinuteStock": 2})

	var got model.StockItem
	resp := do(t, "POST", server.URL+"/api/stock-items/"+item.ID+"/adjust", token, map[string]int{"delta": -12}, &got)
	if resp.StatusCode != http.StatusOK || got.CurrentStock != 8 {
		t.Fatalf("expected 200 with stock 8, got %d %d", resp.StatusCode, got.CurrentStock)
	}

	var alerts []model.UrgencyAlert
	do(t, "GET", server.URL+"/api/alerts", token, nil, &alerts)
	if len(alerts) != 1 || alerts[0].AlertType != model.AlertLowStock || alerts[0].Severity != model.SeverityMedium {
		t.Errorf("expected one LOW_STOCK alert, got %+v", alerts)
	}

	resp = do(t, "POST", server.URL+"/api/stock-items/"+item.ID+"/adjust", token, map[string]int{"delta": -9}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for negative result, got %d", resp.StatusCode)
	}
}

func TestOrdersAPIFlow(t *testing.T) {
	server, token := setupTestServer(t, nil)

	flour := createStockItem(t, server, token, map[string]any{"name": "Flour", "currentStock": 100, "minimumStock": 20, "lastMinuteStock": 5})
	eggs := createStockItem(t, server, token, map[string]any{"name": "Eggs", "currentStock": 30, "minimumStock": 12, "lastMinuteStock": 6})

	var order model.Order
	resp := do(t, "POST", server.URL+"/api/orders", token, map[string]any{
		"customerName": "Bakery Novak",
		"priority":     "HIGH",
		"deadline":     "2030-03-01T10:00",
		"items": []map[string]any{
			{"stockItemId": flour.ID, "quantity": "10"},
			{"stockItemId": eggs.ID, "quantity": 6},
		},
	}, &order)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if order.Status != model.OrderStatusPending || len(order.Items) != 2 {
		t.Errorf("unexpected order: %+v", order)
	}
	if order.Items[0].StockItem == nil || order.Items[0].StockItem.CurrentStock != 90 {
		t.Error("expected hydrated first line with updated stock")
	}

	var fetched model.Order
	do(t, "GET", server.URL+"/api/orders/"+order.ID, token, nil, &fetched)
	if fetched.ID != order.ID || len(fetched.Items) != 2 {
		t.Errorf("unexpected fetched order: %+v", fetched)
	}

	var orders []model.Order
	do(t, "GET", server.URL+"/api/orders", token, nil, &orders)
	if len(orders) != 1 {
		t.Errorf("expected 1 order, got %d", len(orders))
	}

	var updated model.Order
	resp = do(t, "PATCH", server.URL+"/api/orders/"+order.ID+"/status", token, map[string]string{"status": "COMPLETED"}, &updated)
	if resp.StatusCode != http.StatusOK || updated.Status != model.OrderStatusCompleted {
		t.Errorf("expected permissive status change, got %d %s", resp.StatusCode, updated.Status)
	}

	resp = do(t, "PATCH", server.URL+"/api/orders/"+order.ID+"/status", token, map[string]string{"status": "LOST"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid status, got %d", resp.StatusCode)
	}

	resp = do(t, "PATCH", server.URL+"/api/orders/missing/status", token, map[string]string{"status": "COMPLETED"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing order, got %d", resp.StatusCode)
	}

	// Referenced items cannot be deleted.
	resp = do(t, "DELETE", server.URL+"/api/stock-items/"+flour.ID, token, nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 deleting referenced item, got %d", resp.StatusCode)
	}
}

func TestOrderFailures(t *testing.T) {
	server, token := setupTestServer(t, nil)
	item := createStockItem(t, server, token, map[string]any{"name": "Widget", "currentStock": 3})

	tests := []struct {
		name       string
		items      []map[string]any
		wantStatus int
		wantAbort  bool
	}{
		{"unparseable quantity", []map[string]any{{"stockItemId": item.ID, "quantity": "abc"}}, http.StatusBadRequest, false},
		{"zero quantity", []map[string]any{{"stockItemId": item.ID, "quantity": 0}}, http.StatusBadRequest, false},
		{"missing item", []map[string]any{{"stockItemId": item.ID, "quantity": 1}, {"stockItemId": "nope", "quantity": 1}}, http.StatusNotFound, true},
		{"insufficient stock", []map[string]any{{"stockItemId": item.ID, "quantity": 4}}, http.StatusConflict, true},
	}

	for _, tt := range tests {
		var body map[string]string
		resp := do(t, "POST", server.URL+"/api/orders", token, map[string]any{
			"customerName": "Ana",
			"items":        tt.items,
		}, &body)
		if resp.StatusCode != tt.wantStatus {
			t.Errorf("%s: expected %d, got %d (%v)", tt.name, tt.wantStatus, resp.StatusCode, body)
		}
		if tt.wantAbort && (body["error"] != "failed to create order and update inventory" || body["details"] == "") {
			t.Errorf("%s: expected transaction abort body, got %v", tt.name, body)
		}
	}

	var orders []model.Order
	do(t, "GET", server.URL+"/api/orders", token, nil, &orders)
	if len(orders) != 0 {
		t.Errorf("expected no orders after failures, got %d", len(orders))
	}

	var got model.StockItem
	do(t, "GET", server.URL+"/api/stock-items/"+item.ID, token, nil, &got)
	if got.CurrentStock != 3 {
		t.Errorf("expected stock unchanged at 3, got %d", got.CurrentStock)
	}
}

func TestOrderAllowNegativePolicy(t *testing.T) {
	server, token := setupTestServer(t, func(o *Options) { o.StockPolicy = store.StockPolicyAllowNegative })
	item := createStockItem(t, server, token, map[string]any{"name": "Widget", "currentStock": 3})

	resp := do(t, "POST", server.URL+"/api/orders", token, map[string]any{
		"customerName": "Ana",
		"items":        []map[string]any{{"stockItemId": item.ID, "quantity": 5}},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var got model.StockItem
	do(t, "GET", server.URL+"/api/stock-items/"+item.ID, token, nil, &got)
	if got.CurrentStock != -2 {
		t.Errorf("expected -2, got %d", got.CurrentStock)
	}
}

func TestStrictStatusTransitions(t *testing.T) {
	server, token := setupTestServer(t, func(o *Options) { o.StrictStatus = true })
	item := createStockItem(t, server, token, map[string]any{"name": "Widget", "currentStock": 3})

	var order model.Order
	do(t, "POST", server.URL+"/api/orders", token, map[string]any{
		"customerName": "Ana",
		"items":        []map[string]any{{"stockItemId": item.ID, "quantity": 1}},
	}, &order)

	resp := do(t, "PATCH", server.URL+"/api/orders/"+order.ID+"/status", token, map[string]string{"status": "COMPLETED"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for PENDING -> COMPLETED, got %d", resp.StatusCode)
	}
	resp = do(t, "PATCH", server.URL+"/api/orders/"+order.ID+"/status", token, map[string]string{"status": "IN_PROGRESS"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for PENDING -> IN_PROGRESS, got %d", resp.StatusCode)
	}
}

func TestOrderIdempotencyKey(t *testing.T) {
	server, token := setupTestServer(t, nil)
	item := createStockItem(t, server, token, map[string]any{"name": "Widget", "currentStock": 10})

	place := func(key string, qty int) (*http.Response, model.Order) {
		req, _ := authRequest("POST", server.URL+"/api/orders", token, map[string]any{
			"customerName": "Ana",
			"items":        []map[string]any{{"stockItemId": item.ID, "quantity": qty}},
		})
		req.Header.Set("Idempotency-Key", key)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("placing order: %v", err)
		}
		defer resp.Body.Close()
		var order model.Order
		json.NewDecoder(resp.Body).Decode(&order)
		return resp, order
	}

	resp, first := place("key-1", 2)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp, second := place("key-1", 2)
	if resp.StatusCode != http.StatusOK || second.ID != first.ID {
		t.Errorf("expected replay of %s, got %d %s", first.ID, resp.StatusCode, second.ID)
	}
	if resp.Header.Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay header")
	}

	// A failed attempt frees the key for a retry.
	resp, _ = place("key-2", 100)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp, _ = place("key-2", 1)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected retry with same key to succeed, got %d", resp.StatusCode)
	}

	var got model.StockItem
	do(t, "GET", server.URL+"/api/stock-items/"+item.ID, token, nil, &got)
	if got.CurrentStock != 7 {
		t.Errorf("expected 7 (10 - 2 - 1), got %d", got.CurrentStock)
	}
}

// ctxGuard fails Complete and Release on a finished context, the way a
// network-backed guard does.
type ctxGuard struct {
	*idempotency.Memory
}

func (g ctxGuard) Complete(ctx context.Context, key, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.Memory.Complete(ctx, key, orderID)
}

func (g ctxGuard) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.Memory.Release(ctx, key)
}

func TestOrderIdempotencyKeyReleasedAfterClientGone(t *testing.T) {
	database := db.NewTestDB(t)
	guard := ctxGuard{idempotency.NewMemory(time.Hour)}
	h := &OrdersHandler{
		DB:        database,
		Publisher: events.Discard{},
		Guard:     guard,
		Policy:    store.StockPolicyReject,
	}

	item, err := store.CreateStockItem(context.Background(), database, model.StockItem{Name: "Widget", CurrentStock: 5})
	if err != nil {
		t.Fatalf("CreateStockItem: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	body := `{"customerName":"Ana","items":[{"stockItemId":"` + item.ID + `","quantity":1}]}`
	req := httptest.NewRequest("POST", "/api/orders", strings.NewReader(body)).WithContext(ctx)
	req.Header.Set("Idempotency-Key", "gone-1")
	rec := httptest.NewRecorder()

	h.Create(rec, req)
	if rec.Code == http.StatusCreated {
		t.Fatalf("expected the cancelled request to fail, got %d", rec.Code)
	}

	reserved, err := guard.Reserve(context.Background(), "gone-1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !reserved {
		t.Error("expected the key to be released for a retry")
	}
}

func TestOrderIdempotencyKeyKeptWhenReadBackFails(t *testing.T) {
	var database *sql.DB
	server, token := setupTestServer(t, func(o *Options) { database = o.DB })
	item := createStockItem(t, server, token, map[string]any{"name": "Widget", "currentStock": 10})

	_, err := database.Exec(`CREATE TRIGGER garble_order AFTER INSERT ON orders BEGIN
		UPDATE orders SET created_at = 'garbled' WHERE id = NEW.id;
	END`)
	if err != nil {
		t.Fatalf("creating trigger: %v", err)
	}

	place := func() (*http.Response, model.Order) {
		req, _ := authRequest("POST", server.URL+"/api/orders", token, map[string]any{
			"customerName": "Ana",
			"items":        []map[string]any{{"stockItemId": item.ID, "quantity": 2}},
		})
		req.Header.Set("Idempotency-Key", "readback-1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("placing order: %v", err)
		}
		defer resp.Body.Close()
		var order model.Order
		json.NewDecoder(resp.Body).Decode(&order)
		return resp, order
	}

	resp, order := place()
	if resp.StatusCode != http.StatusCreated || order.ID == "" {
		t.Fatalf("expected 201 with the placed order, got %d %+v", resp.StatusCode, order)
	}

	resp, _ = place()
	if resp.StatusCode == http.StatusCreated {
		t.Error("expected the retry not to place a second order")
	}

	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		t.Fatalf("counting orders: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 order, got %d", n)
	}

	var got model.StockItem
	do(t, "GET", server.URL+"/api/stock-items/"+item.ID, token, nil, &got)
	if got.CurrentStock != 8 {
		t.Errorf("expected 8, got %d", got.CurrentStock)
	}
}

func TestAlertsAPIFlow(t *testing.T) {
	server, token := setupTestServer(t, nil)
	item := createStockItem(t, server, token, map[string]any{"name": "Milk", "currentStock": 12, "minimumStock": 10, "lastMinuteStock": 3})

	// Dropping to the critical threshold opens a CRITICAL_STOCK alert.
	do(t, "POST", server.URL+"/api/orders", token, map[string]any{
		"customerName": "Ana",
		"items":        []map[string]any{{"stockItemId": item.ID, "quantity": 9}},
	}, nil)

	var alerts []model.UrgencyAlert
	do(t, "GET", server.URL+"/api/alerts?isResolved=false", token, nil, &alerts)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 open alert, got %d", len(alerts))
	}
	if alerts[0].AlertType != model.AlertCriticalStock || alerts[0].Severity != model.SeverityCritical {
		t.Errorf("unexpected alert: %+v", alerts[0])
	}
	if alerts[0].StockItem == nil || alerts[0].StockItem.Name != "Milk" {
		t.Error("expected alert hydrated with stock item")
	}

	var resolved model.UrgencyAlert
	resp := do(t, "PATCH", server.URL+"/api/alerts/"+alerts[0].ID+"/resolve", token, nil, &resolved)
	if resp.StatusCode != http.StatusOK || !resolved.IsResolved || resolved.ResolvedAt == nil {
		t.Errorf("expected resolved alert, got %d %+v", resp.StatusCode, resolved)
	}

	do(t, "GET", server.URL+"/api/alerts?isResolved=false", token, nil, &alerts)
	if len(alerts) != 0 {
		t.Errorf("expected no open alerts, got %d", len(alerts))
	}

	resp = do(t, "GET", server.URL+"/api/alerts?isResolved=maybe", token, nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad filter, got %d", resp.StatusCode)
	}

	resp = do(t, "PATCH", server.URL+"/api/alerts/missing/resolve", token, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStockItemImage(t *testing.T) {
	server, token := setupTestServer(t, nil)
	item := createStockItem(t, server, token, map[string]any{"name": "Photo"})

	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for x := 0; x < 20; x++ {
		for y := 0; y < 10; y++ {
			img.Set(x, y, color.RGBA{0, 128, 0, 255})
		}
	}
	var pngData bytes.Buffer
	png.Encode(&pngData, img)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("image", "photo.png")
	fw.Write(pngData.Bytes())
	mw.Close()

	req, _ := http.NewRequest("PUT", server.URL+"/api/stock-items/"+item.ID+"/image", &body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", resp.StatusCode)
	}

	req, _ = authRequest("GET", server.URL+"/api/stock-items/"+item.ID+"/image", token, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("download: got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	var got model.StockItem
	do(t, "GET", server.URL+"/api/stock-items/"+item.ID, token, nil, &got)
	if !got.HasImage {
		t.Error("expected hasImage after upload")
	}
}

func TestTasksAPIFlow(t *testing.T) {
	server, token := setupTestServer(t, nil)

	var task model.Task
	resp := do(t, "POST", server.URL+"/api/tasks", token, map[string]any{
		"title":   "Count shelves",
		"dueDate": "2030-02-01",
	}, &task)
	if resp.StatusCode != http.StatusCreated || task.Status != model.TaskStatusTodo || task.DueDate == nil {
		t.Fatalf("unexpected create: %d %+v", resp.StatusCode, task)
	}

	resp = do(t, "POST", server.URL+"/api/tasks", token, map[string]any{"title": "x", "orderId": "missing"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown order, got %d", resp.StatusCode)
	}

	var updated model.Task
	resp = do(t, "PATCH", server.URL+"/api/tasks/"+task.ID+"/status", token, map[string]string{"status": "DONE"}, &updated)
	if resp.StatusCode != http.StatusOK || updated.Status != model.TaskStatusDone {
		t.Errorf("unexpected status update: %d %+v", resp.StatusCode, updated)
	}

	var tasks []model.Task
	do(t, "GET", server.URL+"/api/tasks", token, nil, &tasks)
	if len(tasks) != 1 {
		t.Errorf("expected 1 task, got %d", len(tasks))
	}

	resp = do(t, "DELETE", server.URL+"/api/tasks/"+task.ID, token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", resp.StatusCode)
	}
	resp = do(t, "GET", server.URL+"/api/tasks/"+task.ID, token, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestStoreErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&store.ValidationError{Field: "x", Message: "bad"}, http.StatusBadRequest},
		{&store.NotFoundError{Entity: "order", ID: "1"}, http.StatusNotFound},
		{&store.ConflictError{Message: "no"}, http.StatusConflict},
		{store.ErrInsufficientStock, http.StatusConflict},
		{&store.TransactionAbortedError{Stage: store.StageUpdateInventory, Err: context.DeadlineExceeded}, http.StatusInternalServerError},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		storeError(rec, tt.err, "failed")
		if rec.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, rec.Code)
		}
	}
}
