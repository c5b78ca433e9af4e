package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/erazemk/zaloga/internal/auth"
	"github.com/erazemk/zaloga/internal/events"
	"github.com/erazemk/zaloga/internal/idempotency"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// Options configures the API router. Zero values select in-process
// defaults: no token verification, no event delivery and an in-memory
// idempotency guard.
type Options struct {
	DB           *sql.DB
	Verifier     *auth.Verifier
	Publisher    events.Publisher
	Guard        idempotency.Guard
	StockPolicy  store.StockPolicy
	StrictStatus bool
	Now          func() time.Time
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(opts Options) http.Handler {
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	if opts.Guard == nil {
		opts.Guard = idempotency.NewMemory(idempotency.DefaultTTL)
	}
	if opts.StockPolicy == "" {
		opts.StockPolicy = store.StockPolicyReject
	}

	mux := http.NewServeMux()

	healthHandler := &HealthHandler{DB: opts.DB}
	stockHandler := &StockItemsHandler{DB: opts.DB, Publisher: opts.Publisher, Now: opts.Now}
	ordersHandler := &OrdersHandler{
		DB:           opts.DB,
		Publisher:    opts.Publisher,
		Guard:        opts.Guard,
		Policy:       opts.StockPolicy,
		StrictStatus: opts.StrictStatus,
	}
	alertsHandler := &AlertsHandler{DB: opts.DB}
	tasksHandler := &TasksHandler{DB: opts.DB}

	authMW := AuthMiddleware(opts.Verifier)
	requireManager := RequireRole(opts.Verifier, model.RoleManager)

	// Public: health.
	mux.HandleFunc("GET /api/health", healthHandler.Check)

	// Stock items: read (all roles), write (manager+).
	mux.Handle("GET /api/stock-items", authMW(http.HandlerFunc(stockHandler.List)))
	mux.Handle("POST /api/stock-items", authMW(requireManager(http.HandlerFunc(stockHandler.Create))))
	mux.Handle("GET /api/stock-items/levels", authMW(http.HandlerFunc(stockHandler.Levels)))
	mux.Handle("GET /api/stock-items/expiring", authMW(http.HandlerFunc(stockHandler.Expiring)))
	mux.Handle("GET /api/stock-items/{id}", authMW(http.HandlerFunc(stockHandler.Get)))
	mux.Handle("PUT /api/stock-items/{id}", authMW(requireManager(http.HandlerFunc(stockHandler.Update))))
	mux.Handle("DELETE /api/stock-items/{id}", authMW(requireManager(http.HandlerFunc(stockHandler.Delete))))
	mux.Handle("POST /api/stock-items/{id}/adjust", authMW(requireManager(http.HandlerFunc(stockHandler.Adjust))))
	mux.Handle("PUT /api/stock-items/{id}/image", authMW(requireManager(http.HandlerFunc(stockHandler.UploadImage))))
	mux.Handle("GET /api/stock-items/{id}/image", authMW(http.HandlerFunc(stockHandler.GetImage)))
	mux.Handle("GET /api/categories", authMW(http.HandlerFunc(stockHandler.Categories)))

	// Orders (all roles).
	mux.Handle("GET /api/orders", authMW(http.HandlerFunc(ordersHandler.List)))
	mux.Handle("POST /api/orders", authMW(http.HandlerFunc(ordersHandler.Create)))
	mux.Handle("GET /api/orders/{id}", authMW(http.HandlerFunc(ordersHandler.Get)))
	mux.Handle("PATCH /api/orders/{id}/status", authMW(http.HandlerFunc(ordersHandler.UpdateStatus)))

	// Alerts (all roles).
	mux.Handle("GET /api/alerts", authMW(http.HandlerFunc(alertsHandler.List)))
	mux.Handle("PATCH /api/alerts/{id}/resolve", authMW(http.HandlerFunc(alertsHandler.Resolve)))

	// Tasks (all roles).
	mux.Handle("GET /api/tasks", authMW(http.HandlerFunc(tasksHandler.List)))
	mux.Handle("POST /api/tasks", authMW(http.HandlerFunc(tasksHandler.Create)))
	mux.Handle("GET /api/tasks/{id}", authMW(http.HandlerFunc(tasksHandler.Get)))
	mux.Handle("DELETE /api/tasks/{id}", authMW(http.HandlerFunc(tasksHandler.Delete)))
	mux.Handle("PATCH /api/tasks/{id}/status", authMW(http.HandlerFunc(tasksHandler.UpdateStatus)))

	return mux
}
