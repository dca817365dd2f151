// Package app contains the application setup for the fulfillment service.
package app

import (
	"log/slog"
	"net/http"

	"github.com/dokuma/fabricstock/internal/catalog"
	"github.com/dokuma/fabricstock/internal/config"
	"github.com/dokuma/fabricstock/internal/fulfillment/service"
	"github.com/dokuma/fabricstock/internal/fulfillment/store"
	"github.com/dokuma/fabricstock/internal/fulfillment/transport/rest"
	"github.com/dokuma/fabricstock/pkg/messaging"
	"github.com/dokuma/fabricstock/pkg/server"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Dependencies struct {
	FulfillmentService service.FulfillmentService
	Store              store.Store
	AdminKey           string
	Logger             *slog.Logger
}

func SetupDependencies(dbPool *pgxpool.Pool, publisher messaging.Publisher, deduper service.PaymentDeduper, adminKey string, logger *slog.Logger) *Dependencies {
	pgStore := store.NewPgStore(dbPool)
	fService := service.NewService(pgStore, catalog.NewPgCatalog(dbPool), publisher, deduper)

	return &Dependencies{
		FulfillmentService: fService,
		Store:              pgStore,
		AdminKey:           adminKey,
		Logger:             logger,
	}
}

// SetupHttpHandler initializes the HTTP routes for the fulfillment application.
// Used by E2E tests to set up the HTTP server with the necessary routes and middleware.
func SetupHttpHandler(deps *Dependencies) http.Handler {
	mux := server.NewChiRouter(deps.Logger)
	wireRoutes(mux, deps)
	return mux
}

// wireRoutes sets up the HTTP routes for the fulfillment application.
func wireRoutes(mux *chi.Mux, deps *Dependencies) {
	handler := rest.NewHandler(deps.FulfillmentService, deps.AdminKey, deps.Logger)
	handler.RegisterRoutes(mux)
}

// SetupHttpServer creates and configures an HTTP server for the fulfillment application.
func SetupHttpServer(deps *Dependencies, cfg *config.Config) *http.Server {

	mux := SetupHttpHandler(deps)

	httpCfg := server.HTTPConfig{
		Port:           cfg.HTTPServer.Port,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		ReadTimeout:    cfg.HTTPServer.Timeout.Read,
		WriteTimeout:   cfg.HTTPServer.Timeout.Write,
		IdleTimeout:    cfg.HTTPServer.Timeout.Idle,
		ReadHeader:     cfg.HTTPServer.Timeout.ReadHeader,
	}

	return server.NewHTTPServer(httpCfg, mux)
}
