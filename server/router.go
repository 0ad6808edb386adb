// Package server wires the hnsfs HTTP API onto a chi router.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/config"
	"github.com/ebogdum/hnsfs/core"
	"github.com/ebogdum/hnsfs/server/handlers"
	apiMiddleware "github.com/ebogdum/hnsfs/server/middleware"
)

// Options controls the optional parts of the router
type Options struct {
	// ServeMetrics mounts /metrics on this router. It is false when a
	// dedicated metrics listener is configured.
	ServeMetrics bool
	// Limiters enables per-client rate limiting on /v1 when non-nil
	Limiters *apiMiddleware.ClientLimiters
}

// NewRouter creates and configures the HTTP router
func NewRouter(
	engine *core.Engine,
	authenticator auth.Authenticator,
	authorizer auth.Authorizer,
	serverConfig *config.ServerConfig,
	opts Options,
	logger *zap.Logger,
) chi.Router {
	r := chi.NewRouter()

	r.Use(apiMiddleware.V1RequestIDMiddleware())
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.V1SecurityHeaders())
	r.Use(apiMiddleware.V1RequestLogger(logger))

	// Health check endpoint (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		handlers.SendJSONResponse(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"backend": engine.BackendType(),
		})
	})

	if opts.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(apiMiddleware.V1AuthMiddleware(authenticator, logger))
		if opts.Limiters != nil {
			r.Use(apiMiddleware.V1RateLimitMiddleware(opts.Limiters, logger))
		}

		r.Route("/directories", func(r chi.Router) {
			r.Get("/*", handlers.V1ListDirectory(engine, authorizer, serverConfig, logger))
			r.Put("/*", handlers.V1CreateDirectory(engine, authorizer, serverConfig, logger))
		})

		r.Route("/files", func(r chi.Router) {
			r.Get("/*", handlers.V1GetFile(engine, authorizer, serverConfig, logger))
			r.Put("/*", handlers.V1PutFile(engine, authorizer, serverConfig, logger))
			r.Post("/*", handlers.V1PostFile(engine, authorizer, serverConfig, logger))
		})

		r.Route("/entries", func(r chi.Router) {
			r.Get("/*", handlers.V1GetEntry(engine, authorizer, serverConfig, logger))
			r.Patch("/*", handlers.V1PatchEntry(engine, authorizer, serverConfig, logger))
			r.Delete("/*", handlers.V1DeleteEntry(engine, authorizer, serverConfig, logger))
		})

		r.Post("/concat", handlers.V1Concat(engine, authorizer, serverConfig, logger))
		r.Post("/rename", handlers.V1Rename(engine, authorizer, serverConfig, logger))
	})

	logger.Info("HTTP router configured")

	return r
}
