package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the cart API. metrics may be nil.
func NewRouter(cartHandler *CartHandler, metrics http.Handler, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger.Named("access")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		cartHandler.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Get("/events", cartHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cartHandler.timeout))
			r.Get("/", cartHandler.GetCart)
			r.Post("/items/{item_id}/delta", cartHandler.ApplyDelta)
			r.Delete("/items/{item_id}", cartHandler.RemoveItem)
			r.Post("/refresh", cartHandler.Refresh)
			r.Post("/flush", cartHandler.Flush)
		})
	})

	return r
}
