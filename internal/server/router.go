package server

import (
	"net/http"

	"github.com/askbase-io/askbase/internal/api"
	"github.com/askbase-io/askbase/internal/api/handlers"
	"github.com/askbase-io/askbase/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	APIToken       string
	SourceHandler  *handlers.SourceHandler
	QueryHandler   *handlers.QueryHandler
	InsightHandler *handlers.InsightHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(cfg.APIToken))

		r.Route("/sources", func(r chi.Router) {
			r.Post("/", cfg.SourceHandler.Create)
			r.Get("/", cfg.SourceHandler.List)
			r.Get("/{id}", cfg.SourceHandler.Get)
			r.Delete("/{id}", cfg.SourceHandler.Delete)
		})

		r.Post("/query", cfg.QueryHandler.Query)

		r.Get("/insights/questions", cfg.InsightHandler.TopQuestions)
	})

	return r
}
