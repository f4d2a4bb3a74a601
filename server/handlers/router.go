package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/localsql/explorer/server/types"
)

// NewRouter assembles the API routes.
func NewRouter(query *QueryHandler, statements *StatementHandler, batch *BatchHandler, pages *PaginateHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, types.HealthResponse{Status: "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", query.ExecuteQuery)
		r.Post("/metrics", query.ComputeMetrics)

		r.Get("/history", query.ListHistory)
		r.Post("/history/{id}/favorite", query.SetFavorite)

		r.Post("/statements", statements.Submit)
		r.Get("/statements/{handle}", statements.Get)
		r.Post("/statements/{handle}/cancel", statements.Cancel)

		r.Post("/batch", batch.Submit)
		r.Get("/batch/{handle}", batch.Get)
		r.Post("/batch/{handle}/cancel", batch.Cancel)

		r.Post("/paginate", pages.Create)
		r.Get("/paginate/pages", pages.GetPageByCursor)
		r.Get("/paginate/{id}/pages/{page}", pages.GetPage)
		r.Post("/paginate/{id}/filter", pages.Filter)
		r.Get("/paginate/{id}/metrics", pages.SessionMetrics)
		r.Delete("/paginate/{id}", pages.CloseSession)
	})

	return r
}
