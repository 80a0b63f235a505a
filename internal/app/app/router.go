package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"transferd/internal/app/handler"
	mw "transferd/internal/app/middleware"
)

func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(mw.Log(a.logger))

	auth := mw.Auth(a.verifier)
	superuser := mw.Superuser()
	rated := mw.RateLimit(a.limiter)

	th := handler.NewTransactionHandler(a.service)

	r.Route("/transactions", func(r chi.Router) {
		r.Use(auth)
		r.Use(rated)

		r.Post("/", th.Create)
		r.Get("/", th.List)
		r.Get("/{id}", th.Get)
		r.Get("/{id}/settlement", th.Settlement)

		r.Group(func(r chi.Router) {
			r.Use(superuser)
			r.Patch("/{id}/status", th.PatchStatus)
			r.Post("/{id}/approve", th.Approve)
			r.Post("/{id}/flag", th.Flag)
			r.Post("/limits/{user_id}", th.SetLimit)
		})
	})

	return r
}
