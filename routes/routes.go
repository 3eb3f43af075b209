package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/formsly/formsly/app"
	"github.com/formsly/formsly/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	// requester surface
	api.Get(`/forms/{id:^\d+$}`, GetFormById(app))
	api.Post(`/forms/{id:^\d+$}/requests`, CreateRequest(app))
	api.Get("/requests/{id}", GetRequestById(app))

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.Admin(app.TokenSecret))

		// CRUD form templates
		r.Post("/forms", CreateForm(app))
		r.Get("/forms", ListForms(app))
		r.Get(`/forms/{id:^\d+$}`, GetFormById(app))
		r.Put(`/forms/{id:^\d+$}`, UpdateForm(app))
		r.Delete(`/forms/{id:^\d+$}`, DeleteForm(app))

		// request review
		r.Get(`/forms/{id:^\d+$}/requests`, ListFormRequests(app))
		r.Patch("/requests/{id}/status", UpdateRequestStatus(app))
		r.Get("/requests/{id}/item-groups", RequestItemGroups(app))

		// dashboard analytics
		r.Get(`/fields/{id:^\d+$}/tally`, FieldTally(app))
		r.Get("/responses/search", SearchResponses(app))
		r.Get(`/forms/{id:^\d+$}/purchase-trend`, PurchaseTrend(app))
		r.Get(`/forms/{id:^\d+$}/purchase-totals`, PurchaseTotalsByItem(app))
	})

	api.Post("/login", Login(app))
	api.Post("/refresh", Refresh(app))

	return api
}
