package handler

import "github.com/go-chi/chi/v5"

// Register mounts the work package API on r.
func Register(r chi.Router, wh *WorkHandler, ah *ActivityHandler) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/options/{level}", wh.ListOptions)
		r.Get("/work-names", wh.ListWorkNames)

		r.Post("/works", wh.CreateWork)
		r.Get("/works", wh.ListWorks)
		r.Get("/works/{id}", wh.GetWork)
		r.Delete("/works/{id}", wh.DeleteWork)
		r.Post("/works/{id}/beneficiary", wh.CreateBeneficiary)
		r.Post("/works/{id}/villages", wh.CreateVillages)
		r.Post("/works/{id}/components", wh.CreateComponents)
		r.Post("/work-packages", wh.CreateWorkPackage)

		if ah != nil {
			r.Get("/works/{id}/activity", ah.WorkActivity)
			r.Get("/works/{id}/signals", ah.WorkSignals)
			r.Post("/activity/search", ah.Search)
		}
	})
}
