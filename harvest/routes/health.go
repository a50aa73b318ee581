package routes

import (
	"harvest/harvest/controllers"

	"github.com/go-chi/chi/v5"
)

func HealthRoutes(r chi.Router, ctrl *controllers.HealthController) {
	r.Get("/", ctrl.HealthCheck)
}
