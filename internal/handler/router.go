package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/bikerent-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса проката велосипедов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/", h.Status)

	r.Post("/aluguel", h.StartRental)
	r.Post("/devolucao", h.ReturnRental)

	r.Route("/ciclista", func(r chi.Router) {
		r.Post("/", h.RegisterRider)
		r.Get("/{idCiclista}", h.GetRider)
		r.Post("/{idCiclista}/ativar", h.ActivateRider)
		r.Get("/{idCiclista}/permiteAluguel", h.AllowedToRent)
	})

	r.Get("/cartaoDeCredito/{idCiclista}", h.GetCreditCard)

	r.Get("/restaurarDados", h.Restore)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
