package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "receipt-scan-service/docs"
)

func Routes(h *Handler, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// base middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// access log (after RequestID)
	r.Use(RequestLogger(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/ready", h.Ready)

	r.Route("/receipts", func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/process", h.SubmitReceipt)
		r.Get("/jobs/{jobId}", h.GetJobStatus)
		r.Get("/jobs/{jobId}/events", h.StreamJob)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
