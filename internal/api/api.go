package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"syncroom/internal/library"
	"syncroom/internal/realtime"
)

// Deps are the handler collaborators the API composes.
type Deps struct {
	Realtime *realtime.Server
	Library  *library.Server
}

// New assembles the full HTTP surface of the service.
func New(deps Deps, middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", deps.Realtime.HandleHealth)
	r.Get("/ws", deps.Realtime.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/rooms/{roomID}/import", deps.Realtime.HandleImport)
		r.Get("/audio-files", deps.Library.HandleList)
		r.Post("/upload", deps.Library.HandleUpload)
		r.Delete("/delete/{filename}", deps.Library.HandleDelete)
	})

	r.Get("/audio/{filename}", deps.Library.HandleServe)

	return r
}
