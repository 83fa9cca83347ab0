package api

import (
	"net/http"

	"mdlive/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SetupRoutes mounts the content API, the signaling channel endpoint and the
// operational endpoints. channel is the websocket upgrade handler.
func SetupRoutes(h *Handler, channel http.HandlerFunc, logger zerolog.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Tracing(logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS)

	api := r.PathPrefix("/api").Subrouter()

	// Library endpoints
	api.HandleFunc("/libraries", h.CreateLibrary).Methods("POST")
	api.HandleFunc("/libraries", h.ListLibraries).Methods("GET")

	// Content endpoints: resolve, detail, update link, listing
	api.HandleFunc("/libraries/{id}/file", h.ResolveFileLink).Methods("GET")
	api.HandleFunc("/libraries/{id}/file/detail", h.FileDetail).Methods("GET")
	api.HandleFunc("/libraries/{id}/update-link", h.UpdateLink).Methods("GET")
	api.HandleFunc("/libraries/{id}/dir", h.ListDir).Methods("GET")

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Tokenized content delivery
	r.HandleFunc("/files/upload/{token}", h.UploadFile).Methods("POST")
	r.HandleFunc("/files/{token}/{name}", h.ServeFileContent).Methods("GET")

	// Signaling channel
	r.HandleFunc("/ws", channel)

	// Metrics
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}
