package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"shifttrack.service/internal/api/handler"
)

// NewRouter sets up the gorilla/mux router and defines all API routes.
func NewRouter(webhook *handler.WebhookHandler, tick *handler.TickHandler) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/telegram/webhook/{secret}", webhook.Receive).Methods(http.MethodPost)
	api.HandleFunc("/internal/tick", tick.Tick).Methods(http.MethodPost)
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Service is operational."))
	}).Methods(http.MethodGet)

	return r
}
