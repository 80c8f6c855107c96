package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"attendance.client/internal/api/handler"
)

// NewRouter sets up the gorilla/mux router and defines all API routes.
func NewRouter(service handler.Reducer, session handler.Session) *mux.Router {
	h := handler.AttendanceHandler{
		Service: service,
		Session: session,
	}

	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/session", h.SignIn).Methods(http.MethodPost)
	api.HandleFunc("/session/reload", h.Reload).Methods(http.MethodPost)
	api.HandleFunc("/session", h.SignOut).Methods(http.MethodDelete)
	api.HandleFunc("/state", h.GetState).Methods(http.MethodGet)
	api.HandleFunc("/notices/clear", h.ClearNotices).Methods(http.MethodPost)
	api.HandleFunc("/attendance/toggle", h.ToggleClock).Methods(http.MethodPost)
	api.HandleFunc("/company", h.CreateCompany).Methods(http.MethodPost)
	api.HandleFunc("/company/join", h.JoinCompany).Methods(http.MethodPost)
	api.HandleFunc("/account", h.DeleteAccount).Methods(http.MethodDelete)
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Service is operational."))
	}).Methods(http.MethodGet)

	return r
}
