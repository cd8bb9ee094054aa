// v2
// internal/api/router.go
package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router wires every route. Prometheus instrumentation wraps each
// handler with a stable route label.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/health", s.instrument("health", s.handleHealth)).Methods("GET")
	r.Handle("/health/ready", s.instrument("ready", s.handleReady)).Methods("GET")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/sites", s.instrument("sites", s.handleSites)).Methods("GET")
	v1.Handle("/dashboard", s.instrument("dashboard", s.handleDashboard)).Methods("GET")
	v1.Handle("/dashboard/params", s.instrument("set_params", s.handleSetParams)).Methods("PUT")
	v1.Handle("/series", s.instrument("series", s.handleSeries)).Methods("GET")
	v1.Handle("/notifications", s.instrument("notifications", s.handleNotifications)).Methods("GET")
	v1.Handle("/notifications/{id}", s.instrument("dismiss_notification", s.handleDismissNotification)).Methods("DELETE")
	v1.HandleFunc("/stream", s.handleStream).Methods("GET")

	return r
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return s.metrics.WrapHandler(route, h)
}

func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
