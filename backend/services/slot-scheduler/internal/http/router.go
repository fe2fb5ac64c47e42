package httpserver

import (
	"net/http"

	"chargeslots/backend/services/slot-scheduler/internal/http/middleware"
)

// Routes groups handlers. Nil handlers are not registered.
type Routes struct {
	Health    http.HandlerFunc
	Metrics   http.Handler
	TimeSlots http.HandlerFunc
	Jobs      http.HandlerFunc
	RunJob    http.HandlerFunc
	JobsFeed  http.HandlerFunc
}

// NewRouter registers endpoints. Job endpoints go through operatorAuth.
func NewRouter(routes Routes, operatorAuth func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", method(http.MethodGet, routes.Metrics))
	}
	if routes.TimeSlots != nil {
		mux.Handle("/timeslots", method(http.MethodGet, routes.TimeSlots))
	}

	authenticated := func(h http.Handler) http.Handler {
		return middleware.Chain(h, operatorAuth)
	}
	if routes.Jobs != nil {
		mux.Handle("/jobs", method(http.MethodGet, authenticated(routes.Jobs)))
	}
	if routes.RunJob != nil {
		mux.Handle("/jobs/run", method(http.MethodPost, authenticated(routes.RunJob)))
	}
	if routes.JobsFeed != nil {
		mux.Handle("/jobs/ws", method(http.MethodGet, authenticated(routes.JobsFeed)))
	}
	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
