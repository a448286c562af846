package server

import (
	"context"
	"net/http"
	"time"
)

// pinger is the health-check view of the store.
type pinger interface {
	Ping(ctx context.Context) error
}

// handleHealthz reports whether the server can reach its database within the
// configured timeout.  Load balancers and k8s probes poll this endpoint.
func handleHealthz(db pinger, timeout time.Duration, log Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			log.Error(err, "health check failed")
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
