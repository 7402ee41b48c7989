// Package admin exposes the proxy's operational surface: Prometheus
// metrics and a small cache statistics endpoint.
package admin

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relay-cache/relay-cache/cache"
)

// Handler returns the admin router.
func Handler(store *cache.Store) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"cache_entries": %d}`, store.Size())
	})
	return r
}

// Serve runs the admin surface on addr. It blocks; run it in its own
// goroutine.
func Serve(addr string, store *cache.Store) error {
	return http.ListenAndServe(addr, Handler(store))
}
