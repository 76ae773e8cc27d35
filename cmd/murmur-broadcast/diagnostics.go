package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gordian-engine/murmur/mstore"
	"github.com/gordian-engine/murmur/mtopo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newDiagnosticsRouter serves metrics and read-only views of node state
// on the optional side listener.
func newDiagnosticsRouter(
	reg *prometheus.Registry, store *mstore.Store, topo *mtopo.Table,
) http.Handler {
	r := chi.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/debug", func(dr chi.Router) {
		dr.Get("/values", func(w http.ResponseWriter, _ *http.Request) {
			vals := store.Snapshot()
			writeJSON(w, struct {
				Count  int            `json:"count"`
				Values []mstore.Value `json:"values"`
			}{Count: len(vals), Values: vals})
		})
		dr.Get("/topology", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, topo.Snapshot())
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
