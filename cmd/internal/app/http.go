package app

import (
	"net/http"
)

// registerHTTP mounts the operational routes and the WebSocket endpoint.
// The catch-all "/" also serves WebSocket upgrades, so clients may dial the
// bare host.
func registerHTTP(mux *http.ServeMux, log Logger, ws http.Handler, ready func() bool, metrics http.Handler) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			http.Error(w, "no successful poll yet", http.StatusServiceUnavailable)
			log.Debug("readyz.not_ready")
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	mux.Handle("/ws", ws)
	mux.Handle("/", ws)
}
