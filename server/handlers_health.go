package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/team7636/robomania-bot/stream"
)

// HandleHealthz answers liveness probes. The process is alive while it serves.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readinessCheck struct {
	name string
	fn   func() error
}

// HandleReadyz answers readiness probes. It fails unless the event stream is
// connected and, when configured, the database answers a ping.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []readinessCheck{
		{"stream", func() error {
			st := h.stream.Status()
			if st.State != stream.StateConnected {
				return fmt.Errorf("stream %s", st.State)
			}
			return nil
		}},
	}
	if h.db != nil {
		checks = append(checks, readinessCheck{"database", func() error { return h.db.Ping(r.Context()) }})
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			// Set headers before writing status code
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns the event stream snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.stream.Status())
}
