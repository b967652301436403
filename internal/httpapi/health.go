package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ahammedyusufb/exsa-engine/internal/lifecycle"
)

// modelReadyCheck backs the /readyz probe: the process is ready once the
// lifecycle manager has a model loaded and serving.
func (h *Handlers) modelReadyCheck(ctx context.Context) error {
	if state := h.Manager.Status().State; state != lifecycle.StateReady {
		return fmt.Errorf("model is %s, not ready", state)
	}
	return nil
}

type healthResponse struct {
	Status      string  `json:"status"`
	UptimeS     float64 `json:"uptime_s"`
	QueueDepth  int     `json:"queue_depth"`
	ModelLoaded bool    `json:"model_loaded"`
}

// Health reports whether the process is alive and whether a model is
// currently ready to serve.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.Manager.Status()
	resp := healthResponse{
		Status:      "ok",
		UptimeS:     time.Since(h.StartedAt).Seconds(),
		QueueDepth:  h.Queue.Stats().Depth,
		ModelLoaded: status.State == lifecycle.StateReady,
	}
	respondJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	ActiveModel string `json:"active_model"`
	QueueDepth  int    `json:"queue_depth"`
	InFlight    int32  `json:"in_flight"`
	State       string `json:"state"`
}

// Status reports the active model path, queue depth, and whether a job
// currently holds the model handle — operators use this to decide when
// a swap is safe to attempt.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	status := h.Manager.Status()
	resp := statusResponse{
		ActiveModel: status.ModelPath,
		QueueDepth:  h.Queue.Stats().Depth,
		InFlight:    status.RefCount,
		State:       string(status.State),
	}
	respondJSON(w, http.StatusOK, resp)
}
