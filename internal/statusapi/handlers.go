package statusapi

import (
	"encoding/json"
	"net/http"
)

// healthzResponse is a minimal liveness probe body.
type healthzResponse struct {
	OK bool `json:"ok"`
}

// statusResponse mirrors the published status.Snapshot for the
// operator-facing /status endpoint.
type statusResponse struct {
	RunID         string                   `json:"run_id"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	TCPConnected  bool                     `json:"tcp_connected"`
	Stages        statusStagesResponse     `json:"stages"`
	Workers       map[string]workerSummary `json:"workers"`
}

type statusStagesResponse struct {
	Dependencies  bool `json:"dependencies"`
	Config        bool `json:"config"`
	Database      bool `json:"database"`
	TimeSync      bool `json:"time_sync"`
	Decoder       bool `json:"decoder"`
	TCPConnection bool `json:"tcp_connection"`
}

type workerSummary struct {
	LastTick  string `json:"last_tick,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Processed int64  `json:"processed"`
}

func (rt *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthzResponse{OK: true})
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := rt.status.Snapshot()

	workers := make(map[string]workerSummary, len(snap.Workers))
	for name, h := range snap.Workers {
		w := workerSummary{Processed: h.Processed, LastError: h.LastError}
		if !h.LastTick.IsZero() {
			w.LastTick = h.LastTick.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		workers[name] = w
	}

	resp := statusResponse{
		RunID:         snap.RunID,
		UptimeSeconds: int64(snap.Uptime().Seconds()),
		TCPConnected:  snap.TCPConnected,
		Stages: statusStagesResponse{
			Dependencies:  snap.Stages.Dependencies,
			Config:        snap.Stages.Config,
			Database:      snap.Stages.Database,
			TimeSync:      snap.Stages.TimeSync,
			Decoder:       snap.Stages.Decoder,
			TCPConnection: snap.Stages.TCPConnection,
		},
		Workers: workers,
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
