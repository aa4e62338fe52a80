package health

import (
	"encoding/json"
	"net/http"
)

// ReadinessReporter is satisfied by *engine.Run: ready once every node is
// initialized and until the run is closed.
type ReadinessReporter interface {
	Readiness() (ready bool, nodes []string)
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status string   `json:"status"`
			Nodes  []string `json:"nodes,omitempty"`
		}
		ready, nodes := rr.Readiness()
		out := resp{Status: "not_ready"}
		if ready {
			out.Status = "ready"
			out.Nodes = nodes
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
