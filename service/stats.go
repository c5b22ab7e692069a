package service

import (
	"encoding/json"
	"net/http"
	"time"

	gatewayhttp "github.com/kevingbb/processorders/gateway/http"
	"github.com/kevingbb/processorders/output/mergeapi"
	"github.com/kevingbb/processorders/pkg/worker"
)

// Stats is the runtime snapshot served on /api/stats.
type Stats struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Gateway gatewayhttp.Stats `json:"gateway"`
	Merge   *mergeapi.Stats   `json:"merge,omitempty"`
	Passes  *worker.PoolStats `json:"passes,omitempty"`
	NATS    string            `json:"nats,omitempty"`
}

// Stats collects the counters of the running components.
func (s *Service) Stats() Stats {
	st := Stats{
		Status:  s.Status().String(),
		Gateway: s.gateway.Stats(),
	}
	if !s.startTime.IsZero() {
		st.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}
	if s.mergeClient != nil {
		ms := s.mergeClient.Stats()
		st.Merge = &ms
	}
	if p, ok := s.trigger.(interface{ Stats() worker.PoolStats }); ok {
		ps := p.Stats()
		st.Passes = &ps
	}
	if s.nats != nil {
		st.NATS = s.nats.Status().String()
	}
	return st
}

func (s *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Stats())
}
