package api

import (
	"net/http"

	"github.com/dgallion1/rtfbridge/internal/pipeline"
	"github.com/dgallion1/rtfbridge/internal/pool"
)

type statsResponse struct {
	pipeline.Stats
	Pools map[string]pool.Stats `json:"pools,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Stats: s.orchestrator.Stats(),
		Pools: s.pools.Stats(),
	})
}
