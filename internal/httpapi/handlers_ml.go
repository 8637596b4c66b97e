package httpapi

import (
	"net/http"
)

// mlHealth proxies GET /ml/health to the predictor service. A nil
// predictor (no PREDICTOR_URL configured) reports unavailable rather than
// erroring — rule-based scoring is always a valid fallback.
func (s *Server) mlHealth(w http.ResponseWriter, r *http.Request) {
	if s.predictor == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unavailable"})
		return
	}
	health, err := s.predictor.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, health)
}

type mlPredictRequest struct {
	Features      [][12]float64 `json:"features"`
	PoolAddresses []string      `json:"pool_addresses,omitempty"`
}

// mlPredict proxies POST /ml/predict for operator tooling and dashboards;
// the engine's own scan path calls predictor.Client directly and does not
// go through this HTTP surface.
func (s *Server) mlPredict(w http.ResponseWriter, r *http.Request) {
	if s.predictor == nil {
		writeError(w, http.StatusServiceUnavailable, "no predictor configured")
		return
	}
	var req mlPredictRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	resp, err := s.predictor.Predict(r.Context(), req.Features, req.PoolAddresses)
	if err != nil {
		writeError(w, http.StatusBadGateway, "predict: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// mlReload and mlFeedback are documented in §6 as part of the ML service's
// own surface, fronted by the predictor process directly in production;
// this edge only reports that the operation is out of scope for the
// orchestrator process itself, rather than silently 404ing.
func (s *Server) mlReload(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "model reload is served by the predictor process directly")
}

func (s *Server) mlFeedback(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "feedback export is served by the predictor process directly")
}
