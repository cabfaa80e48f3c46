package server

import (
	"encoding/json"
	"net/http"
)

// HelloWorldAPI returns a fixed string. Useful for debugging.
func (s *Server) HelloWorldAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Hello World!"))
}

// GetConfigAPI dumps the running configuration with secrets masked.
func (s *Server) GetConfigAPI(w http.ResponseWriter, _ *http.Request) {
	httpResponseJSON(w, s.cfg.Map(), http.StatusOK)
}

// SetConfigAPI applies a flat dotted-key override map (e.g.
// {"services.arxlet.url": "..."}) to the running configuration.
func (s *Server) SetConfigAPI(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]any
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		httpResponse(w, "body is not a JSON object", http.StatusBadRequest)
		return
	}
	if err := s.cfg.Update(overrides); err != nil {
		httpResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	httpResponseEmpty(w, http.StatusOK)
}
