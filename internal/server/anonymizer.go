package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rakunlabs/anonymizer/internal/auth"
	"github.com/rakunlabs/anonymizer/internal/config"
	"github.com/rakunlabs/anonymizer/internal/transformer"
)

// protected wraps a handler with the configured auth provider: 403 on
// rejected credentials, token headers echoed back on success.
func (s *Server) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response, err := s.auth.Authorize(r.Context(), auth.FromHeaders(r.Header))
		if err != nil {
			slog.Error("authorization failed", "error", err)
			httpResponseEmpty(w, http.StatusForbidden)
			return
		}
		if !response.Authorized {
			httpResponseEmpty(w, http.StatusForbidden)
			return
		}
		for k, v := range response.Headers {
			w.Header().Set(k, v)
		}
		next(w, r)
	}
}

// VersionAPI returns the anonymizer version information.
func (s *Server) VersionAPI(w http.ResponseWriter, _ *http.Request) {
	parts := strings.SplitN(config.Version, ".", 2)
	major, _ := strconv.Atoi(parts[0])
	minor := 0
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	httpResponseJSON(w, map[string]any{
		"version": "v" + config.Version,
		"major":   major,
		"minor":   minor,
	}, http.StatusOK)
}

// VerifyCredentialsAPI only exists for its auth wrapper: reaching it means
// the credentials were accepted.
func (s *Server) VerifyCredentialsAPI(w http.ResponseWriter, _ *http.Request) {
	httpResponseEmpty(w, http.StatusOK)
}

func validationFail(w http.ResponseWriter, reason string) {
	slog.Error("validation failed", "reason", reason)
	httpResponseEmpty(w, http.StatusBadRequest)
}

// AnonymizeAPI runs the pipeline on the received data. The
// Transformer-Type header selects the payload shape; validation failures
// never reach the pipeline.
func (s *Server) AnonymizeAPI(w http.ResponseWriter, r *http.Request) {
	slog.Info("validating request")

	transformerType := r.Header.Get(transformer.HeaderTransformerType)
	if transformerType == "" {
		validationFail(w, "unable to locate "+transformer.HeaderTransformerType+" HTTP header")
		return
	}
	slog.Debug("HTTP header solicits transformer", "type", transformerType)

	t, err := transformer.FromString(transformerType)
	if err != nil {
		validationFail(w, "unable to resolve transformer")
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		validationFail(w, "unable to read request body")
		return
	}

	body, err := t.Parse(raw)
	if err != nil {
		validationFail(w, "request body does not conform to the transformer's body type")
		return
	}

	var rawJSON any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rawJSON); err != nil {
			validationFail(w, "request body is not valid JSON")
			return
		}
	}

	data, err := t.Transform(body)
	if err != nil {
		validationFail(w, "unable to transform request body")
		return
	}

	// Record the audit snapshot before the pipeline can rewrite the data.
	auditTimestamp := float64(time.Now().UnixNano()) / float64(time.Second)
	if s.audits != nil {
		snapshot := t.Snapshot(body)
		if ts, err := s.audits.Log(r.Context(), snapshot, auditTimestamp); err != nil {
			slog.Error("unable to log audit", "error", err)
		} else {
			auditTimestamp = ts
		}
	}

	response, _, err := s.engine.Run(r.Context(), data, body, rawJSON, auditTimestamp)
	if err != nil {
		slog.Error("pipeline execution failed", "error", err)
		httpResponseEmpty(w, http.StatusInternalServerError)
		return
	}

	if response.Body == nil {
		httpResponseEmpty(w, response.Status)
		return
	}
	httpResponseJSON(w, response.Body, response.Status)
}
