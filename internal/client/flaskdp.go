package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rakunlabs/anonymizer/internal/model"
)

const flaskdpEndpointApply = "/api/dp/apply"

// FlaskDP calls the differential privacy service.
type FlaskDP struct {
	url        string
	connection ConnectionSettings
}

// NewFlaskDP creates a FlaskDP client for the given base URL.
func NewFlaskDP(url string, connection ConnectionSettings) *FlaskDP {
	return &FlaskDP{url: strings.TrimSuffix(url, "/"), connection: connection}
}

// Version returns the FlaskDP wire protocol version.
func (f *FlaskDP) Version() string { return model.FlaskDPVersion }

// ApplyDP applies the requested mechanisms server-side and returns the
// noised items.
func (f *FlaskDP) ApplyDP(ctx context.Context, request model.FlaskDPRequest) (*model.FlaskDPResponse, error) {
	httpClient, err := newHTTPClient()
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal body: %w", ErrClientRequest, err)
	}

	url := f.url + flaskdpEndpointApply
	slog.Debug("using FlaskDP URL", "url", url)

	fn := func() (*model.FlaskDPResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.HTTP.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			slog.Error("FlaskDP request returned unexpected status", "status", resp.StatusCode)
			return nil, fmt.Errorf("flaskdp status %d", resp.StatusCode)
		}

		var out model.FlaskDPResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}

	otherwise := func(errs []error) (*model.FlaskDPResponse, error) {
		return nil, fmt.Errorf("%w: FlaskDP request failed: %w", ErrClientRequest, errs[len(errs)-1])
	}

	return Retry(ctx, f.connection, fn, anyError, otherwise)
}
