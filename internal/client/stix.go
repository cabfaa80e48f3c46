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

const stixEndpointConvert = "/convert"

// STIXVersions accepted by the converter.
var STIXVersions = []string{"1.1.1", "1.2", "2.0", "2.1"}

// STIX calls the MISP-to-STIX converter service. The converter returns a
// STIX bundle (2.x) or package (1.x) as a JSON document.
type STIX struct {
	url        string
	connection ConnectionSettings
}

// NewSTIX creates a converter client for the given base URL.
func NewSTIX(url string, connection ConnectionSettings) *STIX {
	return &STIX{url: strings.TrimSuffix(url, "/"), connection: connection}
}

// Convert translates a MISP event into a STIX document of the requested
// version.
func (s *STIX) Convert(ctx context.Context, event model.Event, version string) (map[string]any, error) {
	httpClient, err := newHTTPClient()
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"version": version,
		"event":   model.EventMISP{Event: event},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal body: %w", ErrClientRequest, err)
	}

	url := s.url + stixEndpointConvert
	slog.Debug("using STIX converter URL", "url", url)

	fn := func() (map[string]any, error) {
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
			slog.Error("STIX converter returned unexpected status", "status", resp.StatusCode)
			return nil, fmt.Errorf("stix status %d", resp.StatusCode)
		}

		var out map[string]any
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	otherwise := func(errs []error) (map[string]any, error) {
		return nil, fmt.Errorf("%w: STIX request failed: %w", ErrClientRequest, errs[len(errs)-1])
	}

	return Retry(ctx, s.connection, fn, anyError, otherwise)
}
