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

// ARXlet endpoint paths. The service historically advertised the attribute
// endpoint under both singular and plural names; this client uses the
// plural form only.
const (
	arxletEndpointAttributes = "/attributes"
	arxletEndpointObjects    = "/objects"
)

// ARXlet calls the statistical disclosure control service.
type ARXlet struct {
	url        string
	connection ConnectionSettings
}

// NewARXlet creates an ARXlet client for the given base URL.
func NewARXlet(url string, connection ConnectionSettings) *ARXlet {
	return &ARXlet{url: strings.TrimSuffix(url, "/"), connection: connection}
}

// Version returns the ARXlet wire protocol version.
func (a *ARXlet) Version() string { return model.ARXletVersion }

// AnonymizeAttributes applies the PETs to the supplied attribute list and
// returns the anonymized values in the same order.
func (a *ARXlet) AnonymizeAttributes(ctx context.Context, data []model.AttributeData, pets []model.ARXletPet) ([]string, error) {
	body := model.ARXletAttributeRequest{Data: data, Pets: pets}
	var values []string
	if err := a.post(ctx, arxletEndpointAttributes, body, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// AnonymizeObjects applies the PETs to the supplied object list and returns
// the anonymized attribute rows in the same order.
func (a *ARXlet) AnonymizeObjects(ctx context.Context, data []model.ARXletObject, pets []model.ARXletPet) ([][]model.ARXletAttribute, error) {
	body := model.ARXletObjectRequest{Data: data, Pets: pets}
	var rows [][]model.ARXletAttribute
	if err := a.post(ctx, arxletEndpointObjects, body, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (a *ARXlet) post(ctx context.Context, endpoint string, body, out any) error {
	httpClient, err := newHTTPClient()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal body: %w", ErrClientRequest, err)
	}

	url := a.url + endpoint
	slog.Debug("using ARXlet URL", "url", url)

	fn := func() ([]byte, error) {
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
			slog.Error("ARXlet request returned unexpected status", "status", resp.StatusCode)
			return nil, fmt.Errorf("arxlet status %d", resp.StatusCode)
		}
		return respBody, nil
	}

	otherwise := func(errs []error) ([]byte, error) {
		return nil, fmt.Errorf("%w: ARXlet request failed: %w", ErrClientRequest, errs[len(errs)-1])
	}

	respBody, err := Retry(ctx, a.connection, fn, anyError, otherwise)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrClientRequest, err)
	}
	return nil
}

// anyError treats every transport error as retryable; HTTP status handling
// already happened inside the attempt.
func anyError(error) bool { return true }
