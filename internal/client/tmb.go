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

// TMB endpoints on the DLT gateway.
const (
	tmbEndpointSubscribe    = "/grpc/CTISUBSCRIBE"
	tmbEndpointEventSummary = "/grpc/ADDEVENTSUMMARY"
)

const tmbClientID = "1111"

// TMB publishes event summaries to the threat management bus (a DLT
// gateway). Publishing requires a prior subscription; PublishEventSummary
// subscribes on demand.
type TMB struct {
	url        string
	connection ConnectionSettings
	subscribed bool
}

// NewTMB creates a TMB client for the given gateway URL.
func NewTMB(url string, connection ConnectionSettings) *TMB {
	return &TMB{url: strings.TrimSuffix(url, "/"), connection: connection}
}

// Subscribe registers this client on the DLT.
func (t *TMB) Subscribe(ctx context.Context) error {
	body := map[string]any{
		"action":   "SUBSCRIBE",
		"clientID": tmbClientID,
	}
	status, _, err := t.post(ctx, tmbEndpointSubscribe, body)
	if err != nil {
		return err
	}
	// An instance that subscribed earlier gets a 201 back.
	if status == http.StatusCreated {
		slog.Debug("client was already subscribed")
		t.subscribed = true
		return nil
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: expected HTTP 200, got %d", ErrClientRequest, status)
	}
	t.subscribed = true
	return nil
}

// PublishEventSummary publishes an aggregate event summary to the DLT.
func (t *TMB) PublishEventSummary(ctx context.Context, summary model.EventSummary) error {
	if !t.subscribed {
		slog.Warn("not subscribed to the DLT, subscribing")
		if err := t.Subscribe(ctx); err != nil {
			return err
		}
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("%w: marshal summary: %w", ErrClientRequest, err)
	}
	body := map[string]any{
		"action":           "ADDEVENTSUMMARY",
		"clientID":         tmbClientID,
		"eventSummaryJSON": string(raw),
	}

	status, respBody, err := t.post(ctx, tmbEndpointEventSummary, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: expected HTTP 200, got %d", ErrClientRequest, status)
	}

	var envelope struct {
		Result struct {
			Error struct {
				Code    *int   `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil || envelope.Result.Error.Code == nil {
		return fmt.Errorf("%w: malformed DLT response", ErrClientRequest)
	}
	switch *envelope.Result.Error.Code {
	case 0:
		return nil
	case 13:
		slog.Warn("potential error response", "message", envelope.Result.Error.Message)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrClientRequest, envelope.Result.Error.Message)
	}
}

func (t *TMB) post(ctx context.Context, endpoint string, body map[string]any) (int, []byte, error) {
	httpClient, err := newHTTPClient()
	if err != nil {
		return 0, nil, err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: marshal body: %w", ErrClientRequest, err)
	}

	type result struct {
		status int
		body   []byte
	}

	fn := func() (result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url+endpoint, bytes.NewReader(raw))
		if err != nil {
			return result{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.HTTP.Do(req)
		if err != nil {
			return result{}, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return result{}, err
		}
		return result{status: resp.StatusCode, body: respBody}, nil
	}

	otherwise := func(errs []error) (result, error) {
		return result{}, fmt.Errorf("%w: TMB request failed: %w", ErrClientRequest, errs[len(errs)-1])
	}

	res, err := Retry(ctx, t.connection, fn, anyError, otherwise)
	if err != nil {
		return 0, nil, err
	}
	return res.status, res.body, nil
}
