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

	"github.com/worldline-go/klient"

	"github.com/rakunlabs/anonymizer/internal/model"
)

// MISP is the threat-sharing platform client. Events are uploaded through
// the REST API with the instance key in the Authorization header.
type MISP struct {
	url        string
	key        string
	ssl        bool
	connection ConnectionSettings
}

// NewMISP creates a MISP client. With ssl false the TLS certificate of the
// instance is not verified.
func NewMISP(url, key string, ssl bool, connection ConnectionSettings) *MISP {
	return &MISP{url: strings.TrimSuffix(url, "/"), key: key, ssl: ssl, connection: connection}
}

// URL returns the instance base URL.
func (m *MISP) URL() string { return m.url }

// PostEvent uploads an event and optionally publishes it.
func (m *MISP) PostEvent(ctx context.Context, event model.Event, publish bool) error {
	created, err := m.addEvent(ctx, event)
	if err != nil {
		return err
	}
	if !publish {
		return nil
	}
	return m.publishEvent(ctx, created.Event.UUID)
}

// GetEvent retrieves a single event by id or uuid.
func (m *MISP) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	var out model.EventMISP
	if err := m.call(ctx, http.MethodGet, "/events/view/"+eventID, nil, &out); err != nil {
		return nil, err
	}
	return &out.Event, nil
}

func (m *MISP) addEvent(ctx context.Context, event model.Event) (*model.EventMISP, error) {
	var out model.EventMISP
	if err := m.call(ctx, http.MethodPost, "/events/add", model.EventMISP{Event: event}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *MISP) publishEvent(ctx context.Context, uuid string) error {
	return m.call(ctx, http.MethodPost, "/events/publish/"+uuid, nil, nil)
}

func (m *MISP) call(ctx context.Context, method, endpoint string, body, out any) error {
	opts := []klient.OptionClientFn{
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
		klient.WithDisableRetry(true),
	}
	if !m.ssl {
		opts = append(opts, klient.WithInsecureSkipVerify(true))
	}
	httpClient, err := klient.New(opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrClientInitialization, err)
	}

	var raw []byte
	if body != nil {
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: marshal body: %w", ErrClientRequest, err)
		}
	}

	url := m.url + endpoint

	fn := func() ([]byte, error) {
		var reader io.Reader
		if raw != nil {
			reader = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", m.key)
		req.Header.Set("Accept", "application/json")
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
			slog.Error("MISP request returned unexpected status",
				"status", resp.StatusCode, "endpoint", endpoint)
			return nil, fmt.Errorf("misp status %d", resp.StatusCode)
		}
		if errMsg := mispErrors(respBody); errMsg != "" {
			return nil, fmt.Errorf("misp error: %s", errMsg)
		}
		return respBody, nil
	}

	otherwise := func(errs []error) ([]byte, error) {
		return nil, fmt.Errorf("%w: MISP request failed: %w", ErrClientRequest, errs[len(errs)-1])
	}

	respBody, err := Retry(ctx, m.connection, fn, anyError, otherwise)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: decode response: %w", ErrClientRequest, err)
		}
	}
	return nil
}

// mispErrors extracts the error message of a MISP error envelope, or ""
// when the response carries none.
func mispErrors(body []byte) string {
	var envelope struct {
		Errors any `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Errors == nil {
		return ""
	}
	switch v := envelope.Errors.(type) {
	case string:
		return v
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}
