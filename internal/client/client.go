// Package client holds the outbound service clients (ARXlet, FlaskDP,
// MISP, TMB, MQTT) and the shared retry envelope they all use.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/worldline-go/klient"
)

// ErrClient is the root of the client error family. Jobs translate it into
// a job-level failure.
var ErrClient = errors.New("client error")

// ErrClientInitialization reports a client that could not be constructed or
// connected.
var ErrClientInitialization = fmt.Errorf("%w: initialization", ErrClient)

// ErrClientRequest reports a request that failed after exhausting the retry
// envelope.
var ErrClientRequest = fmt.Errorf("%w: request", ErrClient)

// ConnectionSettings bounds the retry envelope of one service connection.
type ConnectionSettings struct {
	// Attempts is the number of tries before giving up.
	Attempts int `cfg:"attempts" json:"attempts"`
	// Wait is the pause between attempts.
	Wait time.Duration `cfg:"wait" json:"wait"`
}

// DefaultConnectionSettings mirrors the service defaults: five attempts,
// five seconds apart.
func DefaultConnectionSettings() ConnectionSettings {
	return ConnectionSettings{Attempts: 5, Wait: 5 * time.Second}
}

func (c ConnectionSettings) orDefault() ConnectionSettings {
	if c.Attempts <= 0 {
		c.Attempts = 5
	}
	if c.Wait <= 0 {
		c.Wait = 5 * time.Second
	}
	return c
}

// Retry runs fn up to settings.Attempts times, sleeping settings.Wait
// between attempts. Only errors accepted by retryable count as retryable;
// any other error aborts immediately. Context cancellation always aborts
// with the context's error. After the final failed attempt no wait is
// performed: otherwise is invoked directly with the collected errors.
//
// Every client shares this envelope; none reimplements its own loop.
func Retry[T any](ctx context.Context, settings ConnectionSettings, fn func() (T, error), retryable func(error) bool, otherwise func([]error) (T, error)) (T, error) {
	settings = settings.orDefault()

	var errs []error
	for attempt := 0; attempt < settings.Attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			var zero T
			return zero, ctx.Err()
		}
		if !retryable(err) {
			var zero T
			return zero, err
		}
		errs = append(errs, err)
		if attempt == settings.Attempts-1 {
			break
		}
		slog.Debug("retrying after failed attempt",
			"attempt", attempt+1, "attempts", settings.Attempts, "error", err)
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(settings.Wait):
		}
	}
	return otherwise(errs)
}

// newHTTPClient builds the klient client used for one outbound call. The
// envelope above owns retries, so klient's built-in retry stays off.
func newHTTPClient() (*klient.Client, error) {
	c, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
		klient.WithDisableRetry(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClientInitialization, err)
	}
	return c, nil
}
