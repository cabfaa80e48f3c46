// Package auth authenticates inbound requests against the configured
// provider: none (always authorized) or Keycloak (OIDC direct grant and
// bearer tokens).
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rakunlabs/anonymizer/internal/config"
)

// Credentials are the authentication inputs extracted from request
// headers.
type Credentials struct {
	Username string
	Password string
	JWT      string
}

// FromHeaders extracts credentials from request headers: Username/Password
// headers for the direct grant flow, Authorization for JWT.
func FromHeaders(header http.Header) Credentials {
	creds := Credentials{}
	if username := header.Get("Username"); username != "" {
		if password := header.Get("Password"); password != "" {
			creds.Username = username
			creds.Password = password
			return creds
		}
	}
	if authorization := header.Get("Authorization"); authorization != "" {
		creds.JWT = authorization
	}
	return creds
}

// Response is the provider's verdict plus any token headers to echo back
// to the caller.
type Response struct {
	Authorized bool
	Headers    map[string]string
}

// Fail is the unauthorized response.
func Fail() Response { return Response{} }

// Success builds an authorized response carrying the token data.
func Success(accessToken, refreshToken string) Response {
	headers := map[string]string{}
	if accessToken != "" {
		headers["Access-Token"] = accessToken
	}
	if refreshToken != "" {
		headers["Refresh-Token"] = refreshToken
	}
	return Response{Authorized: true, Headers: headers}
}

// Client validates credentials against one provider.
type Client interface {
	Authorize(ctx context.Context, credentials Credentials) (Response, error)
}

// NoAuth authorizes everything.
type NoAuth struct{}

func (NoAuth) Authorize(context.Context, Credentials) (Response, error) {
	return Response{Authorized: true, Headers: map[string]string{}}, nil
}

// New creates the client for the configured provider.
func New(ctx context.Context, cfg config.Auth) (Client, error) {
	switch strings.ToUpper(cfg.Provider) {
	case config.AuthProviderKeycloak:
		slog.Info("auth provider is Keycloak")
		if cfg.Keycloak == nil {
			return nil, errors.New("configuration for provider KEYCLOAK missing")
		}
		return NewKeycloak(ctx, *cfg.Keycloak)
	case config.AuthProviderNone, "":
		slog.Warn("no auth provider specified")
		return NoAuth{}, nil
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
