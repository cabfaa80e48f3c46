package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/worldline-go/klient"
	"golang.org/x/oauth2"

	"github.com/rakunlabs/anonymizer/internal/client"
	"github.com/rakunlabs/anonymizer/internal/config"
)

// Keycloak validates credentials against an OIDC realm: the direct grant
// (resource owner password) flow for username/password pairs, the realm's
// userinfo endpoint for bearer tokens.
type Keycloak struct {
	cfg        config.Keycloak
	oauth      oauth2.Config
	userinfo   string
	httpClient *klient.Client
}

// NewKeycloak constructs the provider. Realm reachability is verified up
// front with the shared retry envelope so a slow-starting identity server
// does not fail the whole process.
func NewKeycloak(ctx context.Context, cfg config.Keycloak) (*Keycloak, error) {
	base := strings.TrimSuffix(cfg.URL, "/") + "/realms/" + cfg.Realm

	httpClient, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
		klient.WithDisableRetry(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create keycloak http client: %w", err)
	}

	k := &Keycloak{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/protocol/openid-connect/auth",
				TokenURL: base + "/protocol/openid-connect/token",
			},
		},
		userinfo:   base + "/protocol/openid-connect/userinfo",
		httpClient: httpClient,
	}

	// Probe the realm configuration endpoint until the server answers.
	probe := base + "/.well-known/openid-configuration"
	fn := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
		if err != nil {
			return struct{}{}, err
		}
		resp, err := httpClient.HTTP.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, fmt.Errorf("keycloak status %d", resp.StatusCode)
		}
		return struct{}{}, nil
	}
	otherwise := func(errs []error) (struct{}, error) {
		return struct{}{}, fmt.Errorf("max retries exceeded when connecting to the Keycloak provider: %w", errs[len(errs)-1])
	}
	if _, err := client.Retry(ctx, cfg.Connection, fn, func(error) bool { return true }, otherwise); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Keycloak) Authorize(ctx context.Context, credentials Credentials) (Response, error) {
	slog.Debug("checking for direct grant authorization")
	if credentials.Username != "" && credentials.Password != "" {
		return k.authorizeDirectGrant(ctx, credentials.Username, credentials.Password)
	}
	slog.Debug("checking for JWT authorization")
	if credentials.JWT != "" {
		token := strings.TrimPrefix(credentials.JWT, "Bearer ")
		return k.authorizeJWT(ctx, token)
	}
	return Fail(), nil
}

func (k *Keycloak) authorizeDirectGrant(ctx context.Context, username, password string) (Response, error) {
	slog.Debug("sending direct grant authorization request")
	ctx = context.WithValue(ctx, oauth2.HTTPClient, k.httpClient.HTTP)
	token, err := k.oauth.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		slog.Debug("direct grant authorization failed", "error", err)
		return Fail(), nil
	}
	return Success(token.AccessToken, token.RefreshToken), nil
}

func (k *Keycloak) authorizeJWT(ctx context.Context, token string) (Response, error) {
	// Pre-screen locally: a malformed or expired token never reaches the
	// identity server.
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithExpirationRequired())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		slog.Debug("token is not a parsable JWT", "error", err)
		return Fail(), nil
	}
	if exp, err := claims.GetExpirationTime(); err != nil || exp == nil || exp.Before(time.Now()) {
		slog.Debug("token is expired or carries no expiry")
		return Fail(), nil
	}

	// Signature and session validity are the realm's verdict.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.userinfo, nil)
	if err != nil {
		return Fail(), err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := k.httpClient.HTTP.Do(req)
	if err != nil {
		return Fail(), fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Debug("userinfo rejected token", "status", resp.StatusCode)
		return Fail(), nil
	}
	return Success("", ""), nil
}
