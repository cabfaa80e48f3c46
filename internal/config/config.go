package config

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"

	"github.com/rakunlabs/anonymizer/internal/client"
)

// Service is the "name/version" string stamped on responses and telemetry.
var Service = ""

// Version is the anonymizer API version exposed on /api/version.
const Version = "1.0"

// Auth provider selectors.
const (
	AuthProviderNone     = "NONE"
	AuthProviderKeycloak = "KEYCLOAK"
)

// Context store provider selectors.
const (
	ContextProviderNone     = "NONE"
	ContextProviderPostgres = "POSTGRES"
	ContextProviderSQLite   = "SQLITE"
	ContextProviderMemory   = "MEMORY"
)

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Server   Server   `cfg:"server"`
	Pipeline Pipeline `cfg:"pipeline"`
	Auth     Auth     `cfg:"auth"`
	Valkey   Valkey   `cfg:"valkey"`
	Context  Context  `cfg:"context"`
	Services Services `cfg:"services"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

type Server struct {
	BasePath string `cfg:"base_path"`
	Port     string `cfg:"port" default:"8080"`
	Host     string `cfg:"host"`

	// ForwardAuth, if set, delegates request authentication to an external
	// service in front of the provider configured under auth.
	ForwardAuth *mforwardauth.ForwardAuth `cfg:"forward_auth"`
}

type Pipeline struct {
	// File is the declarative pipeline description (JSON or YAML). When
	// empty or unreadable the default echo pipeline is installed.
	File string `cfg:"file"`
}

type Auth struct {
	Provider   string                    `cfg:"provider" default:"NONE"`
	Keycloak   *Keycloak                 `cfg:"keycloak"`
	Connection client.ConnectionSettings `cfg:"connection"`
}

type Keycloak struct {
	URL          string                    `cfg:"url"`
	Realm        string                    `cfg:"realm"`
	ClientID     string                    `cfg:"client_id"`
	ClientSecret string                    `cfg:"client_secret" log:"-"`
	Connection   client.ConnectionSettings `cfg:"connection"`
}

// Valkey configures the audit store connection.
type Valkey struct {
	Address    string                    `cfg:"address" default:"valkey:6379"`
	Username   string                    `cfg:"username"`
	Password   string                    `cfg:"password" log:"-"`
	DB         int                       `cfg:"db"`
	SSL        bool                      `cfg:"ssl"`
	Connection client.ConnectionSettings `cfg:"connection"`
}

type Context struct {
	Provider string         `cfg:"provider" default:"NONE"`
	Postgres *StorePostgres `cfg:"postgres"`
	SQLite   *StoreSQLite   `cfg:"sqlite"`
}

type StorePostgres struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource" log:"-"`
	Schema      string  `cfg:"schema"`

	Migrate Migrate `cfg:"migrate"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

type Services struct {
	ARXlet  *ServiceHTTP `cfg:"arxlet"`
	FlaskDP *ServiceHTTP `cfg:"flaskdp"`
	MISP    *MISPService `cfg:"misp"`
	MQTT    *MQTTService `cfg:"mqtt"`
	STIX    *ServiceHTTP `cfg:"stix"`
	Audit   *Audit       `cfg:"audit"`

	// PGPKeyDir is where local encryption jobs look up public keys.
	PGPKeyDir string `cfg:"pgp_key_dir" default:"resources/pgp"`

	Connection client.ConnectionSettings `cfg:"connection"`
}

type ServiceHTTP struct {
	URL        string                    `cfg:"url"`
	Connection client.ConnectionSettings `cfg:"connection"`
}

type MISPService struct {
	URL        string                    `cfg:"url"`
	Key        string                    `cfg:"key" log:"-"`
	SSL        bool                      `cfg:"ssl" default:"true"`
	Connection client.ConnectionSettings `cfg:"connection"`
}

type MQTTService struct {
	Host       string                    `cfg:"host"`
	Port       int                       `cfg:"port" default:"1883"`
	Username   string                    `cfg:"username"`
	Password   string                    `cfg:"password" log:"-"`
	SSL        bool                      `cfg:"ssl" default:"true"`
	Topic      string                    `cfg:"topic"`
	ClientID   string                    `cfg:"client_id"`
	Connection client.ConnectionSettings `cfg:"connection"`
}

// Audit configures the periodic event summary publication to the TMB.
type Audit struct {
	URL string `cfg:"url"`
	// Interval is the publication period in seconds.
	Interval  int    `cfg:"interval" default:"86400"`
	Publisher string `cfg:"publisher" default:"anonymizer"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("ANONYMIZER_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}

// Map renders the configuration for the debug endpoint, with secret fields
// masked.
func (c *Config) Map() any {
	return chu.MarshalMap(*c)
}
