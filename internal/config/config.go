package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	DatasetDriverDuckDB   = "duckdb"
	DatasetDriverPostgres = "postgres"
)

const envPrefix = "ASKCSV_"

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Dataset       DatasetConfig
	ObjectStore   ObjectStoreConfig
	AI            AIConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatasetConfig selects the engine the uploaded table lives in. An empty
// DuckDBPath keeps the database in memory. StatementTimeout applies to
// Postgres sessions only; zero leaves the server default.
type DatasetConfig struct {
	Driver           string
	DuckDBPath       string
	PostgresDSN      string
	StatementTimeout time.Duration
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxIdleTime  time.Duration
	ConnMaxLifetime  time.Duration
	MaxUploadBytes   int64
}

type ObjectStoreConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

// AIConfig describes the chat-completion service. The bearer token itself is
// not stored here: TokenEnv names the variable read on every request.
type AIConfig struct {
	BaseURL  string
	Model    string
	TokenEnv string
	Project  string
	Timeout  time.Duration
}

type CORSConfig struct {
	AllowedOrigins string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

// Load builds the profile defaults and applies every ASKCSV_* override found
// through lookup. All malformed values are reported together.
func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup(envPrefix + "PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
	default:
		return Config{}, fmt.Errorf("invalid %sPROFILE: %q", envPrefix, profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	var errs []error
	for _, b := range cfg.bindings() {
		raw, ok := lookup(envPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(strings.TrimSpace(raw)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s%s: %w", envPrefix, b.name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	cfg.Dataset.Driver = strings.ToLower(cfg.Dataset.Driver)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) bindings() []binding {
	return []binding{
		stringVar("SERVICE_NAME", &c.Service.Name),
		stringVar("HTTP_ADDR", &c.HTTP.Address),
		durationVar("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout),
		durationVar("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout),
		durationVar("HTTP_IDLE_TIMEOUT", &c.HTTP.IdleTimeout),

		stringVar("DATASET_DRIVER", &c.Dataset.Driver),
		stringVar("DATASET_DUCKDB_PATH", &c.Dataset.DuckDBPath),
		stringVar("DATASET_POSTGRES_DSN", &c.Dataset.PostgresDSN),
		durationVar("DATASET_STATEMENT_TIMEOUT", &c.Dataset.StatementTimeout),
		intVar("DATASET_MAX_OPEN_CONNS", &c.Dataset.MaxOpenConns),
		intVar("DATASET_MAX_IDLE_CONNS", &c.Dataset.MaxIdleConns),
		durationVar("DATASET_CONN_MAX_IDLE_TIME", &c.Dataset.ConnMaxIdleTime),
		durationVar("DATASET_CONN_MAX_LIFETIME", &c.Dataset.ConnMaxLifetime),
		byteSizeVar("DATASET_MAX_UPLOAD_BYTES", &c.Dataset.MaxUploadBytes),

		boolVar("OBJECTSTORE_ENABLED", &c.ObjectStore.Enabled),
		stringVar("OBJECTSTORE_ENDPOINT", &c.ObjectStore.Endpoint),
		stringVar("OBJECTSTORE_REGION", &c.ObjectStore.Region),
		stringVar("OBJECTSTORE_BUCKET", &c.ObjectStore.Bucket),
		stringVar("OBJECTSTORE_ACCESS_KEY", &c.ObjectStore.AccessKeyID),
		stringVar("OBJECTSTORE_SECRET_KEY", &c.ObjectStore.SecretAccessKey),
		boolVar("OBJECTSTORE_USE_SSL", &c.ObjectStore.UseSSL),
		stringVar("OBJECTSTORE_PREFIX", &c.ObjectStore.Prefix),

		stringVar("AI_BASE_URL", &c.AI.BaseURL),
		stringVar("AI_MODEL", &c.AI.Model),
		stringVar("AI_TOKEN_ENV", &c.AI.TokenEnv),
		stringVar("AI_PROJECT", &c.AI.Project),
		durationVar("AI_TIMEOUT", &c.AI.Timeout),

		stringVar("CORS_ALLOWED_ORIGINS", &c.CORS.AllowedOrigins),
		boolVar("LOG_JSON", &c.Observability.LogJSON),
		logLevelVar("LOG_LEVEL", &c.Observability.LogLevel),
		boolVar("AUTH_REQUIRED", &c.Auth.Required),
		stringVar("AUTH_STATIC_KEYS", &c.Auth.StaticKeys),
	}
}

func (c Config) validate() error {
	var errs []error
	if c.Service.Name == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.HTTP.Address == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	switch c.Dataset.Driver {
	case DatasetDriverDuckDB:
	case DatasetDriverPostgres:
		if c.Dataset.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("%sDATASET_POSTGRES_DSN is required for the postgres driver", envPrefix))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid %sDATASET_DRIVER: %q", envPrefix, c.Dataset.Driver))
	}
	if c.Dataset.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("%sDATASET_MAX_UPLOAD_BYTES must be > 0", envPrefix))
	}
	if c.Dataset.StatementTimeout < 0 {
		errs = append(errs, fmt.Errorf("%sDATASET_STATEMENT_TIMEOUT must not be negative", envPrefix))
	}
	if c.ObjectStore.Enabled && (c.ObjectStore.Endpoint == "" || c.ObjectStore.Bucket == "") {
		errs = append(errs, errors.New("object store endpoint and bucket are required when enabled"))
	}
	if c.AI.TokenEnv == "" {
		errs = append(errs, fmt.Errorf("%sAI_TOKEN_ENV must not be empty", envPrefix))
	}
	return errors.Join(errs...)
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askcsv-api"},
		HTTP: HTTPConfig{
			Address:      ":8001",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Dataset: DatasetConfig{
			Driver:          DatasetDriverDuckDB,
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			MaxUploadBytes:  64 << 20,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "askcsv",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
		},
		AI: AIConfig{
			BaseURL:  "https://llmfoundry.straive.com/openai",
			Model:    "gpt-4o-mini",
			TokenEnv: "LLMFOUNDRY_TOKEN",
			Project:  "my-test-project",
		},
		CORS:          CORSConfig{AllowedOrigins: "*"},
		Observability: ObservabilityConfig{LogLevel: slog.LevelDebug, LogJSON: true},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18001"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.CORS.AllowedOrigins = ""
	}
	return cfg
}
