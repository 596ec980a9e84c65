package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Auth          AuthConfig          `yaml:"auth"`
	GitHub        GitHubConfig        `yaml:"github"`
	Agent         AgentConfig         `yaml:"agent"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// TelemetryConfig selects the active trace/log backend pair and describes the
// reachable backends. An empty provider or region means "use the backend
// default".
type TelemetryConfig struct {
	TraceProvider  string                   `yaml:"trace_provider"`
	TraceRegion    string                   `yaml:"trace_region"`
	LogProvider    string                   `yaml:"log_provider"`
	LogRegion      string                   `yaml:"log_region"`
	Backends       map[string]BackendConfig `yaml:"backends"`
	FetchTimeoutMS int                      `yaml:"fetch_timeout_ms"`
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
}

type AuthConfig struct {
	Enabled bool           `yaml:"enabled"`
	Keys    []APIKeyConfig `yaml:"keys"`

	// Outbound telemetry token supplier strategy, selected once at startup.
	TokenSource string `yaml:"token_source"`
	Token       string `yaml:"token"`
	TokenEnv    string `yaml:"token_env"`
	TokenFile   string `yaml:"token_file"`
}

type APIKeyConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

type GitHubConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type AgentConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Endpoint               string  `yaml:"endpoint"`
	Insecure               bool    `yaml:"insecure"`
	ServiceName            string  `yaml:"service_name"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
	SamplingRatio          float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
}

const (
	TokenSourceStatic = "static"
	TokenSourceEnv    = "env"
	TokenSourceFile   = "file"
)

const (
	defaultOTELEndpoint               = "localhost:4318"
	defaultOTELServiceName            = "agentlens"
	defaultOTELSamplingRatio          = 1.0
	defaultOTELExportTimeoutMS        = 3000
	defaultOTELMetricExportIntervalMS = 10000
	defaultFetchTimeoutMS             = 30000
	defaultTokenEnvVar                = "AGENTLENS_TELEMETRY_TOKEN"
)

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./data/agentlens.db",
		},
		Telemetry: TelemetryConfig{
			Backends:       map[string]BackendConfig{},
			FetchTimeoutMS: defaultFetchTimeoutMS,
		},
		Auth: AuthConfig{
			Enabled:     false,
			TokenSource: TokenSourceEnv,
			TokenEnv:    defaultTokenEnvVar,
		},
		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
		},
		Agent: AgentConfig{
			Model: "gpt-4o-mini",
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:                false,
				Endpoint:               defaultOTELEndpoint,
				Insecure:               true,
				ServiceName:            defaultOTELServiceName,
				TracesEnabled:          true,
				MetricsEnabled:         true,
				SamplingRatio:          defaultOTELSamplingRatio,
				ExportTimeoutMS:        defaultOTELExportTimeoutMS,
				MetricExportIntervalMS: defaultOTELMetricExportIntervalMS,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
			// Reject multi-document configs to keep runtime configuration
			// unambiguous and avoid hidden trailing documents.
			var trailing any
			trailingErr := decoder.Decode(&trailing)
			if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
			}
			if trailing != nil {
				return Config{}, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", cfg.Server.Port)
	}

	driver := strings.TrimSpace(cfg.Storage.Driver)
	switch driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, sqlite, postgres (got %q)", cfg.Storage.Driver)
	}

	if cfg.Telemetry.FetchTimeoutMS <= 0 {
		return fmt.Errorf("telemetry.fetch_timeout_ms must be > 0 (got %d)", cfg.Telemetry.FetchTimeoutMS)
	}
	for name, backend := range cfg.Telemetry.Backends {
		if err := validateBaseURL(fmt.Sprintf("telemetry.backends.%s.base_url", name), backend.BaseURL); err != nil {
			return err
		}
	}
	if provider := strings.TrimSpace(cfg.Telemetry.TraceProvider); provider != "" {
		if _, ok := cfg.Telemetry.Backends[provider]; !ok {
			return fmt.Errorf("telemetry.trace_provider %q has no matching telemetry.backends entry", provider)
		}
	}
	if provider := strings.TrimSpace(cfg.Telemetry.LogProvider); provider != "" {
		if _, ok := cfg.Telemetry.Backends[provider]; !ok {
			return fmt.Errorf("telemetry.log_provider %q has no matching telemetry.backends entry", provider)
		}
	}

	switch source := strings.TrimSpace(cfg.Auth.TokenSource); source {
	case TokenSourceStatic:
		if strings.TrimSpace(cfg.Auth.Token) == "" {
			return errors.New("auth.token is required when auth.token_source=static")
		}
	case TokenSourceEnv:
		if strings.TrimSpace(cfg.Auth.TokenEnv) == "" {
			return errors.New("auth.token_env is required when auth.token_source=env")
		}
	case TokenSourceFile:
		if strings.TrimSpace(cfg.Auth.TokenFile) == "" {
			return errors.New("auth.token_file is required when auth.token_source=file")
		}
	default:
		return fmt.Errorf("auth.token_source must be one of static, env, file (got %q)", cfg.Auth.TokenSource)
	}

	if cfg.Auth.Enabled && len(cfg.Auth.Keys) == 0 {
		return errors.New("auth is enabled but no api keys are configured")
	}

	if err := validateBaseURL("github.base_url", cfg.GitHub.BaseURL); err != nil {
		return err
	}
	if cfg.Agent.Enabled {
		if strings.TrimSpace(cfg.Agent.Model) == "" {
			return errors.New("agent.model is required when agent.enabled=true")
		}
		if strings.TrimSpace(cfg.Agent.APIKey) == "" {
			return errors.New("agent.api_key is required when agent.enabled=true")
		}
	}

	return validateOTelConfig(cfg.Observability.OTel)
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("observability.otel.endpoint is required when observability.otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("observability.otel.service_name is required when observability.otel.enabled=true")
	}
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return errors.New("observability.otel requires traces_enabled and/or metrics_enabled when enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("observability.otel.sampling_ratio must be between 0 and 1 (got %f)", cfg.SamplingRatio)
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("observability.otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	if cfg.MetricExportIntervalMS <= 0 {
		return fmt.Errorf("observability.otel.metric_export_interval_ms must be > 0 (got %d)", cfg.MetricExportIntervalMS)
	}
	return nil
}

func validateBaseURL(name, raw string) error {
	base := strings.TrimSpace(raw)
	if base == "" {
		return fmt.Errorf("%s is required", name)
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("%s must include scheme and host (got %q)", name, raw)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("AGENTLENS_HOST"); host != "" {
		cfg.Server.Host = host
	}

	if port := os.Getenv("AGENTLENS_PORT"); port != "" {
		v, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid AGENTLENS_PORT: %w", err)
		}
		cfg.Server.Port = v
	}

	if storageDriver := os.Getenv("AGENTLENS_STORAGE_DRIVER"); storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if storagePath := os.Getenv("AGENTLENS_STORAGE_PATH"); storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if storageDSN := os.Getenv("AGENTLENS_STORAGE_DSN"); storageDSN != "" {
		cfg.Storage.DSN = storageDSN
	}

	if traceProvider := os.Getenv("AGENTLENS_TRACE_PROVIDER"); traceProvider != "" {
		cfg.Telemetry.TraceProvider = traceProvider
	}
	if traceRegion := os.Getenv("AGENTLENS_TRACE_REGION"); traceRegion != "" {
		cfg.Telemetry.TraceRegion = traceRegion
	}
	if logProvider := os.Getenv("AGENTLENS_LOG_PROVIDER"); logProvider != "" {
		cfg.Telemetry.LogProvider = logProvider
	}
	if logRegion := os.Getenv("AGENTLENS_LOG_REGION"); logRegion != "" {
		cfg.Telemetry.LogRegion = logRegion
	}
	if fetchTimeout := os.Getenv("AGENTLENS_FETCH_TIMEOUT_MS"); fetchTimeout != "" {
		v, err := strconv.Atoi(fetchTimeout)
		if err != nil {
			return fmt.Errorf("invalid AGENTLENS_FETCH_TIMEOUT_MS: %w", err)
		}
		cfg.Telemetry.FetchTimeoutMS = v
	}

	if authEnabled := os.Getenv("AGENTLENS_AUTH_ENABLED"); authEnabled != "" {
		v, err := strconv.ParseBool(authEnabled)
		if err != nil {
			return fmt.Errorf("invalid AGENTLENS_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = v
	}
	if tokenSource := os.Getenv("AGENTLENS_TOKEN_SOURCE"); tokenSource != "" {
		cfg.Auth.TokenSource = tokenSource
	}
	if tokenEnv := os.Getenv("AGENTLENS_TOKEN_ENV"); tokenEnv != "" {
		cfg.Auth.TokenEnv = tokenEnv
	}
	if tokenFile := os.Getenv("AGENTLENS_TOKEN_FILE"); tokenFile != "" {
		cfg.Auth.TokenFile = tokenFile
	}

	if githubToken := os.Getenv("AGENTLENS_GITHUB_TOKEN"); githubToken != "" {
		cfg.GitHub.Token = githubToken
	}
	if githubBaseURL := os.Getenv("AGENTLENS_GITHUB_BASE_URL"); githubBaseURL != "" {
		cfg.GitHub.BaseURL = githubBaseURL
	}
	if agentAPIKey := os.Getenv("AGENTLENS_AGENT_API_KEY"); agentAPIKey != "" {
		cfg.Agent.APIKey = agentAPIKey
	}

	return applyOTelEnv(cfg)
}

func applyOTelEnv(cfg *Config) error {
	otelConfigured := false
	otelSDKDisabledSet := false
	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.Observability.OTel.Enabled = !v
		otelSDKDisabledSet = true
		otelConfigured = true
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Observability.OTel.Endpoint = endpoint
		otelConfigured = true
	}
	if insecure := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); insecure != "" {
		v, err := strconv.ParseBool(insecure)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Observability.OTel.Insecure = v
		otelConfigured = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.Observability.OTel.ServiceName = serviceName
		otelConfigured = true
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.Observability.OTel.SamplingRatio = v
		otelConfigured = true
	}
	if otelConfigured && !otelSDKDisabledSet {
		cfg.Observability.OTel.Enabled = true
	}
	return nil
}
