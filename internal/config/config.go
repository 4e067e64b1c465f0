package config

import (
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables that override config keys.
// Nested keys are separated by a double underscore: TRANSLATOR_SERVER__PORT.
const EnvPrefix = "TRANSLATOR_"

// DefaultPath is the config file the commands read when it exists.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Client    ClientConfig    `koanf:"client"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

// UpstreamConfig describes the OpenAI-compatible chat-completion API the relay
// forwards to. An empty APIKey is allowed at load time; the relay reports it
// per request.
type UpstreamConfig struct {
	Name      string `koanf:"name"`
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	Model     string `koanf:"model"`
	UserAgent string `koanf:"user_agent"`
}

// ClientConfig configures the stream consumer.
type ClientConfig struct {
	BaseURL     string `koanf:"base_url"`     // Optional: forces a relay address
	LocalURL    string `koanf:"local_url"`    // Used when the consumer runs against localhost
	DeployedURL string `koanf:"deployed_url"` // Used everywhere else
	LogFile     string `koanf:"log_file"`     // Optional: TUI diagnostics log
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"server.port":            8787,
	"upstream.name":          "DeepSeek",
	"upstream.base_url":      "https://api.deepseek.com",
	"upstream.api_key":       "${DEEPSEEK_API_KEY}",
	"upstream.model":         "deepseek-chat",
	"upstream.user_agent":    "pmdev-translator/1.0",
	"client.local_url":       "http://localhost:8787",
	"client.deployed_url":    "https://drivedirect.eu.org",
	"telemetry.service_name": "pmdev-translator",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadFile reads the given YAML file, when it exists, then applies
// environment overrides and defaults.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Upstream.APIKey = substituteEnvVars(cfg.Upstream.APIKey)
	cfg.Upstream.BaseURL = strings.TrimSuffix(cfg.Upstream.BaseURL, "/")

	return &cfg, nil
}

// ResolveBaseURL picks the relay address for a consumer running on host.
func (c ClientConfig) ResolveBaseURL(host string) string {
	if c.BaseURL != "" {
		return strings.TrimSuffix(c.BaseURL, "/")
	}
	if isLocalHost(host) {
		return strings.TrimSuffix(c.LocalURL, "/")
	}
	return strings.TrimSuffix(c.DeployedURL, "/")
}

func isLocalHost(host string) bool {
	if u, err := url.Parse(host); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return host == "localhost" || host == ""
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
