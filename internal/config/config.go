package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chatbridge/internal/models"
)

const (
	apiStyleOpenAI    = "openai"
	apiStyleAnthropic = "anthropic"

	defaultPort      = 3000
	defaultTimeout   = 60 * time.Second
	defaultBodyLimit = "10M"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server         ServerConfig    `yaml:"server"`
	Backends       []BackendConfig `yaml:"backends"`
	Routes         []RouteConfig   `yaml:"routes"`
	DefaultBackend string          `yaml:"default_backend"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	BodyLimit string `yaml:"body_limit"`
}

// BackendConfig describes one upstream and the schema it speaks natively.
type BackendConfig struct {
	Name     string        `yaml:"name"`
	APIStyle string        `yaml:"api_style"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Headers  Headers       `yaml:"headers"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Headers contains additional HTTP headers to send with a backend request.
type Headers map[string]string

// RouteConfig maps requested model names containing Match to a backend and
// its native model id. Routes are tried in file order.
type RouteConfig struct {
	Match   string `yaml:"match"`
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
}

// Endpoint converts the backend settings into the value the dispatcher uses.
func (b BackendConfig) Endpoint() models.BackendEndpoint {
	headers := make(map[string]string, len(b.Headers))
	for k, v := range b.Headers {
		headers[k] = v
	}
	return models.BackendEndpoint{
		Name:    b.Name,
		Schema:  models.Schema(b.APIStyle),
		BaseURL: strings.TrimRight(b.BaseURL, "/"),
		APIKey:  b.APIKey,
		Headers: headers,
	}
}

// Load reads YAML configuration from disk, expands ${VAR} references against
// the environment and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return Config{}, fmt.Errorf("config file %q: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes already-expanded YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default reproduces the built-in deployment: an Anthropic backend, an OpenAI
// backend and a custom OpenAI-compatible backend, configured from the environment.
func Default() Config {
	cfg := Config{
		Server: ServerConfig{Port: envInt("PORT", defaultPort)},
		Backends: []BackendConfig{
			{
				Name:     "anthropic",
				APIStyle: apiStyleAnthropic,
				BaseURL:  envOr("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:   os.Getenv("ANTHROPIC_API_KEY"),
			},
			{
				Name:     "openai",
				APIStyle: apiStyleOpenAI,
				BaseURL:  envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				APIKey:   os.Getenv("OPENAI_API_KEY"),
			},
			{
				Name:     "custom",
				APIStyle: apiStyleOpenAI,
				BaseURL:  envOr("CUSTOM_BASE_URL", "http://localhost:8000"),
				APIKey:   os.Getenv("CUSTOM_API_KEY"),
			},
		},
		Routes: []RouteConfig{
			{Match: "claude", Backend: "anthropic", Model: "claude-sonnet-4-20250514"},
			{Match: "gpt-4", Backend: "openai", Model: "gpt-4"},
			{Match: "gpt-3.5-turbo", Backend: "openai", Model: "gpt-3.5-turbo"},
			{Match: "big-pickle", Backend: "custom", Model: "big-pickle"},
			{Match: "minimax", Backend: "custom", Model: "minimax-m2.5-free"},
		},
		DefaultBackend: "custom",
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = defaultBodyLimit
	}
	for i := range c.Backends {
		c.Backends[i].APIStyle = strings.ToLower(strings.TrimSpace(c.Backends[i].APIStyle))
		if c.Backends[i].Timeout == 0 {
			c.Backends[i].Timeout = defaultTimeout
		}
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	names := make(map[string]struct{}, len(c.Backends))
	for i, backend := range c.Backends {
		if err := validateBackend(backend); err != nil {
			return fmt.Errorf("backends[%d]: %w", i, err)
		}
		if _, dup := names[backend.Name]; dup {
			return fmt.Errorf("backends[%d]: duplicate backend name %q", i, backend.Name)
		}
		names[backend.Name] = struct{}{}
	}

	for i, route := range c.Routes {
		if strings.TrimSpace(route.Match) == "" {
			return fmt.Errorf("routes[%d]: match must not be empty", i)
		}
		if strings.TrimSpace(route.Model) == "" {
			return fmt.Errorf("routes[%d]: model must not be empty", i)
		}
		if _, ok := names[route.Backend]; !ok {
			return fmt.Errorf("routes[%d]: unknown backend %q", i, route.Backend)
		}
	}

	if _, ok := names[c.DefaultBackend]; !ok {
		return fmt.Errorf("default_backend %q is not a configured backend", c.DefaultBackend)
	}

	return nil
}

func validateBackend(backend BackendConfig) error {
	if strings.TrimSpace(backend.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if strings.TrimSpace(backend.BaseURL) == "" {
		return fmt.Errorf("backend %s: base_url must be provided", backend.Name)
	}
	if err := validateAPIStyle(backend.Name, backend.APIStyle); err != nil {
		return err
	}
	if backend.Timeout < 0 {
		return fmt.Errorf("backend %s: timeout must not be negative", backend.Name)
	}

	for headerKey := range backend.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("backend %s: header %q is not a valid canonical HTTP header", backend.Name, headerKey)
		}
	}
	return nil
}

func validateAPIStyle(backendName, style string) error {
	switch style {
	case apiStyleOpenAI, apiStyleAnthropic:
		return nil
	default:
		return fmt.Errorf("backend %s: api_style %q must be one of %q or %q", backendName, style, apiStyleOpenAI, apiStyleAnthropic)
	}
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
