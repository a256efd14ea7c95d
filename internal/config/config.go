package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for wordchat.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Providers ProvidersConfig `json:"providers"`
	Arbiter   ArbiterConfig   `json:"arbiter"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Commands  CommandsConfig  `json:"commands"`
	Storage   StorageConfig   `json:"storage"`
	Reminders RemindersConfig `json:"reminders"`
	Agent     AgentConfig     `json:"agent"`
	Channels  ChannelsConfig  `json:"channels"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`          // debug | info | warn | error
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

type ProvidersConfig struct {
	Primary   PrimaryProviderConfig   `json:"primary"`
	Secondary SecondaryProviderConfig `json:"secondary"`
}

// PrimaryProviderConfig configures the prompt/response completion endpoint.
type PrimaryProviderConfig struct {
	Enabled        bool   `json:"enabled"`
	Label          string `json:"label"`
	APIBase        string `json:"apiBase"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// SecondaryProviderConfig configures the Gemini-style generateContent endpoint.
type SecondaryProviderConfig struct {
	Enabled        bool   `json:"enabled"`
	Label          string `json:"label"`
	APIKey         string `json:"apiKey,omitempty"`
	APIBase        string `json:"apiBase,omitempty"` // empty = SDK default endpoint
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type ArbiterConfig struct {
	UnhelpfulPrefixes  []string `json:"unhelpfulPrefixes"`
	ContextMessages    int      `json:"contextMessages"`
	OfflineMessage     string   `json:"offlineMessage"`
	SystemInstructions string   `json:"systemInstructions,omitempty"`
}

type DispatchConfig struct {
	HandlerTimeoutSeconds int `json:"handlerTimeoutSeconds"`
	// Commands maps trigger words to handler names.
	Commands map[string]string `json:"commands"`
}

type CommandsConfig struct {
	Weather   WeatherConfig   `json:"weather"`
	Wiki      WikiConfig      `json:"wiki"`
	Mirror    MirrorConfig    `json:"mirror"`
	Visualize VisualizeConfig `json:"visualize"`
}

type WeatherConfig struct {
	APIKey         string `json:"apiKey,omitempty"`
	APIBase        string `json:"apiBase"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Retries        int    `json:"retries"` // extra attempts on network errors, 5xx and 429; 0 disables
}

type WikiConfig struct {
	APIBase        string `json:"apiBase"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	CooldownMs     int    `json:"cooldownMs"`
	Retries        int    `json:"retries"`
}

type MirrorConfig struct {
	ProxyBase string `json:"proxyBase"`
}

type VisualizeConfig struct {
	DefaultModel string `json:"defaultModel"`
	ViewerScript string `json:"viewerScript"`
}

type StorageConfig struct {
	Backend   string      `json:"backend"` // sqlite | redis | file | memory
	Namespace string      `json:"namespace"`
	DBPath    string      `json:"dbPath"`
	FileDir   string      `json:"fileDir"`
	Redis     RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

type RemindersConfig struct {
	Enabled             bool   `json:"enabled"`
	Key                 string `json:"key"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds"`
}

type AgentConfig struct {
	MaxConcurrentMessages int     `json:"maxConcurrentMessages"`
	RatePerMinute         float64 `json:"ratePerMinute"`
	RateBurst             int     `json:"rateBurst"`
}

type ChannelsConfig struct {
	Web       WebConfig       `json:"web"`
	CLI       CLIConfig       `json:"cli"`
	WebSocket WebSocketConfig `json:"websocket"`
	Telegram  TelegramConfig  `json:"telegram"`
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
	Render  bool `json:"render"` // render markdown replies in the terminal
}

type WebSocketConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// MetricsConfig configures the Prometheus endpoint on the web channel.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// Seconds converts a configured number of seconds to a duration, falling back
// to def when the value is not positive.
func Seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.wordchat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wordchat"
	}
	return filepath.Join(home, ".wordchat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		normalize(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	normalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// normalize fills secrets left empty from the environment and resolves ~/ paths.
func normalize(cfg *Config) {
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Storage.FileDir = ExpandPath(cfg.Storage.FileDir)

	if cfg.Providers.Secondary.APIKey == "" {
		cfg.Providers.Secondary.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Commands.Weather.APIKey == "" {
		cfg.Commands.Weather.APIKey = os.Getenv("WEATHERAPI_KEY")
	}
	if cfg.Channels.Telegram.Token == "" {
		cfg.Channels.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share the
// json struct tags.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset ${VAR}
// without default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes the config as JSON, or YAML when the path says so.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, errors.New("general.logLevel must be one of: debug, info, warn, error"))
	}

	if cfg.Providers.Primary.Enabled && cfg.Providers.Primary.APIBase == "" {
		errs = append(errs, errors.New("providers.primary.apiBase is required when enabled"))
	}
	if cfg.Providers.Secondary.Enabled && cfg.Providers.Secondary.Model == "" {
		errs = append(errs, errors.New("providers.secondary.model is required when enabled"))
	}
	if cfg.Arbiter.ContextMessages < 0 {
		errs = append(errs, errors.New("arbiter.contextMessages must be >= 0"))
	}
	if cfg.Dispatch.HandlerTimeoutSeconds < 1 || cfg.Dispatch.HandlerTimeoutSeconds > 300 {
		errs = append(errs, errors.New("dispatch.handlerTimeoutSeconds must be between 1 and 300"))
	}
	for trigger, handler := range cfg.Dispatch.Commands {
		if strings.TrimSpace(trigger) == "" || handler == "" {
			errs = append(errs, fmt.Errorf("dispatch.commands: empty trigger or handler (%q -> %q)", trigger, handler))
		}
	}

	switch cfg.Storage.Backend {
	case "sqlite":
		if cfg.Storage.DBPath == "" {
			errs = append(errs, errors.New("storage.dbPath is required for the sqlite backend"))
		}
	case "redis":
		if cfg.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for the redis backend"))
		}
	case "file":
		if cfg.Storage.FileDir == "" {
			errs = append(errs, errors.New("storage.fileDir is required for the file backend"))
		}
	case "memory":
	default:
		errs = append(errs, errors.New("storage.backend must be one of: sqlite, redis, file, memory"))
	}
	if cfg.Storage.Namespace == "" {
		errs = append(errs, errors.New("storage.namespace must not be empty"))
	}

	if cfg.Commands.Weather.Retries < 0 || cfg.Commands.Weather.Retries > 5 {
		errs = append(errs, errors.New("commands.weather.retries must be between 0 and 5"))
	}
	if cfg.Commands.Wiki.Retries < 0 || cfg.Commands.Wiki.Retries > 5 {
		errs = append(errs, errors.New("commands.wiki.retries must be between 0 and 5"))
	}
	if cfg.Reminders.Enabled && cfg.Reminders.PollIntervalSeconds < 1 {
		errs = append(errs, errors.New("reminders.pollIntervalSeconds must be >= 1"))
	}
	if cfg.Agent.MaxConcurrentMessages < 1 || cfg.Agent.MaxConcurrentMessages > 100 {
		errs = append(errs, errors.New("agent.maxConcurrentMessages must be between 1 and 100"))
	}
	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, errors.New("channels.web.port must be between 0 and 65535"))
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, errors.New("channels.telegram.token is required when enabled"))
	}

	return errors.Join(errs...)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
