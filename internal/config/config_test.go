package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// --- Validate ---

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("expected defaults to validate, got: %v", err)
	}
}

func TestValidate_HandlerTimeoutBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Dispatch.HandlerTimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for handlerTimeoutSeconds=0")
	}
	cfg.Dispatch.HandlerTimeoutSeconds = 300
	if err := Validate(cfg); err != nil {
		t.Fatalf("handlerTimeoutSeconds=300 should be valid: %v", err)
	}
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = "cassandra"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if !strings.Contains(err.Error(), "storage.backend") {
		t.Fatalf("error should name the field, got: %v", err)
	}
}

func TestValidate_RedisNeedsAddr(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = "redis"
	cfg.Storage.Redis.Addr = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for redis backend without addr")
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "loud"
	cfg.Channels.Web.Port = 70000
	cfg.Providers.Primary.APIBase = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, field := range []string{"general.logLevel", "channels.web.port", "providers.primary.apiBase"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("missing %s in %v", field, err)
		}
	}
}

func TestValidate_TelegramNeedsToken(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for telegram without token")
	}
}

// --- Load / Save ---

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Storage.Namespace != "pli7data" {
		t.Fatalf("expected default namespace, got %q", cfg.Storage.Namespace)
	}
	if strings.HasPrefix(cfg.Storage.DBPath, "~/") {
		t.Fatalf("db path should be expanded, got %q", cfg.Storage.DBPath)
	}
}

func TestLoadSave_RoundTripJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Defaults()
	cfg.Arbiter.ContextMessages = 4
	cfg.Storage.Backend = "memory"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Arbiter.ContextMessages != 4 {
		t.Fatalf("expected 4, got %d", loaded.Arbiter.ContextMessages)
	}
	if loaded.Storage.Backend != "memory" {
		t.Fatalf("expected memory backend, got %q", loaded.Storage.Backend)
	}
}

func TestLoadSave_RoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Defaults()
	cfg.Dispatch.HandlerTimeoutSeconds = 42

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		t.Fatal("yaml path should be written as yaml")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Dispatch.HandlerTimeoutSeconds != 42 {
		t.Fatalf("expected 42, got %d", loaded.Dispatch.HandlerTimeoutSeconds)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
storage:
  backend: redis
  redis:
    addr: cache:6379
arbiter:
  unhelpfulPrefixes:
    - "Hmm"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Redis.Addr != "cache:6379" {
		t.Fatalf("expected cache:6379, got %q", cfg.Storage.Redis.Addr)
	}
	if len(cfg.Arbiter.UnhelpfulPrefixes) != 1 || cfg.Arbiter.UnhelpfulPrefixes[0] != "Hmm" {
		t.Fatalf("unexpected prefixes: %v", cfg.Arbiter.UnhelpfulPrefixes)
	}
	if cfg.Storage.Namespace != "pli7data" {
		t.Fatal("unset fields should keep defaults")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"dispatch": {"handlerTimeoutSeconds": 0}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("WORDCHAT_TEST_NS", "custom-ns")
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"storage": {"backend": "memory", "namespace": "${WORDCHAT_TEST_NS}"}, "general": {"logLevel": "${WORDCHAT_TEST_LEVEL:-warn}"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Namespace != "custom-ns" {
		t.Fatalf("expected custom-ns, got %q", cfg.Storage.Namespace)
	}
	if cfg.General.LogLevel != "warn" {
		t.Fatalf("expected default warn, got %q", cfg.General.LogLevel)
	}
}

func TestLoad_SecretsFromEnvironment(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("WEATHERAPI_KEY", "wx-key")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Secondary.APIKey != "gem-key" || cfg.Commands.Weather.APIKey != "wx-key" {
		t.Fatalf("env secrets not applied: %+v %+v", cfg.Providers.Secondary, cfg.Commands.Weather)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("WC_SET", "value")
	t.Setenv("WC_EMPTY", "")

	cases := map[string]string{
		"${WC_SET}":              "value",
		"${WC_UNSET:-fallback}":  "fallback",
		"${WC_SET:-fallback}":    "value",
		"${WC_EMPTY:-fallback}":  "fallback",
		"${WC_UNSET}":            "${WC_UNSET}",
		"a ${WC_SET} b ${WC_SET}": "a value b value",
		"$WC_SET":                "$WC_SET",
		"plain":                  "plain",
	}
	for in, want := range cases {
		if got := ExpandEnvVars(in); got != want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", in, got, want)
		}
	}
}

// --- Accessors ---

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "arbiter.contextMessages", "7"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Arbiter.ContextMessages != 7 {
		t.Fatalf("expected 7, got %d", cfg.Arbiter.ContextMessages)
	}
	v, err := GetByPath(cfg, "storage.namespace")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "pli7data" {
		t.Fatalf("expected pli7data, got %v", v)
	}
	if _, err := GetByPath(cfg, "storage.nothing"); err == nil {
		t.Fatal("expected error for unknown path")
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Providers.Secondary.APIKey = "AIzaSyD-1234567890abcdef"
	cfg.Channels.Telegram.Token = "short"

	s := Sanitize(cfg)
	if s.Providers.Secondary.APIKey == cfg.Providers.Secondary.APIKey {
		t.Fatal("api key should be masked")
	}
	if s.Channels.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", s.Channels.Telegram.Token)
	}
	if s.Commands.Weather.APIKey != "" {
		t.Fatal("empty secrets stay empty")
	}
	if cfg.Channels.Telegram.Token != "short" {
		t.Fatal("original config should not be modified")
	}
}

func TestListPaths_ContainsLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	for _, p := range []string{"storage.namespace", "dispatch.handlerTimeoutSeconds", "channels.web.port"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("missing path %s", p)
		}
	}
}

func TestFlexStringList_MixedTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"storage": {"backend": "memory"}, "channels": {"telegram": {"allowFrom": ["alice", 12345]}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	got := cfg.Channels.Telegram.AllowFrom
	if len(got) != 2 || got[0] != "alice" || got[1] != "12345" {
		t.Fatalf("unexpected allowFrom: %v", got)
	}
}

func TestSeconds(t *testing.T) {
	if got := Seconds(0, time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := Seconds(3, time.Minute); got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}
}
