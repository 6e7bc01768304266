package config

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigFromEnvWithDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	t.Setenv("GENESYS_CLIENT_ID", "client")
	t.Setenv("GENESYS_CLIENT_SECRET", "secret")

	cfg := LoadConfig()

	if !cfg.GenesysConfigured() {
		t.Fatal("expected Genesys to be configured from env")
	}
	if cfg.GenesysOAuthEndpoint != DefaultGenesysOAuthEndpoint {
		t.Fatalf("unexpected oauth endpoint default: %q", cfg.GenesysOAuthEndpoint)
	}
	if cfg.TicketingSystem != "demo" {
		t.Fatalf("unexpected ticketing default: %q", cfg.TicketingSystem)
	}
	if cfg.PollSchedule != "@every 10s" {
		t.Fatalf("unexpected poll schedule default: %q", cfg.PollSchedule)
	}
	if cfg.DBPath != "./agentdesk.db" {
		t.Fatalf("unexpected db path default: %q", cfg.DBPath)
	}
	if cfg.ExternalHTTPTimeoutSeconds != defaultExternalHTTPTimeoutSeconds {
		t.Fatalf("unexpected external HTTP timeout default: %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.NewConversationWindow().Seconds() != 10 {
		t.Fatalf("unexpected new conversation window: %s", cfg.NewConversationWindow())
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
genesys_client_id: "yaml-client"
genesys_client_secret: "yaml-secret"
ticketing_system: "jira"
ticketing_backends:
  jira:
    base_url: "https://jira.example.com"
    api_token: "yaml-token"
    project: "SUP"
poll_schedule: "@every 30s"
auto_process: true
db_path: "/tmp/yaml.db"
external_http_timeout_seconds: 20
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("TICKETING_API_TOKEN", "env-token")
	t.Setenv("EXTERNAL_HTTP_TIMEOUT_SECONDS", "12")

	cfg := LoadConfig()

	if cfg.GenesysClientID != "yaml-client" {
		t.Fatalf("expected client id from yaml, got %q", cfg.GenesysClientID)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("expected db path from env override, got %q", cfg.DBPath)
	}
	if !cfg.AutoProcess {
		t.Fatal("expected auto_process from yaml")
	}
	jira := cfg.TicketingBackends["jira"]
	if jira.APIToken != "env-token" {
		t.Fatalf("expected api token from env override, got %q", jira.APIToken)
	}
	if jira.Project != "SUP" || jira.BaseURL != "https://jira.example.com" {
		t.Fatalf("expected jira settings from yaml, got %+v", jira)
	}
	if cfg.ExternalHTTPTimeoutSeconds != 12 {
		t.Fatalf("expected timeout from env override, got %d", cfg.ExternalHTTPTimeoutSeconds)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c := Config{}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "unknown ticketing system",
			mutate:  func(c *Config) { c.TicketingSystem = "remedy" },
			wantErr: "ticketing_system must be one of",
		},
		{
			name:    "non-demo backend without base url",
			mutate:  func(c *Config) { c.TicketingSystem = "zendesk" },
			wantErr: "base_url is required",
		},
		{
			name: "non-demo backend without credentials",
			mutate: func(c *Config) {
				c.TicketingSystem = "servicenow"
				c.TicketingBackends = map[string]TicketingBackend{"servicenow": {BaseURL: "https://sn.example.com"}}
			},
			wantErr: "needs api_token",
		},
		{
			name: "client credentials backend",
			mutate: func(c *Config) {
				c.TicketingSystem = "salesforce"
				c.TicketingBackends = map[string]TicketingBackend{"salesforce": {
					BaseURL: "https://sf.example.com", TokenEndpoint: "https://sf.example.com/token",
					ClientID: "id", ClientSecret: "secret",
				}}
			},
		},
		{
			name:    "partial genesys",
			mutate:  func(c *Config) { c.GenesysClientID = "only-id" },
			wantErr: "partial Genesys config",
		},
		{
			name:    "timeout too small",
			mutate:  func(c *Config) { c.ExternalHTTPTimeoutSeconds = 2 },
			wantErr: "external_http_timeout_seconds",
		},
		{
			name:    "anthropic without key",
			mutate:  func(c *Config) { c.LLMProvider = "anthropic" },
			wantErr: "anthropic_api_key is required",
		},
		{
			name:    "slack token without channel",
			mutate:  func(c *Config) { c.SlackBotToken = "xoxb-test" },
			wantErr: "required together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrideHelpers(t *testing.T) {
	s := "initial"
	t.Setenv("AD_TEST_STR", "value")
	envOverride(&s, "AD_TEST_STR")
	if s != "value" {
		t.Fatalf("envOverride failed, got %q", s)
	}

	i := 1
	t.Setenv("AD_TEST_INT", "42")
	if err := envOverrideInt(&i, "AD_TEST_INT"); err != nil || i != 42 {
		t.Fatalf("envOverrideInt failed, got %d err=%v", i, err)
	}
	t.Setenv("AD_TEST_INT", "forty-two")
	if err := envOverrideInt(&i, "AD_TEST_INT"); err == nil {
		t.Fatal("expected envOverrideInt to reject a non-number")
	}

	b := false
	t.Setenv("AD_TEST_BOOL", "1")
	envOverrideBool(&b, "AD_TEST_BOOL")
	if !b {
		t.Fatalf("envOverrideBool failed, got %v", b)
	}
}

func TestLoadConfigInvalidTicketingFatal(t *testing.T) {
	if os.Getenv("TEST_INVALID_TICKETING_FATAL") == "1" {
		_ = os.Setenv("CONFIG_PATH", filepath.Join(os.TempDir(), "no-config.yaml"))
		_ = os.Setenv("TICKETING_SYSTEM", "remedy")
		LoadConfig()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestLoadConfigInvalidTicketingFatal")
	cmd.Env = append(os.Environ(), "TEST_INVALID_TICKETING_FATAL=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with failure")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got: %v", err)
	}
}
