package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 15 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	DefaultGenesysOAuthEndpoint = "https://login.usw2.pure.cloud/oauth/token"
	DefaultGenesysAPIEndpoint   = "https://api.usw2.pure.cloud"
)

var ticketingSystems = []string{"servicenow", "jira", "zendesk", "salesforce", "demo"}

// TicketingBackend holds connection settings for one ticketing system.
// Either APIToken or the client-credentials triple must be set for
// non-demo backends.
type TicketingBackend struct {
	BaseURL       string `yaml:"base_url"`
	TokenEndpoint string `yaml:"token_endpoint"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	APIToken      string `yaml:"api_token"`
	Project       string `yaml:"project"`
}

type Config struct {
	GenesysClientID      string `yaml:"genesys_client_id"`
	GenesysClientSecret  string `yaml:"genesys_client_secret"`
	GenesysOAuthEndpoint string `yaml:"genesys_oauth_endpoint"`
	GenesysAPIEndpoint   string `yaml:"genesys_api_endpoint"`
	GenesysOrgName       string `yaml:"genesys_org_name"`
	GenesysRegion        string `yaml:"genesys_region"`

	TicketingSystem   string                      `yaml:"ticketing_system"`
	TicketingBackends map[string]TicketingBackend `yaml:"ticketing_backends"`

	PollSchedule                 string `yaml:"poll_schedule"`
	PollPageSize                 int    `yaml:"poll_page_size"`
	AutoProcess                  bool   `yaml:"auto_process"`
	NewConversationWindowSeconds int    `yaml:"new_conversation_window_seconds"`

	IntentCatalogPath string `yaml:"intent_catalog_path"`

	DBPath                     string `yaml:"db_path"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	ListenAddr                 string `yaml:"listen_addr"`
	LogLevel                   string `yaml:"log_level"`

	SlackBotToken          string `yaml:"slack_bot_token"`
	SlackEscalationChannel string `yaml:"slack_escalation_channel"`

	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
}

// LoadConfig reads config.yaml (or CONFIG_PATH), applies env overrides and
// defaults, and exits the process on invalid configuration.
func LoadConfig() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

// Load is LoadConfig without the exit, for callers that report errors
// themselves.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		parsed, err := Parse(data)
		if err != nil {
			return Config{}, fmt.Errorf("error parsing %s: %w", configPath, err)
		}
		cfg = parsed
		log.Printf("Loaded config from %s", configPath)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML without applying env overrides or defaults.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envOverride(&cfg.GenesysClientID, "GENESYS_CLIENT_ID")
	envOverride(&cfg.GenesysClientSecret, "GENESYS_CLIENT_SECRET")
	envOverride(&cfg.GenesysOAuthEndpoint, "GENESYS_OAUTH_ENDPOINT")
	envOverride(&cfg.GenesysAPIEndpoint, "GENESYS_API_ENDPOINT")
	envOverride(&cfg.GenesysOrgName, "GENESYS_ORG_NAME")
	envOverride(&cfg.GenesysRegion, "GENESYS_REGION")
	envOverride(&cfg.TicketingSystem, "TICKETING_SYSTEM")
	envOverride(&cfg.PollSchedule, "POLL_SCHEDULE")
	envOverride(&cfg.IntentCatalogPath, "INTENT_CATALOG_PATH")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackEscalationChannel, "SLACK_ESCALATION_CHANNEL")
	envOverrideAllowEmpty(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.AMQPURL, "AMQP_URL")
	envOverride(&cfg.AMQPExchange, "AMQP_EXCHANGE")
	envOverrideBool(&cfg.AutoProcess, "AUTO_PROCESS")
	if err := envOverrideInt(&cfg.PollPageSize, "POLL_PAGE_SIZE"); err != nil {
		return err
	}
	if err := envOverrideInt(&cfg.NewConversationWindowSeconds, "NEW_CONVERSATION_WINDOW_SECONDS"); err != nil {
		return err
	}
	if err := envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"); err != nil {
		return err
	}

	// Connection overrides apply to whichever backend is selected.
	baseURL := os.Getenv("TICKETING_BASE_URL")
	apiToken := os.Getenv("TICKETING_API_TOKEN")
	if baseURL != "" || apiToken != "" {
		name := strings.ToLower(strings.TrimSpace(cfg.TicketingSystem))
		if cfg.TicketingBackends == nil {
			cfg.TicketingBackends = make(map[string]TicketingBackend)
		}
		backend := cfg.TicketingBackends[name]
		envOverride(&backend.BaseURL, "TICKETING_BASE_URL")
		envOverride(&backend.APIToken, "TICKETING_API_TOKEN")
		cfg.TicketingBackends[name] = backend
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.GenesysOAuthEndpoint == "" {
		c.GenesysOAuthEndpoint = DefaultGenesysOAuthEndpoint
	}
	if c.GenesysAPIEndpoint == "" {
		c.GenesysAPIEndpoint = DefaultGenesysAPIEndpoint
	}
	if c.GenesysOrgName == "" {
		c.GenesysOrgName = "tp-ctss42"
	}
	if c.GenesysRegion == "" {
		c.GenesysRegion = "usw2"
	}
	c.TicketingSystem = strings.ToLower(strings.TrimSpace(c.TicketingSystem))
	if c.TicketingSystem == "" {
		c.TicketingSystem = "demo"
	}
	if c.PollSchedule == "" {
		c.PollSchedule = "@every 10s"
	}
	if c.PollPageSize == 0 {
		c.PollPageSize = 25
	}
	if c.NewConversationWindowSeconds == 0 {
		c.NewConversationWindowSeconds = 10
	}
	if c.DBPath == "" {
		c.DBPath = "./agentdesk.db"
	}
	if c.ExternalHTTPTimeoutSeconds == 0 {
		c.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.AMQPExchange == "" {
		c.AMQPExchange = "agentdesk.events"
	}
	if c.LLMProvider != "" && c.LLMModel == "" {
		c.LLMModel = "claude-sonnet-4-5-20250929"
	}
}

func (c Config) Validate() error {
	if !validTicketingSystem(c.TicketingSystem) {
		return fmt.Errorf("ticketing_system must be one of %s, got '%s'", strings.Join(ticketingSystems, ", "), c.TicketingSystem)
	}
	if c.TicketingSystem != "demo" {
		backend, ok := c.TicketingBackends[c.TicketingSystem]
		if !ok || backend.BaseURL == "" {
			return fmt.Errorf("ticketing_backends.%s.base_url is required when ticketing_system=%s", c.TicketingSystem, c.TicketingSystem)
		}
		hasClientCreds := backend.ClientID != "" && backend.ClientSecret != "" && backend.TokenEndpoint != ""
		if backend.APIToken == "" && !hasClientCreds {
			return fmt.Errorf("ticketing_backends.%s needs api_token or token_endpoint+client_id+client_secret", c.TicketingSystem)
		}
	}
	if (c.GenesysClientID == "") != (c.GenesysClientSecret == "") {
		return fmt.Errorf("partial Genesys config: genesys_client_id and genesys_client_secret are required together")
	}
	if c.PollPageSize < 1 || c.PollPageSize > 100 {
		return fmt.Errorf("invalid poll_page_size '%d': must be between 1 and 100", c.PollPageSize)
	}
	if c.NewConversationWindowSeconds < 1 {
		return fmt.Errorf("invalid new_conversation_window_seconds '%d': must be >= 1", c.NewConversationWindowSeconds)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 || c.ExternalHTTPTimeoutSeconds > 120 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be between 5 and 120", c.ExternalHTTPTimeoutSeconds)
	}
	switch c.LogLevel {
	case "info", "debug":
	default:
		return fmt.Errorf("log_level must be 'info' or 'debug', got '%s'", c.LogLevel)
	}
	switch c.LLMProvider {
	case "":
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	default:
		return fmt.Errorf("llm_provider must be 'anthropic' or empty, got '%s'", c.LLMProvider)
	}
	if (c.SlackBotToken == "") != (c.SlackEscalationChannel == "") {
		return fmt.Errorf("slack_bot_token and slack_escalation_channel are required together")
	}
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

func validTicketingSystem(name string) bool {
	for _, s := range ticketingSystems {
		if s == name {
			return true
		}
	}
	return false
}

func (c Config) GenesysConfigured() bool {
	return c.GenesysClientID != "" && c.GenesysClientSecret != ""
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackEscalationChannel != ""
}

func (c Config) AMQPConfigured() bool {
	return c.AMQPURL != ""
}

func (c Config) NewConversationWindow() time.Duration {
	return time.Duration(c.NewConversationWindowSeconds) * time.Second
}
