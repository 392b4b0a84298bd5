package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chorale-dev/chorale/internal/playbook"
)

type Config struct {
	Engine    EngineConfig            `yaml:"engine"`
	Tenants   map[string]TenantConfig `yaml:"tenants"`
	Agents    map[string]AgentConfig  `yaml:"agents"`
	Playbooks []PlaybookConfig        `yaml:"playbooks"`
	Tools     map[string]ToolConfig   `yaml:"tools"`
	NATS      NATSConfig              `yaml:"nats"`
	Store     StoreConfig             `yaml:"store"`
	Web       WebConfig               `yaml:"web"`
	Scheduler SchedulerConfig         `yaml:"scheduler"`
	Notify    NotifyConfig            `yaml:"notify"`
	Vault     VaultConfig             `yaml:"vault"`
}

type EngineConfig struct {
	// MaxConcurrent bounds independent-tier fan-out; 0 means tier size.
	MaxConcurrent int           `yaml:"max_concurrent"`
	AgentTimeout  time.Duration `yaml:"agent_timeout"`
	ToolRounds    int           `yaml:"tool_rounds"`
	// InferTool names the tool every agent is executed through.
	InferTool string `yaml:"infer_tool"`
}

type TenantConfig struct {
	Domains    map[string]DomainConfig `yaml:"domains"`
	PolicyFile string                  `yaml:"policy_file"`
}

type DomainConfig struct {
	// GeoToleranceKM enables the cross-agent location consistency rule
	// when greater than zero.
	GeoToleranceKM  float64 `yaml:"geo_tolerance_km"`
	InsightMaxChars int     `yaml:"insight_max_chars"`
	MergeStrategy   string  `yaml:"merge_strategy"` // flat (default) or by_agent
}

// AgentConfig is one agent definition as written in the config file, keyed
// by agent id in the top-level agents map.
type AgentConfig struct {
	Instructions string                        `yaml:"instructions"`
	AllowedTools []string                      `yaml:"allowed_tools"`
	OutputSchema map[string]playbook.FieldType `yaml:"output_schema"`
}

type PlaybookConfig struct {
	ID     string              `yaml:"id"`
	Tenant string              `yaml:"tenant"`
	Domain string              `yaml:"domain"`
	Kind   playbook.Kind       `yaml:"kind"`
	Agents []playbook.AgentRef `yaml:"agents"`
}

type ToolConfig struct {
	Kind       string        `yaml:"kind"` // http, nats or stub
	URL        string        `yaml:"url"`
	Subject    string        `yaml:"subject"`
	Credential string        `yaml:"credential"` // plain value or vault:<name>
	Timeout    time.Duration `yaml:"timeout"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type NotifyConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        int64  `yaml:"chat_id"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Engine: EngineConfig{
			AgentTimeout: 30 * time.Second,
			ToolRounds:   4,
			InferTool:    "infer",
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/chorale.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			PollInterval: 30 * time.Second,
		},
	}
}

// Path returns the config file location, honoring CHORALE_CONFIG.
func Path() string {
	if p := os.Getenv("CHORALE_CONFIG"); p != "" {
		return p
	}
	return "config/chorale.yaml"
}

func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the named config file over defaults, expanding environment
// variables in the YAML and applying CHORALE_* overrides afterwards. A
// missing file is not an error; defaults plus environment apply.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHORALE_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("CHORALE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CHORALE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CHORALE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CHORALE_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("CHORALE_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("CHORALE_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.AgentTimeout = d
		}
	}
}

func validate(cfg *Config) error {
	for id, agent := range cfg.Agents {
		if len(agent.OutputSchema) > 5 {
			return fmt.Errorf("agent %q declares %d output keys, limit is 5", id, len(agent.OutputSchema))
		}
		for key, ft := range agent.OutputSchema {
			if !ft.Valid() {
				return fmt.Errorf("agent %q key %q has unknown type %q", id, key, ft)
			}
		}
	}
	for _, pb := range cfg.Playbooks {
		if pb.Kind != playbook.KindIngestion && pb.Kind != playbook.KindQuery {
			return fmt.Errorf("playbook %q has unknown kind %q", pb.ID, pb.Kind)
		}
		for _, ref := range pb.Agents {
			if _, ok := cfg.Agents[ref.AgentID]; !ok {
				return fmt.Errorf("playbook %q references undefined agent %q", pb.ID, ref.AgentID)
			}
		}
	}
	return nil
}
