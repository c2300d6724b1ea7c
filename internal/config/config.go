package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"apiary/internal/colony"
	"apiary/internal/policy"
)

// Config models apiary.yml.
type Config struct {
	Hive struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"hive"`
	Policy struct {
		TrustLevel                string `yaml:"trust_level"`
		DelegatedRequiresApproval bool   `yaml:"delegated_requires_approval"`
	} `yaml:"policy"`
	Workers struct {
		Total int `yaml:"total"`
	} `yaml:"workers"`
	Colonies map[string]ColonyConfig `yaml:"colonies"`
	Retry    RetryConfig             `yaml:"retry"`
	Auth     struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ColonyConfig struct {
	Priority   string `yaml:"priority"`
	MinWorkers int    `yaml:"min_workers"`
	MaxWorkers int    `yaml:"max_workers"`
	Enabled    bool   `yaml:"enabled"`
}

type RetryConfig struct {
	Strategy          string  `yaml:"strategy"`
	MaxRetries        int     `yaml:"max_retries"`
	BackoffSeconds    float64 `yaml:"backoff_seconds"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

var trustLevels = map[string]bool{
	string(policy.TrustSupervised):     true,
	string(policy.TrustProposeConfirm): true,
	string(policy.TrustDelegated):      true,
}

var retryStrategies = map[string]bool{
	string(colony.RetryNone):            true,
	string(colony.RetrySameWorker):      true,
	string(colony.RetryDifferentWorker): true,
	string(colony.RetryAnyWorker):       true,
}

var priorities = map[string]bool{
	string(colony.PriorityCritical):   true,
	string(colony.PriorityHigh):       true,
	string(colony.PriorityNormal):     true,
	string(colony.PriorityLow):        true,
	string(colony.PriorityBackground): true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with apiary init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Hive.ID == "" {
		return fmt.Errorf("config.hive.id is required")
	}
	if !trustLevels[c.Policy.TrustLevel] {
		return fmt.Errorf("config.policy.trust_level must be one of supervised, propose_confirm, delegated")
	}
	if c.Workers.Total < 1 {
		return fmt.Errorf("config.workers.total must be at least 1")
	}
	for id, cc := range c.Colonies {
		if id == "" {
			return fmt.Errorf("config.colonies contains empty colony id")
		}
		if cc.Priority != "" && !priorities[cc.Priority] {
			return fmt.Errorf("colony %s has unknown priority %s", id, cc.Priority)
		}
		if cc.MinWorkers < 0 {
			return fmt.Errorf("colony %s has negative min_workers", id)
		}
		if cc.MaxWorkers < cc.MinWorkers {
			return fmt.Errorf("colony %s has max_workers below min_workers", id)
		}
	}
	if c.Retry.Strategy != "" && !retryStrategies[c.Retry.Strategy] {
		return fmt.Errorf("config.retry.strategy must be one of none, same_worker, different_worker, any_worker")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("config.retry.max_retries must not be negative")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// TrustLevel returns the configured trust level.
func (c *Config) TrustLevel() policy.TrustLevel {
	return policy.TrustLevel(c.Policy.TrustLevel)
}

// Gate builds the policy gate from config.
func (c *Config) Gate() policy.Gate {
	return policy.Gate{DelegatedRequiresApproval: c.Policy.DelegatedRequiresApproval}
}

// RetryPolicy converts the retry section into a colony retry policy,
// falling back to defaults for unset fields.
func (c *Config) RetryPolicy() colony.RetryPolicy {
	p := colony.DefaultRetryPolicy()
	if c.Retry.Strategy != "" {
		p.Strategy = colony.Strategy(c.Retry.Strategy)
	}
	if c.Retry.MaxRetries > 0 {
		p.MaxRetries = c.Retry.MaxRetries
	}
	if c.Retry.BackoffSeconds > 0 {
		p.BackoffSeconds = c.Retry.BackoffSeconds
	}
	if c.Retry.BackoffMultiplier > 0 {
		p.BackoffMultiplier = c.Retry.BackoffMultiplier
	}
	return p
}

// Scheduler builds a worker scheduler from the colonies section.
func (c *Config) Scheduler() *colony.Scheduler {
	s := colony.NewScheduler(c.Workers.Total)
	for id, cc := range c.Colonies {
		prio := colony.Priority(cc.Priority)
		if cc.Priority == "" {
			prio = colony.PriorityNormal
		}
		s.Register(colony.ColonyConfig{
			ColonyID:   id,
			Priority:   prio,
			MinWorkers: cc.MinWorkers,
			MaxWorkers: cc.MaxWorkers,
			Enabled:    cc.Enabled,
		})
	}
	return s
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "apiary.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(hiveID string) string {
	return fmt.Sprintf(defaultTemplate, hiveID)
}

// Default returns the default Config struct for a hive.
func Default(hiveID string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(hiveID)))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `hive:
  id: %s
  name: ""

policy:
  trust_level: propose_confirm
  delegated_requires_approval: false

workers:
  total: 10

colonies:
  default:
    priority: normal
    min_workers: 1
    max_workers: 10
    enabled: true

retry:
  strategy: any_worker
  max_retries: 3
  backoff_seconds: 1
  backoff_multiplier: 2
`
