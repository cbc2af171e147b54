package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"overwatch/internal/domain"
)

// Config models overwatch.yml.
type Config struct {
	Watchdog struct {
		ID          string `yaml:"id"`
		EvidenceDir string `yaml:"evidence_dir"`
	} `yaml:"watchdog"`
	Missions []domain.Mission `yaml:"missions"`
	Runner   struct {
		MaxParallel     int `yaml:"max_parallel"`
		TimeoutSeconds  int `yaml:"timeout_seconds"`
		CooldownSeconds int `yaml:"cooldown_seconds"`
	} `yaml:"runner"`
	Probes []struct {
		Name     string `yaml:"name"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"probes"`
	Health struct {
		HealthyStatus       []int `yaml:"healthy_status"`
		ProbeTimeoutSeconds int   `yaml:"probe_timeout_seconds"`
		RetryDelaySeconds   int   `yaml:"retry_delay_seconds"`
		RestartWaitSeconds  int   `yaml:"restart_wait_seconds"`
	} `yaml:"health"`
	Scanner struct {
		AllowPaths      []string `yaml:"allow_paths"`
		AllowPatterns   []string `yaml:"allow_patterns"`
		ExtraPatterns   []string `yaml:"extra_patterns"`
		CredentialsFile string   `yaml:"credentials_file"`
	} `yaml:"scanner"`
	Scoring struct {
		Weights map[string]float64 `yaml:"weights"`
	} `yaml:"scoring"`
	Shutdown struct {
		ProcessPatterns []string        `yaml:"process_patterns"`
		PowerOff        bool            `yaml:"power_off"`
		GraceSeconds    int             `yaml:"grace_seconds"`
		Webhooks        []WebhookConfig `yaml:"webhooks"`
	} `yaml:"shutdown"`
}

type WebhookConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        *bool  `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ovw config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
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
	if c.Watchdog.ID == "" {
		return fmt.Errorf("config.watchdog.id is required")
	}
	// Duplicate sequences are allowed: missions sharing an ordinal form a
	// wave and may run concurrently.
	for _, m := range c.Missions {
		if m.Sequence <= 0 {
			return fmt.Errorf("mission %q has non-positive sequence %d", m.Name, m.Sequence)
		}
		if m.Name == "" {
			return fmt.Errorf("mission with sequence %d has no name", m.Sequence)
		}
		if m.Ref == "" {
			return fmt.Errorf("mission %q has empty ref", m.Name)
		}
	}
	for _, p := range c.Probes {
		if p.Name == "" || p.Endpoint == "" {
			return fmt.Errorf("probe entries require name and endpoint (got name=%q endpoint=%q)", p.Name, p.Endpoint)
		}
	}
	if c.Runner.MaxParallel < 1 {
		return fmt.Errorf("config.runner.max_parallel must be >= 1")
	}
	if c.Runner.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.runner.timeout_seconds must be > 0")
	}
	if len(c.Scoring.Weights) > 0 {
		var sum float64
		for name, w := range c.Scoring.Weights {
			if w <= 0 {
				return fmt.Errorf("scoring weight %s must be positive", name)
			}
			sum += w
		}
		if sum < 0.999 || sum > 1.001 {
			return fmt.Errorf("scoring weights must sum to 1.0 (got %.3f)", sum)
		}
	}
	if c.Shutdown.GraceSeconds < 0 {
		return fmt.Errorf("config.shutdown.grace_seconds must be >= 0")
	}
	return nil
}

// ProbeList converts configured probes into domain values.
func (c *Config) ProbeList() []domain.ServiceProbe {
	probes := make([]domain.ServiceProbe, 0, len(c.Probes))
	for _, p := range c.Probes {
		probes = append(probes, domain.ServiceProbe{Name: p.Name, Endpoint: p.Endpoint, LastStatus: domain.ProbeUnknown})
	}
	return probes
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "overwatch.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(watchdogID string) string {
	return fmt.Sprintf(defaultTemplate, watchdogID)
}

// Default returns the default Config struct for a watchdog id.
func Default(watchdogID string) *Config {
	var cfg Config
	cfg.Watchdog.ID = watchdogID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, watchdogID))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `watchdog:
  id: %s
  evidence_dir: /var/tmp/overwatch-evidence

missions: []

runner:
  max_parallel: 2
  timeout_seconds: 300
  cooldown_seconds: 5

probes: []

health:
  healthy_status: [200, 301, 302]
  probe_timeout_seconds: 3
  retry_delay_seconds: 2
  restart_wait_seconds: 30

scanner:
  allow_paths:
    - .overwatch
    - .git
    - node_modules
  allow_patterns: []
  extra_patterns: []
  credentials_file: .credentials

scoring:
  weights: {}

shutdown:
  process_patterns: []
  power_off: false
  grace_seconds: 10
  webhooks: []
`
