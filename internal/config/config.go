package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tfelbr/FMBP/internal/lsp"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "fmbp.yml"

// Config represents the top-level fmbp.yml configuration
type Config struct {
	Version  string          `yaml:"version"`
	Model    string          `yaml:"model"` // Path to the UVL model file
	Solver   SolverConfig    `yaml:"solver"`
	Bulletin *BulletinConfig `yaml:"bulletin,omitempty"`
	Context  *ContextConfig  `yaml:"context,omitempty"`
	Run      *RunConfig      `yaml:"run,omitempty"`
}

// SolverConfig specifies how the UVL language server is started and polled
type SolverConfig struct {
	Command       []string       `yaml:"command"`
	ResultDir     string         `yaml:"result_dir,omitempty"`     // Defaults to the model's directory; also the solver's working directory
	ResultTimeout *time.Duration `yaml:"result_timeout,omitempty"` // Negative waits forever, default 30s
	PollInterval  time.Duration  `yaml:"poll_interval,omitempty"`
}

// BulletinConfig enables publishing reconfigurations to Redis
type BulletinConfig struct {
	RedisURL string `yaml:"redis_url"`
	Instance string `yaml:"instance"`
}

// ContextConfig adds context values for configuration generation on top of
// the program's own. Sources are merged in order static, redis, mqtt; later
// sources win.
type ContextConfig struct {
	Static map[string]interface{} `yaml:"static,omitempty"`
	Redis  *RedisContextConfig    `yaml:"redis,omitempty"`
	MQTT   *MQTTContextConfig     `yaml:"mqtt,omitempty"`
}

// RedisContextConfig reads context values from a Redis hash
type RedisContextConfig struct {
	URL string `yaml:"url,omitempty"` // Defaults to bulletin.redis_url
	Key string `yaml:"key"`
}

// MQTTContextConfig reads context values from MQTT topics
type MQTTContextConfig struct {
	Broker   string            `yaml:"broker"`
	ClientID string            `yaml:"client_id,omitempty"`
	Topics   map[string]string `yaml:"topics"` // topic → context name
}

// RunConfig bounds program execution
type RunConfig struct {
	MaxSteps *int `yaml:"max_steps,omitempty"` // 0 = unbounded
}

// Load reads fmbp.yml, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	config, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Read parses fmbp.yml and applies environment overrides without
// validating, so that callers can layer flags on top first. Relative paths
// are resolved against the file's directory.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	config.resolvePaths(filepath.Dir(path))

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) resolvePaths(dir string) {
	if c.Model != "" && !filepath.IsAbs(c.Model) {
		c.Model = filepath.Join(dir, c.Model)
	}
	if c.Solver.ResultDir != "" && !filepath.IsAbs(c.Solver.ResultDir) {
		c.Solver.ResultDir = filepath.Join(dir, c.Solver.ResultDir)
	}
}

// ApplyEnv overrides file settings from FMBP_MODEL, FMBP_SOLVER (a JSON
// array), REDIS_URL and FMBP_INSTANCE.
func (c *Config) ApplyEnv() error {
	if model := os.Getenv("FMBP_MODEL"); model != "" {
		c.Model = model
	}

	if solverJSON := os.Getenv("FMBP_SOLVER"); solverJSON != "" {
		var command []string
		if err := json.Unmarshal([]byte(solverJSON), &command); err != nil {
			return fmt.Errorf("failed to parse FMBP_SOLVER as JSON array: %w", err)
		}
		c.Solver.Command = command
	}

	redisURL := os.Getenv("REDIS_URL")
	instance := os.Getenv("FMBP_INSTANCE")
	if redisURL != "" || instance != "" {
		if c.Bulletin == nil {
			c.Bulletin = &BulletinConfig{}
		}
		if redisURL != "" {
			c.Bulletin.RedisURL = redisURL
		}
		if instance != "" {
			c.Bulletin.Instance = instance
		}
	}

	return nil
}

// Validate performs strict validation and fills in defaults
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Solver.ResultDir == "" {
		c.Solver.ResultDir = filepath.Dir(c.Model)
	}

	if err := c.Solver.Validate(); err != nil {
		return err
	}

	if c.Bulletin != nil {
		if c.Bulletin.RedisURL == "" {
			return fmt.Errorf("bulletin.redis_url is required")
		}
		if c.Bulletin.Instance == "" {
			return fmt.Errorf("bulletin.instance is required")
		}
	}

	if c.Context != nil {
		if err := c.Context.Validate(c.Bulletin); err != nil {
			return err
		}
	}

	if c.Run == nil {
		c.Run = &RunConfig{}
	}
	if c.Run.MaxSteps == nil {
		unbounded := 0
		c.Run.MaxSteps = &unbounded
	}
	if *c.Run.MaxSteps < 0 {
		return fmt.Errorf("run.max_steps must be >= 0 (0 = unbounded), got %d", *c.Run.MaxSteps)
	}

	return nil
}

// Validate checks the solver section and applies timing defaults
func (s *SolverConfig) Validate() error {
	if len(s.Command) == 0 {
		return fmt.Errorf("solver.command is required")
	}

	if s.ResultTimeout == nil {
		timeout := lsp.DefaultResultTimeout
		s.ResultTimeout = &timeout
	}

	if s.PollInterval == 0 {
		s.PollInterval = lsp.DefaultPollInterval
	}
	if s.PollInterval < 0 {
		return fmt.Errorf("solver.poll_interval must be positive, got %s", s.PollInterval)
	}

	return nil
}

// Validate checks each configured context source
func (c *ContextConfig) Validate(bulletin *BulletinConfig) error {
	if c.Redis != nil {
		if c.Redis.Key == "" {
			return fmt.Errorf("context.redis.key is required")
		}
		if c.Redis.URL == "" {
			if bulletin == nil {
				return fmt.Errorf("context.redis.url is required when no bulletin is configured")
			}
			c.Redis.URL = bulletin.RedisURL
		}
	}

	if c.MQTT != nil {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("context.mqtt.broker is required")
		}
		if len(c.MQTT.Topics) == 0 {
			return fmt.Errorf("context.mqtt.topics must name at least one topic")
		}
		for topic, name := range c.MQTT.Topics {
			if name == "" {
				return fmt.Errorf("context.mqtt.topics: topic '%s' has no context name", topic)
			}
		}
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "fmbp"
		}
	}

	return nil
}

// ClientOptions converts the solver settings for the protocol client
func (c *Config) ClientOptions() lsp.Options {
	opts := lsp.Options{
		ModelPath:    c.Model,
		ResultDir:    c.Solver.ResultDir,
		PollInterval: c.Solver.PollInterval,
	}
	if c.Solver.ResultTimeout != nil {
		opts.ResultTimeout = *c.Solver.ResultTimeout
	}
	return opts
}

// MaxSteps returns the step bound, 0 meaning unbounded
func (c *Config) MaxSteps() int {
	if c.Run == nil || c.Run.MaxSteps == nil {
		return 0
	}
	return *c.Run.MaxSteps
}
