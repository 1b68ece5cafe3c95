package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfelbr/FMBP/internal/lsp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func validConfig() *Config {
	return &Config{
		Version: "1.0",
		Model:   "/models/tank.uvl",
		Solver:  SolverConfig{Command: []string{"uvls"}},
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
model: tank.uvl
solver:
  command: ["uvls", "--stdio"]
  result_timeout: 5s
  poll_interval: 10ms
bulletin:
  redis_url: redis://localhost:6379
  instance: tank-1
context:
  static:
    temperature: 20
  redis:
    key: tank:context
  mqtt:
    broker: tcp://localhost:1883
    topics:
      tank/level: level
run:
  max_steps: 50
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(filepath.Dir(path), "tank.uvl"), config.Model)
	assert.Equal(t, []string{"uvls", "--stdio"}, config.Solver.Command)
	assert.Equal(t, 5*time.Second, *config.Solver.ResultTimeout)
	assert.Equal(t, 10*time.Millisecond, config.Solver.PollInterval)
	assert.Equal(t, "tank-1", config.Bulletin.Instance)
	assert.Equal(t, 20, config.Context.Static["temperature"])
	assert.Equal(t, "redis://localhost:6379", config.Context.Redis.URL, "redis context defaults to the bulletin server")
	assert.Equal(t, "fmbp", config.Context.MQTT.ClientID)
	assert.Equal(t, map[string]string{"tank/level": "level"}, config.Context.MQTT.Topics)
	assert.Equal(t, 50, config.MaxSteps())
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/fmbp.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
solver:
  - this is invalid
    yaml syntax
`)

	config, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_InvalidConfiguration(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
model: tank.uvl
`)

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration: solver.command is required")
}

// TestLoad_EnvOverrides tests that environment variables take precedence
// over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
model: tank.uvl
solver:
  command: ["uvls"]
`)
	t.Setenv("FMBP_MODEL", "/elsewhere/other.uvl")
	t.Setenv("FMBP_SOLVER", `["/opt/uvls", "--log"]`)
	t.Setenv("REDIS_URL", "redis://redis:6379")
	t.Setenv("FMBP_INSTANCE", "env-instance")

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/elsewhere/other.uvl", config.Model)
	assert.Equal(t, []string{"/opt/uvls", "--log"}, config.Solver.Command)
	require.NotNil(t, config.Bulletin)
	assert.Equal(t, "redis://redis:6379", config.Bulletin.RedisURL)
	assert.Equal(t, "env-instance", config.Bulletin.Instance)
}

func TestApplyEnv_InvalidSolver(t *testing.T) {
	t.Setenv("FMBP_SOLVER", "uvls --stdio")

	err := validConfig().ApplyEnv()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse FMBP_SOLVER as JSON array")
}

func TestValidate_Defaults(t *testing.T) {
	config := validConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, lsp.DefaultResultTimeout, *config.Solver.ResultTimeout)
	assert.Equal(t, lsp.DefaultPollInterval, config.Solver.PollInterval)
	assert.Equal(t, 0, config.MaxSteps())

	opts := config.ClientOptions()
	assert.Equal(t, "/models/tank.uvl", opts.ModelPath)
	assert.Equal(t, "/models", opts.ResultDir, "results land next to the model")
	assert.Equal(t, lsp.DefaultResultTimeout, opts.ResultTimeout)

	t.Run("explicit result dir is kept", func(t *testing.T) {
		config := validConfig()
		config.Solver.ResultDir = "/tmp/results"
		require.NoError(t, config.Validate())
		assert.Equal(t, "/tmp/results", config.ClientOptions().ResultDir)
	})
}

func TestValidate_NegativeTimeoutWaitsForever(t *testing.T) {
	config := validConfig()
	forever := -time.Second
	config.Solver.ResultTimeout = &forever

	require.NoError(t, config.Validate())
	assert.Equal(t, -time.Second, config.ClientOptions().ResultTimeout)
}

func TestValidate_Errors(t *testing.T) {
	negative := -1

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unsupported version", func(c *Config) { c.Version = "2.0" }, "unsupported version: 2.0"},
		{"missing model", func(c *Config) { c.Model = "" }, "model is required"},
		{"missing solver command", func(c *Config) { c.Solver.Command = nil }, "solver.command is required"},
		{"negative poll interval", func(c *Config) { c.Solver.PollInterval = -time.Millisecond }, "solver.poll_interval must be positive"},
		{"bulletin without url", func(c *Config) { c.Bulletin = &BulletinConfig{Instance: "x"} }, "bulletin.redis_url is required"},
		{"bulletin without instance", func(c *Config) { c.Bulletin = &BulletinConfig{RedisURL: "redis://x"} }, "bulletin.instance is required"},
		{"redis context without key", func(c *Config) {
			c.Context = &ContextConfig{Redis: &RedisContextConfig{URL: "redis://x"}}
		}, "context.redis.key is required"},
		{"redis context without server", func(c *Config) {
			c.Context = &ContextConfig{Redis: &RedisContextConfig{Key: "k"}}
		}, "context.redis.url is required"},
		{"mqtt without broker", func(c *Config) {
			c.Context = &ContextConfig{MQTT: &MQTTContextConfig{Topics: map[string]string{"t": "n"}}}
		}, "context.mqtt.broker is required"},
		{"mqtt without topics", func(c *Config) {
			c.Context = &ContextConfig{MQTT: &MQTTContextConfig{Broker: "tcp://b:1883"}}
		}, "must name at least one topic"},
		{"mqtt topic without name", func(c *Config) {
			c.Context = &ContextConfig{MQTT: &MQTTContextConfig{Broker: "tcp://b:1883", Topics: map[string]string{"t": ""}}}
		}, "topic 't' has no context name"},
		{"negative max steps", func(c *Config) { c.Run = &RunConfig{MaxSteps: &negative} }, "run.max_steps must be >= 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)

			err := config.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// TestRead_SkipsValidation tests that an incomplete file can be read and
// completed before validation.
func TestRead_SkipsValidation(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
model: tank.uvl
`)

	config, err := Read(path)
	require.NoError(t, err)
	assert.Empty(t, config.Solver.Command)

	config.Solver.Command = []string{"uvls"}
	assert.NoError(t, config.Validate())
}
