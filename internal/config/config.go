package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv    = "JA_TRANSLATE_CONFIG"
	agentEndpointEnv = "JA_TRANSLATE_ENDPOINT"
	agentAPIKeyEnv   = "JA_TRANSLATE_API_KEY"
	agentModelEnv    = "JA_TRANSLATE_MODEL"
)

// Config holds the immutable settings passed to the orchestrator at
// construction. Loaded once; never mutated during a run.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Agent    AgentConfig    `yaml:"agent"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PathsConfig locates the source tree, output tree and sidecar files.
type PathsConfig struct {
	SourceDir    string `yaml:"sourceDir"`
	OutputDir    string `yaml:"outputDir"`
	GlossaryFile string `yaml:"glossaryFile"`
	ProgressDB   string `yaml:"progressDb"`
}

// AgentConfig defines how to contact the translation agent. Durations are
// plain seconds in YAML.
type AgentConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"apiKey"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`

	// Connection establishment: geometric backoff, bounded attempts.
	ConnectAttempts         int     `yaml:"connectAttempts"`
	ConnectBaseDelaySeconds int     `yaml:"connectBaseDelaySeconds"`
	ConnectFactor           float64 `yaml:"connectFactor"`
}

// Timeout is the per-call deadline.
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// ConnectBaseDelay is the wait before the second connection attempt.
func (a AgentConfig) ConnectBaseDelay() time.Duration {
	return time.Duration(a.ConnectBaseDelaySeconds) * time.Second
}

// PipelineConfig tunes the per-block loop.
type PipelineConfig struct {
	// MaxRetry bounds translation attempts per block.
	MaxRetry int `yaml:"maxRetry"`
	// MaxBlockAttempts bounds how many runs may retry a failed block
	// before it is given up for good.
	MaxBlockAttempts int `yaml:"maxBlockAttempts"`
	// CheckpointInterval flushes the partially translated document and
	// its progress record every N processed blocks.
	CheckpointInterval int `yaml:"checkpointInterval"`
	// ContextChars truncates the previous/next block text sent as
	// discourse context.
	ContextChars int `yaml:"contextChars"`
	// GlossaryHintLimit caps glossary rows attached to one request.
	GlossaryHintLimit int `yaml:"glossaryHintLimit"`
	// ResidueRatio is the maximum share of Japanese script runes allowed
	// in a translated block before it is rejected as a passthrough.
	ResidueRatio float64 `yaml:"residueRatio"`
}

// LoggingConfig controls console output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides.
func Load(path string) Config {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(agentEndpointEnv); v != "" {
		c.Agent.Endpoint = v
	}
	if v := os.Getenv(agentAPIKeyEnv); v != "" {
		c.Agent.APIKey = v
	}
	if v := os.Getenv(agentModelEnv); v != "" {
		c.Agent.Model = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Paths.SourceDir != "" {
		base.Paths.SourceDir = override.Paths.SourceDir
	}
	if override.Paths.OutputDir != "" {
		base.Paths.OutputDir = override.Paths.OutputDir
	}
	if override.Paths.GlossaryFile != "" {
		base.Paths.GlossaryFile = override.Paths.GlossaryFile
	}
	if override.Paths.ProgressDB != "" {
		base.Paths.ProgressDB = override.Paths.ProgressDB
	}

	if override.Agent.Endpoint != "" {
		base.Agent.Endpoint = override.Agent.Endpoint
	}
	if override.Agent.Model != "" {
		base.Agent.Model = override.Agent.Model
	}
	if override.Agent.APIKey != "" {
		base.Agent.APIKey = override.Agent.APIKey
	}
	if override.Agent.TimeoutSeconds > 0 {
		base.Agent.TimeoutSeconds = override.Agent.TimeoutSeconds
	}
	if override.Agent.ConnectAttempts > 0 {
		base.Agent.ConnectAttempts = override.Agent.ConnectAttempts
	}
	if override.Agent.ConnectBaseDelaySeconds > 0 {
		base.Agent.ConnectBaseDelaySeconds = override.Agent.ConnectBaseDelaySeconds
	}
	if override.Agent.ConnectFactor > 0 {
		base.Agent.ConnectFactor = override.Agent.ConnectFactor
	}

	if override.Pipeline.MaxRetry > 0 {
		base.Pipeline.MaxRetry = override.Pipeline.MaxRetry
	}
	if override.Pipeline.MaxBlockAttempts > 0 {
		base.Pipeline.MaxBlockAttempts = override.Pipeline.MaxBlockAttempts
	}
	if override.Pipeline.CheckpointInterval > 0 {
		base.Pipeline.CheckpointInterval = override.Pipeline.CheckpointInterval
	}
	if override.Pipeline.ContextChars > 0 {
		base.Pipeline.ContextChars = override.Pipeline.ContextChars
	}
	if override.Pipeline.GlossaryHintLimit > 0 {
		base.Pipeline.GlossaryHintLimit = override.Pipeline.GlossaryHintLimit
	}
	if override.Pipeline.ResidueRatio > 0 {
		base.Pipeline.ResidueRatio = override.Pipeline.ResidueRatio
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			SourceDir:    "source/OEBPS",
			OutputDir:    "translated",
			GlossaryFile: "glossary.md",
			ProgressDB:   "progress.db",
		},
		Agent: AgentConfig{
			Endpoint:                "http://localhost:8000/v1/chat/completions",
			Model:                   "ja-zh-translator",
			TimeoutSeconds:          60,
			ConnectAttempts:         5,
			ConnectBaseDelaySeconds: 2,
			ConnectFactor:           2,
		},
		Pipeline: PipelineConfig{
			MaxRetry:           3,
			MaxBlockAttempts:   3,
			CheckpointInterval: 5,
			ContextChars:       30,
			GlossaryHintLimit:  10,
			ResidueRatio:       0.3,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
