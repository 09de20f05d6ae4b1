// Package config holds all scenefix configuration, loaded from
// .scenefix/config.yaml with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all scenefix configuration.
type Config struct {
	Model    ModelConfig   `yaml:"model"`
	Sandbox  SandboxConfig `yaml:"sandbox"`
	Refiner  RefinerConfig `yaml:"refiner"`
	Frame    FrameConfig   `yaml:"frame"`
	Linter   LinterConfig  `yaml:"linter"`
	Store    StoreConfig   `yaml:"store"`
	Timeouts Timeouts      `yaml:"timeouts"`
	Logging  LoggingConfig `yaml:"logging"`
}

// ModelConfig configures the Gemini model backend.
type ModelConfig struct {
	APIKey      string  `yaml:"api_key"`
	TextModel   string  `yaml:"text_model"`   // verifier + LLM fixer
	VisionModel string  `yaml:"vision_model"` // multimodal frame checks
	Temperature float32 `yaml:"temperature"`
}

// SandboxConfig configures dry-run and render subprocess execution.
type SandboxConfig struct {
	ManimBinary  string   `yaml:"manim_binary"`  // default "manim"
	FFmpegBinary string   `yaml:"ffmpeg_binary"` // default "ffmpeg"
	RenderArgs   []string `yaml:"render_args"`   // extra manim render flags

	// MaxConcurrentRuns bounds dry-run subprocesses across all sessions.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// MaxOutputBytes caps captured stdout+stderr per execution.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`
}

// RefinerConfig configures the refinement loop.
type RefinerConfig struct {
	MaxAttempts       int  `yaml:"max_attempts"`
	MaxLLMIssues      int  `yaml:"max_llm_issues"`      // per-turn cap on issues sent to the LLM fixer
	VerifierBatchSize int  `yaml:"verifier_batch_size"` // issues per verification probe
	VisionBatchSize   int  `yaml:"vision_batch_size"`   // frames per multimodal query
	FixHistorySize    int  `yaml:"fix_history_size"`    // turns of fix history kept for LLM context
	EnableSpatial     bool `yaml:"enable_spatial"`      // preflight spatial checks in dry runs
}

// FrameConfig holds the scene geometry used for out-of-bounds clamping.
// Defaults match manim's 16:9 frame (14.22 x 8 units).
type FrameConfig struct {
	HalfWidth  float64 `yaml:"half_width"`
	HalfHeight float64 `yaml:"half_height"`
	SafeMargin float64 `yaml:"safe_margin"`
}

// LinterConfig configures the external execution-blocking lint pass.
type LinterConfig struct {
	Binary string   `yaml:"binary"` // default "ruff"
	Rules  []string `yaml:"rules"`  // rule codes that abort execution
}

// StoreConfig configures the sqlite audit store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default .scenefix/audit.db
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Model: ModelConfig{
			TextModel:   "gemini-2.5-flash",
			VisionModel: "gemini-2.5-flash",
			Temperature: 0.2,
		},
		Sandbox: SandboxConfig{
			ManimBinary:       "manim",
			FFmpegBinary:      "ffmpeg",
			MaxConcurrentRuns: 2,
			MaxOutputBytes:    4 * 1024 * 1024,
		},
		Refiner: RefinerConfig{
			MaxAttempts:       5,
			MaxLLMIssues:      8,
			VerifierBatchSize: 10,
			VisionBatchSize:   4,
			FixHistorySize:    5,
			EnableSpatial:     true,
		},
		Frame: FrameConfig{
			HalfWidth:  7.11,
			HalfHeight: 4.0,
			SafeMargin: 0.25,
		},
		Linter: LinterConfig{
			Binary: "ruff",
			// Only rules that would abort execution: undefined names,
			// broken __all__, shadowed binding before use, syntax errors.
			Rules: []string{"F821", "F822", "F823", "E999"},
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    filepath.Join(".scenefix", "audit.db"),
		},
		Timeouts: DefaultTimeouts(),
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads .scenefix/config.yaml under the workspace, falling back to
// defaults when the file is absent. Environment overrides are applied last.
func Load(workspace string) (Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".scenefix", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets CI and one-off runs override the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCENEFIX_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Model.APIKey == "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("SCENEFIX_TEXT_MODEL"); v != "" {
		cfg.Model.TextModel = v
	}
	if v := os.Getenv("SCENEFIX_VISION_MODEL"); v != "" {
		cfg.Model.VisionModel = v
	}
	if v := os.Getenv("SCENEFIX_DEBUG"); v == "1" || v == "true" {
		cfg.Logging.Debug = true
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Refiner.MaxAttempts <= 0 {
		return fmt.Errorf("refiner.max_attempts must be positive, got %d", c.Refiner.MaxAttempts)
	}
	if c.Sandbox.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("sandbox.max_concurrent_runs must be positive, got %d", c.Sandbox.MaxConcurrentRuns)
	}
	if c.Frame.HalfWidth <= 0 || c.Frame.HalfHeight <= 0 {
		return fmt.Errorf("frame dimensions must be positive")
	}
	return nil
}
