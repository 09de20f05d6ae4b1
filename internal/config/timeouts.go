package config

import "time"

// Timeouts centralizes every external-boundary timeout in the engine.
// The shortest timeout in a chain wins: a generous HTTP client wrapped in
// a short context still fails at the context deadline, so each operation
// uses exactly one canonical value from here.
type Timeouts struct {
	// StaticValidation bounds the in-process parse + scan pass.
	StaticValidation time.Duration `yaml:"static_validation"`

	// DryRun is the hard wall-clock limit for a sandboxed dry-run
	// subprocess. Exceeding it yields a CRITICAL runtime issue, not a hang.
	DryRun time.Duration `yaml:"dry_run"`

	// Render bounds a full render subprocess.
	Render time.Duration `yaml:"render"`

	// FrameExtract bounds a single ffmpeg frame extraction.
	FrameExtract time.Duration `yaml:"frame_extract"`

	// ModelCall bounds one text-model request (verifier, LLM fixer).
	ModelCall time.Duration `yaml:"model_call"`

	// VisionCall bounds one multimodal request; image payloads are slower.
	VisionCall time.Duration `yaml:"vision_call"`

	// RetryBackoffBase and RetryBackoffMax shape the capped exponential
	// backoff applied to retried model calls.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`

	// MaxRetries is the retry count for transient model failures.
	MaxRetries int `yaml:"max_retries"`
}

// DefaultTimeouts returns the canonical values.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		StaticValidation: 2 * time.Second,
		DryRun:           30 * time.Second,
		Render:           10 * time.Minute,
		FrameExtract:     15 * time.Second,
		ModelCall:        2 * time.Minute,
		VisionCall:       3 * time.Minute,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  30 * time.Second,
		MaxRetries:       3,
	}
}

// Backoff returns the capped exponential delay before retry attempt n
// (0-based).
func (t Timeouts) Backoff(attempt int) time.Duration {
	d := t.RetryBackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= t.RetryBackoffMax {
			return t.RetryBackoffMax
		}
	}
	if d > t.RetryBackoffMax {
		return t.RetryBackoffMax
	}
	return d
}
