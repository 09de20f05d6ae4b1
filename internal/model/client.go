// Package model is the single model-backend boundary for the engine.
// The issue verifier, vision validator and LLM fixer all consume the
// same Client interface; timeouts and retries are handled here so
// callers only ever see typed failures.
package model

import (
	"context"
	"errors"
	"time"

	"scenefix/internal/config"
	"scenefix/internal/logging"
)

// ErrModelUnavailable is returned when no backend is configured.
var ErrModelUnavailable = errors.New("model backend unavailable")

// ErrModelTimeout is returned when a call exceeded its deadline after all
// retries. Callers must treat it as a typed failure, never a cancellation.
var ErrModelTimeout = errors.New("model call timed out")

// Request is one text-generation call.
type Request struct {
	Prompt            string
	SystemInstruction string
	Temperature       float32
	// JSONOutput asks the backend for a JSON response body.
	JSONOutput bool
}

// Image is one inline image for a multimodal call.
type Image struct {
	Data     []byte
	MIMEType string // default image/png
}

// VisionRequest is one multimodal call: images plus an instruction.
type VisionRequest struct {
	Prompt            string
	SystemInstruction string
	Temperature       float32
	Images            []Image
	JSONOutput        bool
}

// Client is the uniform model-backend capability.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
	GenerateVision(ctx context.Context, req VisionRequest) (string, error)
}

// RetryingClient wraps a Client with per-call deadlines and capped
// exponential backoff for transient failures.
type RetryingClient struct {
	inner    Client
	timeouts config.Timeouts
}

// NewRetryingClient wraps inner with the configured retry policy.
func NewRetryingClient(inner Client, timeouts config.Timeouts) *RetryingClient {
	return &RetryingClient{inner: inner, timeouts: timeouts}
}

// Generate issues a text call with deadline and retries.
func (c *RetryingClient) Generate(ctx context.Context, req Request) (string, error) {
	return c.withRetry(ctx, c.timeouts.ModelCall, func(callCtx context.Context) (string, error) {
		return c.inner.Generate(callCtx, req)
	})
}

// GenerateVision issues a multimodal call with deadline and retries.
func (c *RetryingClient) GenerateVision(ctx context.Context, req VisionRequest) (string, error) {
	return c.withRetry(ctx, c.timeouts.VisionCall, func(callCtx context.Context) (string, error) {
		return c.inner.GenerateVision(callCtx, req)
	})
}

func (c *RetryingClient) withRetry(ctx context.Context, timeout time.Duration, call func(context.Context) (string, error)) (string, error) {
	attempts := c.timeouts.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.timeouts.Backoff(attempt - 1)
			logging.APIWarn("model call retry %d/%d after %s: %v", attempt, attempts-1, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := call(callCtx)
		cancel()

		if err == nil {
			return out, nil
		}
		// Convert deadline expiry into the typed failure; the caller's
		// own cancellation still surfaces as ctx.Err().
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			lastErr = ErrModelTimeout
			continue
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}

	logging.APIError("model call failed after %d attempts: %v", attempts, lastErr)
	return "", lastErr
}
