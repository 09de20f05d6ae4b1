package model

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"scenefix/internal/config"
	"scenefix/internal/logging"
)

// GeminiClient implements Client on the Google GenAI API.
type GeminiClient struct {
	client      *genai.Client
	textModel   string
	visionModel string
}

// NewGeminiClient creates a Gemini-backed model client.
func NewGeminiClient(ctx context.Context, cfg config.ModelConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key configured", ErrModelUnavailable)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	textModel := cfg.TextModel
	if textModel == "" {
		textModel = "gemini-2.5-flash"
	}
	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = textModel
	}

	return &GeminiClient{
		client:      client,
		textModel:   textModel,
		visionModel: visionModel,
	}, nil
}

// Generate sends a text prompt and returns the response text.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "gemini text call")
	defer timer.Stop()

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	result, err := c.client.Models.GenerateContent(ctx, c.textModel, contents, c.generateConfig(req.SystemInstruction, req.Temperature, req.JSONOutput))
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty response")
	}
	logging.API("gemini text call: %d chars prompt -> %d chars response", len(req.Prompt), len(text))
	return text, nil
}

// GenerateVision sends inline images plus an instruction.
func (c *GeminiClient) GenerateVision(ctx context.Context, req VisionRequest) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "gemini vision call")
	defer timer.Stop()

	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		mime := img.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, mime))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	result, err := c.client.Models.GenerateContent(ctx, c.visionModel, contents, c.generateConfig(req.SystemInstruction, req.Temperature, req.JSONOutput))
	if err != nil {
		return "", fmt.Errorf("gemini vision generate failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty vision response")
	}
	logging.API("gemini vision call: %d frames -> %d chars response", len(req.Images), len(text))
	return text, nil
}

func (c *GeminiClient) generateConfig(system string, temperature float32, jsonOutput bool) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if jsonOutput {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}
