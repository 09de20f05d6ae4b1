package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"scenefix/internal/config"
	"scenefix/internal/fixer"
	"scenefix/internal/model"
	"scenefix/internal/refiner"
	"scenefix/internal/sandbox"
	"scenefix/internal/store"
	"scenefix/internal/validator"
	"scenefix/internal/verifier"
	"scenefix/internal/vision"
)

// engine bundles everything a refinement command needs.
type engine struct {
	refiner *refiner.Refiner
	store   *store.Store // nil when disabled
}

func (e *engine) close() {
	if e.store != nil {
		e.store.Close()
	}
}

// buildEngine wires the collaborators from configuration. The vision
// inspector is only attached when render inspection is enabled; the
// audit store only when configured.
func buildEngine(ctx context.Context, cfg config.Config, workspace string) (*engine, error) {
	if cfg.Model.APIKey == "" {
		return nil, fmt.Errorf("no model API key configured; set SCENEFIX_API_KEY or pass --api-key")
	}

	gemini, err := model.NewGeminiClient(ctx, cfg.Model)
	if err != nil {
		return nil, err
	}
	client := model.NewRetryingClient(gemini, cfg.Timeouts)

	exec := sandbox.NewExecutor(cfg.Sandbox, cfg.Timeouts)
	static := validator.NewStaticValidator(cfg.Linter, exec, cfg.Timeouts)
	runtime := validator.NewRuntimeValidator(exec, cfg.Frame)
	fx := fixer.New(cfg.Frame)
	vf := verifier.New(client, cfg.Refiner.VerifierBatchSize)

	var inspector refiner.RenderInspector
	if cfg.Refiner.EnableSpatial {
		visionValidator := vision.NewValidator(client, cfg.Refiner.VisionBatchSize)
		inspector = vision.NewInspector(exec, visionValidator, filepath.Join(workspace, ".scenefix", "vision"))
	}

	var recorder refiner.Recorder
	var auditStore *store.Store
	if cfg.Store.Enabled {
		path := cfg.Store.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(workspace, path)
		}
		auditStore, err = store.Open(path)
		if err != nil {
			return nil, err
		}
		recorder = auditStore
	}

	return &engine{
		refiner: refiner.New(static, runtime, fx, vf, inspector, client, recorder, cfg.Refiner),
		store:   auditStore,
	}, nil
}

func readSceneFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func writeSceneFile(path, code string) error {
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
