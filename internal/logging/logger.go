// Package logging provides categorized file-based logging for scenefix.
// Logs are written to .scenefix/logs/ with one file per category per day.
// When debug mode is off, every call is a silent no-op so hot paths pay
// nothing for instrumentation.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category routes a log line to its file.
type Category string

const (
	CategoryBoot     Category = "boot"     // startup, config, shutdown
	CategoryStatic   Category = "static"   // static validator
	CategoryRuntime  Category = "runtime"  // runtime validator / preflight
	CategoryFixer    Category = "fixer"    // deterministic fixes
	CategoryVerifier Category = "verifier" // issue verifier probes
	CategoryVision   Category = "vision"   // post-render vision checks
	CategoryRefiner  Category = "refiner"  // refinement loop decisions
	CategorySandbox  Category = "sandbox"  // subprocess execution
	CategoryAPI      Category = "api"      // model backend calls
	CategoryStore    Category = "store"    // audit store
	CategoryWatch    Category = "watch"    // fsnotify watch mode
)

// Options control log output. The CLI fills this from config so the
// package has no config import of its own.
type Options struct {
	Debug      bool
	Level      string          // debug/info/warn/error, default info
	Categories map[string]bool // nil = all categories enabled
}

var (
	mu      sync.RWMutex
	logsDir string
	opts    Options
	level   zapcore.Level
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize sets up the logging directory. Safe to call once at startup;
// a disabled debug mode makes the whole package a no-op.
func Initialize(workspace string, o Options) error {
	mu.Lock()
	defer mu.Unlock()

	opts = o
	if o.Level == "" {
		level = zapcore.InfoLevel
	} else if err := level.Set(o.Level); err != nil {
		level = zapcore.InfoLevel
	}

	if !o.Debug {
		return nil
	}

	logsDir = filepath.Join(workspace, ".scenefix", "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// CloseAll flushes and drops every open logger. Call at shutdown.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.Sync()
	}
	loggers = make(map[Category]*zap.SugaredLogger)
}

func categoryEnabled(c Category) bool {
	if !opts.Debug {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, ok := opts.Categories[string(c)]
	if !ok {
		return true // enable by default if not listed
	}
	return enabled
}

// Get returns (or creates) the sugared logger for a category.
// Returns a no-op logger when the category is disabled.
func Get(c Category) *zap.SugaredLogger {
	mu.RLock()
	if !categoryEnabled(c) || logsDir == "" {
		mu.RUnlock()
		return zap.NewNop().Sugar()
	}
	if l, ok := loggers[c]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[c]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, c))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		return zap.NewNop().Sugar()
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(file),
		level,
	)
	l := zap.New(core).Named(string(c)).Sugar()
	loggers[c] = l
	return l
}

// Convenience functions, one set per category. No-ops when disabled.

func Boot(format string, args ...any)         { Get(CategoryBoot).Infof(format, args...) }
func BootError(format string, args ...any)    { Get(CategoryBoot).Errorf(format, args...) }
func Static(format string, args ...any)       { Get(CategoryStatic).Infof(format, args...) }
func StaticDebug(format string, args ...any)  { Get(CategoryStatic).Debugf(format, args...) }
func StaticWarn(format string, args ...any)   { Get(CategoryStatic).Warnf(format, args...) }
func Runtime(format string, args ...any)      { Get(CategoryRuntime).Infof(format, args...) }
func RuntimeDebug(format string, args ...any) { Get(CategoryRuntime).Debugf(format, args...) }
func RuntimeWarn(format string, args ...any)  { Get(CategoryRuntime).Warnf(format, args...) }
func RuntimeError(format string, args ...any) { Get(CategoryRuntime).Errorf(format, args...) }
func Fixer(format string, args ...any)        { Get(CategoryFixer).Infof(format, args...) }
func FixerDebug(format string, args ...any)   { Get(CategoryFixer).Debugf(format, args...) }
func FixerError(format string, args ...any)   { Get(CategoryFixer).Errorf(format, args...) }
func Verifier(format string, args ...any)     { Get(CategoryVerifier).Infof(format, args...) }
func VerifierWarn(format string, args ...any) { Get(CategoryVerifier).Warnf(format, args...) }
func Vision(format string, args ...any)       { Get(CategoryVision).Infof(format, args...) }
func VisionWarn(format string, args ...any)   { Get(CategoryVision).Warnf(format, args...) }
func Refiner(format string, args ...any)      { Get(CategoryRefiner).Infof(format, args...) }
func RefinerDebug(format string, args ...any) { Get(CategoryRefiner).Debugf(format, args...) }
func RefinerWarn(format string, args ...any)  { Get(CategoryRefiner).Warnf(format, args...) }
func RefinerError(format string, args ...any) { Get(CategoryRefiner).Errorf(format, args...) }
func Sandbox(format string, args ...any)      { Get(CategorySandbox).Infof(format, args...) }
func SandboxDebug(format string, args ...any) { Get(CategorySandbox).Debugf(format, args...) }
func SandboxWarn(format string, args ...any)  { Get(CategorySandbox).Warnf(format, args...) }
func API(format string, args ...any)          { Get(CategoryAPI).Infof(format, args...) }
func APIWarn(format string, args ...any)      { Get(CategoryAPI).Warnf(format, args...) }
func APIError(format string, args ...any)     { Get(CategoryAPI).Errorf(format, args...) }
func Store(format string, args ...any)        { Get(CategoryStore).Infof(format, args...) }
func StoreError(format string, args ...any)   { Get(CategoryStore).Errorf(format, args...) }
func Watch(format string, args ...any)        { Get(CategoryWatch).Infof(format, args...) }
func WatchWarn(format string, args ...any)    { Get(CategoryWatch).Warnf(format, args...) }

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold warns if the operation exceeded the threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warnf("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
