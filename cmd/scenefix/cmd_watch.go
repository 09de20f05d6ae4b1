package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"scenefix/internal/logging"
	"scenefix/internal/refiner"
)

// watchDebounce coalesces the write bursts editors and generators produce.
const watchDebounce = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch <directory>",
	Short: "Watch a directory and refine scene files as they appear",
	Long: `Watch monitors a directory for new or modified .py files, typically the
output directory of a scene generator, and runs each changed file through
the refinement loop. Repaired code is written as <name>.fixed.py so the
generator's own output is never overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	dir := args[0]
	eng, err := buildEngine(ctx, cfg, workspace)
	if err != nil {
		return err
	}
	defer eng.close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fmt.Println(titleStyle.Render("watching " + dir))
	logging.Watch("watching %s", dir)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(watchDebounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isSceneFile(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()
			logging.Watch("queued %s (%s)", event.Name, event.Op)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.WatchWarn("watch error: %v", err)

		case <-ticker.C:
			now := time.Now()
			for path, queuedAt := range pending {
				if now.Sub(queuedAt) < watchDebounce {
					continue
				}
				delete(pending, path)
				refineWatched(ctx, eng, path)
			}
		}
	}
}

// isSceneFile filters for generator output: python files that are not
// already a repair product.
func isSceneFile(path string) bool {
	if filepath.Ext(path) != ".py" {
		return false
	}
	return !strings.HasSuffix(strings.TrimSuffix(filepath.Base(path), ".py"), ".fixed")
}

func refineWatched(ctx context.Context, eng *engine, path string) {
	code, err := readSceneFile(path)
	if err != nil {
		fmt.Println(failStyle.Render("error ") + path + dimStyle.Render(" "+err.Error()))
		return
	}

	outcome, err := eng.refiner.Refine(ctx, code)
	printResult(refiner.JobResult{Name: path, Outcome: outcome, Err: err})

	if outcome.Code != "" {
		out := strings.TrimSuffix(path, ".py") + ".fixed.py"
		if werr := writeSceneFile(out, outcome.Code); werr != nil {
			fmt.Println(failStyle.Render("error ") + out + dimStyle.Render(" "+werr.Error()))
		}
	}
}
