package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"scenefix/internal/refiner"
)

var (
	refineOutDir  string
	refineInPlace bool
	refineWorkers int
)

var refineCmd = &cobra.Command{
	Use:   "refine <scene.py> [more scenes...]",
	Short: "Validate and repair scene files until they execute cleanly",
	Long: `Refine runs each scene file through the full loop: static validation,
known-pattern fixes, sandboxed dry runs, deterministic spatial repairs and
model-backed fixes, bounded by the configured turn budget.

The repaired code is written next to the input as <name>.fixed.py, into the
directory given with --out, or back into the input file with --in-place.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRefine,
}

func init() {
	refineCmd.Flags().StringVarP(&refineOutDir, "out", "o", "", "directory for repaired files")
	refineCmd.Flags().BoolVar(&refineInPlace, "in-place", false, "overwrite the input files")
	refineCmd.Flags().IntVar(&refineWorkers, "workers", 2, "concurrent refinement sessions")
}

func runRefine(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	eng, err := buildEngine(ctx, cfg, workspace)
	if err != nil {
		return err
	}
	defer eng.close()

	var jobs []refiner.Job
	for _, path := range args {
		code, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		jobs = append(jobs, refiner.Job{Name: path, Code: string(code)})
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("refining %d scene(s)", len(jobs))))
	results := refiner.NewPool(eng.refiner, refineWorkers).Run(ctx, jobs)

	failures := 0
	for _, res := range results {
		printResult(res)
		if res.Err != nil || !res.Outcome.Clean {
			failures++
		}
		if err := writeOutput(res); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d scene(s) could not be fully repaired", failures, len(results))
	}
	return nil
}

// writeOutput persists the best code a session produced, clean or not; a
// partially repaired scene is still better than the input.
func writeOutput(res refiner.JobResult) error {
	if res.Outcome.Code == "" {
		return nil
	}

	var outPath string
	switch {
	case refineInPlace:
		outPath = res.Name
	case refineOutDir != "":
		if err := os.MkdirAll(refineOutDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		outPath = filepath.Join(refineOutDir, filepath.Base(res.Name))
	default:
		ext := filepath.Ext(res.Name)
		outPath = res.Name[:len(res.Name)-len(ext)] + ".fixed" + ext
	}

	if err := os.WriteFile(outPath, []byte(res.Outcome.Code), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return nil
}

func printResult(res refiner.JobResult) {
	switch {
	case res.Err != nil:
		var stuck *refiner.StuckError
		if errors.As(res.Err, &stuck) {
			fmt.Println(failStyle.Render("stuck ") + res.Name +
				dimStyle.Render(fmt.Sprintf(" (%d unresolved issues after %d turns)", len(stuck.Issues), res.Outcome.Turns)))
			for _, is := range stuck.Issues {
				fmt.Println(dimStyle.Render("    " + is.String()))
			}
			return
		}
		fmt.Println(failStyle.Render("error ") + res.Name + dimStyle.Render(" "+res.Err.Error()))
	case res.Outcome.Clean:
		line := okStyle.Render("clean ") + res.Name +
			dimStyle.Render(fmt.Sprintf(" (%d turn(s))", res.Outcome.Turns))
		fmt.Println(line)
		for _, is := range res.Outcome.Remaining {
			fmt.Println(warnStyle.Render("    unconfirmed: ") + is.String())
		}
	default:
		fmt.Println(failStyle.Render("dirty ") + res.Name +
			dimStyle.Render(fmt.Sprintf(" (%d issues after %d turns)", len(res.Outcome.Remaining), res.Outcome.Turns)))
		for _, is := range res.Outcome.Remaining {
			fmt.Println(dimStyle.Render("    " + is.String()))
		}
	}
}
