package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"scenefix/internal/store"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent refinement sessions from the audit store",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "number of sessions to show")
}

func runSessions(cmd *cobra.Command, args []string) error {
	if !cfg.Store.Enabled {
		return fmt.Errorf("audit store is disabled in configuration")
	}

	path := cfg.Store.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	sessions, err := s.RecentSessions(sessionsLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println(dimStyle.Render("no sessions recorded"))
		return nil
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%d recent session(s)", len(sessions))))
	for _, sum := range sessions {
		status := dimStyle.Render("running")
		if sum.FinishedAt.Valid {
			if sum.Clean.Valid && sum.Clean.Bool {
				status = okStyle.Render("clean")
			} else {
				status = failStyle.Render("dirty")
			}
		}
		turns := "-"
		if sum.Turns.Valid {
			turns = fmt.Sprintf("%d", sum.Turns.Int64)
		}
		fmt.Printf("%s  %s  %s turn(s)  %s\n",
			sum.ID[:8], sum.StartedAt.Local().Format("2006-01-02 15:04:05"), turns, status)
	}
	return nil
}
