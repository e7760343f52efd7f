package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ghost-agent/ghost/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded interactive runs",
	RunE:  runHistory,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	s, err := store.New(filepath.Join(cwd, ".ghost", "ghost.db"))
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTASK\tRESULT\tITERS\tAUTO\tGOAL")
	for _, run := range runs {
		goal := run.Goal
		if len(goal) > 60 {
			goal = goal[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.TaskID, run.Result, run.Iterations, run.Auto, goal)
	}
	return w.Flush()
}
