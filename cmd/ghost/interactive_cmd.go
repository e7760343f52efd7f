package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ghost-agent/ghost/internal/coordinator"
	"github.com/ghost-agent/ghost/internal/store"
	"github.com/ghost-agent/ghost/internal/watch"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Interactive mode: type goals, watch edits, auto-run",
	RunE:  runInteractive,
}

var (
	projectRoot    string
	watchEnabled   bool
	testCmd        string
	iterationLimit int
	quiet          bool
)

// Directories the watcher never descends into.
var ignoreDirs = []string{".ghost", ".git", ".venv", "__pycache__", "node_modules", "workspaces", "memories"}

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	resultStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
)

func init() {
	interactiveCmd.Flags().StringVar(&projectRoot, "project-root", ".", "Project root to edit")
	interactiveCmd.Flags().BoolVar(&watchEnabled, "watch", true, "Watch for file changes and auto-run")
	interactiveCmd.Flags().StringVar(&testCmd, "test-cmd", "pytest -q", "Test command to run in VERIFY")
	interactiveCmd.Flags().IntVar(&iterationLimit, "iteration-limit", 8, "Iteration limit per run")
	interactiveCmd.Flags().BoolVar(&quiet, "quiet", false, "Reduce interactive output")
}

func runInteractive(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return err
	}
	artifactsBase := filepath.Join(root, ".ghost", "workspaces")
	if err := os.MkdirAll(artifactsBase, 0o755); err != nil {
		return err
	}

	eng, err := newEngine(root)
	if err != nil {
		return err
	}
	watcher, err := watch.New(root, ignoreDirs, logger)
	if err != nil {
		return err
	}
	defer watcher.Close()

	history, err := store.New(filepath.Join(root, ".ghost", "ghost.db"))
	if err != nil {
		return err
	}
	defer history.Close()

	coord := coordinator.New(eng, watcher, root, artifactsBase, logger,
		coordinator.WithHistory(history),
		coordinator.WithTestCmd(testCmd),
		coordinator.WithIterationLimit(iterationLimit),
	)
	coord.SetWatch(watchEnabled)

	ctx := cmd.Context()
	go coord.WatchLoop(ctx)

	fmt.Println(promptStyle.Render("Ghost interactive mode.") + " " + infoStyle.Render("Type a goal or /help."))
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case strings.HasPrefix(line, "/watch"):
			enabled := !strings.Contains(strings.ToLower(line), "off")
			coord.SetWatch(enabled)
			state := "on"
			if !enabled {
				state = "off"
			}
			fmt.Println(infoStyle.Render("watch=" + state))
		case strings.HasPrefix(line, "/help"):
			fmt.Println(infoStyle.Render(
				"Commands: /help, /exit, /watch on, /watch off\n" +
					"Type any other text to run a task."))
		default:
			if err := coord.RunGoal(ctx, line, false); err != nil {
				fmt.Fprintln(os.Stderr, "run failed:", err)
				continue
			}
			if !quiet {
				fmt.Println(resultStyle.Render("Run complete."))
			}
		}
	}
}
