package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ghost-agent/ghost/internal/config"
	"github.com/ghost-agent/ghost/internal/engine"
	"github.com/ghost-agent/ghost/internal/gateway"
	"github.com/ghost-agent/ghost/internal/logging"
	"github.com/ghost-agent/ghost/internal/memory"
)

var rootCmd = &cobra.Command{
	Use:   "ghost",
	Short: "Ghost - autonomous coding-task runner",
	Long: `Ghost runs coding tasks against a sandboxed workspace: it asks a local
model for structured actions, executes them, verifies with your test command,
and repairs until the task passes or the iteration budget runs out.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath string

	cfg    config.Config
	logger *zap.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.config/ghost/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(historyCmd)
}

// setup loads configuration and builds the process logger before any
// subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err = logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	return nil
}

// newEngine wires the engine against a memory store rooted at repoRoot.
func newEngine(repoRoot string) (*engine.Engine, error) {
	mem, err := memory.New(filepath.Join(repoRoot, "memories"))
	if err != nil {
		return nil, err
	}
	gw := gateway.NewClient(cfg.BaseURL, cfg.Model, time.Duration(cfg.TimeoutSec)*time.Second)
	return engine.New(gw, mem, logger,
		engine.WithAllowedCmds(cfg.AllowedCmds),
		engine.WithCmdTimeout(cfg.CmdTimeoutSec),
		engine.WithMemoryLimit(cfg.MemoryLimit),
	), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
