package main

import (
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
	"github.com/ZaguanLabs/angel/internal/logging"
	"github.com/ZaguanLabs/angel/internal/tui"
)

const rootLongDesc string = `Angel is a terminal chat client for OpenAI-compatible models.

Without a subcommand it starts the interactive TUI. Replies stream into the
transcript as they arrive; code blocks are highlighted and conversations are
saved so they can be listed and loaded later.

Examples:
  angel
  angel --config ~/.config/angel/config.yaml
  angel ask "What is an LLM?"
  angel relay --config relay.yaml`

const rootShortDesc string = "Chat with a model from the terminal"

type rootCommander struct {
	configPath string
	errorLevel string
}

func newRootCmd() *cobra.Command {
	cmder := &rootCommander{}

	cmd := &cobra.Command{
		Use:           "angel",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			angelerrors.SetErrorSecurityLevel(angelerrors.ParseSecurityLevel(cmder.errorLevel))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.runTUI(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&cmder.configPath, "config", "c", "", "Path to configuration file (YAML or TOML)")
	cmd.PersistentFlags().StringVar(&cmder.errorLevel, "error-detail", "production", "Error detail shown to users: debug, info or production")

	cmd.AddCommand(
		newAskCmd(cmder),
		newReplCmd(cmder),
		newRelayCmd(cmder),
		newSessionsCmd(cmder),
	)
	return cmd
}

func versionString() string {
	v := strings.TrimPrefix(version, "v")
	if commit != "none" && commit != "" {
		v = fmt.Sprintf("%s (build %s, %s)", v, commit, date)
	}
	return v
}

func (r *rootCommander) runTUI(cmd *cobra.Command) error {
	cfg, err := loadClientConfig(r.configPath)
	if err != nil {
		return err
	}

	logPath := cfg.Logging.File
	if logPath == "" {
		logPath = filepath.Join(dataDir(), "angel.log")
	}
	logger, closeLog, err := logging.NewFile(logPath, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closeLog()

	ctx := cmd.Context()
	sender, model, err := newSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	renderer, err := newRenderer(cfg, terminalWidth())
	if err != nil {
		return err
	}

	opts := []tui.Option{
		tui.WithLogger(logger),
		tui.WithTitle(model),
		tui.WithTimestamps(cfg.UI.ShowTimestamps),
	}
	store, err := openStore(cfg)
	if err != nil {
		logger.Warn("storage unavailable, conversations will not be saved", zap.Error(err))
	} else if store != nil {
		defer store.Close()
		opts = append(opts, tui.WithStore(store))
	}

	m := tui.NewModel(newConversation(cfg, sender, logger), renderer, opts...)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}
