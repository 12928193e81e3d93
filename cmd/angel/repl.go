package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ZaguanLabs/angel/internal"
	"github.com/ZaguanLabs/angel/internal/logging"
)

const replLongDesc string = `Chat in line mode.

Each line is sent as a message and the reply is printed below it, with
markdown and highlighted code when the terminal supports it. Line editing
and history are available on a terminal; piped input is read line by line.
Type /help for commands.`

const replShortDesc string = "Chat in line mode instead of the TUI"

type replCommander struct {
	root    *rootCommander
	noColor bool
	noSave  bool
}

func newReplCmd(root *rootCommander) *cobra.Command {
	cmder := &replCommander{root: root}

	cmd := &cobra.Command{
		Use:   "repl",
		Short: replShortDesc,
		Long:  replLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().BoolVar(&cmder.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&cmder.noSave, "no-save", false, "Do not save the conversation")

	return cmd
}

func (c *replCommander) run(cmd *cobra.Command) error {
	cfg, err := loadClientConfig(c.root.configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level)
	defer logger.Sync()

	ctx := cmd.Context()
	sender, model, err := newSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	renderer, err := newRenderer(cfg, terminalWidth())
	if err != nil {
		return err
	}

	opts := []internal.SessionOption{
		internal.WithSessionLogger(logger),
		internal.WithBanner(version, model),
		internal.WithTimestamps(cfg.UI.ShowTimestamps),
	}
	if !c.noSave {
		store, err := openStore(cfg)
		if err != nil {
			logger.Warn("storage unavailable, conversation will not be saved", zap.Error(err))
		} else if store != nil {
			defer store.Close()
			opts = append(opts, internal.WithArchive(store))
		}
	}

	session, err := internal.NewSession(newConversation(cfg, sender, logger), renderer, opts...)
	if err != nil {
		return err
	}
	session.SetIO(cmd.InOrStdin(), cmd.OutOrStdout())
	if c.noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		session.DisableColors()
	}
	return session.Run(ctx)
}
