package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
	"github.com/ZaguanLabs/angel/internal/logging"
	"github.com/ZaguanLabs/angel/internal/transcript"
	"github.com/ZaguanLabs/angel/internal/validation"
)

const askLongDesc string = `Ask a single question and print the answer.

The question is taken from the arguments, or from standard input when no
arguments are given and input is piped. The reply is printed as plain text
so it can be piped on.

Examples:
  angel ask "What is an LLM?"
  git diff | angel ask --system "Review this patch"
  angel ask --json "List three colors as a JSON array"`

const askShortDesc string = "Ask a one-shot question"

type askCommander struct {
	root     *rootCommander
	system   string
	json     bool
	noStream bool
	timeout  time.Duration
}

func newAskCmd(root *rootCommander) *cobra.Command {
	cmder := &askCommander{root: root}

	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: askShortDesc,
		Long:  askLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args)
		},
	}

	cmd.Flags().StringVar(&cmder.system, "system", "", "System prompt for this question")
	cmd.Flags().BoolVar(&cmder.json, "json", false, "Ask for a JSON object reply")
	cmd.Flags().BoolVar(&cmder.noStream, "no-stream", false, "Wait for the whole reply instead of streaming it")
	cmd.Flags().DurationVar(&cmder.timeout, "timeout", 2*time.Minute, "Give up after this long")

	return cmd
}

func (c *askCommander) question(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no question given")
	}
	raw, err := io.ReadAll(io.LimitReader(in, validation.MaxUserMessageLength+1))
	if err != nil {
		return "", fmt.Errorf("read question: %w", err)
	}
	return string(raw), nil
}

func (c *askCommander) run(cmd *cobra.Command, args []string) error {
	question, err := c.question(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := loadClientConfig(c.root.configPath)
	if err != nil {
		return err
	}
	if c.system != "" {
		cfg.Model.SystemPrompt = c.system
	}
	if c.json {
		cfg.Model.JSONMode = true
	}
	if c.noStream {
		cfg.Model.Stream = false
	}

	logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level)
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()

	sender, _, err := newSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	conv := newConversation(cfg, sender, logger)

	out := cmd.OutOrStdout()
	printed := 0
	turn, err := conv.Submit(ctx, question, nil, func(t transcript.Turn) {
		if !cfg.Model.Stream || len(t.Content) <= printed {
			return
		}
		fmt.Fprint(out, t.Content[printed:])
		printed = len(t.Content)
	})
	if err != nil {
		if printed > 0 {
			fmt.Fprintln(out)
		}
		return errors.New(angelerrors.UserMessage(err))
	}
	if printed < len(turn.Content) {
		fmt.Fprint(out, turn.Content[printed:])
	}
	if !strings.HasSuffix(turn.Content, "\n") {
		fmt.Fprintln(out)
	}
	return nil
}
