package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ZaguanLabs/angel/internal/config"
	"github.com/ZaguanLabs/angel/internal/logging"
	"github.com/ZaguanLabs/angel/internal/relay"
	"github.com/ZaguanLabs/angel/internal/security"
)

const relayLongDesc string = `Run the chat relay.

The relay accepts chat requests on POST /chat (and /functions/v1/chat),
adds the upstream key and model, and forwards them to an OpenAI-compatible
endpoint. Streaming replies are passed through as server-sent events.

Access tokens, the model and rate limits are reloaded when the config file
changes; the listen address needs a restart.

Examples:
  angel relay --config relay.yaml
  ANGEL_UPSTREAM_KEY=gsk_... angel relay --listen :8787`

const relayShortDesc string = "Run the chat relay server"

const shutdownTimeout = 10 * time.Second

type relayCommander struct {
	root   *rootCommander
	listen string
	watch  bool
}

func newRelayCmd(root *rootCommander) *cobra.Command {
	cmder := &relayCommander{root: root}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: relayShortDesc,
		Long:  relayLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&cmder.listen, "listen", "", "Address to listen on (overrides relay.listen)")
	cmd.Flags().BoolVar(&cmder.watch, "watch", true, "Reload the config file when it changes")

	cmd.AddCommand(newRelayTokenCmd())
	return cmd
}

// configFile is the file to watch: the --config path, or ./config.yaml when
// it exists.
func (c *relayCommander) configFile() string {
	if c.root.configPath != "" {
		return c.root.configPath
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func (c *relayCommander) load(path string) (*config.Config, error) {
	cfg, err := config.LoadRelay(path)
	if err != nil {
		return nil, err
	}
	if c.listen != "" {
		cfg.Relay.Listen = c.listen
	}
	return cfg, nil
}

func (c *relayCommander) run(ctx context.Context) error {
	cfg, err := c.load(c.root.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewStderr(cfg.Logging.Level)
	defer logger.Sync()

	server := relay.New(cfg.Relay, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Listen(); err != nil {
			return fmt.Errorf("relay server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down relay")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if path := c.configFile(); c.watch && path != "" {
		g.Go(func() error {
			return config.Watch(ctx, path, c.load, func(next *config.Config) {
				server.Update(next.Relay)
			}, logger)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay stopped", zap.Error(err))
		return err
	}
	return nil
}

func newRelayTokenCmd() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate a relay access token",
		Long: `Generate a random access token for relay.access_tokens.

Clients send it as "Authorization: Bearer <token>"; set it as api.key with
backend: relay.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if size < 8 {
				return errors.New("--bytes must be at least 8")
			}
			token, err := security.GenerateAccessToken(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "bytes", 24, "Random bytes in the token")
	return cmd
}
