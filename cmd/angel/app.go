package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ZaguanLabs/angel/internal"
	"github.com/ZaguanLabs/angel/internal/config"
	"github.com/ZaguanLabs/angel/internal/storage"
	"github.com/ZaguanLabs/angel/internal/transcript"
	"github.com/ZaguanLabs/angel/internal/ui"
)

const (
	// storageDisabled as storage.path turns persistence off.
	storageDisabled = "disable"
	dbFileName      = "angel.db"
)

func loadClientConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newSender builds the backend selected by cfg.Backend and returns it with
// a label for the model it talks to.
func newSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (internal.Sender, string, error) {
	switch cfg.Backend {
	case config.BackendRelay:
		client, err := internal.NewRelayClient(cfg.API.URL, cfg.API.Key, internal.WithLogger(logger))
		if err != nil {
			return nil, "", err
		}
		return client, "relay", nil

	case config.BackendGemini:
		client, err := internal.NewGeminiClient(ctx, cfg.API.Key, cfg.Model.Name, cfg.API.URL, logger)
		if err != nil {
			return nil, "", err
		}
		return client, client.Model(), nil

	default:
		client, err := internal.NewClient(cfg.API.Key, cfg.API.URL, cfg.Model.Name, internal.WithLogger(logger))
		if err != nil {
			return nil, "", err
		}
		return client, client.Model(), nil
	}
}

func requestOptions(cfg *config.Config) internal.Options {
	return internal.Options{
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
		Streaming:   cfg.Model.Stream,
		JSONMode:    cfg.Model.JSONMode,
	}
}

func newConversation(cfg *config.Config, sender internal.Sender, logger *zap.Logger) *internal.Conversation {
	ctrl := transcript.NewController(
		transcript.WithSystemPrompt(cfg.Model.SystemPrompt),
		transcript.WithLogger(logger),
	)
	return internal.NewConversation(sender, ctrl, requestOptions(cfg), logger)
}

func codeOptions(cfg *config.Config) ui.CodeOptions {
	return ui.CodeOptions{
		Theme:       cfg.UI.CodeTheme,
		LineNumbers: cfg.UI.LineNumbers,
		FontSize:    cfg.UI.FontSize,
	}
}

func newRenderer(cfg *config.Config, width int) (*ui.Renderer, error) {
	return ui.NewRenderer(width,
		ui.WithMarkdown(cfg.UI.Markdown),
		ui.WithCodeOptions(codeOptions(cfg)),
	)
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "angel")
}

// dbPath resolves the database file for a storage.path directory. Empty
// means the default location; "disable" means no storage.
func dbPath(dir string) (string, bool) {
	dir = strings.TrimSpace(dir)
	switch dir {
	case storageDisabled:
		return "", false
	case "":
		return "", true
	}
	return filepath.Join(dir, dbFileName), true
}

// openStore opens the session database, or returns nil when storage is
// disabled.
func openStore(cfg *config.Config) (*storage.Store, error) {
	path, ok := dbPath(cfg.Storage.Path)
	if !ok {
		return nil, nil
	}
	return storage.Open(path)
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
