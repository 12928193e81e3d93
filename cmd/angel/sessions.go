package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZaguanLabs/angel/internal/config"
	"github.com/ZaguanLabs/angel/internal/storage"
	"github.com/ZaguanLabs/angel/internal/ui"
)

const sessionsLongDesc string = `Manage saved conversations.

Conversations are saved to a SQLite database under storage.path
(default ~/.local/share/angel/angel.db).

Examples:
  angel sessions list
  angel sessions show 3
  angel sessions show 3 --page 2 --page-size 20
  angel sessions rename 3 "Go generics"
  angel sessions delete 3`

type sessionsCommander struct {
	root   *rootCommander
	dbPath string
}

func newSessionsCmd(root *rootCommander) *cobra.Command {
	cmder := &sessionsCommander{root: root}

	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Manage saved conversations",
		Long:    sessionsLongDesc,
	}
	cmd.PersistentFlags().StringVar(&cmder.dbPath, "db", "", "Path to the session database (overrides storage.path)")

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.withStore(func(store *storage.Store) error {
				sessions, err := store.ListSessions(cmd.Context(), limit)
				if err != nil {
					return err
				}
				printSessions(cmd.OutOrStdout(), sessions, time.Now())
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many sessions (0 for all)")

	var page, pageSize int
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			return cmder.withStore(func(store *storage.Store) error {
				var pagination *storage.PaginationOptions
				if page > 0 || pageSize > 0 {
					pagination = &storage.PaginationOptions{Page: page, PageSize: pageSize}
				}
				session, err := store.LoadSessionWithPagination(cmd.Context(), id, pagination)
				if err != nil {
					return err
				}
				printSession(cmd.OutOrStdout(), session)
				return nil
			})
		},
	}
	show.Flags().IntVar(&page, "page", 0, "Page of turns to show, 1-based (0 shows everything, or the latest page with --page-size)")
	show.Flags().IntVar(&pageSize, "page-size", 0, "Turns per page")

	rename := &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a saved conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			name := strings.Join(args[1:], " ")
			return cmder.withStore(func(store *storage.Store) error {
				if err := store.RenameSession(cmd.Context(), id, name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed session #%d to %q\n", id, name)
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			return cmder.withStore(func(store *storage.Store) error {
				if err := store.DeleteSession(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session #%d\n", id)
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, rename, remove)
	return cmd
}

func (c *sessionsCommander) withStore(fn func(*storage.Store) error) error {
	path := c.dbPath
	if path == "" {
		cfg, err := config.LoadStorage(c.root.configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		var ok bool
		path, ok = dbPath(cfg.Storage.Path)
		if !ok {
			return fmt.Errorf("storage is disabled (storage.path: %s)", storageDisabled)
		}
	}

	store, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func parseSessionID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session ID %q", raw)
	}
	return id, nil
}

func printSessions(w io.Writer, sessions []storage.SessionSummary, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No saved sessions found.")
		return
	}

	fmt.Fprintln(w, "Saved Sessions:")
	fmt.Fprintln(w, "===============")
	for _, s := range sessions {
		title := s.Name
		if strings.TrimSpace(title) == "" {
			title = "Untitled session"
		}
		fmt.Fprintf(w, "#%d: %s\n", s.ID, ui.Truncate(title, 70))
		fmt.Fprintf(w, "     %d turns • Last updated %s\n\n", s.TurnCount, formatRelative(s.UpdatedAt, now))
	}
}

func printSession(w io.Writer, session *storage.Session) {
	title := session.Summary.Name
	if strings.TrimSpace(title) == "" {
		title = "Untitled session"
	}

	fmt.Fprintf(w, "Session #%d: %s\n", session.Summary.ID, title)
	fmt.Fprintf(w, "%d turns • Created %s\n", session.Summary.TurnCount, session.Summary.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintln(w, strings.Repeat("=", 50))

	for _, t := range session.Turns {
		fmt.Fprintf(w, "\n[%s] %s:\n", t.CreatedAt.Local().Format("15:04"), t.Role.DisplayName())
		fmt.Fprintln(w, strings.Repeat("-", 30))
		fmt.Fprintln(w, t.Content)
		for _, ref := range t.Attachments {
			fmt.Fprintf(w, "📎 %s\n", ref)
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintf(w, "End of session #%d\n", session.Summary.ID)
}

// formatRelative formats t relative to now.
func formatRelative(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	delta := now.Sub(t)
	switch {
	case delta < time.Minute:
		return "just now"
	case delta < time.Hour:
		return fmt.Sprintf("%d min ago", int(delta.Minutes()))
	case delta < 24*time.Hour:
		return fmt.Sprintf("%d hr ago", int(delta.Hours()))
	case delta < 30*24*time.Hour:
		return fmt.Sprintf("%d d ago", int(delta.Hours()/24))
	}
	return t.Format("2006-01-02")
}
