package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/sesh/internal/attach"
	"github.com/kalambet/sesh/internal/config"
	"github.com/kalambet/sesh/internal/session"
)

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a search in the active conversation group",
	Long: `Run a search in the active conversation group.

A group is created lazily on the first search. Local files attached with
--file and pages attached with --page are extracted client-side and sent
as conversation context; URLs attached with --url are fetched by the
service itself.

Examples:
  sesh search "latest Go release notes"
  sesh search --file ./design.pdf "summarize the attached design"
  sesh search --url https://example.com/post "what does this article claim?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		files, _ := cmd.Flags().GetStringArray("file")
		pages, _ := cmd.Flags().GetStringArray("page")
		urls, _ := cmd.Flags().GetStringArray("url")
		model, _ := cmd.Flags().GetString("model")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext()
		defer stop()

		var conversation strings.Builder
		for _, f := range files {
			text, err := attach.FromFile(f)
			if err != nil {
				return fmt.Errorf("attaching %s: %w", f, err)
			}
			fmt.Fprintf(&conversation, "Attached file %s:\n%s\n\n", f, text)
		}
		for _, p := range pages {
			text, err := attach.FromURL(ctx, http.DefaultClient, p)
			if err != nil {
				return fmt.Errorf("attaching %s: %w", p, err)
			}
			fmt.Fprintf(&conversation, "Attached page %s:\n%s\n\n", p, text)
		}

		printStep("Searching...")
		turn, err := a.dispatcher.Run(ctx, query, session.SearchOptions{
			ModelID:      model,
			Conversation: conversation.String(),
			URLs:         urls,
		})
		if err != nil {
			return err
		}

		fmt.Println(turn.Response.Message)
		for _, src := range turn.Response.Sources {
			label := src.Title
			if label == "" {
				label = src.URL
			}
			fmt.Printf("  %s %s\n", colorize(colorCyan, "•"), label)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringArray("file", nil, "local file to attach as context (repeatable)")
	searchCmd.Flags().StringArray("page", nil, "URL to fetch locally and attach as context (repeatable)")
	searchCmd.Flags().StringArray("url", nil, "URL for the service to fetch (repeatable)")
	searchCmd.Flags().String("model", "", "model id override for this search")
}

// --- groups ---

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage conversation groups",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List server-side conversation groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext()
		defer stop()

		groups, err := a.coord.RefreshGroups(ctx)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Println("No groups found.")
			return nil
		}

		activeID, _ := a.groups.ActiveGroupID()
		for _, g := range groups {
			marker := " "
			if g.ID == activeID {
				marker = colorize(colorGreen, "*")
			}
			fmt.Printf("%s %s  %s  %s\n",
				marker,
				colorize(colorCyan, shortID(g.ID)),
				g.CreatedAt.Local().Format("2006-01-02 15:04"),
				g.Name,
			)
		}
		return nil
	},
}

var groupsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new group and make it active",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext()
		defer stop()

		g, err := a.coord.CreateNewGroup(ctx)
		if err != nil {
			return err
		}

		printSuccess("Created group %s (%s)", shortID(g.ID), g.Name)
		return nil
	},
}

var groupsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a group on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext()
		defer stop()

		if err := a.coord.DeleteGroup(ctx, args[0]); err != nil {
			return err
		}

		printSuccess("Deleted group %s", shortID(args[0]))
		return nil
	},
}

func init() {
	groupsCmd.AddCommand(groupsListCmd)
	groupsCmd.AddCommand(groupsNewCmd)
	groupsCmd.AddCommand(groupsRmCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show search history of the active group",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext()
		defer stop()

		turns, err := a.dispatcher.History(ctx)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			fmt.Println("No history in the active group.")
			return nil
		}

		for _, turn := range turns {
			fmt.Printf("\n%s  %s\n",
				colorize(colorCyan, shortID(turn.ID)),
				colorize(colorBold, truncate(turn.Query, 80)),
			)
			fmt.Printf("  %s\n", truncate(turn.Response.Message, 500))
		}
		return nil
	},
}

// --- pending ---

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List searches still in flight",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		pending := a.tracker.Pending()
		if len(pending) == 0 {
			fmt.Println("No pending searches.")
			return nil
		}

		for _, rec := range pending {
			fmt.Printf("%s  %s  %s  %s\n",
				colorize(colorCyan, shortID(rec.ID)),
				statusLabel(rec.Status),
				rec.StartedAt.Local().Format("2006-01-02 15:04"),
				truncate(rec.Query, 80),
			)
		}
		return nil
	},
}

// --- clean ---

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove finished search records",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.tracker.ClearCompleted()
		if err != nil {
			return err
		}
		if n == 0 {
			printWarning("No finished searches to remove")
			return nil
		}

		printSuccess("Removed %d finished search(es)", n)
		return nil
	},
}

// --- resume ---

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Reconcile searches left in flight by a previous run",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := commandContext()
		defer stop()

		n, err := a.dispatcher.ResumePending(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("Nothing to resume.")
			return nil
		}

		printSuccess("Reconciled %d interrupted search(es)", n)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func statusLabel(s session.Status) string {
	switch s {
	case session.StatusPending:
		return colorize(colorYellow, string(s))
	case session.StatusProcessing:
		return colorize(colorCyan, string(s))
	case session.StatusCompleted:
		return colorize(colorGreen, string(s))
	case session.StatusFailed:
		return colorize(colorRed, string(s))
	}
	return string(s)
}
