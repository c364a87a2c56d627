package cmd

import (
	"github.com/spf13/cobra"

	"github.com/akinalp/threadline/client/enrich"
	"github.com/akinalp/threadline/client/pagination"
	"github.com/akinalp/threadline/client/store"
)

var (
	historyLimit int
	historyPages int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", pagination.DefaultPageSize, "messages per page")
	historyCmd.Flags().IntVarP(&historyPages, "pages", "p", 1, "pages to load, newest first")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the latest messages of a channel or conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		scope, err := scopeFromFlags()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		messages := store.New()
		pager := pagination.New(client, messages, historyLimit)
		if err := pager.LoadInitial(ctx, scope); err != nil {
			return err
		}
		for i := 1; i < historyPages && pager.CanLoadOlder(); i++ {
			if err := pager.LoadOlder(ctx); err != nil {
				return err
			}
		}

		profiles := enrich.New(client, 0, nil)
		defer profiles.Close()

		out := cmd.OutOrStdout()
		if pager.CanLoadOlder() {
			cmd.PrintErrf("older messages exist; use --pages to load more\n")
		}
		for _, msg := range messages.Messages() {
			printMessage(out, &msg, authorName(ctx, &msg, profiles.Profile))
		}
		return nil
	},
}
