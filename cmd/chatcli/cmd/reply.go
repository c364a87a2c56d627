package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/akinalp/threadline/client/enrich"
	"github.com/akinalp/threadline/models"
)

var replyShowOnly bool

func init() {
	rootCmd.AddCommand(replyCmd)
	replyCmd.Flags().BoolVar(&replyShowOnly, "show", false, "print the thread without replying")
}

var replyCmd = &cobra.Command{
	Use:   "reply <message-id> [text...]",
	Short: "Reply in the thread of a message, or print the thread",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		messageID := args[0]

		if !replyShowOnly {
			if len(args) < 2 {
				return cmd.Usage()
			}
			req := &models.CreateReplyRequest{Text: strings.Join(args[1:], " ")}
			if err := req.Validate(models.DefaultMaxMessageLength); err != nil {
				return err
			}
			res, err := client.CreateReply(ctx, messageID, req)
			if err != nil {
				return err
			}
			// The target may itself be a reply; the thread is its root's.
			messageID = res.ThreadID
		}

		page, err := client.GetThread(ctx, messageID, "", 0)
		if err != nil {
			return err
		}

		profiles := enrich.New(client, 0, nil)
		defer profiles.Close()

		out := cmd.OutOrStdout()
		if root := page.ParentMessage; root != nil {
			printMessage(out, root, authorName(ctx, root, profiles.Profile))
		}
		for i := range page.Replies {
			reply := &page.Replies[i]
			fmt.Fprint(out, "  └ ")
			printMessage(out, reply, authorName(ctx, reply, profiles.Profile))
		}
		if page.HasMore {
			cmd.PrintErrf("showing %d of %d replies\n", len(page.Replies), page.Total)
		}
		return nil
	},
}
