package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/akinalp/threadline/models"
)

var sendReplyTo string

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "id of the message this one answers")
}

var sendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		scope, err := scopeFromFlags()
		if err != nil {
			return err
		}

		req := &models.CreateMessageRequest{Text: strings.Join(args, " ")}
		if scope.Kind == models.ScopeConversation {
			req.ConversationID = scope.ID
		} else {
			req.ChannelID = scope.ID
		}
		if sendReplyTo != "" {
			req.ReplyToID = &sendReplyTo
		}
		if err := req.Validate(models.DefaultMaxMessageLength); err != nil {
			return err
		}

		msg, err := client.CreateMessage(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
		return nil
	},
}
