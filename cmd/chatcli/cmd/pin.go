package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unpin bool

func init() {
	rootCmd.AddCommand(pinCmd)
	pinCmd.Flags().BoolVar(&unpin, "unpin", false, "remove the pin instead")

	rootCmd.AddCommand(pinsCmd)
}

var pinCmd = &cobra.Command{
	Use:   "pin <message-id>",
	Short: "Pin or unpin a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		if unpin {
			if err := client.Unpin(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unpinned %s\n", args[0])
			return nil
		}

		pin, err := client.Pin(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pinned %s in %s %s\n", pin.MessageID, pin.ContextType, pin.ContextID)
		return nil
	},
}

var pinsCmd = &cobra.Command{
	Use:   "pins",
	Short: "List the pinned messages of a channel or conversation",
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

		pins, err := client.ListPins(ctx, scope)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, pin := range pins {
			msg, err := client.GetMessage(ctx, pin.MessageID)
			if err != nil {
				fmt.Fprintf(out, "(%s unavailable: %v)\n", pin.MessageID, err)
				continue
			}
			printMessage(out, msg, authorName(ctx, msg, client.GetProfile))
		}
		return nil
	},
}
