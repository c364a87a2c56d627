package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/akinalp/threadline/client/realtime"
	"github.com/akinalp/threadline/client/session"
)

var tailLimit int

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().IntVarP(&tailLimit, "limit", "n", 20, "messages of history to show first")
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow a channel or conversation live; lines read from stdin are sent",
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

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pool := realtime.NewPool(serverURL, token, nil)
		defer pool.Close()

		sess := session.New(client, pool, session.Options{SelfID: selfID(token), PageSize: tailLimit})
		defer sess.Close()

		out := cmd.OutOrStdout()
		var mu sync.Mutex
		printed := make(map[string]bool)
		show := func() {
			mu.Lock()
			defer mu.Unlock()
			for _, msg := range sess.Messages().Messages() {
				if printed[msg.ID] {
					continue
				}
				printed[msg.ID] = true
				// Lookups would block the notifying goroutine; enriched
				// messages carry the author already.
				printMessage(out, &msg, authorName(ctx, &msg, nil))
			}
		}

		if err := sess.Switch(ctx, scope); err != nil {
			return err
		}
		show()

		removeMessages := sess.Messages().OnChange(show)
		defer removeMessages()

		removeTyping := sess.OnTypingChange(func(userIDs []string) {
			if len(userIDs) == 0 {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(out, "… %s typing\n", strings.Join(userIDs, ", "))
		})
		defer removeTyping()

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					// stdin closed; keep following until interrupted.
					lines = nil
					continue
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				sess.Input(line)
				if _, err := sess.Send(ctx, line, nil); err != nil {
					cmd.PrintErrf("send failed: %v\n", err)
				}
			}
		}
	},
}
