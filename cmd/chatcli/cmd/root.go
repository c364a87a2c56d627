package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/akinalp/threadline/client/api"
	"github.com/akinalp/threadline/models"
)

var (
	version = "dev"

	serverURL    string
	token        string
	channelID    string
	conversation string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Terminal client for threadline",
	Long: `chatcli reads and writes channel and conversation messages,
follows a scope live and manages threads and pins.

The server and token default to THREADLINE_SERVER and THREADLINE_TOKEN,
which may also come from a .env file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	_ = godotenv.Load()

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("THREADLINE_SERVER", "http://localhost:9090"), "server base URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("THREADLINE_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().StringVarP(&channelID, "channel", "c", "", "channel id")
	rootCmd.PersistentFlags().StringVar(&conversation, "conversation", "", "direct conversation id")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() (*api.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("no token: pass --token or set THREADLINE_TOKEN")
	}
	return api.New(serverURL, token), nil
}

func scopeFromFlags() (models.Scope, error) {
	switch {
	case channelID != "" && conversation != "":
		return models.Scope{}, fmt.Errorf("--channel and --conversation are mutually exclusive")
	case channelID != "":
		return models.Scope{Kind: models.ScopeChannel, ID: channelID}, nil
	case conversation != "":
		return models.Scope{Kind: models.ScopeConversation, ID: conversation}, nil
	default:
		return models.Scope{}, fmt.Errorf("pass --channel or --conversation")
	}
}

// selfID reads the user id out of the token. The signature is not checked;
// the server does that.
func selfID(tokenString string) string {
	claims := &models.TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	return claims.UserID
}

// profileLookup resolves author names for printing.
type profileLookup func(ctx context.Context, userID string) (*models.Profile, error)

func authorName(ctx context.Context, msg *models.Message, lookup profileLookup) string {
	if msg.Author != nil {
		return msg.Author.DisplayName
	}
	if lookup != nil && msg.AuthorID != "" {
		if p, err := lookup(ctx, msg.AuthorID); err == nil {
			return p.DisplayName
		}
	}
	return msg.AuthorID
}

func printMessage(w io.Writer, msg *models.Message, author string) {
	when := msg.CreatedAt
	if t, err := time.Parse(models.TimestampLayout, msg.CreatedAt); err == nil {
		when = humanize.Time(t)
	}

	text := msg.Text
	switch {
	case msg.IsRemoved():
		text = "(deleted)"
	case msg.EditedAt != nil:
		text += " (edited)"
	}
	if len(msg.Attachments) > 0 {
		names := make([]string, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			names = append(names, a.Filename)
		}
		text += " [" + strings.Join(names, ", ") + "]"
	}

	fmt.Fprintf(w, "%-14s %-16s %s", when, author, text)
	if msg.ThreadMessageCount > 0 {
		fmt.Fprintf(w, "  [%s]", pluralReplies(msg.ThreadMessageCount))
	}
	fmt.Fprintf(w, "  (%s)\n", msg.ID)
}

func pluralReplies(n int) string {
	if n == 1 {
		return "1 reply"
	}
	return humanize.Comma(int64(n)) + " replies"
}
