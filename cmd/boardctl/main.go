package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"linear/api/internal/client"
	"linear/api/internal/logging"
)

type globalOptions struct {
	apiURL   string
	userID   string
	logLevel string
}

func (o *globalOptions) client() *client.Client {
	logger := logging.New(os.Stderr, o.logLevel, "text")
	return client.New(o.apiURL, o.userID, client.WithLogger(logger))
}

func (o *globalOptions) session() *client.Session {
	c := o.client()
	return client.NewSession(c, c, logging.New(os.Stderr, o.logLevel, "text"))
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:          "boardctl",
		Short:        "Work with a team board from the terminal",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api", getenv("LINEAR_API_URL", "http://localhost:8787"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&opts.userID, "user", os.Getenv("LINEAR_USER_ID"), "acting user id")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(
		newBoardCommand(opts),
		newWatchCommand(opts),
		newMoveCommand(opts),
		newThreadCommand(opts),
		newCommentCommand(opts),
		newReactCommand(opts),
		newExportCommand(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
