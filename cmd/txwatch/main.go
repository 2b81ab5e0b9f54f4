package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	baseURL     string
	accessToken string
	maxAttempts int
	retryDelay  string
	jsonOutput  bool
	follow      bool
	logLevel    string
)

func defaultBaseURL() string {
	if s := os.Getenv("TXSTREAM_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

var rootCmd = &cobra.Command{
	Use:   "txwatch <tx_ref>",
	Short: "Follow the status of a wallet transaction",
	Long: `Opens the transaction status stream and prints every status update.
Exits once the transaction reaches a final status, unless --follow is set.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts, err := watchOptionsFromFlags(args[0])
		if err != nil {
			return err
		}
		return watch(ctx, opts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringVar(&baseURL, "url", defaultBaseURL(), "stream server base URL (env TXSTREAM_URL)")
	rootCmd.Flags().StringVar(&accessToken, "token", os.Getenv("TXSTREAM_TOKEN"), "access token (env TXSTREAM_TOKEN)")
	rootCmd.Flags().IntVar(&maxAttempts, "max-attempts", 5, "consecutive failed connections before giving up")
	rootCmd.Flags().StringVar(&retryDelay, "retry-delay", "3s", "delay between reconnect attempts")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "print updates as JSON lines")
	rootCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep watching after a final status")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "error", "client log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
