package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omochice/supportline/internal/config"
	"github.com/omochice/supportline/internal/observability"
)

var cfg = config.Load()

var rootCmd = &cobra.Command{
	Use:   "supportctl",
	Short: "Talk to a supportline relay from the terminal",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.SetLogger(observability.New(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel))
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.URL, "url", cfg.URL, "relay endpoint: ws(s)://host/ws/user or http(s)://host/sse")
	flags.StringVar((*string)(&cfg.Transport), "transport", string(cfg.Transport), "transport: ws or sse")
	flags.StringVar(&cfg.UserID, "user", cfg.UserID, "user id")
	flags.StringVar(&cfg.ConversationID, "conversation", cfg.ConversationID, "conversation id")
	flags.StringVar(&cfg.Token, "token", cfg.Token, "bearer token issued by the relay")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newTokenCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "supportctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
