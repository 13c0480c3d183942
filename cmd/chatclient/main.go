package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/chatbot-ui/internal/config"
	"github.com/MegaGrindStone/chatbot-ui/internal/services"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, backendURL, storePath string

	cmd := &cobra.Command{
		Use:   "chatclient",
		Short: "Chat with the bot backend from the terminal",
		Long: `chatclient opens a chat session against the bot backend and reads questions from stdin.

Commands:
  /new             create a thread and switch to it
  /chats           list threads
  /select <n|id>   switch to a thread by position or identifier
  /quit, /exit     leave

Anything else is sent as a question; the answer streams as it arrives.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if backendURL != "" {
				cfg.BackendURL = backendURL
			}
			if storePath != "" {
				cfg.StorePath = storePath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			level, _ := cfg.Level()
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cmd, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the config file (default: user config dir)")
	cmd.Flags().StringVar(&backendURL, "backend", "", "backend base URL, overrides the config file")
	cmd.Flags().StringVar(&storePath, "store", "", "path to the local store file, overrides the config file")

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, cfg config.Config, logger *slog.Logger) error {
	boltDB, err := services.NewBoltDB(cfg.StorePath)
	if err != nil {
		return err
	}
	defer boltDB.Close()

	sess, err := services.NewSession(cfg, boltDB, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	r := newREPL(sess, cmd.OutOrStdout(), cmd.ErrOrStderr())
	defer r.close()

	mountCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := sess.Mount(mountCtx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
	}

	return r.run(ctx, cmd.InOrStdin())
}
