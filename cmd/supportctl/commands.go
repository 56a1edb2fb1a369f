package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/supportline/internal/relay"
	"github.com/omochice/supportline/internal/timeline"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the conversation timeline and status as they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()
			return s.wait(cmd.Context())
		},
	}
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Send stdin lines as user messages and print replies",
		Long:  "Each non-empty line is sent as a user message. Messages typed while offline are delivered after reconnecting. Type /quit to exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.close()

			lines := make(chan string)
			scanErr := make(chan error, 1)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					lines <- sc.Text()
				}
				scanErr <- sc.Err()
			}()

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case err := <-s.fatal:
					return err
				case line, ok := <-lines:
					if !ok {
						select {
						case err := <-scanErr:
							if err != nil {
								return fmt.Errorf("failed to read input: %w", err)
							}
						default:
						}
						return nil
					}
					text := strings.TrimSpace(line)
					switch text {
					case "":
						continue
					case "/quit", "/exit":
						return nil
					case "/read":
						s.store.MarkRead()
						continue
					}
					if err := s.send(timeline.NewLocalSend(text, time.Now())); err != nil {
						return err
					}
				}
			}
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		secret string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a relay token for --user and --conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret or SUPPORTLINE_JWT_SECRET is required")
			}
			if cfg.UserID == "" {
				return errors.New("--user is required")
			}
			r := relay.Role(role)
			if r != relay.RoleUser && r != relay.RoleAgent {
				return fmt.Errorf("invalid --role %q: want user or agent", role)
			}
			token, err := relay.NewAuth(secret).GenerateToken(cfg.UserID, cfg.ConversationID, r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&secret, "secret", cfg.JWTSecret, "HS256 secret shared with the relay")
	flags.StringVar(&role, "role", string(relay.RoleUser), "role the token grants: user or agent")
	flags.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
