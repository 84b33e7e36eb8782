package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nikhil/eavenchat/internal/client"
	"github.com/nikhil/eavenchat/internal/middleware"
	"github.com/nikhil/eavenchat/internal/models"
	"github.com/nikhil/eavenchat/internal/reconciler"
)

// NewWatchCommand creates the watch command, a terminal viewer for one room.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		server string
		token  string
		userID int64
	)

	cmd := &cobra.Command{
		Use:   "watch <room>",
		Short: "Follow a room from the command line",
		Long: `Open a room as the given user and print its messages as they arrive.

Example:
  eaven watch --user 5 dm-5-9
  eaven watch --server https://chat.example.com --token $TOKEN --user 12 project-3-team`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, ok := models.ParseRoom(args[0])
			if !ok {
				return fmt.Errorf("unknown room %q", args[0])
			}
			if userID <= 0 {
				return errors.New("--user must be a positive id")
			}
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if token == "" {
				if token, err = middleware.NewAuth(cfg.JWTSecret).Issue(userID, time.Hour); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(background(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			api := client.New(server, token, userID, log.Named("client"))
			session := reconciler.NewSession(userID, api, api, log.Named("reconciler"))
			session.PollInterval = cfg.PollInterval
			if err := session.Open(ctx, ch); err != nil {
				return err
			}

			go session.Run(ctx)

			out := cmd.OutOrStdout()
			var shown int64
			ticker := time.NewTicker(cfg.PollInterval)
			defer ticker.Stop()
			for {
				for _, e := range session.Messages() {
					if e.Provisional() || e.Message.ID <= shown {
						continue
					}
					shown = e.Message.ID
					fmt.Fprintf(out, "[%s] %s: %s\n",
						time.UnixMilli(e.Message.CreatedAt).Format(time.Kitchen),
						e.Message.Author.Name,
						e.Message.Body,
					)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "chat server base URL")
	cmd.Flags().StringVar(&token, "token", "", "access token; a development token is signed when empty")
	cmd.Flags().Int64Var(&userID, "user", 0, "viewing user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
