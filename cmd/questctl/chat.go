package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ashureev/questline/internal/chat"
	"github.com/ashureev/questline/internal/domain"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat QUEST_ID",
	Short: "Join a quest chat room",
	Long: `Join the chat room of a quest. Stored history is printed first, then each
line read from stdin is sent to the room. Messages are sent over HTTP while
the realtime connection is down. Exit with Ctrl-D or Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		questID, err := domain.ParseID(args[0])
		if err != nil {
			return fmt.Errorf("invalid quest id %q: %w", args[0], err)
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.requireSession(ctx); err != nil {
				return err
			}
			return runChat(ctx, a, questID)
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(ctx context.Context, a *app, questID domain.ID) error {
	self := a.auth.Snapshot().UserID
	room := chat.NewRoom(chat.Config{
		QuestID:     questID,
		UserID:      self,
		Dialer:      &chat.WebSocketDialer{BaseURL: a.cfg.ChatBaseURL},
		API:         a.client,
		Token:       a.sessions.AccessToken,
		BackoffUnit: a.cfg.Chat.BackoffUnit,
		MaxAttempts: a.cfg.Chat.MaxAttempts,
		Metrics:     a.metrics,
		Logger:      a.logger,
		OnMessage: func(m domain.Message) {
			fmt.Fprintln(a.out, formatMessage(m, self, time.Now()))
		},
		OnNotice: func(notice string) {
			fmt.Fprintln(os.Stderr, notice)
		},
		OnStateChange: func(s chat.State) {
			a.logger.Debug("Chat state changed", "state", s.String())
		},
		OnFatal: func(err error) {
			fmt.Fprintln(os.Stderr, err)
		},
	})

	if _, err := room.LoadHistory(ctx); err != nil {
		if handled := a.auth.HandleError(ctx, err); handled != nil {
			a.logger.Warn("Could not load chat history", "error", handled)
		}
	}
	room.Start(ctx)
	defer func() { _ = room.Close() }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-room.Done():
			return room.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := room.Send(ctx, line); err != nil {
				fmt.Fprintln(os.Stderr, describeError(a.auth.HandleError(ctx, err)))
			}
		}
	}
}
