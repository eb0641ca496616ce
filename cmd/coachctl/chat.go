package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashureev/rallycoach/internal/app"
	"github.com/ashureev/rallycoach/internal/coach"
	"github.com/spf13/cobra"
)

func chatCMD() *cobra.Command {
	var email string
	chat := &cobra.Command{
		Use:   "chat",
		Short: "Hold a coaching session in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			return runChat(ctx, a.Service, email, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	chat.Flags().StringVar(&email, "email", "", "player email")
	_ = chat.MarkFlagRequired("email")
	return chat
}

// runChat reads one utterance per line until the session ends or input
// closes. Closing input ends the session.
func runChat(ctx context.Context, svc *coach.Service, email string, in io.Reader, out io.Writer) error {
	sess, replies, err := svc.Start(ctx, email)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	fmt.Fprintf(out, "Session %d for %s (type /end to finish)\n", sess.Number(), sess.PlayerEmail())
	printReplies(out, replies)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/end" {
			break
		}
		replies, err := sess.Handle(ctx, line)
		if err != nil {
			return fmt.Errorf("handle turn: %w", err)
		}
		printReplies(out, replies)
		if sess.Ended() {
			printSummary(out, sess)
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	if _, err := sess.End(ctx); err != nil && !errors.Is(err, coach.ErrSessionEnded) {
		return fmt.Errorf("end session: %w", err)
	}
	printSummary(out, sess)
	return nil
}

func printReplies(out io.Writer, replies []coach.Reply) {
	for _, r := range replies {
		if r.IsError() {
			fmt.Fprintf(out, "coach [%s]: %s\n", r.ErrorKind, r.Content)
			continue
		}
		fmt.Fprintf(out, "coach: %s\n", r.Content)
	}
}

func printSummary(out io.Writer, sess *coach.Session) {
	sum := sess.Summary()
	if sum == nil {
		return
	}
	fmt.Fprintf(out, "\nSession %d summary\n  Focus: %s\n  Homework: %s\n  Next: %s\n",
		sum.SessionNumber, sum.TechnicalFocus, sum.Homework, sum.NextFocus)
}
