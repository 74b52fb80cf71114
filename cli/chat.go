package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

var (
	chatThread string
	chatDate   string
	chatResume bool
)

var exitWords = map[string]bool{"sair": true, "exit": true, "quit": true}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		thread := strings.TrimSpace(chatThread)
		if thread == "" {
			thread = uuid.NewString()
		}
		return runChat(ctx, a.engine, chatSession{
			ThreadID:    thread,
			CurrentDate: chatDate,
			Resume:      chatResume,
		}, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "thread id to continue (default: a new thread)")
	chatCmd.Flags().StringVar(&chatDate, "date", "", "current date as YYYY-MM-DD (default: today)")
	chatCmd.Flags().BoolVar(&chatResume, "resume", false, "resume the interrupted turn of --thread first")
}

type chatSession struct {
	ThreadID    string
	CurrentDate string
	Resume      bool
}

// runChat reads one message per line until EOF or an exit word.
func runChat(ctx context.Context, h contractx.TurnHandler, s chatSession, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "thread %s (type \"sair\" to leave)\n", s.ThreadID)

	if s.Resume {
		res, err := h.Resume(ctx, s.ThreadID)
		if printTurn(out, res, err) {
			return err
		}
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if exitWords[strings.ToLower(line)] {
			return nil
		}

		res, err := h.HandleTurn(ctx, contractx.TurnInput{
			ThreadID:    s.ThreadID,
			UserText:    line,
			CurrentDate: s.CurrentDate,
		})
		if printTurn(out, res, err) {
			return err
		}
	}
}

// printTurn writes the answer or the rejection. It reports whether the chat must stop.
func printTurn(out io.Writer, res contractx.TurnOutput, err error) bool {
	if strings.TrimSpace(res.Answer) != "" {
		fmt.Fprintln(out, res.Answer)
		if res.Code != "" {
			fmt.Fprintf(out, "[%s]\n", res.Code)
		}
		return false
	}
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	fmt.Fprintf(out, "error: %v\n", err)
	return false
}
