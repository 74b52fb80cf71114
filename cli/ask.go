package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

var (
	askThread string
	askDate   string
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Run a single turn and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		thread := strings.TrimSpace(askThread)
		if thread == "" {
			thread = uuid.NewString()
		}
		res, err := a.engine.HandleTurn(cmd.Context(), contractx.TurnInput{
			ThreadID:    thread,
			UserText:    strings.Join(args, " "),
			CurrentDate: askDate,
		})
		if strings.TrimSpace(res.Answer) == "" {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Answer)
		return err
	},
}

func init() {
	askCmd.Flags().StringVar(&askThread, "thread", "", "thread id (default: a new thread)")
	askCmd.Flags().StringVar(&askDate, "date", "", "current date as YYYY-MM-DD (default: today)")
}
