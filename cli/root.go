// Package cli is the atlas command line: an interactive chat, one-shot
// questions, the HTTP server and state migrations.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	configx "github.com/MLAN1O/atlas/pkg/config"
	logx "github.com/MLAN1O/atlas/pkg/logger"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "Conversational agent over a business database",
	Long: `Atlas answers questions about a business database and records
single changes to it (insert, update, delete) from plain-language messages.

Every conversation thread keeps its state between turns, so an
interrupted turn can be resumed without repeating a write.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configx.SetEnvFile(envFile)
		conf, err := configx.New[logx.Config]("LOG")
		if err != nil {
			return err
		}
		logx.InitTo(os.Stderr, *conf)
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to a .env file (default ./.env when present)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
