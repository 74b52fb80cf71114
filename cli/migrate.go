package cli

import (
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	datastorex "github.com/MLAN1O/atlas/agent/datastore"
	statex "github.com/MLAN1O/atlas/agent/state"
	configx "github.com/MLAN1O/atlas/pkg/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the conversation state tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appCfg, err := configx.New[AppConfig]("ATLAS")
		if err != nil {
			return err
		}

		switch appCfg.StateBackend {
		case backendSQLite, "":
			st, err := statex.OpenSQLite(ctx, appCfg.SQLitePath)
			if err != nil {
				return err
			}
			log.Info().Str("path", appCfg.SQLitePath).Msg("sqlite state store migrated")
			return st.Close()
		case backendPostgres:
			dbCfg, err := configx.New[datastorex.Config]("DATABASE")
			if err != nil {
				return err
			}
			db, err := datastorex.Open(ctx, *dbCfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := statex.Migrate(ctx, db.DB, goose.DialectPostgres); err != nil {
				return err
			}
			log.Info().Msg("postgres state store migrated")
			return nil
		case backendUpstash:
			log.Info().Msg("upstash state store needs no migration")
			return nil
		default:
			return fmt.Errorf("unknown state backend %q", appCfg.StateBackend)
		}
	},
}
