package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/audit"
	auditPostgres "github.com/frahmantamala/familyguard/internal/audit/postgres"
	"github.com/spf13/cobra"
)

var (
	auditLevel string
	auditLimit int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the persistent audit trail",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print persisted audit events, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configDir)
		if err != nil {
			return err
		}
		if !cfg.Database.Enabled {
			return errors.New("audit query requires database.enabled")
		}

		var level audit.Level
		if auditLevel != "" {
			if level, err = audit.ParseLevel(auditLevel); err != nil {
				return err
			}
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := internal.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		events, err := auditPostgres.NewSink(db).Query(ctx, level, auditLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	},
}

func init() {
	auditQueryCmd.Flags().StringVarP(&auditLevel, "level", "l", "", "only events of this level")
	auditQueryCmd.Flags().IntVarP(&auditLimit, "limit", "n", audit.DefaultLimit, "maximum events")

	auditCmd.AddCommand(auditQueryCmd)
}
