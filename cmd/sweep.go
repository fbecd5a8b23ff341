package cmd

import (
	"encoding/json"
	"os"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/spf13/cobra"
)

var sweepTimeout time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one audit retention sweep",
	Long: `Restore the latest snapshot, purge audit events older than the
retention window from memory and the audit sink, drop expired sessions and
idle rate-limit windows, then save the pruned state.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configDir)
		if err != nil {
			return err
		}

		dbs, err := openDatabases(cfg.Database)
		if err != nil {
			return err
		}
		defer dbs.Close()

		core, err := newCore(cfg, dbs)
		if err != nil {
			return err
		}

		ctx, cancel := internal.WithTimeout(cmd.Context(), sweepTimeout)
		defer cancel()

		if core.SnapshotsEnabled() {
			if _, err := core.Snapshots.RestoreLatest(ctx); err != nil {
				_ = core.Shutdown(ctx)
				return err
			}
		}

		res := core.Sweeper.Sweep(ctx)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			_ = core.Shutdown(ctx)
			return err
		}
		return core.Shutdown(ctx)
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 5*time.Minute, "upper bound for the sweep and the final snapshot")
}
