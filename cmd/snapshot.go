package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/snapshot"
	snapshotPostgres "github.com/frahmantamala/familyguard/internal/snapshot/postgres"
	"github.com/frahmantamala/familyguard/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	snapshotID    string
	snapshotOut   string
	snapshotLimit int
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect persisted state snapshots",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSnapshotService(cmd.Context(), func(ctx context.Context, svc *snapshot.Service) error {
			items, err := svc.List(ctx, snapshotLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tREASON\tENTRIES")
			for _, s := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.ID, s.CreatedAt.Format(time.RFC3339), s.Reason, s.EntryCount)
			}
			return w.Flush()
		})
	},
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a snapshot as JSON",
	Long:  `Write the snapshot with --id, or the latest one, to --out or stdout.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSnapshotService(cmd.Context(), func(ctx context.Context, svc *snapshot.Service) error {
			var (
				snap *snapshot.Snapshot
				err  error
			)
			if snapshotID != "" {
				snap, err = svc.Get(ctx, snapshotID)
			} else {
				snap, err = latestSnapshot(ctx, svc)
			}
			if err != nil {
				return err
			}

			out := os.Stdout
			if snapshotOut != "" {
				f, err := os.OpenFile(snapshotOut, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		})
	},
}

func latestSnapshot(ctx context.Context, svc *snapshot.Service) (*snapshot.Snapshot, error) {
	items, err := svc.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("no snapshots stored")
	}
	return svc.Get(ctx, items[0].ID)
}

// withSnapshotService opens only the snapshot store; no core is assembled.
func withSnapshotService(parent context.Context, fn func(ctx context.Context, svc *snapshot.Service) error) error {
	cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return errors.New("snapshot commands require database.enabled")
	}

	dbs, err := openDatabases(cfg.Database)
	if err != nil {
		return err
	}
	defer dbs.Close()

	svc := snapshot.NewService(logger.LoggerWrapper(),
		snapshot.WithRepository(snapshotPostgres.NewSnapshotRepository(dbs.Gorm)))

	ctx, cancel := internal.WithTimeout(parent, time.Minute)
	defer cancel()
	return fn(ctx, svc)
}

func init() {
	snapshotListCmd.Flags().IntVarP(&snapshotLimit, "limit", "n", 20, "maximum snapshots to list")
	snapshotExportCmd.Flags().StringVar(&snapshotID, "id", "", "snapshot id (default latest)")
	snapshotExportCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "output file (default stdout)")

	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotExportCmd)
}
