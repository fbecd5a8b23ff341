package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/identity"
	"github.com/spf13/cobra"
)

var seedUsers []string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Provision family accounts into the snapshot store",
	Long: `Restore the latest snapshot, create any missing accounts given as
username:ROLE:password and save the result as a new snapshot. Existing
accounts are left untouched.`,
	RunE: runSeed,
}

type seedAccount struct {
	Username string
	Role     identity.Role
	Password string
}

func parseSeedAccount(raw string) (seedAccount, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return seedAccount{}, fmt.Errorf("account %q must look like username:ROLE:password", raw)
	}
	role, err := identity.ParseRole(strings.ToUpper(parts[1]))
	if err != nil {
		return seedAccount{}, err
	}
	return seedAccount{Username: parts[0], Role: role, Password: parts[2]}, nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	accounts := make([]seedAccount, 0, len(seedUsers))
	for _, raw := range seedUsers {
		acc, err := parseSeedAccount(raw)
		if err != nil {
			return err
		}
		accounts = append(accounts, acc)
	}
	if len(accounts) == 0 {
		return errors.New("at least one --user is required")
	}

	cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	if !cfg.Snapshot.Enabled {
		return errors.New("seeding requires snapshot.enabled and a database")
	}
	cfg.Snapshot.SaveOnShutdown = true

	dbs, err := openDatabases(cfg.Database)
	if err != nil {
		return err
	}
	defer dbs.Close()

	core, err := newCore(cfg, dbs)
	if err != nil {
		return err
	}

	ctx, cancel := internal.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	if _, err := core.Snapshots.RestoreLatest(ctx); err != nil {
		_ = core.Shutdown(ctx)
		return fmt.Errorf("restore snapshot: %w", err)
	}

	for _, acc := range accounts {
		if _, err := core.Users.GetByUsername(acc.Username); err == nil {
			fmt.Printf("%s already exists; skipping\n", acc.Username)
			continue
		} else if internal.KindOf(err) != internal.ErrorTypeNotFound {
			_ = core.Shutdown(ctx)
			return err
		}

		if _, err := core.Admin.CreateUser(ctx, "seed", acc.Username, acc.Role, acc.Password); err != nil {
			_ = core.Shutdown(ctx)
			return fmt.Errorf("create %s: %w", acc.Username, err)
		}
		fmt.Printf("Seeded %s as %s\n", acc.Username, acc.Role)
	}

	return core.Shutdown(ctx)
}

func init() {
	seedCmd.Flags().StringArrayVarP(&seedUsers, "user", "u", nil, "account to create as username:ROLE:password (repeatable)")
}
