package cmd

import (
	"fmt"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/audit"
	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Notification channel commands",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test [operation]",
	Short: "Send a test SECURITY notification",
	Long: `Record a synthetic SECURITY audit event so that every configured
channel (log, NATS) receives an alert, an immediate notification and a
security team notification.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configDir)
		if err != nil {
			return err
		}
		// Never touch the stores from a connectivity check.
		cfg.Database.Enabled = false
		cfg.Audit.SinkEnabled = false
		cfg.Snapshot.Enabled = false

		core, err := newCore(cfg, nil)
		if err != nil {
			return err
		}

		operation := "notification_test"
		if len(args) == 1 {
			operation = args[0]
		}

		ctx, cancel := internal.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		id, err := core.Audit.Log(ctx, audit.Entry{
			Type:      audit.TypeOperation,
			User:      "familyguard-cli",
			Operation: operation,
			Level:     audit.LevelSecurity,
			Details:   map[string]interface{}{"test": true},
		})
		if err != nil {
			_ = core.Shutdown(ctx)
			return err
		}
		if err := core.Shutdown(ctx); err != nil {
			return err
		}
		fmt.Println("Test notification sent for audit event", id)
		return nil
	},
}

func init() {
	notifyCmd.AddCommand(notifyTestCmd)
}
