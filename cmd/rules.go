package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/frahmantamala/familyguard/internal/gate"
	"github.com/spf13/cobra"
)

var rulesJSON bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the effective operation rule table",
	Long:  `Print the default operation rules merged with the configured black and white lists.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configDir)
		if err != nil {
			return err
		}
		table, err := gate.NewRuleTable(gate.DefaultRules(), cfg.Gate.Blacklist, cfg.Gate.Whitelist)
		if err != nil {
			return err
		}

		if rulesJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(gate.RulesResponse{
				Rules:     table.Rules(),
				Blacklist: table.Blacklist(),
				Whitelist: table.Whitelist(),
			})
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "OPERATION\tRISK\tAPPROVAL\tAUTO-BLOCK\tPERMISSION")
		for _, r := range table.Rules() {
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", r.Operation, r.Risk, r.RequireApproval, r.AutoBlock, r.RequiredPermission)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nblacklist: %s\nwhitelist: %s\n", joinOrNone(table.Blacklist()), joinOrNone(table.Whitelist()))
		return nil
	},
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func init() {
	rulesCmd.Flags().BoolVar(&rulesJSON, "json", false, "print as JSON")
}
