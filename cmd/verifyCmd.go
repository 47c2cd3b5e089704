package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mast-uitest/internal/config"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validate the configuration document and scenario manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgConfigPath)
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		m, err := loadScenario()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Config OK (%d appliances: %s)\n", len(cfg.Appliances), strings.Join(cfg.Hostnames(), ", "))
		_, _ = fmt.Fprintf(out, "Manifest OK (%s, %d steps)\n", m.Name, len(m.Steps))
		return nil
	},
}
