package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mast-uitest",
	Short: "Drive the M.A.S.T. for DP web console through its acceptance scenario",
	Long: "Opens the M.A.S.T. for DP web console in Chrome, registers the configured DataPower appliances and " +
		"walks every tab through the scenario, checking each result region. Exits 1 when any step fails.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runScenario,
}
