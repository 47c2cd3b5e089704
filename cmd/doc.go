// Package cmd implements the mast-uitest command-line interface.
//
// The root command (and its alias, run) loads the configuration document,
// drives the web console scenario in Chrome and writes a YAML report. verify
// checks the configuration and scenario without opening a browser. preflight
// runs the scenario's terminal script directly over SSH against every
// appliance, which separates appliance faults from web console faults.
//
// Start with rootCmd.go and runCmd.go for the main flow; init.go holds the
// flag and environment wiring shared by all subcommands.
package cmd
