package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// init configures the root command's persistent flags, binds them to
// environment variables via Viper, and registers all subcommands.
func init() {
	// Persistent flags (inherited by run, verify and preflight)
	rootCmd.PersistentFlags().StringVarP(&cfgConfigPath, "config", "c", "config.json", "Path to the configuration document (JSON or YAML)")
	rootCmd.PersistentFlags().StringVarP(&cfgScenarioPath, "scenario", "s", "", "Path to a scenario manifest (default: built-in DataPower scenario)")
	rootCmd.PersistentFlags().StringVarP(&cfgReportPath, "report", "o", "", "Path to write the YAML report")
	rootCmd.PersistentFlags().StringVar(&cfgScreenshotDir, "screenshots", "", "Directory for screenshots of failed steps")
	rootCmd.PersistentFlags().BoolVar(&cfgFailFast, "fail-fast", false, "Skip the remaining steps after the first failure")
	rootCmd.PersistentFlags().BoolVar(&cfgHeadless, "headless", true, "Run Chrome without a window (overrides browser.headless)")
	rootCmd.PersistentFlags().StringVar(&cfgChromePath, "chrome", "", "Path to the Chrome executable")
	rootCmd.PersistentFlags().StringVar(&cfgRemoteURL, "remote-url", "", "DevTools endpoint of an already running browser")
	rootCmd.PersistentFlags().StringVar(&cfgKeyPath, "ssh-key", "", "Path to SSH private key for preflight (PEM, OpenSSH)")
	rootCmd.PersistentFlags().StringVar(&cfgPassphrase, "passphrase", "", "Private key passphrase (or set MAST_UITEST_PASSPHRASE)")
	rootCmd.PersistentFlags().StringVar(&cfgKnownHosts, "known-hosts", filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"), "Path to known_hosts file")
	rootCmd.PersistentFlags().BoolVar(&cfgStrictHost, "strict-host-key", false, "Require host key verification for preflight")
	rootCmd.PersistentFlags().DurationVar(&cfgConnTimeout, "conn-timeout", 15*time.Second, "SSH connection timeout")
	rootCmd.PersistentFlags().DurationVar(&cfgSettle, "settle", 500*time.Millisecond, "Quiet period that ends each console command's output")

	// Bind env with Viper
	for _, name := range []string{
		"config", "scenario", "report", "screenshots", "fail-fast", "headless", "chrome", "remote-url",
		"ssh-key", "passphrase", "known-hosts", "strict-host-key", "conn-timeout", "settle",
	} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	viper.SetEnvPrefix("MAST_UITEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Pull in environment overrides on init
	cobra.OnInitialize(func() {
		if v := viper.GetString("config"); v != "" {
			cfgConfigPath = v
		}
		if v := viper.GetString("scenario"); v != "" {
			cfgScenarioPath = v
		}
		if v := viper.GetString("report"); v != "" {
			cfgReportPath = v
		}
		if v := viper.GetString("screenshots"); v != "" {
			cfgScreenshotDir = v
		}
		if v := viper.GetString("chrome"); v != "" {
			cfgChromePath = v
		}
		if v := viper.GetString("remote-url"); v != "" {
			cfgRemoteURL = v
		}
		if v := viper.GetString("ssh-key"); v != "" {
			cfgKeyPath = v
		}
		if v := viper.GetString("passphrase"); v != "" {
			cfgPassphrase = v
		}
		if v := viper.GetString("known-hosts"); v != "" {
			cfgKnownHosts = v
		}
		if v := viper.GetString("conn-timeout"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				cfgConnTimeout = d
			}
		}
		if v := viper.GetString("settle"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				cfgSettle = d
			}
		}
		// Booleans
		if viper.IsSet("fail-fast") {
			cfgFailFast = viper.GetBool("fail-fast")
		}
		if viper.IsSet("strict-host-key") {
			cfgStrictHost = viper.GetBool("strict-host-key")
		}
		// headless only overrides the document when given explicitly
		cfgHeadlessSet = viper.IsSet("headless")
		if cfgHeadlessSet {
			cfgHeadless = viper.GetBool("headless")
		}
	})

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(preflightCmd)
}
