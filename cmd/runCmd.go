package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mast-uitest/internal/applog"
	"mast-uitest/internal/config"
	"mast-uitest/internal/scenario"
)

// runCmd is the explicit form of the bare root invocation.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the web console scenario",
	RunE:  runScenario,
}

// runScenario loads the configuration and scenario, drives the browser
// through every step and writes the report. Step failures do not stop the
// run unless --fail-fast is set; any failure yields errScenarioFailed.
func runScenario(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgConfigPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	closer, err := applog.Setup(cfg.Logging, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = closer.Close() }()

	m, err := loadScenario()
	if err != nil {
		return err
	}

	driver, err := newDriverFunc(cfg)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() { _ = driver.Close() }()

	r := scenario.NewRunner(driver, cfg)
	r.FailFast = cfgFailFast
	r.ScreenshotDir = cfgScreenshotDir

	report, runErr := r.Run(cmd.Context(), m)
	if report != nil && cfgReportPath != "" {
		if err := writeReport(cfgReportPath, report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	s := report.Summary
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Done. %d steps: %d passed, %d failed, %d skipped\n",
		s.Total, s.Passed, s.Failed, s.Skipped)
	if cfgReportPath != "" {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", cfgReportPath)
	}
	if report.Failed() {
		return errScenarioFailed
	}
	return nil
}

// loadScenario reads --scenario, or the built-in scenario when unset.
func loadScenario() (*scenario.Manifest, error) {
	var (
		m   *scenario.Manifest
		err error
	)
	if cfgScenarioPath == "" {
		m, err = scenario.Default()
	} else {
		m, err = scenario.Load(cfgScenarioPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return m, nil
}

func writeReport(path string, report *scenario.Report) error {
	// Prepare output file (create dirs if needed)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := scenario.WriteYAML(f, report); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write YAML report: %w", err)
	}
	return f.Close()
}
