package cmd

import (
	"errors"
	"os"
	"time"

	"mast-uitest/internal/browser"
	"mast-uitest/internal/config"
	"mast-uitest/internal/console"
)

// Version is the CLI version string injected at build time via -ldflags.
var Version = "0.1.0"

// errScenarioFailed signals that the run completed but at least one step
// failed. Execute prints it to stdout and exits 1.
var errScenarioFailed = errors.New("one or more scenario steps failed")

var (
	// Global configuration populated by flags and/or environment variables.
	// These are declared here so they are visible across subcommands.
	cfgConfigPath    string
	cfgScenarioPath  string
	cfgReportPath    string
	cfgScreenshotDir string
	cfgFailFast      bool
	cfgHeadless      bool
	cfgHeadlessSet   bool
	cfgChromePath    string
	cfgRemoteURL     string
	cfgKeyPath       string
	cfgPassphrase    string
	cfgKnownHosts    string
	cfgStrictHost    bool
	cfgConnTimeout   time.Duration
	cfgSettle        time.Duration
)

// Allow tests to stub the browser, SSH dialing and process exit
var (
	newDriverFunc = newChromeDriver
	dialSSHFunc   = console.Dial
	exitFunc      = os.Exit
)

// newChromeDriver starts Chrome from the browser section of cfg. The
// --headless, --chrome and --remote-url flags override the document.
func newChromeDriver(cfg *config.Config) (browser.Driver, error) {
	o := browser.Options{
		RemoteURL:        cfg.Browser.RemoteURL,
		ExecPath:         cfg.Browser.ExecPath,
		Headless:         cfg.Browser.Headless,
		NoSandbox:        cfg.Browser.NoSandbox,
		IgnoreCertErrors: cfg.Browser.IgnoreCertErrors,
		WindowWidth:      cfg.Browser.WindowWidth,
		WindowHeight:     cfg.Browser.WindowHeight,
		ActionTimeout:    cfg.Timeouts.Result,
	}
	if cfgHeadlessSet {
		o.Headless = cfgHeadless
	}
	if cfgChromePath != "" {
		o.ExecPath = cfgChromePath
	}
	if cfgRemoteURL != "" {
		o.RemoteURL = cfgRemoteURL
	}
	c, err := browser.NewChrome(o)
	if err != nil {
		return nil, err
	}
	return c, nil
}
