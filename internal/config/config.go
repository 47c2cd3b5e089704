// Package config loads the run configuration: the console address, the
// appliances to register, logging options and timing.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/op/go-logging"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides of config keys (MAST_ADDRESS,
// MAST_LOGGING_LEVEL, ...).
const EnvPrefix = "MAST"

// Config is loaded once at start and treated as immutable for the run.
type Config struct {
	Address    string      `mapstructure:"address"`
	Appliances []Appliance `mapstructure:"appliances"`
	Logging    Logging     `mapstructure:"logging"`
	// Delay is the inter-step settle time in seconds.
	Delay    float64  `mapstructure:"delay"`
	Browser  Browser  `mapstructure:"browser"`
	Timeouts Timeouts `mapstructure:"timeouts"`
}

// Appliance is one managed appliance registered through the console.
type Appliance struct {
	Hostname string `mapstructure:"hostname"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// SSHPort is used by preflight only.
	SSHPort int `mapstructure:"ssh_port"`
}

// Logging selects the log level and sinks.
type Logging struct {
	Level    string `mapstructure:"level"`
	Stdout   bool   `mapstructure:"stdout"`
	Filename string `mapstructure:"filename"`
	// Mode is "a" (append) or "w" (truncate) for Filename.
	Mode string `mapstructure:"mode"`
}

type Browser struct {
	Headless         bool   `mapstructure:"headless"`
	ExecPath         string `mapstructure:"exec_path"`
	RemoteURL        string `mapstructure:"remote_url"`
	NoSandbox        bool   `mapstructure:"no_sandbox"`
	IgnoreCertErrors bool   `mapstructure:"ignore_cert_errors"`
	WindowWidth      int    `mapstructure:"window_width"`
	WindowHeight     int    `mapstructure:"window_height"`
}

// Timeouts bound every wait the runner performs.
type Timeouts struct {
	// Element bounds presence waits for tabs, panes and appliance rows.
	Element time.Duration `mapstructure:"element"`
	// Result bounds waits for result regions and terminal transcripts.
	Result time.Duration `mapstructure:"result"`
	// Poll is the fixed interval between presence checks.
	Poll time.Duration `mapstructure:"poll"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("delay", 1)
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.stdout", true)
	v.SetDefault("logging.mode", "a")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("timeouts.element", "10s")
	v.SetDefault("timeouts.result", "30s")
	v.SetDefault("timeouts.poll", "500ms")
}

// Load reads the configuration document at path. JSON and YAML are accepted;
// the extension picks the parser.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields the runner relies on.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Address)
	if err != nil || c.Address == "" {
		return errors.New("address is required (console URL)")
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("address %q must be an absolute http(s) URL", c.Address)
	}
	if len(c.Appliances) == 0 {
		return errors.New("at least one appliance is required")
	}
	seen := make(map[string]struct{}, len(c.Appliances))
	for i, a := range c.Appliances {
		h := strings.TrimSpace(a.Hostname)
		if h == "" {
			return fmt.Errorf("appliances[%d].hostname is required", i)
		}
		if _, dup := seen[h]; dup {
			return fmt.Errorf("appliances[%d].hostname %q is duplicated", i, h)
		}
		seen[h] = struct{}{}
		if a.SSHPort < 0 || a.SSHPort > 65535 {
			return fmt.Errorf("appliances[%d].ssh_port %d out of range", i, a.SSHPort)
		}
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Mode {
	case "", "a", "w":
	default:
		return fmt.Errorf("logging.mode %q must be \"a\" or \"w\"", c.Logging.Mode)
	}
	if c.Delay < 0 {
		return errors.New("delay must not be negative")
	}
	if c.Timeouts.Element <= 0 || c.Timeouts.Result <= 0 || c.Timeouts.Poll <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// DelayDuration returns Delay as a duration.
func (c *Config) DelayDuration() time.Duration {
	return time.Duration(c.Delay * float64(time.Second))
}

// Hostnames returns the appliance hostnames in configuration order.
func (c *Config) Hostnames() []string {
	out := make([]string, 0, len(c.Appliances))
	for _, a := range c.Appliances {
		out = append(out, a.Hostname)
	}
	return out
}

// pythonLevels maps the numeric levels some existing config files carry.
var pythonLevels = map[int]logging.Level{
	10: logging.DEBUG,
	20: logging.INFO,
	30: logging.WARNING,
	40: logging.ERROR,
	50: logging.CRITICAL,
}

// ParseLevel accepts go-logging level names, "WARN", and the numeric levels
// 10 through 50.
func ParseLevel(s string) (logging.Level, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return logging.INFO, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if lvl, ok := pythonLevels[n]; ok {
			return lvl, nil
		}
		return logging.ERROR, fmt.Errorf("unknown numeric level %d", n)
	}
	if s == "WARN" {
		s = "WARNING"
	}
	return logging.LogLevel(s)
}
