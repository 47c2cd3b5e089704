package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mast-uitest/internal/config"
	"mast-uitest/internal/console"
	"mast-uitest/internal/scenario"
)

// preflightCmd runs the scenario's terminal script over a direct SSH
// connection to every appliance and checks the same expectations the web
// terminal step checks. Hosts are processed in order; a failing host is
// counted and the next one is tried.
var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Run the terminal script on every appliance over direct SSH",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		m, err := loadScenario()
		if err != nil {
			return err
		}
		step := terminalStep(m)
		if step == nil {
			return errors.New("scenario has no terminal step")
		}

		out := cmd.OutOrStdout()
		failures := 0
		for _, a := range cfg.Appliances {
			target := sshTarget(a)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Checking %s\n", target)
			missing, err := preflightHost(cmd.Context(), a, target, step)
			if err != nil {
				_, _ = fmt.Fprintf(out, "Host %s: %v\n", a.Hostname, err)
				failures++
				continue
			}
			if len(missing) > 0 {
				for _, w := range missing {
					_, _ = fmt.Fprintf(out, "Host %s: '%s' not found in transcript\n", a.Hostname, w)
				}
				failures++
				continue
			}
			_, _ = fmt.Fprintf(out, "Host %s: OK\n", a.Hostname)
		}
		if failures > 0 {
			return fmt.Errorf("preflight completed with %d failures", failures)
		}
		return nil
	},
}

// terminalStep returns the first terminal step of m.
func terminalStep(m *scenario.Manifest) *scenario.Step {
	for i := range m.Steps {
		if m.Steps[i].Action == scenario.ActionTerminal {
			return &m.Steps[i]
		}
	}
	return nil
}

// sshTarget returns host:port for a, defaulting the port to 22.
func sshTarget(a config.Appliance) string {
	port := a.SSHPort
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(a.Hostname, strconv.Itoa(port))
}

// preflightHost runs step's commands on one appliance and returns the
// expected strings missing from the transcript. Only the appliance's own
// hostname counts for expect_hostnames.
func preflightHost(ctx context.Context, a config.Appliance, target string, step *scenario.Step) ([]string, error) {
	client, err := dialSSHFunc(target, console.DialOptions{
		User:           a.Username,
		Password:       a.Password,
		KeyPath:        cfgKeyPath,
		Passphrase:     cfgPassphrase,
		KnownHostsPath: cfgKnownHosts,
		StrictHostKey:  cfgStrictHost,
		Timeout:        cfgConnTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh connection failed: %w", err)
	}
	defer func() { _ = client.Close() }()

	sess, err := console.Open(client, a.Username, a.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to start console session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	budget := cfgConnTimeout + time.Duration(len(step.Commands)+1)*(cfgSettle+5*time.Second)
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	transcript, err := sess.RunScript(ctx, step.Commands, cfgSettle)
	if err != nil {
		return nil, fmt.Errorf("console script: %w", err)
	}

	return scenario.Missing(transcript, step.Expected([]string{a.Hostname})), nil
}
