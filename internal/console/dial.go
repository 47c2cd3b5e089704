// Package console talks to an appliance's command line directly over SSH. It
// runs the same script the web terminal sends, so a transcript obtained here
// is the baseline the browser run is compared against.
package console

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/op/go-logging"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

var log = logging.MustGetLogger("console")

// DialOptions selects authentication and host key checking.
type DialOptions struct {
	User       string
	Password   string
	KeyPath    string
	Passphrase string
	// KnownHostsPath is required when StrictHostKey is set.
	KnownHostsPath string
	StrictHostKey  bool
	Timeout        time.Duration
}

// Dial establishes an SSH client connection to target (host:port).
func Dial(target string, o DialOptions) (*ssh.Client, error) {
	var auths []ssh.AuthMethod

	if o.KeyPath != "" {
		signer, err := loadSigner(o.KeyPath, o.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("load key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}

	if o.Password != "" {
		auths = append(auths, ssh.Password(o.Password))
		// Appliances commonly offer keyboard-interactive instead of password.
		auths = append(auths, ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = o.Password
			}
			return answers, nil
		}))
	}

	if a := os.Getenv("SSH_AUTH_SOCK"); a != "" {
		if conn, err := net.Dial("unix", a); err == nil {
			ag := agent.NewClient(conn)
			auths = append(auths, ssh.PublicKeysCallback(ag.Signers))
		}
	}

	var hostKeyCB ssh.HostKeyCallback
	if o.StrictHostKey {
		if _, err := os.Stat(o.KnownHostsPath); err != nil {
			return nil, fmt.Errorf("known_hosts file not found at %s and strict-host-key is enabled", o.KnownHostsPath)
		}
		cb, err := knownhosts.New(o.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("known_hosts: %w", err)
		}
		hostKeyCB = cb
	} else {
		hostKeyCB = ssh.InsecureIgnoreHostKey()
	}

	cfg := &ssh.ClientConfig{
		User:            o.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCB,
		Timeout:         o.Timeout,
	}

	d := net.Dialer{Timeout: o.Timeout}
	conn, err := d.Dial("tcp", target)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, target, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Debugf("connected to %s as %s", target, o.User)
	return ssh.NewClient(c, chans, reqs), nil
}

// loadSigner loads a private key with optional passphrase.
func loadSigner(path, passphrase string) (ssh.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(b, []byte(passphrase))
	}
	s, err := ssh.ParsePrivateKey(b)
	if err == nil {
		return s, nil
	}
	var passphraseMissingError *ssh.PassphraseMissingError
	if errors.As(err, &passphraseMissingError) {
		return nil, errors.New("private key is encrypted; provide --passphrase or MAST_UITEST_PASSPHRASE")
	}
	return nil, err
}
