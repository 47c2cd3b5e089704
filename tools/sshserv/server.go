// Package sshserv is an in-process SSH server that emulates the appliance
// command line closely enough to exercise the console terminal script: an
// in-band login, echoed input, global configuration mode, domain switching,
// and the directory commands.
package sshserv

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Options configures the emulator.
type Options struct {
	// Hostname is shown in the prompt.
	Hostname string
	// User and Password, when Password is set, are required both for SSH
	// password auth and for the in-band login.
	User     string
	Password string
	// InBandLogin makes the shell ask "login:" and "Password:" before the
	// first prompt, as the appliance does.
	InBandLogin bool
}

// Server is a running emulator.
type Server struct {
	ln   net.Listener
	opts Options
	done chan struct{}

	mu   sync.Mutex
	dirs map[string]map[string]bool // domain -> created directories
}

// Start listens on listenAddr (use "127.0.0.1:0" for an ephemeral port) and
// serves until Stop.
func Start(listenAddr string, opts Options) (*Server, error) {
	if opts.Hostname == "" {
		opts.Hostname = "dp1"
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ServerConfig{NoClientAuth: opts.Password == ""}
	if opts.Password != "" {
		cfg.PasswordCallback = func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == opts.User && string(pass) == opts.Password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		}
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, opts: opts, done: make(chan struct{}), dirs: map[string]map[string]bool{}}
	go func() {
		defer close(s.done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handleConn(conn, cfg)
		}
	}()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Stop closes the listener and waits for the accept loop to exit.
func (s *Server) Stop() {
	_ = s.ln.Close()
	<-s.done
}

// Dirs returns the directories created in domain, sorted.
func (s *Server) Dirs(domain string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for d := range s.dirs[domain] {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (s *Server) handleConn(raw net.Conn, cfg *ssh.ServerConfig) {
	sc, chans, reqs, err := ssh.NewServerConn(raw, cfg)
	if err != nil {
		_ = raw.Close()
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)
	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "")
			continue
		}
		c, reqs, err := ch.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(c, reqs)
	}
}

func (s *Server) handleSession(ch ssh.Channel, in <-chan *ssh.Request) {
	defer ch.Close()
	for req := range in {
		switch req.Type {
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(in)
			s.emulateCLI(ch)
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

type cli struct {
	s      *Server
	w      io.Writer
	domain string
	config bool
}

func (c *cli) prompt() {
	p := c.s.opts.Hostname
	if c.domain != "default" {
		p += "[" + c.domain + "]"
	}
	if c.config {
		p += "(config)"
	}
	_, _ = fmt.Fprintf(c.w, "%s# ", p)
}

func (s *Server) emulateCLI(ch ssh.Channel) {
	br := bufio.NewReader(ch)
	readLine := func() (string, bool) {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return "", false
		}
		return strings.TrimRight(line, "\r\n"), true
	}

	if s.opts.InBandLogin {
		_, _ = io.WriteString(ch, "\nUnauthorized access prohibited.\nlogin: ")
		user, ok := readLine()
		if !ok {
			return
		}
		_, _ = io.WriteString(ch, user+"\nPassword: ")
		pass, ok := readLine()
		if !ok {
			return
		}
		_, _ = io.WriteString(ch, "\n")
		if s.opts.Password != "" && (user != s.opts.User || pass != s.opts.Password) {
			_, _ = io.WriteString(ch, "Login failed.\n")
			return
		}
		_, _ = io.WriteString(ch, "\nWelcome to IBM DataPower Gateway console configuration.\n\n")
	}

	c := &cli{s: s, w: ch, domain: "default"}
	c.prompt()
	for {
		line, ok := readLine()
		if !ok {
			return
		}
		// Terminal echo.
		_, _ = io.WriteString(ch, line+"\n")
		if !c.exec(strings.TrimSpace(line)) {
			return
		}
		c.prompt()
	}
}

// exec runs one command line and reports whether the session continues.
func (c *cli) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	switch {
	case line == "exit":
		if c.config {
			c.config = false
			return true
		}
		_, _ = io.WriteString(c.w, "Goodbye.\n")
		return false
	case line == "show clock":
		_, _ = fmt.Fprintf(c.w, "%s\n", time.Now().Format("Mon Jan 2 15:04:05 2006"))
	case line == "config" || line == "configure terminal":
		c.config = true
		_, _ = io.WriteString(c.w, "Global configuration mode\n")
	case len(fields) == 3 && fields[0] == "switch" && fields[1] == "domain":
		c.domain = fields[2]
	case len(fields) == 2 && fields[0] == "mkdir":
		c.mkdir(fields[1])
	case len(fields) == 2 && fields[0] == "dir":
		c.dir(fields[1])
	default:
		_, _ = fmt.Fprintf(c.w, "%% Unknown command or macro: %s\n", line)
	}
	return true
}

func (c *cli) mkdir(path string) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	d := c.s.dirs[c.domain]
	if d == nil {
		d = map[string]bool{}
		c.s.dirs[c.domain] = d
	}
	if d[path] {
		_, _ = fmt.Fprintf(c.w, "%% Directory '%s' already exists\n", path)
		return
	}
	d[path] = true
	_, _ = fmt.Fprintf(c.w, "Directory '%s' created.\n", path)
}

func (c *cli) dir(path string) {
	_, _ = io.WriteString(c.w, "   File Name                    Last Modified                    Size\n")
	_, _ = io.WriteString(c.w, "   ---------                    -------------                    ----\n")
	prefix := strings.TrimSuffix(path, "/") + "/"
	for _, d := range c.s.Dirs(c.domain) {
		if strings.HasPrefix(d, prefix) {
			_, _ = fmt.Fprintf(c.w, "   %-28s %-32s %s\n", strings.TrimPrefix(d, prefix)+"/", "", "")
		}
	}
	_, _ = io.WriteString(c.w, "\n   240000.0 MB available to "+path+"\n")
}
