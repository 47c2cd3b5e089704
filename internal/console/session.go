package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// ErrClosed is returned when the remote side ends the shell.
var ErrClosed = errors.New("console closed")

const (
	loginPrompt    = "login:"
	passwordPrompt = "Password:"
)

// Session is one interactive PTY shell on an appliance. A reader goroutine
// collects everything the appliance prints into a transcript and answers the
// in-band login prompts.
type Session struct {
	sess  *ssh.Session
	stdin io.WriteCloser

	user, password string

	mu       sync.Mutex
	buf      bytes.Buffer
	answered int // transcript offset up to which prompts have been handled
	notify   chan struct{}
	done     chan struct{}
	readErr  error
}

// Open starts a PTY shell on client. user and password answer the
// appliance's own login prompts, which some firmware shows even after SSH
// authentication succeeded.
func Open(client *ssh.Client, user, password string) (*Session, error) {
	s, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	stdin, err := s.StdinPipe()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	stdout, err := s.StdoutPipe()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Stderr = io.Discard

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := s.RequestPty("xterm", 80, 200, modes); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.Shell(); err != nil {
		_ = s.Close()
		return nil, err
	}

	cs := &Session{
		sess:     s,
		stdin:    stdin,
		user:     user,
		password: password,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go cs.read(stdout)
	return cs, nil
}

func (s *Session) read(r io.Reader) {
	defer close(s.done)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.buf.Write(chunk[:n])
			reply := s.promptReply()
			s.mu.Unlock()
			if reply != "" {
				_, _ = io.WriteString(s.stdin, reply+"\n")
			}
			select {
			case s.notify <- struct{}{}:
			default:
			}
		}
		if err != nil {
			s.mu.Lock()
			if !errors.Is(err, io.EOF) {
				s.readErr = err
			}
			s.mu.Unlock()
			return
		}
	}
}

// promptReply returns the answer to a login prompt at the end of the
// transcript, if one is waiting. Callers hold s.mu.
func (s *Session) promptReply() string {
	pending := s.buf.Bytes()[s.answered:]
	tail := strings.TrimRight(string(pending), " \r\n")
	switch {
	case strings.HasSuffix(tail, loginPrompt):
		s.answered = s.buf.Len()
		log.Debug("answering login prompt")
		return s.user
	case strings.HasSuffix(tail, passwordPrompt):
		s.answered = s.buf.Len()
		log.Debug("answering password prompt")
		return s.password
	}
	return ""
}

func (s *Session) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// Transcript returns everything received so far.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Settle waits until output has arrived after offset from and then stayed
// quiet for quiet. It returns ErrClosed if the shell ends first.
func (s *Session) Settle(ctx context.Context, from int, quiet time.Duration) error {
	t := time.NewTimer(quiet)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			s.mu.Lock()
			err := s.readErr
			s.mu.Unlock()
			if err != nil {
				return err
			}
			return ErrClosed
		case <-s.notify:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(quiet)
		case <-t.C:
			if s.size() > from {
				return nil
			}
			t.Reset(quiet)
		}
	}
}

// Send writes one command line and waits for its output to settle. The
// returned string is the output produced after the command was sent.
func (s *Session) Send(ctx context.Context, cmd string, quiet time.Duration) (string, error) {
	from := s.size()
	log.Debugf("sending %q", cmd)
	if _, err := io.WriteString(s.stdin, cmd+"\n"); err != nil {
		return "", err
	}
	err := s.Settle(ctx, from, quiet)
	out := s.Transcript()[from:]
	return out, err
}

// RunScript waits for the first prompt, sends every command in order and
// returns the full transcript. The shell ending after the last command is
// not an error: the script usually finishes with exit.
func (s *Session) RunScript(ctx context.Context, commands []string, quiet time.Duration) (string, error) {
	if err := s.Settle(ctx, 0, quiet); err != nil {
		return s.Transcript(), err
	}
	for i, cmd := range commands {
		_, err := s.Send(ctx, cmd, quiet)
		if errors.Is(err, ErrClosed) && i == len(commands)-1 {
			break
		}
		if err != nil {
			return s.Transcript(), err
		}
	}
	return s.Transcript(), nil
}

// Close ends the shell and waits for the reader to finish.
func (s *Session) Close() error {
	_ = s.stdin.Close()
	err := s.sess.Close()
	<-s.done
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return err
}
