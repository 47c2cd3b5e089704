package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/op/go-logging"

	"mast-uitest/internal/browser"
	"mast-uitest/internal/config"
)

var log = logging.MustGetLogger("scenario")

// Runner executes a manifest's steps, in order, on one browser session. The
// runner owns the driver for the duration of Run.
type Runner struct {
	Driver     browser.Driver
	Address    string
	Appliances []config.Appliance

	// Delay precedes every step after the first.
	Delay          time.Duration
	ElementTimeout time.Duration
	ResultTimeout  time.Duration
	PollInterval   time.Duration

	// FailFast skips every step after the first failure.
	FailFast bool
	// ScreenshotDir receives a full-page screenshot of each failed step.
	ScreenshotDir string

	sleep     func(context.Context, time.Duration) error
	executors map[Action]executor

	// tab is the link text of the tab most recently opened.
	tab string
	// outputs holds the result text of completed form steps by name.
	outputs map[string]string
}

// executor performs one kind of step. Soft failures go to res; a returned
// error aborts the step and is recorded as its last failure.
type executor func(ctx context.Context, r *Runner, m *Manifest, s *Step, res *StepResult) error

// NewRunner builds a runner from the loaded configuration.
func NewRunner(d browser.Driver, cfg *config.Config) *Runner {
	return &Runner{
		Driver:         d,
		Address:        cfg.Address,
		Appliances:     cfg.Appliances,
		Delay:          cfg.DelayDuration(),
		ElementTimeout: cfg.Timeouts.Element,
		ResultTimeout:  cfg.Timeouts.Result,
		PollInterval:   cfg.Timeouts.Poll,
	}
}

func (r *Runner) hostnames() []string {
	out := make([]string, 0, len(r.Appliances))
	for _, a := range r.Appliances {
		out = append(out, a.Hostname)
	}
	return out
}

func (r *Runner) init() {
	if r.sleep == nil {
		r.sleep = sleepCtx
	}
	if r.executors == nil {
		r.executors = map[Action]executor{
			ActionTitle:         runTitle,
			ActionAddAppliances: runAddAppliances,
			ActionPresent:       runPresent,
			ActionForm:          runForm,
			ActionTerminal:      runTerminal,
		}
	}
	if r.ElementTimeout <= 0 {
		r.ElementTimeout = 10 * time.Second
	}
	if r.ResultTimeout <= 0 {
		r.ResultTimeout = 30 * time.Second
	}
	if r.PollInterval <= 0 {
		r.PollInterval = 500 * time.Millisecond
	}
	r.tab = ""
	r.outputs = make(map[string]string)
}

// Run opens the console and executes every step. Step failures are recorded
// in the report; the returned error is set only when the console cannot be
// opened or ctx is cancelled, in which case the remaining steps are skipped.
func (r *Runner) Run(ctx context.Context, m *Manifest) (*Report, error) {
	r.init()
	rep := newReport(m, r.Address, r.hostnames())
	defer rep.summarize()

	log.Infof("Opening %s", r.Address)
	if err := r.Driver.Navigate(ctx, r.Address); err != nil {
		return rep, fmt.Errorf("open console %s: %w", r.Address, err)
	}

	var stop error
	failed := false
	for i := range m.Steps {
		s := &m.Steps[i]
		if stop != nil || (r.FailFast && failed) {
			rep.Steps = append(rep.Steps, StepResult{Name: s.Name, Action: s.Action, Status: StatusSkipped})
			continue
		}
		if i > 0 {
			if err := r.sleep(ctx, r.Delay); err != nil {
				stop = err
				rep.Steps = append(rep.Steps, StepResult{Name: s.Name, Action: s.Action, Status: StatusSkipped})
				continue
			}
		}

		res := r.runStep(ctx, m, i, s)
		rep.Steps = append(rep.Steps, res)
		if res.Status == StatusFailed {
			failed = true
		}
		if err := ctx.Err(); err != nil {
			stop = err
		}
	}
	if stop != nil {
		return rep, stop
	}
	return rep, nil
}

func (r *Runner) runStep(ctx context.Context, m *Manifest, i int, s *Step) StepResult {
	res := StepResult{Name: s.Name, Action: s.Action}
	log.Infof("Testing %s", s.Name)
	start := time.Now()
	seen := len(r.pageExceptions())

	exec, ok := r.executors[s.Action]
	if !ok {
		res.fail("unknown action %q", s.Action)
	} else if err := exec(ctx, r, m, s, &res); err != nil {
		res.fail("%v", err)
	}
	res.Duration = time.Since(start).Round(time.Millisecond)
	if exc := r.pageExceptions(); len(exc) > seen {
		res.PageExceptions = exc[seen:]
		log.Warningf("Step %q raised %d page exceptions", s.Name, len(res.PageExceptions))
	}

	if len(res.Failures) > 0 {
		res.Status = StatusFailed
		log.Errorf("Step %q failed (%d failures)", s.Name, len(res.Failures))
		res.Screenshot = r.screenshot(ctx, i, s.Name)
	} else {
		res.Status = StatusPassed
		log.Infof("Step %q passed", s.Name)
	}
	return res
}

// pageExceptions returns the exceptions the driver has collected, if it
// reports any.
func (r *Runner) pageExceptions() []string {
	if er, ok := r.Driver.(browser.ExceptionReporter); ok {
		return er.Exceptions()
	}
	return nil
}

// screenshot saves the page for a failed step and returns the file path, or
// "" when disabled or the capture failed.
func (r *Runner) screenshot(ctx context.Context, i int, name string) string {
	if r.ScreenshotDir == "" || ctx.Err() != nil {
		return ""
	}
	buf, err := r.Driver.Screenshot(ctx)
	if err != nil {
		log.Warningf("screenshot for %q: %v", name, err)
		return ""
	}
	if err := os.MkdirAll(r.ScreenshotDir, 0o755); err != nil {
		log.Warningf("screenshot dir: %v", err)
		return ""
	}
	p := filepath.Join(r.ScreenshotDir, fmt.Sprintf("%02d-%s.png", i+1, slug(name)))
	if err := os.WriteFile(p, buf, 0o644); err != nil {
		log.Warningf("write screenshot: %v", err)
		return ""
	}
	log.Infof("Saved screenshot %s", p)
	return p
}

func slug(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// openTab clicks the tab's link and remembers it as current.
func (r *Runner) openTab(ctx context.Context, tab string) error {
	if tab == "" {
		return nil
	}
	log.Debugf("Opening tab %s", tab)
	if err := r.Driver.Click(ctx, browser.LinkText(tab)); err != nil {
		return err
	}
	r.tab = tab
	return nil
}

// waitPresent waits up to the element bound for loc.
func (r *Runner) waitPresent(ctx context.Context, loc browser.Locator) error {
	return waitUntil(ctx, r.ElementTimeout, r.PollInterval, loc.String(), func(ctx context.Context) (bool, error) {
		return r.Driver.Exists(ctx, loc)
	})
}
