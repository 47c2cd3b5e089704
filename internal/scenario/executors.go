package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mast-uitest/internal/browser"
)

func runTitle(ctx context.Context, r *Runner, _ *Manifest, s *Step, res *StepResult) error {
	title, err := r.Driver.Title(ctx)
	if err != nil {
		return fmt.Errorf("read page title: %w", err)
	}
	res.Output = title
	for _, w := range Missing(title, s.Expect) {
		res.fail("Page title not valid! expected %q, got %q", w, title)
	}
	if len(res.Failures) == 0 {
		log.Info("Page title valid.")
	}
	return nil
}

// runAddAppliances registers every configured appliance through the console's
// appliance form and waits for the row keyed by its hostname.
func runAddAppliances(ctx context.Context, r *Runner, _ *Manifest, _ *Step, res *StepResult) error {
	added := 0
	for _, a := range r.Appliances {
		log.Infof("Adding appliance %s", a.Hostname)
		if err := r.addAppliance(ctx, a.Hostname, a.Username, a.Password); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.fail("appliance %s: %v", a.Hostname, err)
			continue
		}
		added++
	}
	res.Output = fmt.Sprintf("added %d of %d appliances", added, len(r.Appliances))
	return nil
}

func (r *Runner) addAppliance(ctx context.Context, hostname, username, password string) error {
	for _, in := range []struct{ name, value string }{
		{"hostname", hostname},
		{"username", username},
		{"password", password},
	} {
		loc := browser.Name(in.name)
		if err := r.Driver.Clear(ctx, loc); err != nil {
			return err
		}
		if err := r.Driver.SendKeys(ctx, loc, in.value); err != nil {
			return err
		}
	}
	if err := r.Driver.Check(ctx, browser.Name("global_no_check_hostname")); err != nil {
		return err
	}
	if err := r.Driver.Click(ctx, browser.ID("addAppliance")); err != nil {
		return err
	}
	return r.waitPresent(ctx, browser.ID(hostname))
}

// runPresent checks that every element shows up within the element bound.
// Each missing element is its own failure.
func runPresent(ctx context.Context, r *Runner, _ *Manifest, s *Step, res *StepResult) error {
	if err := r.openTab(ctx, s.Tab); err != nil {
		return err
	}
	if err := r.applyFields(ctx, browser.Locator{}, s.Before); err != nil {
		return err
	}
	found := 0
	for _, t := range s.Elements {
		loc, err := t.Locator()
		if err != nil {
			return err
		}
		if err := r.waitPresent(ctx, loc); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.fail("%s not found!", loc)
			continue
		}
		log.Infof("Found %s.", loc)
		found++
	}
	res.Output = fmt.Sprintf("%d of %d elements present", found, len(s.Elements))
	return nil
}

// runForm fills and submits a console form, then checks its result region.
func runForm(ctx context.Context, r *Runner, m *Manifest, s *Step, res *StepResult) error {
	if err := r.openTab(ctx, s.Tab); err != nil {
		return err
	}
	if s.Open != nil {
		loc, err := s.Open.Locator()
		if err != nil {
			return err
		}
		if err := r.Driver.Click(ctx, loc); err != nil {
			return err
		}
	}

	log.Debug("Finding form")
	form, err := s.Form.Locator()
	if err != nil {
		return err
	}
	if err := r.waitPresent(ctx, form); err != nil {
		return fmt.Errorf("form not found: %w", err)
	}
	if err := r.applyFields(ctx, form, s.Fields); err != nil {
		return err
	}
	submit, err := scoped(s.Submit, form)
	if err != nil {
		return err
	}
	log.Debug("Submitting form")
	if err := r.Driver.Click(ctx, submit); err != nil {
		return err
	}

	regionTarget, ok := m.Regions[r.tab]
	if s.Region != nil {
		regionTarget, ok = *s.Region, true
	}
	if !ok {
		return fmt.Errorf("no result region for tab %q", r.tab)
	}
	region, err := regionTarget.Locator()
	if err != nil {
		return err
	}

	want := s.Expected(r.hostnames())
	timeout := s.resultTimeout(r.ResultTimeout)
	log.Debugf("Form submitted, waiting at most %s for results to appear", timeout)
	var text string
	err = waitUntil(ctx, timeout, r.PollInterval, "results in "+region.String(), func(ctx context.Context) (bool, error) {
		ok, err := r.Driver.Exists(ctx, region)
		if err != nil || !ok {
			return false, err
		}
		if text, err = r.Driver.Text(ctx, region); err != nil {
			return false, err
		}
		return strings.TrimSpace(text) != "" && len(Missing(text, want)) == 0, nil
	})
	if err != nil && !errors.Is(err, ErrTimeout) {
		return err
	}
	if strings.TrimSpace(text) == "" {
		if cerr := r.closeRegion(ctx, s, region, true); cerr != nil {
			log.Warningf("close results: %v", cerr)
		}
		return fmt.Errorf("no results: %w", err)
	}

	res.Output = text
	r.outputs[s.Name] = text
	for _, w := range Missing(text, want) {
		res.fail("'%s' not found in results", w)
	}
	for _, w := range Present(text, s.Reject) {
		res.fail("'%s' should not appear in results", w)
	}
	if s.SameAs != "" {
		r.compareWith(s.SameAs, text, res)
	}
	if len(res.Failures) == 0 {
		log.Info("All expected text was found in results")
	}

	return r.closeRegion(ctx, s, region, false)
}

// closeRegion clicks the step's close control inside region. With
// ifPresent set, a missing control is not an error.
func (r *Runner) closeRegion(ctx context.Context, s *Step, region browser.Locator, ifPresent bool) error {
	log.Debug("closing output table")
	closeTarget := Target{Class: "output_close"}
	if s.Close != nil {
		closeTarget = *s.Close
	}
	closer, err := scoped(&closeTarget, region)
	if err != nil {
		return err
	}
	if ifPresent {
		if ok, err := r.Driver.Exists(ctx, closer); err != nil || !ok {
			return err
		}
	}
	if err := r.Driver.Click(ctx, closer); err != nil {
		return fmt.Errorf("close results: %w", err)
	}
	return nil
}

// compareWith fails res unless text holds the same result set as the output
// of the named earlier step.
func (r *Runner) compareWith(name, text string, res *StepResult) {
	prev, ok := r.outputs[name]
	if !ok {
		res.fail("no results recorded for %q", name)
		return
	}
	onlyPrev, onlyCur := diffSets(resultSet(prev), resultSet(text))
	for _, l := range onlyPrev {
		res.fail("%q was in %q but not here", l, name)
	}
	for _, l := range onlyCur {
		res.fail("%q is new since %q", l, name)
	}
}

// resultSet returns the distinct non-blank lines of text, trimmed and sorted.
func resultSet(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func diffSets(a, b []string) (onlyA, onlyB []string) {
	inB := make(map[string]struct{}, len(b))
	for _, s := range b {
		inB[s] = struct{}{}
	}
	inA := make(map[string]struct{}, len(a))
	for _, s := range a {
		inA[s] = struct{}{}
		if _, ok := inB[s]; !ok {
			onlyA = append(onlyA, s)
		}
	}
	for _, s := range b {
		if _, ok := inA[s]; !ok {
			onlyB = append(onlyB, s)
		}
	}
	return onlyA, onlyB
}

// runTerminal drives the SSH web terminal. After the first command it waits
// for the first appliance's transcript to fill; after each later command it
// waits for the transcript to grow.
func runTerminal(ctx context.Context, r *Runner, _ *Manifest, s *Step, res *StepResult) error {
	hosts := r.hostnames()
	if len(hosts) == 0 {
		return errors.New("no appliances configured")
	}
	if err := r.openTab(ctx, s.Tab); err != nil {
		return err
	}
	input, err := s.Input.Locator()
	if err != nil {
		return err
	}
	button, err := s.Button.Locator()
	if err != nil {
		return err
	}

	first := browser.Name(s.TranscriptPrefix + hosts[0])
	timeout := s.resultTimeout(r.ResultTimeout)
	seen := 0
	for i, cmd := range s.Commands {
		log.Debugf("Sending %q", cmd)
		if err := r.Driver.SendKeys(ctx, input, cmd); err != nil {
			return err
		}
		if err := r.Driver.Click(ctx, button); err != nil {
			return err
		}
		var cur string
		err := waitUntil(ctx, timeout, r.PollInterval, "output from "+hosts[0], func(ctx context.Context) (bool, error) {
			ok, err := r.Driver.Exists(ctx, first)
			if err != nil || !ok {
				return false, err
			}
			if cur, err = r.Driver.Value(ctx, first); err != nil {
				return false, err
			}
			return len(cur) > seen, nil
		})
		switch {
		case err == nil:
			seen = len(cur)
		case !errors.Is(err, ErrTimeout):
			return err
		case i == 0:
			return fmt.Errorf("terminal never answered: %w", err)
		default:
			log.Warningf("no new terminal output after %q", cmd)
		}
	}

	want := s.Expected(hosts)
	var out strings.Builder
	for _, h := range hosts {
		transcript, found, err := r.awaitTranscript(ctx, browser.Name(s.TranscriptPrefix+h), want, timeout)
		if err != nil {
			return err
		}
		if !found {
			res.fail("no transcript for appliance %s", h)
			continue
		}
		_, _ = fmt.Fprintf(&out, "== %s ==\n%s\n", h, transcript)
		for _, w := range Missing(transcript, want) {
			res.fail("%s: '%s' not found in transcript", h, w)
		}
	}
	res.Output = out.String()
	if len(res.Failures) == 0 {
		log.Info("All expected text was found in results")
	}
	return nil
}

// awaitTranscript polls one appliance's transcript until it holds every
// entry of want or the bound expires, and returns the last text read.
func (r *Runner) awaitTranscript(ctx context.Context, loc browser.Locator, want []string, timeout time.Duration) (string, bool, error) {
	var (
		transcript string
		found      bool
	)
	err := waitUntil(ctx, timeout, r.PollInterval, "transcript "+loc.String(), func(ctx context.Context) (bool, error) {
		ok, err := r.Driver.Exists(ctx, loc)
		if err != nil || !ok {
			return false, err
		}
		found = true
		if transcript, err = r.Driver.Value(ctx, loc); err != nil {
			return false, err
		}
		return len(Missing(transcript, want)) == 0, nil
	})
	if err != nil && !errors.Is(err, ErrTimeout) {
		return transcript, found, err
	}
	return transcript, found, nil
}

// applyFields performs each field interaction, scoped to the form.
func (r *Runner) applyFields(ctx context.Context, scope browser.Locator, fields []Field) error {
	for i := range fields {
		f := &fields[i]
		loc, err := scoped(&f.Target, scope)
		if err != nil {
			return err
		}
		log.Debugf("%s %s", f.Op, loc)
		if err := r.applyField(ctx, scope, loc, f); err != nil {
			return fmt.Errorf("%s %s: %w", f.Op, loc, err)
		}
	}
	return nil
}

func (r *Runner) applyField(ctx context.Context, scope, loc browser.Locator, f *Field) error {
	d := r.Driver
	switch f.Op {
	case OpType:
		return d.SendKeys(ctx, loc, f.Value)
	case OpFill:
		if err := d.Clear(ctx, loc); err != nil {
			return err
		}
		return d.SendKeys(ctx, loc, f.Value)
	case OpSelect:
		return d.SelectByText(ctx, loc, f.Value)
	case OpClick:
		return d.Click(ctx, loc)
	case OpCheck:
		return d.Check(ctx, loc)
	case OpClickAll:
		n, err := d.ClickAll(ctx, loc)
		log.Debugf("clicked %d elements", n)
		return err
	case OpCheckAll:
		n, err := d.CheckAll(ctx, loc)
		log.Debugf("checked %d checkboxes", n)
		return err
	case OpAddEach:
		button, err := scoped(f.Button, scope)
		if err != nil {
			return err
		}
		values := f.Values
		if f.ValuesFrom == ValuesFromAppliances {
			values = r.hostnames()
		}
		for _, v := range values {
			if err := d.SendKeys(ctx, loc, v); err != nil {
				return err
			}
			if err := d.Click(ctx, button); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown op %q", f.Op)
	}
}

func scoped(t *Target, parent browser.Locator) (browser.Locator, error) {
	loc, err := t.Locator()
	if err != nil {
		return browser.Locator{}, err
	}
	return loc.Within(parent)
}
