package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mast-uitest/internal/browser"
)

// fakeDriver is an in-memory console page. Elements are keyed by the
// locator's String() form, so tests name them the way the runner composes
// them ("name=get_status > id=systemFormSubmit").
type fakeDriver struct {
	title   string
	present map[string]bool
	texts   map[string]string
	values  map[string]string
	// onClick runs after a click on the keyed element.
	onClick map[string]func(d *fakeDriver)
	// failOn makes any operation on the keyed element fail.
	failOn map[string]error
	// onValue runs before each Value read of the keyed element.
	onValue map[string]func(d *fakeDriver)
	// exceptions are reported as uncaught page errors.
	exceptions []string

	navigated   string
	navigateErr error
	calls       []string
	closed      bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		present: map[string]bool{},
		texts:   map[string]string{},
		values:  map[string]string{},
		onClick: map[string]func(d *fakeDriver){},
		failOn:  map[string]error{},
		onValue: map[string]func(d *fakeDriver){},
	}
}

func (d *fakeDriver) record(op string, loc browser.Locator, extra ...string) error {
	c := op + " " + loc.String()
	if len(extra) > 0 {
		c += " " + strings.Join(extra, " ")
	}
	d.calls = append(d.calls, c)
	if err := d.failOn[loc.String()]; err != nil {
		return err
	}
	return nil
}

func (d *fakeDriver) called(op string, loc string) bool {
	for _, c := range d.calls {
		if c == op+" "+loc || strings.HasPrefix(c, op+" "+loc+" ") {
			return true
		}
	}
	return false
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.navigated = url
	return d.navigateErr
}

func (d *fakeDriver) Title(context.Context) (string, error) { return d.title, nil }

func (d *fakeDriver) Exists(_ context.Context, loc browser.Locator) (bool, error) {
	return d.present[loc.String()], nil
}

func (d *fakeDriver) Click(_ context.Context, loc browser.Locator) error {
	if err := d.record("click", loc); err != nil {
		return err
	}
	if fn := d.onClick[loc.String()]; fn != nil {
		fn(d)
	}
	return nil
}

func (d *fakeDriver) ClickAll(_ context.Context, loc browser.Locator) (int, error) {
	return 1, d.record("click_all", loc)
}

func (d *fakeDriver) Check(_ context.Context, loc browser.Locator) error {
	return d.record("check", loc)
}

func (d *fakeDriver) CheckAll(_ context.Context, loc browser.Locator) (int, error) {
	return 1, d.record("check_all", loc)
}

func (d *fakeDriver) Clear(_ context.Context, loc browser.Locator) error {
	if err := d.record("clear", loc); err != nil {
		return err
	}
	d.values[loc.String()] = ""
	return nil
}

func (d *fakeDriver) SendKeys(_ context.Context, loc browser.Locator, text string) error {
	if err := d.record("keys", loc, text); err != nil {
		return err
	}
	d.values[loc.String()] += text
	return nil
}

func (d *fakeDriver) SelectByText(_ context.Context, loc browser.Locator, text string) error {
	return d.record("select", loc, text)
}

func (d *fakeDriver) Text(_ context.Context, loc browser.Locator) (string, error) {
	if !d.present[loc.String()] {
		return "", fmt.Errorf("text of %s: not found", loc)
	}
	return d.texts[loc.String()], nil
}

func (d *fakeDriver) Value(_ context.Context, loc browser.Locator) (string, error) {
	if fn := d.onValue[loc.String()]; fn != nil {
		fn(d)
	}
	return d.values[loc.String()], nil
}

func (d *fakeDriver) Exceptions() []string {
	return append([]string(nil), d.exceptions...)
}

func (d *fakeDriver) Screenshot(context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (d *fakeDriver) Close() error {
	if d.closed {
		return errors.New("already closed")
	}
	d.closed = true
	return nil
}
