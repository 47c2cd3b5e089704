// Package browser wraps the browser automation library behind the small set of
// element operations the scenario runner needs.
package browser

import (
	"context"
	"errors"
)

// ErrOptionNotFound is returned by SelectByText when no option carries the text.
var ErrOptionNotFound = errors.New("option not found")

// Driver is one browser session. Element operations wait for their target up
// to the driver's action timeout, the equivalent of an implicit wait.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)

	// Exists reports whether loc currently matches at least one element. It
	// never waits.
	Exists(ctx context.Context, loc Locator) (bool, error)

	Click(ctx context.Context, loc Locator) error
	// ClickAll clicks every element matching loc and returns how many it clicked.
	ClickAll(ctx context.Context, loc Locator) (int, error)
	// Check clicks the first checkbox matching loc unless it is already checked.
	Check(ctx context.Context, loc Locator) error
	// CheckAll applies Check to every matching checkbox.
	CheckAll(ctx context.Context, loc Locator) (int, error)
	Clear(ctx context.Context, loc Locator) error
	SendKeys(ctx context.Context, loc Locator, text string) error
	SelectByText(ctx context.Context, loc Locator, text string) error

	// Text returns the rendered text of the first match.
	Text(ctx context.Context, loc Locator) (string, error)
	// Value returns the value property of the first match (inputs, textareas).
	Value(ctx context.Context, loc Locator) (string, error)

	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// ExceptionReporter is implemented by drivers that collect uncaught page
// exceptions. Exceptions returns every exception seen so far, oldest first.
type ExceptionReporter interface {
	Exceptions() []string
}
