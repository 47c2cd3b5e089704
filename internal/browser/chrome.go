package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("browser")

// Options configures how Chrome is started or attached to.
type Options struct {
	// RemoteURL attaches to an already running browser (ws:// or http://
	// devtools endpoint) instead of starting one.
	RemoteURL        string
	ExecPath         string
	Headless         bool
	NoSandbox        bool
	IgnoreCertErrors bool
	WindowWidth      int
	WindowHeight     int
	// ActionTimeout bounds every element operation.
	ActionTimeout time.Duration
}

// Chrome is a Driver backed by chromedp.
type Chrome struct {
	ctx     context.Context
	cancels []context.CancelFunc
	timeout time.Duration

	mu         sync.Mutex
	exceptions []string
}

// NewChrome starts (or attaches to) a browser and opens one tab. The returned
// Chrome owns the browser process; Close tears it down.
func NewChrome(o Options) (*Chrome, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if o.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), o.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", o.Headless),
		)
		if o.WindowWidth > 0 && o.WindowHeight > 0 {
			opts = append(opts, chromedp.WindowSize(o.WindowWidth, o.WindowHeight))
		}
		if o.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(o.ExecPath))
		}
		if o.NoSandbox {
			opts = append(opts, chromedp.NoSandbox)
		}
		if o.IgnoreCertErrors {
			opts = append(opts, chromedp.IgnoreCertErrors)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Debugf),
		chromedp.WithErrorf(log.Errorf),
	)
	c := &Chrome{
		ctx:     ctx,
		cancels: []context.CancelFunc{cancel, allocCancel},
		timeout: o.ActionTimeout,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}

	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev := ev.(type) {
		case *cdpruntime.EventConsoleAPICalled:
			args := make([]string, len(ev.Args))
			for i, arg := range ev.Args {
				args[i] = string(arg.Value)
			}
			log.Debugf("console.%s %v", ev.Type, args)
		case *cdpruntime.EventExceptionThrown:
			c.mu.Lock()
			c.exceptions = append(c.exceptions, ev.ExceptionDetails.Error())
			c.mu.Unlock()
			log.Warningf("page exception: %s", ev.ExceptionDetails.Error())
		}
	})

	// Start the browser without a timeout; a deadline here would kill the
	// process when it expires.
	if err := chromedp.Run(ctx); err != nil {
		c.cancelAll()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return c, nil
}

// Exceptions returns the page exceptions observed so far.
func (c *Chrome) Exceptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.exceptions...)
}

// run executes actions on the tab, bounded by the action timeout and by the
// caller's context.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

// queryBy names the chromedp selector mode for a locator.
type queryBy int

const (
	byQuery queryBy = iota
	byQueryAll
	bySearch
)

// selectorFor picks the selector and mode. CSS resolves through
// querySelector unless every match is wanted; XPath searches always return
// every match.
func selectorFor(loc Locator, all bool) (string, queryBy) {
	switch {
	case loc.css != "" && all:
		return loc.css, byQueryAll
	case loc.css != "":
		return loc.css, byQuery
	default:
		return loc.xpath, bySearch
	}
}

func (b queryBy) option() chromedp.QueryOption {
	switch b {
	case byQueryAll:
		return chromedp.ByQueryAll
	case bySearch:
		return chromedp.BySearch
	default:
		return chromedp.ByQuery
	}
}

func query(loc Locator) (string, chromedp.QueryOption) {
	sel, by := selectorFor(loc, false)
	return sel, by.option()
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *Chrome) Title(ctx context.Context) (string, error) {
	var title string
	err := c.run(ctx, chromedp.Title(&title))
	return title, err
}

func (c *Chrome) Exists(ctx context.Context, loc Locator) (bool, error) {
	sel, by := query(loc)
	var nodes []*cdp.Node
	if err := c.run(ctx, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (c *Chrome) Click(ctx context.Context, loc Locator) error {
	sel, by := query(loc)
	if err := c.run(ctx, chromedp.Click(sel, by, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	return nil
}

func (c *Chrome) ClickAll(ctx context.Context, loc Locator) (int, error) {
	return c.callOn(ctx, loc, true, clickFn)
}

func (c *Chrome) Check(ctx context.Context, loc Locator) error {
	_, err := c.callOn(ctx, loc, false, checkFn)
	return err
}

func (c *Chrome) CheckAll(ctx context.Context, loc Locator) (int, error) {
	return c.callOn(ctx, loc, true, checkFn)
}

func (c *Chrome) Clear(ctx context.Context, loc Locator) error {
	sel, by := query(loc)
	if err := c.run(ctx, chromedp.Clear(sel, by)); err != nil {
		return fmt.Errorf("clear %s: %w", loc, err)
	}
	return nil
}

func (c *Chrome) SendKeys(ctx context.Context, loc Locator, text string) error {
	sel, by := query(loc)
	if err := c.run(ctx, chromedp.SendKeys(sel, text, by, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("send keys to %s: %w", loc, err)
	}
	return nil
}

func (c *Chrome) SelectByText(ctx context.Context, loc Locator, text string) error {
	n, err := c.callOn(ctx, loc, false, selectFn(text))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("select %q in %s: %w", text, loc, ErrOptionNotFound)
	}
	return nil
}

func (c *Chrome) Text(ctx context.Context, loc Locator) (string, error) {
	sel, by := query(loc)
	var text string
	if err := c.run(ctx, chromedp.Text(sel, &text, by)); err != nil {
		return "", fmt.Errorf("text of %s: %w", loc, err)
	}
	return text, nil
}

func (c *Chrome) Value(ctx context.Context, loc Locator) (string, error) {
	sel, by := query(loc)
	var value string
	if err := c.run(ctx, chromedp.Value(sel, &value, by)); err != nil {
		return "", fmt.Errorf("value of %s: %w", loc, err)
	}
	return value, nil
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := c.run(ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

// Close shuts the tab and the browser down.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.ctx)
	c.cancelAll()
	return err
}

func (c *Chrome) cancelAll() {
	for _, cancel := range c.cancels {
		cancel()
	}
}

// callOn runs fn with "this" bound to the first match (or every match when
// all is set) and returns how many calls returned true.
func (c *Chrome) callOn(ctx context.Context, loc Locator, all bool, fn string) (int, error) {
	sel, by := selectorFor(loc, all)
	var nodes []*cdp.Node
	var hits int
	err := c.run(ctx,
		chromedp.Nodes(sel, &nodes, by.option()),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if !all && len(nodes) > 1 {
				nodes = nodes[:1]
			}
			for _, n := range nodes {
				obj, err := dom.ResolveNode().WithNodeID(n.NodeID).Do(ctx)
				if err != nil {
					return err
				}
				res, exc, err := cdpruntime.CallFunctionOn(fn).
					WithObjectID(obj.ObjectID).
					WithReturnByValue(true).
					Do(ctx)
				if err != nil {
					return err
				}
				if exc != nil {
					return exc
				}
				if ok, _ := strconv.ParseBool(string(res.Value)); ok {
					hits++
				}
			}
			return nil
		}),
	)
	if err != nil {
		return hits, fmt.Errorf("%s: %w", loc, err)
	}
	return hits, nil
}

const clickFn = `function() { this.click(); return true; }`

const checkFn = `function() { if (!this.checked) { this.click(); } return true; }`

func selectFn(text string) string {
	want, _ := json.Marshal(text)
	return fmt.Sprintf(`function() {
	const want = %s;
	for (const opt of this.options || []) {
		if (opt.text.trim() === want) {
			opt.selected = true;
			this.dispatchEvent(new Event("change", {bubbles: true}));
			return true;
		}
	}
	return false;
}`, want)
}
