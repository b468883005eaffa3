// Package browser wraps a headless Chrome process behind the small automation
// surface the portal client needs. One Driver owns one browser process; it is
// not safe for concurrent use.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"sii-extractor/internal/types"
)

// Automator is the browser contract consumed by the authentication
// coordinator and the scrapers. *Driver is the chromedp implementation; tests
// substitute fakes.
type Automator interface {
	Start(ctx context.Context) error
	Stop() error
	Running() bool
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitClickable(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error
	SelectByValue(ctx context.Context, selector, value string) error
	SelectByText(ctx context.Context, selector, text string) error
	Evaluate(ctx context.Context, script string, out interface{}) error
	PageSource(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]types.Cookie, error)
	SetCookies(ctx context.Context, cookies []types.Cookie) error
	PrintToPDF(ctx context.Context) ([]byte, error)
	CaptureNewTabURL(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (string, error)
	DumpDiagnostics(ctx context.Context, label string)
}

// Driver drives a headless Chrome via chromedp. Start and Stop are
// idempotent; Stop without Start is a no-op.
type Driver struct {
	config *types.Config
	logger types.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	started     bool
}

var _ Automator = (*Driver)(nil)

// NewDriver creates a driver; the browser process is not launched until
// Start.
func NewDriver(config *types.Config, logger types.Logger) *Driver {
	return &Driver{config: config, logger: logger}
}

// Start launches the browser process. Calling Start on a running driver is a
// no-op. ctx bounds only the launch itself: the browser's lifetime belongs to
// the driver and ends at Stop, so cancelling one operation's context later
// does not tear the process down.
func (d *Driver) Start(ctx context.Context) error {
	if d.started {
		return nil
	}
	d.logger.Info("Starting browser...")

	width, height := parseWindowSize(d.config.WindowSize)
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(width, height),
		chromedp.UserAgent(d.config.UserAgent),
	)
	if d.config.ChromeBinaryPath != "" {
		opts = append(opts, chromedp.ExecPath(d.config.ChromeBinaryPath))
	}
	if d.config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(d.config.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// Force the browser process up now so Start reports launch failures
	// instead of the first navigation. The launch wait is bounded by the
	// caller's context and the long timeout.
	launchCtx, launchCancel := context.WithTimeout(browserCtx, d.config.LongTimeout)
	stop := context.AfterFunc(ctx, launchCancel)
	err := chromedp.Run(launchCtx)
	stop()
	launchCancel()
	if err != nil {
		cancel()
		allocCancel()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	d.ctx = browserCtx
	d.cancel = cancel
	d.allocCancel = allocCancel
	d.started = true
	d.logger.Debugf("Browser started (headless=%v, window=%dx%d)", d.config.Headless, width, height)
	return nil
}

// Stop closes the browser and releases the process. Safe to call multiple
// times and without a prior Start. Stopping cancels all pending waits.
func (d *Driver) Stop() error {
	if !d.started {
		return nil
	}
	d.logger.Info("Stopping browser...")
	if d.cancel != nil {
		d.cancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	d.ctx = nil
	d.cancel = nil
	d.allocCancel = nil
	d.started = false
	return nil
}

// Running returns true while the browser process is up.
func (d *Driver) Running() bool { return d.started }

// run executes chromedp actions against the browser context, bounded by the
// given timeout and cancelled if the caller's context is cancelled.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if !d.started {
		return errors.New("browser not started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

// Navigate loads a URL and waits for the document body, using the long
// timeout since full navigations on the portal are slow.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.logger.Debugf("Navigating to %s", url)
	err := d.run(ctx, d.config.LongTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// CurrentURL returns the location of the active page.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, d.config.Timeout, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// WaitVisible waits for the element to become visible. A deadline without the
// element in the DOM yields ElementNotFoundError; a deadline with the element
// present but not visible yields DriverTimeoutError.
func (d *Driver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	err := d.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	return d.classifyWaitError(ctx, selector, timeout, err)
}

// WaitClickable waits for the element to be visible and enabled.
func (d *Driver) WaitClickable(ctx context.Context, selector string, timeout time.Duration) error {
	err := d.run(ctx, timeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.WaitEnabled(selector, chromedp.ByQuery),
	)
	if err == nil {
		return nil
	}
	return d.classifyWaitError(ctx, selector, timeout, err)
}

// classifyWaitError distinguishes "never appeared" from "appeared but never
// became interactive" by probing the DOM after the wait failed.
func (d *Driver) classifyWaitError(ctx context.Context, selector string, timeout time.Duration, cause error) error {
	if !errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("wait on %q failed: %w", selector, cause)
	}
	var present bool
	probe := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	if err := d.run(ctx, d.config.Timeout, chromedp.Evaluate(probe, &present)); err == nil && present {
		return &types.DriverTimeoutError{Selector: selector, Timeout: timeout}
	}
	return &types.ElementNotFoundError{Selector: selector}
}

// Click clicks the first element matching the selector.
func (d *Driver) Click(ctx context.Context, selector string) error {
	if err := d.run(ctx, d.config.Timeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

// SendKeys types text into the element.
func (d *Driver) SendKeys(ctx context.Context, selector, text string) error {
	if err := d.run(ctx, d.config.Timeout, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to send keys to %q: %w", selector, err)
	}
	return nil
}

// SelectByValue picks a dropdown option by its value attribute and fires the
// change event the portal's scripts listen for.
func (d *Driver) SelectByValue(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(function() {
		var sel = document.querySelector(%q);
		if (!sel) return false;
		sel.value = %q;
		sel.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, selector, value)
	var ok bool
	if err := d.run(ctx, d.config.Timeout, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("failed to select value %q on %q: %w", value, selector, err)
	}
	if !ok {
		return &types.ElementNotFoundError{Selector: selector}
	}
	return nil
}

// SelectByText picks a dropdown option whose visible text contains the given
// string.
func (d *Driver) SelectByText(ctx context.Context, selector, text string) error {
	script := fmt.Sprintf(`(function() {
		var sel = document.querySelector(%q);
		if (!sel) return false;
		for (var i = 0; i < sel.options.length; i++) {
			if (sel.options[i].text.indexOf(%q) >= 0) {
				sel.selectedIndex = i;
				sel.dispatchEvent(new Event('change', {bubbles: true}));
				return true;
			}
		}
		return false;
	})()`, selector, text)
	var ok bool
	if err := d.run(ctx, d.config.Timeout, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("failed to select text %q on %q: %w", text, selector, err)
	}
	if !ok {
		return fmt.Errorf("select %q has no option containing %q", selector, text)
	}
	return nil
}

// Evaluate runs a script on the page. out may be nil when the result is not
// needed.
func (d *Driver) Evaluate(ctx context.Context, script string, out interface{}) error {
	if err := d.run(ctx, d.config.Timeout, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

// PageSource returns the full rendered markup of the current page.
func (d *Driver) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, d.config.Timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture page source: %w", err)
	}
	return html, nil
}

// Cookies harvests all cookies from the browser.
func (d *Driver) Cookies(ctx context.Context) ([]types.Cookie, error) {
	var cookies []types.Cookie
	err := d.run(ctx, d.config.Timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, types.Cookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: c.Domain,
				Path:   c.Path,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read browser cookies: %w", err)
	}
	return cookies, nil
}

// SetCookies injects cookies into the browser before navigation.
func (d *Driver) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &network.CookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	err := d.run(ctx, d.config.Timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set browser cookies: %w", err)
	}
	return nil
}

// PrintToPDF renders the current page to PDF using Chrome's native printer.
func (d *Driver) PrintToPDF(ctx context.Context) ([]byte, error) {
	var pdf []byte
	err := d.run(ctx, d.config.LongTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		if err != nil {
			return err
		}
		pdf = buf
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to print page to PDF: %w", err)
	}
	return pdf, nil
}

// CaptureNewTabURL runs trigger (typically a click on a detail link), waits
// for the tab it spawns, reads that tab's URL and closes it, returning focus
// to the original page. The trigger's click is expected to window.open.
func (d *Driver) CaptureNewTabURL(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (string, error) {
	if !d.started {
		return "", errors.New("browser not started")
	}
	before, err := chromedp.Targets(d.ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list browser targets: %w", err)
	}
	known := make(map[string]bool, len(before))
	for _, t := range before {
		known[string(t.TargetID)] = true
	}

	if err := trigger(ctx); err != nil {
		return "", err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		targets, err := chromedp.Targets(d.ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list browser targets: %w", err)
		}
		for _, t := range targets {
			if t.Type != "page" || known[string(t.TargetID)] {
				continue
			}
			url := t.URL
			// Attach to the spawned tab only to close it; the URL
			// already carries what we need.
			tabCtx, tabCancel := chromedp.NewContext(d.ctx, chromedp.WithTargetID(t.TargetID))
			_ = chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
				return page.Close().Do(ctx)
			}))
			tabCancel()
			return url, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return "", &types.DriverTimeoutError{Selector: "new tab", Timeout: timeout}
}

// parseWindowSize parses "1920,1080" (also accepts "1920x1080"), falling back
// to 1920x1080 on malformed input.
func parseWindowSize(s string) (int, int) {
	sep := ","
	if strings.Contains(s, "x") {
		sep = "x"
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return 1920, 1080
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 1920, 1080
	}
	return w, h
}
