package scrapers

import (
	"context"
	"errors"
	"strings"
	"time"

	"sii-extractor/internal/types"
)

// fakeDriver simulates the browser for scraper flow tests. PageSource calls
// return pages in order; Evaluate answers true to the scraper's selection and
// click scripts; CaptureNewTabURL pops tabURLs, with an empty string
// simulating a tab that never opened.
type fakeDriver struct {
	ops     []string
	scripts []string

	currentURL  string
	pages       []string
	pageIdx     int
	tabURLs     []string
	tabIdx      int
	failWaitFor map[string]error
	evalFalse   bool

	printPDF    []byte
	printErr    error
	cookies     []types.Cookie
	navigateErr error
}

func (f *fakeDriver) op(name string) { f.ops = append(f.ops, name) }

func (f *fakeDriver) Start(ctx context.Context) error { f.op("start"); return nil }
func (f *fakeDriver) Stop() error                     { f.op("stop"); return nil }
func (f *fakeDriver) Running() bool                   { return true }

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.op("navigate:" + url)
	return f.navigateErr
}

func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) { return f.currentURL, nil }

func (f *fakeDriver) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	f.op("wait:" + sel)
	if err, ok := f.failWaitFor[sel]; ok {
		return err
	}
	return nil
}

func (f *fakeDriver) WaitClickable(ctx context.Context, sel string, timeout time.Duration) error {
	f.op("waitclickable:" + sel)
	if err, ok := f.failWaitFor[sel]; ok {
		return err
	}
	return nil
}

func (f *fakeDriver) Click(ctx context.Context, sel string) error {
	f.op("click:" + sel)
	return nil
}

func (f *fakeDriver) SendKeys(ctx context.Context, sel, text string) error { return nil }

func (f *fakeDriver) SelectByValue(ctx context.Context, sel, value string) error {
	f.op("selectvalue:" + sel + "=" + value)
	return nil
}

func (f *fakeDriver) SelectByText(ctx context.Context, sel, text string) error {
	f.op("selecttext:" + sel + "=" + text)
	return nil
}

func (f *fakeDriver) Evaluate(ctx context.Context, script string, out interface{}) error {
	f.op("evaluate")
	f.scripts = append(f.scripts, script)
	if b, ok := out.(*bool); ok {
		*b = !f.evalFalse
	}
	return nil
}

func (f *fakeDriver) PageSource(ctx context.Context) (string, error) {
	if f.pageIdx >= len(f.pages) {
		if len(f.pages) == 0 {
			return "", errors.New("no pages configured")
		}
		return f.pages[len(f.pages)-1], nil
	}
	page := f.pages[f.pageIdx]
	f.pageIdx++
	return page, nil
}

func (f *fakeDriver) Cookies(ctx context.Context) ([]types.Cookie, error) { return f.cookies, nil }

func (f *fakeDriver) SetCookies(ctx context.Context, cookies []types.Cookie) error { return nil }

func (f *fakeDriver) PrintToPDF(ctx context.Context) ([]byte, error) {
	return f.printPDF, f.printErr
}

func (f *fakeDriver) CaptureNewTabURL(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (string, error) {
	if err := trigger(ctx); err != nil {
		return "", err
	}
	if f.tabIdx >= len(f.tabURLs) {
		return "", &types.DriverTimeoutError{Selector: "new tab", Timeout: timeout}
	}
	url := f.tabURLs[f.tabIdx]
	f.tabIdx++
	if url == "" {
		return "", &types.DriverTimeoutError{Selector: "new tab", Timeout: timeout}
	}
	return url, nil
}

func (f *fakeDriver) DumpDiagnostics(ctx context.Context, label string) { f.op("diag:" + label) }

func (f *fakeDriver) sawOp(prefix string) bool {
	for _, op := range f.ops {
		if strings.HasPrefix(op, prefix) {
			return true
		}
	}
	return false
}
