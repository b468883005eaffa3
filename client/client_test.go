package client

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sii-extractor/internal/types"
)

// fakeDriver records browser operations so tests can assert which flows ran.
type fakeDriver struct {
	ops []string

	currentURL  string
	pages       []string
	pageIdx     int
	failWaitFor map[string]error
	cookies     []types.Cookie
	printPDF    []byte
	stops       int
}

func (f *fakeDriver) op(name string) { f.ops = append(f.ops, name) }

func (f *fakeDriver) Start(ctx context.Context) error { f.op("start"); return nil }
func (f *fakeDriver) Stop() error                     { f.stops++; return nil }
func (f *fakeDriver) Running() bool                   { return true }

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.op("navigate:" + url)
	f.currentURL = url
	return nil
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

func (f *fakeDriver) SendKeys(ctx context.Context, sel, text string) error {
	f.op("sendkeys:" + sel)
	return nil
}

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
	if b, ok := out.(*bool); ok {
		*b = true
	}
	return nil
}

func (f *fakeDriver) PageSource(ctx context.Context) (string, error) {
	if f.pageIdx < len(f.pages) {
		page := f.pages[f.pageIdx]
		f.pageIdx++
		return page, nil
	}
	return "<html></html>", nil
}

func (f *fakeDriver) Cookies(ctx context.Context) ([]types.Cookie, error) { return f.cookies, nil }

func (f *fakeDriver) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	f.op("setcookies")
	return nil
}

func (f *fakeDriver) PrintToPDF(ctx context.Context) ([]byte, error) {
	f.op("printpdf")
	return f.printPDF, nil
}

func (f *fakeDriver) CaptureNewTabURL(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (string, error) {
	return "", nil
}

func (f *fakeDriver) DumpDiagnostics(ctx context.Context, label string) { f.op("diag:" + label) }

func (f *fakeDriver) sawOpContaining(fragment string) bool {
	for _, op := range f.ops {
		if strings.Contains(op, fragment) {
			return true
		}
	}
	return false
}

func newTestClient(t *testing.T, driver *fakeDriver, opts ...Option) *Client {
	t.Helper()
	driver.cookies = []types.Cookie{{Name: "TOKEN", Value: "abc", Domain: ".sii.cl"}}
	opts = append([]Option{WithDriver(driver)}, opts...)
	c, err := New(types.DefaultConfig(), logrus.New(), "760353221", "secret", opts...)
	require.NoError(t, err)
	return c
}

func TestNew_NormalizesTaxID(t *testing.T) {
	c := newTestClient(t, &fakeDriver{})
	assert.Equal(t, "76035322-1", c.TaxID())
}

func TestNew_RejectsInvalidTaxID(t *testing.T) {
	_, err := New(types.DefaultConfig(), logrus.New(), "not-a-rut", "secret")
	assert.Error(t, err)
}

func TestLogin_ReusesSeededCookies(t *testing.T) {
	driver := &fakeDriver{}
	seed := []types.Cookie{{Name: "TOKEN", Value: "held", Domain: ".sii.cl"}}
	c := newTestClient(t, driver, WithSessionCookies(seed))

	require.NoError(t, c.Login(context.Background()))
	assert.Empty(t, driver.ops, "a seeded session must not touch the browser")
}

func TestLogin_DrivesBrowserWithoutSeed(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestClient(t, driver)

	require.NoError(t, c.Login(context.Background()))
	assert.True(t, driver.sawOpContaining("navigate:https://zeusr.sii.cl"))
	assert.True(t, driver.sawOpContaining("sendkeys:#rutcntr"))
	assert.True(t, driver.sawOpContaining("sendkeys:#clave"))
}

func TestGetBoletas_ForcesFreshAuthDespiteSeed(t *testing.T) {
	driver := &fakeDriver{
		failWaitFor: map[string]error{
			"table.tablacontenido": &types.ElementNotFoundError{Selector: "table.tablacontenido"},
		},
	}
	seed := []types.Cookie{{Name: "TOKEN", Value: "held", Domain: ".sii.cl"}}
	c := newTestClient(t, driver, WithSessionCookies(seed))

	receipts, err := c.GetBoletas(context.Background(), 2024)

	require.NoError(t, err)
	assert.Empty(t, receipts)
	assert.True(t, driver.sawOpContaining("navigate:https://zeusr.sii.cl"),
		"browser flows re-authenticate even when cookies are held")
	assert.True(t, driver.sawOpContaining("navigate:https://loa.sii.cl"))
}

func TestGetCompactFormPDF(t *testing.T) {
	driver := &fakeDriver{printPDF: []byte("%PDF-1.7 fake")}
	c := newTestClient(t, driver)

	pdf, err := c.GetCompactFormPDF(context.Background(), 7001234567, "889900")

	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 fake"), pdf)
	assert.True(t, driver.sawOpContaining("navigate:https://www4.sii.cl/sifmConsultaInternet/compacto.html?folio=7001234567&idInterno=889900"))
}

func TestClose_Idempotent(t *testing.T) {
	driver := &fakeDriver{}
	c := newTestClient(t, driver)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, driver.stops)
}
