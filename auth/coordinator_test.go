package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sii-extractor/internal/types"
	"sii-extractor/session"
)

// fakeDriver records the browser operations the coordinator performs.
type fakeDriver struct {
	ops         []string
	cookies     []types.Cookie
	currentURL  string
	failWaitFor string
}

func (f *fakeDriver) op(name string) { f.ops = append(f.ops, name) }

func (f *fakeDriver) Start(ctx context.Context) error { f.op("start"); return nil }
func (f *fakeDriver) Stop() error                     { f.op("stop"); return nil }
func (f *fakeDriver) Running() bool                   { return true }
func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.op("navigate:" + url)
	return nil
}
func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) { return f.currentURL, nil }
func (f *fakeDriver) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	f.op("wait:" + sel)
	if sel == f.failWaitFor {
		return &types.ElementNotFoundError{Selector: sel}
	}
	return nil
}
func (f *fakeDriver) WaitClickable(ctx context.Context, sel string, timeout time.Duration) error {
	f.op("waitclickable:" + sel)
	return nil
}
func (f *fakeDriver) Click(ctx context.Context, sel string) error { f.op("click:" + sel); return nil }
func (f *fakeDriver) SendKeys(ctx context.Context, sel, text string) error {
	f.op("sendkeys:" + sel)
	return nil
}
func (f *fakeDriver) SelectByValue(ctx context.Context, sel, value string) error { return nil }
func (f *fakeDriver) SelectByText(ctx context.Context, sel, text string) error   { return nil }
func (f *fakeDriver) Evaluate(ctx context.Context, script string, out interface{}) error {
	return nil
}
func (f *fakeDriver) PageSource(ctx context.Context) (string, error) { return "", nil }
func (f *fakeDriver) Cookies(ctx context.Context) ([]types.Cookie, error) {
	f.op("cookies")
	return f.cookies, nil
}
func (f *fakeDriver) SetCookies(ctx context.Context, cookies []types.Cookie) error { return nil }
func (f *fakeDriver) PrintToPDF(ctx context.Context) ([]byte, error)               { return nil, nil }
func (f *fakeDriver) CaptureNewTabURL(ctx context.Context, trigger func(context.Context) error, timeout time.Duration) (string, error) {
	return "", nil
}
func (f *fakeDriver) DumpDiagnostics(ctx context.Context, label string) {}

var harvested = []types.Cookie{{Name: "TOKEN", Value: "tok", Domain: ".sii.cl", Path: "/"}}

func newCoordinator(t *testing.T, driver *fakeDriver) (*Coordinator, *session.Store) {
	t.Helper()
	store := session.NewStore("76035322-1")
	c, err := NewCoordinator(types.DefaultConfig(), logrus.New(), store, driver, "76035322-1", "secret")
	require.NoError(t, err)
	return c, store
}

func TestNewCoordinator_NormalizesRUT(t *testing.T) {
	c, _ := newCoordinator(t, &fakeDriver{cookies: harvested})
	assert.Equal(t, "76035322-1", c.TaxID())

	store := session.NewStore("760353221")
	c2, err := NewCoordinator(types.DefaultConfig(), logrus.New(), store, &fakeDriver{}, "760353221", "secret")
	require.NoError(t, err)
	assert.Equal(t, "76035322-1", c2.TaxID())
}

func TestNewCoordinator_RejectsBadRUT(t *testing.T) {
	store := session.NewStore("x")
	_, err := NewCoordinator(types.DefaultConfig(), logrus.New(), store, &fakeDriver{}, "x", "secret")
	assert.Error(t, err)
}

func TestAuthenticate_FreshLogin(t *testing.T) {
	driver := &fakeDriver{cookies: harvested}
	c, store := newCoordinator(t, driver)

	err := c.Authenticate(context.Background(), false)

	require.NoError(t, err)
	assert.True(t, store.Valid())
	assert.Equal(t, harvested, store.ActiveCookies())
	assert.Contains(t, driver.ops, "navigate:"+LoginURL)
	assert.Contains(t, driver.ops, "sendkeys:"+rutInputSelector)
	assert.Contains(t, driver.ops, "click:"+submitButtonSelector)
}

func TestAuthenticate_CookieReuseSkipsBrowser(t *testing.T) {
	driver := &fakeDriver{cookies: harvested}
	c, store := newCoordinator(t, driver)
	store.Save(harvested, time.Hour)

	err := c.Authenticate(context.Background(), false)

	require.NoError(t, err)
	assert.Empty(t, driver.ops, "valid cookies must not trigger any browser operation")
}

func TestAuthenticate_ForceNewInvalidatesFirst(t *testing.T) {
	fresh := []types.Cookie{{Name: "TOKEN", Value: "fresh", Domain: ".sii.cl", Path: "/"}}
	driver := &fakeDriver{cookies: fresh}
	c, store := newCoordinator(t, driver)
	store.Save(harvested, time.Hour)

	err := c.Authenticate(context.Background(), true)

	require.NoError(t, err)
	assert.Equal(t, fresh, store.ActiveCookies())
	assert.Contains(t, driver.ops, "navigate:"+LoginURL)
}

func TestAuthenticate_RejectedLogin(t *testing.T) {
	driver := &fakeDriver{
		failWaitFor: postLoginMarkSelector,
		currentURL:  "https://zeusr.sii.cl/AUT2000/InicioAutenticacion/IngresoRutClave.html",
	}
	c, store := newCoordinator(t, driver)

	err := c.Authenticate(context.Background(), false)

	require.Error(t, err)
	var authErr *types.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "76035322-1", authErr.TaxID)
	assert.Contains(t, err.Error(), "login rejected")
	assert.False(t, store.Valid())
}

func TestCookies_Idempotent(t *testing.T) {
	driver := &fakeDriver{cookies: harvested}
	c, _ := newCoordinator(t, driver)

	first, err := c.Cookies(context.Background())
	require.NoError(t, err)
	opsAfterLogin := len(driver.ops)

	second, err := c.Cookies(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, opsAfterLogin, len(driver.ops), "second call must not touch the browser")
}

func TestVerifySession_ValidSession(t *testing.T) {
	driver := &fakeDriver{cookies: harvested}
	c, store := newCoordinator(t, driver)
	store.Save(harvested, time.Hour)
	c.SetValidator(func(ctx context.Context, cookies []types.Cookie) error { return nil })

	refreshed, err := c.VerifySession(context.Background())

	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Empty(t, driver.ops, "valid session must perform zero browser operations")
}

func TestVerifySession_StaleCookiesRefreshOnce(t *testing.T) {
	driver := &fakeDriver{cookies: harvested}
	c, store := newCoordinator(t, driver)
	store.Save([]types.Cookie{{Name: "TOKEN", Value: "stale"}}, time.Hour)

	calls := 0
	c.SetValidator(func(ctx context.Context, cookies []types.Cookie) error {
		calls++
		return errors.New("portal says no")
	})

	refreshed, err := c.VerifySession(context.Background())

	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, 1, calls)
	assert.Equal(t, harvested, store.ActiveCookies())

	logins := 0
	for _, op := range driver.ops {
		if op == "navigate:"+LoginURL {
			logins++
		}
	}
	assert.Equal(t, 1, logins, "exactly one re-authentication expected")
}

func TestVerifySession_ExpiredSessionRefreshes(t *testing.T) {
	driver := &fakeDriver{cookies: harvested}
	c, store := newCoordinator(t, driver)
	// No cookies held at all: must authenticate and report a refresh.
	refreshed, err := c.VerifySession(context.Background())

	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.True(t, store.Valid())
}
