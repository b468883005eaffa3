// Package auth drives the portal login flow and owns session refresh
// decisions.
package auth

import (
	"context"
	"fmt"
	"strings"

	"sii-extractor/browser"
	"sii-extractor/internal/rut"
	"sii-extractor/internal/types"
	"sii-extractor/session"
)

const (
	// LoginURL is the portal's RUT+password authentication form.
	LoginURL = "https://zeusr.sii.cl/AUT2000/InicioAutenticacion/IngresoRutClave.html"
	// HomeURL is the authenticated landing page ("Mi Sii").
	HomeURL = "https://misiir.sii.cl/cgi_misii/siihome.cgi"

	rutInputSelector      = "#rutcntr"
	claveInputSelector    = "#clave"
	submitButtonSelector  = "#bt_ingresar"
	postLoginMarkSelector = "#main-menu"
)

// Validator is a cheap session-validation probe, typically the taxpayer
// profile fetch. It must fail when the supplied cookies are stale.
type Validator func(ctx context.Context, cookies []types.Cookie) error

// Coordinator authenticates against the portal and populates the session
// store. It reuses caller-supplied cookies when possible and only drives the
// browser when an interactive login is actually required.
type Coordinator struct {
	config   *types.Config
	logger   types.Logger
	store    *session.Store
	driver   browser.Automator
	taxID    string
	secret   string
	validate Validator
}

// NewCoordinator creates a coordinator. taxID accepts both "76035322-1" and
// "760353221" forms.
func NewCoordinator(config *types.Config, logger types.Logger, store *session.Store, driver browser.Automator, taxID, secret string) (*Coordinator, error) {
	body, dv, err := rut.Split(taxID)
	if err != nil {
		return nil, fmt.Errorf("invalid taxpayer identifier: %w", err)
	}
	return &Coordinator{
		config: config,
		logger: logger,
		store:  store,
		driver: driver,
		taxID:  rut.Format(body, dv),
		secret: secret,
	}, nil
}

// SetValidator installs the probe VerifySession uses to decide whether held
// cookies are still accepted by the portal.
func (c *Coordinator) SetValidator(v Validator) { c.validate = v }

// TaxID returns the normalized taxpayer identifier.
func (c *Coordinator) TaxID() string { return c.taxID }

// Authenticate establishes a session. With forceNew false, held valid cookies
// are reused without touching the browser; with forceNew true any existing
// session is invalidated first and a fresh interactive login is performed.
func (c *Coordinator) Authenticate(ctx context.Context, forceNew bool) error {
	if forceNew {
		c.store.Invalidate()
	} else if c.store.Valid() {
		c.logger.Debug("Reusing held session cookies")
		return nil
	}
	return c.login(ctx)
}

// Cookies returns the active session cookies, performing a fresh login first
// when none are held. Idempotent: a valid session is returned as-is.
func (c *Coordinator) Cookies(ctx context.Context) ([]types.Cookie, error) {
	if cookies := c.store.ActiveCookies(); cookies != nil {
		return cookies, nil
	}
	if err := c.login(ctx); err != nil {
		return nil, err
	}
	return c.store.ActiveCookies(), nil
}

// VerifySession checks that the held session is still accepted by the portal
// and transparently re-authenticates when it is not. It reports whether a
// refresh occurred. A valid, verifiable session performs no browser work.
func (c *Coordinator) VerifySession(ctx context.Context) (refreshed bool, err error) {
	cookies := c.store.ActiveCookies()
	if cookies != nil {
		if c.validate == nil {
			return false, nil
		}
		if err := c.validate(ctx, cookies); err == nil {
			return false, nil
		}
		c.logger.Warn("Session validation failed, forcing re-authentication")
	}
	if err := c.Authenticate(ctx, true); err != nil {
		return false, err
	}
	return true, nil
}

// login drives the browser through the credential form and harvests the
// resulting cookies into the session store.
func (c *Coordinator) login(ctx context.Context) error {
	c.logger.Infof("Authenticating %s against the portal", c.taxID)

	if err := c.driver.Start(ctx); err != nil {
		return &types.AuthenticationError{TaxID: c.taxID, Cause: err}
	}
	if err := c.driver.Navigate(ctx, LoginURL); err != nil {
		return &types.AuthenticationError{TaxID: c.taxID, Cause: err}
	}
	if err := c.driver.WaitVisible(ctx, rutInputSelector, c.config.Timeout); err != nil {
		return &types.AuthenticationError{TaxID: c.taxID, Cause: err}
	}
	if err := c.driver.SendKeys(ctx, rutInputSelector, c.taxID); err != nil {
		return &types.AuthenticationError{TaxID: c.taxID, Cause: err}
	}
	if err := c.driver.SendKeys(ctx, claveInputSelector, c.secret); err != nil {
		return &types.AuthenticationError{TaxID: c.taxID, Cause: err}
	}
	if err := c.driver.Click(ctx, submitButtonSelector); err != nil {
		return &types.AuthenticationError{TaxID: c.taxID, Cause: err}
	}

	if err := c.driver.WaitVisible(ctx, postLoginMarkSelector, c.config.LongTimeout); err != nil {
		return &types.AuthenticationError{TaxID: c.taxID, Cause: c.describeRejection(ctx, err)}
	}

	cookies, err := c.driver.Cookies(ctx)
	if err != nil {
		return &types.AuthenticationError{TaxID: c.taxID, Cause: err}
	}
	if len(cookies) == 0 {
		return &types.AuthenticationError{TaxID: c.taxID, Cause: fmt.Errorf("no cookies after login")}
	}

	c.store.Save(cookies, c.config.SessionTTL)
	c.logger.Infof("Authentication succeeded, %d cookies held until %s", len(cookies), c.store.ExpiresAt().Format("15:04:05"))
	return nil
}

// describeRejection turns a missing post-login marker into a more specific
// cause when the browser is still sitting on the authentication host, which
// means the portal rejected the credentials rather than timing out.
func (c *Coordinator) describeRejection(ctx context.Context, cause error) error {
	url, err := c.driver.CurrentURL(ctx)
	if err == nil && strings.Contains(url, "AUT2000") {
		return fmt.Errorf("login rejected by portal: %w", cause)
	}
	return cause
}
