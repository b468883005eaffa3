package types

import (
	"errors"
	"fmt"
	"time"
)

// AuthenticationError reports a failed login or a missing session. It carries
// the taxpayer identifier for diagnostics.
type AuthenticationError struct {
	TaxID string
	Cause error
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication failed for %s: %v", e.TaxID, e.Cause)
	}
	return fmt.Sprintf("authentication failed for %s", e.TaxID)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

// ExtractionError reports a failed API extraction: transport failure,
// malformed response, business error embedded in a 200, or a missing required
// identifier. Resource names the extractor operation for the error chain.
type ExtractionError struct {
	Resource string
	Cause    error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction of %s failed: %v", e.Resource, e.Cause)
	}
	return fmt.Sprintf("extraction of %s failed", e.Resource)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// ScrapingError reports a failed browser-automation step: element missing,
// unexpected redirect, or parse failure. Step names the state-machine
// transition that failed.
type ScrapingError struct {
	Step  string
	Cause error
}

func (e *ScrapingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scraping step %q failed: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("scraping step %q failed", e.Step)
}

func (e *ScrapingError) Unwrap() error { return e.Cause }

// SessionError reports an invalid session-store state.
type SessionError struct {
	Reason string
}

func (e *SessionError) Error() string {
	return "invalid session: " + e.Reason
}

// DriverTimeoutError reports an element that appeared but never reached the
// awaited condition within the timeout.
type DriverTimeoutError struct {
	Selector string
	Timeout  time.Duration
}

func (e *DriverTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting on %q", e.Timeout, e.Selector)
}

// ElementNotFoundError reports an element that never appeared on the page.
type ElementNotFoundError struct {
	Selector string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element %q not found", e.Selector)
}

// PortalUnavailableError reports the portal signaling temporary
// unavailability. RetryAfter is zero when the portal gave no hint.
type PortalUnavailableError struct {
	RetryAfter time.Duration
}

func (e *PortalUnavailableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("portal temporarily unavailable, retry after %v", e.RetryAfter)
	}
	return "portal temporarily unavailable"
}

// ErrLoginRedirect signals that a navigation unexpectedly landed on the login
// page, i.e. the session is no longer valid for browser flows.
var ErrLoginRedirect = errors.New("redirected to login page")
