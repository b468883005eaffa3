package types

import "time"

// Config holds the configuration for the portal client
type Config struct {
	// Headless runs Chrome without a visible window
	Headless bool
	// Timeout is the default wait for page elements to appear
	Timeout time.Duration
	// LongTimeout is the wait for full page navigations and known-slow pages
	LongTimeout time.Duration
	// WindowSize is the browser window size as "WIDTH,HEIGHT"
	WindowSize string
	// ChromeBinaryPath overrides the Chrome executable location (optional)
	ChromeBinaryPath string
	// UserDataDir is a custom Chrome profile directory (optional)
	UserDataDir string
	// DiagnosticsDir receives screenshots and page snapshots on scraper failure
	DiagnosticsDir string
	// UserAgent is sent on both browser and direct HTTP traffic
	UserAgent string
	// MaxRetries is the number of attempts for transport-level HTTP failures
	MaxRetries int
	// RetryDelay is the fixed sleep between HTTP retry attempts
	RetryDelay time.Duration
	// SessionTTL is the cookie lifetime recorded after a successful login
	SessionTTL time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Headless:       true,
		Timeout:        10 * time.Second,
		LongTimeout:    30 * time.Second,
		WindowSize:     "1920,1080",
		DiagnosticsDir: "diagnostics",
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
		SessionTTL:     8 * time.Hour,
	}
}

// Logger defines the logging interface
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
