package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

// DumpDiagnostics persists a screenshot and a snapshot of the current page
// markup to the diagnostics directory. It is called on scraper failure to
// support offline debugging of portal layout changes; it never fails the
// calling operation, only logs.
func (d *Driver) DumpDiagnostics(ctx context.Context, label string) {
	if !d.started || d.config.DiagnosticsDir == "" {
		return
	}
	if err := os.MkdirAll(d.config.DiagnosticsDir, 0o755); err != nil {
		d.logger.Warnf("Failed to create diagnostics dir: %v", err)
		return
	}
	stamp := time.Now().Format("20060102-150405")
	base := filepath.Join(d.config.DiagnosticsDir, fmt.Sprintf("%s-%s", stamp, label))

	var shot []byte
	if err := d.run(ctx, d.config.Timeout, chromedp.CaptureScreenshot(&shot)); err != nil {
		d.logger.Warnf("Failed to capture diagnostics screenshot: %v", err)
	} else if err := os.WriteFile(base+".png", shot, 0o644); err != nil {
		d.logger.Warnf("Failed to write diagnostics screenshot: %v", err)
	}

	html, err := d.PageSource(ctx)
	if err != nil {
		d.logger.Warnf("Failed to capture diagnostics markup: %v", err)
		return
	}
	if err := os.WriteFile(base+".html", []byte(html), 0o644); err != nil {
		d.logger.Warnf("Failed to write diagnostics markup: %v", err)
		return
	}
	d.logger.Infof("Diagnostics written to %s.{png,html}", base)
}
