package scrapers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"sii-extractor/browser"
	"sii-extractor/internal/types"
)

// compactFormURL renders a specific submission as a printable document.
const compactFormURL = "https://www4.sii.cl/sifmConsultaInternet/compacto.html"

var pdfMagic = []byte("%PDF")

// PDFFetcher retrieves the rendered compact form for a submission. The
// primary path captures the page through Chrome's native print-to-PDF; when
// that fails, a direct HTTP GET carrying the browser's current cookies is
// attempted and accepted only if the body starts with the PDF header.
type PDFFetcher struct {
	config  *types.Config
	logger  types.Logger
	driver  browser.Automator
	client  *resty.Client
	baseURL string
}

// NewPDFFetcher creates the PDF retrieval component.
func NewPDFFetcher(config *types.Config, logger types.Logger, driver browser.Automator) *PDFFetcher {
	client := resty.New().
		SetTimeout(config.LongTimeout).
		SetHeader("User-Agent", config.UserAgent)
	return &PDFFetcher{
		config:  config,
		logger:  logger,
		driver:  driver,
		client:  client,
		baseURL: compactFormURL,
	}
}

// GetCompactFormPDF returns the form's PDF bytes, nil when the portal has no
// document for the pair (not found), or an error when both retrieval paths
// failed.
func (p *PDFFetcher) GetCompactFormPDF(ctx context.Context, folio int64, internalID string) ([]byte, error) {
	if internalID == "" {
		return nil, &types.ExtractionError{Resource: "form pdf", Cause: errors.New("missing internal identifier")}
	}
	url := fmt.Sprintf("%s?folio=%d&idInterno=%s", p.baseURL, folio, internalID)

	pdf, nativeErr := p.printNative(ctx, url)
	if nativeErr == nil {
		return pdf, nil
	}
	p.logger.Warnf("Native PDF capture failed for folio %d, trying direct download: %v", folio, nativeErr)

	pdf, found, fallbackErr := p.download(ctx, url)
	if fallbackErr != nil {
		return nil, &types.ExtractionError{
			Resource: "form pdf",
			Cause:    fmt.Errorf("native capture failed (%v); fallback failed: %w", nativeErr, fallbackErr),
		}
	}
	if !found {
		return nil, nil
	}
	return pdf, nil
}

func (p *PDFFetcher) printNative(ctx context.Context, url string) ([]byte, error) {
	if err := p.driver.Start(ctx); err != nil {
		return nil, err
	}
	if err := p.driver.Navigate(ctx, url); err != nil {
		return nil, err
	}
	pdf, err := p.driver.PrintToPDF(ctx)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(pdf, pdfMagic) {
		return nil, errors.New("captured bytes are not a PDF")
	}
	return pdf, nil
}

// download fetches the document URL directly, reusing the browser's cookies.
// found is false when the portal reports the document does not exist.
func (p *PDFFetcher) download(ctx context.Context, url string) (pdf []byte, found bool, err error) {
	cookies, err := p.driver.Cookies(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cookies for download: %w", err)
	}
	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		httpCookies = append(httpCookies, &http.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}

	resp, err := p.client.R().SetContext(ctx).SetCookies(httpCookies).Get(url)
	if err != nil {
		return nil, false, fmt.Errorf("download failed: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode() != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}
	body := resp.Body()
	if !bytes.HasPrefix(body, pdfMagic) {
		return nil, false, errors.New("response body is not a PDF")
	}
	return body, true, nil
}
