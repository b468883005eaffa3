// Package client composes the session, browser, extractor and scraper layers
// behind a single portal facade.
package client

import (
	"context"
	"sync"
	"time"

	"sii-extractor/auth"
	"sii-extractor/browser"
	"sii-extractor/extractors"
	"sii-extractor/internal/types"
	"sii-extractor/scrapers"
	"sii-extractor/session"
)

// callerCookieTTL bounds how long externally supplied cookies are trusted
// before the next VerifySession forces a re-login.
const callerCookieTTL = time.Hour

// Option customizes a Client at construction time.
type Option func(*Client)

// WithDriver replaces the chromedp-backed browser with a caller-supplied
// automator. Used by tests and by callers managing their own browser.
func WithDriver(driver browser.Automator) Option {
	return func(c *Client) { c.driver = driver }
}

// WithSessionCookies seeds the client with cookies from a previous session so
// the first API call can skip the interactive login. The cookies are trusted
// for a short window only; VerifySession re-authenticates if they turn out
// stale.
func WithSessionCookies(cookies []types.Cookie) Option {
	return func(c *Client) { c.seed = cookies }
}

// Client is the portal facade. API-backed reads verify the held session
// before each call and self-heal through a re-login; browser-backed flows
// always authenticate fresh because the portal ties scraper pages to the
// browser's own cookie jar, not to the cookies the API layer holds.
type Client struct {
	config *types.Config
	logger types.Logger

	store  *session.Store
	driver browser.Automator
	coord  *auth.Coordinator

	contribuyente *extractors.ContribuyenteExtractor
	rcv           *extractors.RCVExtractor
	forms         *scrapers.FormulariosScraper
	pdf           *scrapers.PDFFetcher
	boletas       *scrapers.BoletasScraper

	seed []types.Cookie

	mu     sync.Mutex
	closed bool
}

// New creates a facade for the given taxpayer. taxID accepts both dashed and
// compact RUT forms; secret is the portal password.
func New(config *types.Config, logger types.Logger, taxID, secret string, opts ...Option) (*Client, error) {
	c := &Client{
		config: config,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.driver == nil {
		c.driver = browser.NewDriver(config, logger)
	}

	c.store = session.NewStore(taxID)
	coord, err := auth.NewCoordinator(config, logger, c.store, c.driver, taxID, secret)
	if err != nil {
		return nil, err
	}
	c.coord = coord

	base := extractors.NewBase(config, logger)
	c.contribuyente = extractors.NewContribuyenteExtractor(base, coord, logger)
	c.rcv = extractors.NewRCVExtractor(base, coord, logger)
	coord.SetValidator(c.contribuyente.Validate)

	c.forms = scrapers.NewFormulariosScraper(config, logger, c.driver)
	c.pdf = scrapers.NewPDFFetcher(config, logger, c.driver)
	c.boletas = scrapers.NewBoletasScraper(config, logger, c.driver)

	if len(c.seed) > 0 {
		c.store.Save(c.seed, callerCookieTTL)
		logger.Debugf("Seeded %d caller cookies, trusted for %s", len(c.seed), callerCookieTTL)
	}
	return c, nil
}

// TaxID returns the normalized taxpayer identifier the client operates as.
func (c *Client) TaxID() string { return c.coord.TaxID() }

// Login establishes a portal session, reusing held cookies when they are
// still valid. It is not required before other operations; every operation
// authenticates on demand.
func (c *Client) Login(ctx context.Context) error {
	return c.coord.Authenticate(ctx, false)
}

// GetContribuyente returns the taxpayer profile.
func (c *Client) GetContribuyente(ctx context.Context) (*types.TaxpayerProfile, error) {
	return c.contribuyente.Get(ctx)
}

// GetCompras returns the purchase ledger for the period.
func (c *Client) GetCompras(ctx context.Context, period types.Period) ([]types.DocumentRecord, error) {
	if _, err := c.coord.VerifySession(ctx); err != nil {
		return nil, err
	}
	return c.rcv.Purchases(ctx, period)
}

// GetVentas returns the sale ledger for the period.
func (c *Client) GetVentas(ctx context.Context, period types.Period) ([]types.DocumentRecord, error) {
	if _, err := c.coord.VerifySession(ctx); err != nil {
		return nil, err
	}
	return c.rcv.Sales(ctx, period)
}

// GetResumen returns the per-document-type register summary for the period.
func (c *Client) GetResumen(ctx context.Context, period types.Period) ([]types.DocumentSummaryRow, error) {
	if _, err := c.coord.VerifySession(ctx); err != nil {
		return nil, err
	}
	return c.rcv.Summary(ctx, period)
}

// SearchFormularios lists the monthly tax forms submitted in a year. folio
// zero means no folio filter.
func (c *Client) SearchFormularios(ctx context.Context, year int, folio int64) (*types.FormSearchResult, error) {
	if err := c.coord.Authenticate(ctx, true); err != nil {
		return nil, err
	}
	return c.forms.Search(ctx, year, folio)
}

// GetCompactFormPDF returns the rendered compact form for a submission. A nil
// result with nil error means the portal has no document for the pair.
func (c *Client) GetCompactFormPDF(ctx context.Context, folio int64, internalID string) ([]byte, error) {
	if err := c.coord.Authenticate(ctx, true); err != nil {
		return nil, err
	}
	return c.pdf.GetCompactFormPDF(ctx, folio, internalID)
}

// GetBoletas returns the professional-services receipts issued in a year.
func (c *Client) GetBoletas(ctx context.Context, year int) ([]types.Receipt, error) {
	if err := c.coord.Authenticate(ctx, true); err != nil {
		return nil, err
	}
	return c.boletas.Receipts(ctx, year)
}

// Close stops the browser if one was started. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.driver.Stop()
}
