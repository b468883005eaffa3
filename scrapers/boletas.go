package scrapers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sii-extractor/browser"
	"sii-extractor/internal/types"
)

const (
	// BoletasURL is the issued professional-services-receipt consultation
	// page.
	BoletasURL = "https://loa.sii.cl/cgi_IMT/TMBCOC_MenuConsultasContribRec.cgi"

	boletasYearSelector   = "select[name='cbanoinformeanual']"
	boletasQuerySelector  = "input[name='btnConsultar']"
	boletasTableSelector  = "table.tablacontenido"
	boletasAnnualTotalRow = "TOTAL"
)

// BoletasScraper lists the receipts (boletas de honorarios) a taxpayer issued
// in a year by driving the consultation page's dropdown flow.
type BoletasScraper struct {
	config *types.Config
	logger types.Logger
	driver browser.Automator
}

// NewBoletasScraper creates the receipts scraper.
func NewBoletasScraper(config *types.Config, logger types.Logger, driver browser.Automator) *BoletasScraper {
	return &BoletasScraper{config: config, logger: logger, driver: driver}
}

// Receipts returns every receipt issued in the year. A year with no receipts
// yields an empty, non-nil slice.
func (s *BoletasScraper) Receipts(ctx context.Context, year int) ([]types.Receipt, error) {
	if err := s.driver.Start(ctx); err != nil {
		return nil, &types.ScrapingError{Step: "load receipts page", Cause: err}
	}
	if err := s.driver.Navigate(ctx, BoletasURL); err != nil {
		s.driver.DumpDiagnostics(ctx, "boletas-navigate")
		return nil, &types.ScrapingError{Step: "load receipts page", Cause: err}
	}
	url, err := s.driver.CurrentURL(ctx)
	if err != nil {
		return nil, &types.ScrapingError{Step: "load receipts page", Cause: err}
	}
	if strings.Contains(url, "AUT2000") || strings.Contains(url, "IngresoRutClave") {
		return nil, &types.ScrapingError{Step: "load receipts page", Cause: types.ErrLoginRedirect}
	}

	if err := s.driver.WaitVisible(ctx, boletasYearSelector, s.config.Timeout); err != nil {
		s.driver.DumpDiagnostics(ctx, "boletas-no-year-select")
		return nil, &types.ScrapingError{Step: "select year", Cause: err}
	}
	if err := s.driver.SelectByText(ctx, boletasYearSelector, strconv.Itoa(year)); err != nil {
		return nil, &types.ScrapingError{Step: "select year", Cause: err}
	}
	if err := s.driver.WaitClickable(ctx, boletasQuerySelector, s.config.Timeout); err != nil {
		return nil, &types.ScrapingError{Step: "run query", Cause: err}
	}
	if err := s.driver.Click(ctx, boletasQuerySelector); err != nil {
		return nil, &types.ScrapingError{Step: "run query", Cause: err}
	}

	if err := s.driver.WaitVisible(ctx, boletasTableSelector, s.config.LongTimeout); err != nil {
		var notFound *types.ElementNotFoundError
		if errors.As(err, &notFound) {
			s.logger.Infof("No receipt table for %d, treating as zero receipts", year)
			return []types.Receipt{}, nil
		}
		s.driver.DumpDiagnostics(ctx, "boletas-no-table")
		return nil, &types.ScrapingError{Step: "await results", Cause: err}
	}

	html, err := s.driver.PageSource(ctx)
	if err != nil {
		return nil, &types.ScrapingError{Step: "read results", Cause: err}
	}
	receipts, err := parseReceiptRows(html, boletasTableSelector)
	if err != nil {
		s.driver.DumpDiagnostics(ctx, "boletas-parse")
		return nil, &types.ScrapingError{Step: "parse results", Cause: err}
	}
	s.logger.Infof("Found %d receipts for %d", len(receipts), year)
	return receipts, nil
}

// parseReceiptRows extracts receipt rows from the consultation table. The
// trailing annual-totals row is skipped.
func parseReceiptRows(html, tableSelector string) ([]types.Receipt, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipts page: %w", err)
	}
	table := doc.Find(tableSelector)
	if table.Length() == 0 {
		return nil, fmt.Errorf("receipts table not found with selector %q", tableSelector)
	}

	receipts := []types.Receipt{}
	var parseErr error
	table.Find("tbody tr, tr:not(:first-child)").EachWithBreak(func(i int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() < 7 {
			return true
		}
		if strings.Contains(strings.ToUpper(cells.Eq(0).Text()), boletasAnnualTotalRow) {
			return true
		}
		folio, err := parseAmount(cellText(cells, 0))
		if err != nil {
			parseErr = fmt.Errorf("row %d folio: %w", i, err)
			return false
		}
		gross, err := parseAmount(cellText(cells, 4))
		if err != nil {
			parseErr = fmt.Errorf("row %d gross amount: %w", i, err)
			return false
		}
		retained, err := parseAmount(cellText(cells, 5))
		if err != nil {
			parseErr = fmt.Errorf("row %d retained tax: %w", i, err)
			return false
		}
		net, err := parseAmount(cellText(cells, 6))
		if err != nil {
			parseErr = fmt.Errorf("row %d net amount: %w", i, err)
			return false
		}
		receipt := types.Receipt{
			Folio:       folio,
			IssueDate:   parseDisplayDate(cellText(cells, 1)),
			ClientRUT:   cellText(cells, 2),
			ClientName:  cellText(cells, 3),
			GrossAmount: gross,
			RetainedTax: retained,
			NetAmount:   net,
		}
		if cells.Length() > 7 {
			receipt.Status = cellText(cells, 7)
		}
		receipts = append(receipts, receipt)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return receipts, nil
}
