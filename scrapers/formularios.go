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
	// SearchURL is the periodic tax-form consultation page.
	SearchURL = "https://www4.sii.cl/sifmConsultaInternet/index.html"

	formTypeLabel        = "Formulario 29"
	resultsTableSelector = "#tablaDeclaraciones"
	queryButtonLabel     = "Consultar"
)

// FormulariosScraper walks the tax-form search flow: load the page, pick the
// form type and year, run the query, parse the results table and drill into
// each row's detail tab for the portal-internal identifier.
type FormulariosScraper struct {
	config *types.Config
	logger types.Logger
	driver browser.Automator
}

// NewFormulariosScraper creates the tax-form scraper.
func NewFormulariosScraper(config *types.Config, logger types.Logger, driver browser.Automator) *FormulariosScraper {
	return &FormulariosScraper{config: config, logger: logger, driver: driver}
}

// Search lists the taxpayer's form submissions for a year. folio narrows the
// result to a single submission when non-zero. Rows whose detail drill fails
// are kept with an empty InternalID and counted on the result.
func (s *FormulariosScraper) Search(ctx context.Context, year int, folio int64) (*types.FormSearchResult, error) {
	if err := s.loadSearchPage(ctx); err != nil {
		return nil, err
	}
	if err := s.selectCriteria(ctx, year); err != nil {
		return nil, err
	}

	rows, err := s.runQuery(ctx)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return &types.FormSearchResult{Forms: []types.TaxFormSummary{}}, nil
	}

	result := &types.FormSearchResult{}
	for _, row := range rows {
		if folio != 0 && row.Summary.Folio != folio {
			continue
		}
		if row.UnknownStatus != "" {
			s.logger.Warnf("Unknown form status %q on folio %d, defaulting to %s", row.UnknownStatus, row.Summary.Folio, types.FormStatusCurrent)
		}
		summary := row.Summary
		if row.HasDetailLink {
			id, err := s.drillInternalID(ctx, row.DOMIndex)
			if err != nil {
				s.logger.Warnf("Detail drill failed for folio %d: %v", summary.Folio, err)
				result.MissingInternalIDs++
			} else {
				summary.InternalID = id
			}
		} else {
			result.MissingInternalIDs++
		}
		result.Forms = append(result.Forms, summary)
	}
	if result.Forms == nil {
		result.Forms = []types.TaxFormSummary{}
	}
	s.logger.Infof("Form search for %d returned %d rows (%d missing internal id)", year, len(result.Forms), result.MissingInternalIDs)
	return result, nil
}

// loadSearchPage navigates to the search page and fails fast with a distinct
// error when the portal bounced us back to the login form, which means the
// session is invalid rather than the page being slow.
func (s *FormulariosScraper) loadSearchPage(ctx context.Context) error {
	if err := s.driver.Start(ctx); err != nil {
		return &types.ScrapingError{Step: "load search page", Cause: err}
	}
	if err := s.driver.Navigate(ctx, SearchURL); err != nil {
		s.driver.DumpDiagnostics(ctx, "formularios-navigate")
		return &types.ScrapingError{Step: "load search page", Cause: err}
	}
	url, err := s.driver.CurrentURL(ctx)
	if err != nil {
		return &types.ScrapingError{Step: "load search page", Cause: err}
	}
	if strings.Contains(url, "AUT2000") || strings.Contains(url, "IngresoRutClave") {
		return &types.ScrapingError{Step: "load search page", Cause: types.ErrLoginRedirect}
	}
	return nil
}

// selectCriteria locates the form-type and year dropdowns by content
// signature and selects the requested values.
func (s *FormulariosScraper) selectCriteria(ctx context.Context, year int) error {
	html, err := s.driver.PageSource(ctx)
	if err != nil {
		return &types.ScrapingError{Step: "inspect search form", Cause: err}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return &types.ScrapingError{Step: "inspect search form", Cause: err}
	}
	dropdowns := collectDropdowns(doc)

	formType, ok := findLabelDropdown(dropdowns, formTypeLabel)
	if !ok {
		s.driver.DumpDiagnostics(ctx, "formularios-no-type-dropdown")
		return &types.ScrapingError{Step: "select form type", Cause: fmt.Errorf("no dropdown offers %q", formTypeLabel)}
	}
	formValue, _ := optionValueFor(formType, formTypeLabel)
	if err := s.selectByIndex(ctx, formType.Index, formValue); err != nil {
		return &types.ScrapingError{Step: "select form type", Cause: err}
	}

	yearDD, ok := findYearDropdown(dropdowns)
	if !ok {
		s.driver.DumpDiagnostics(ctx, "formularios-no-year-dropdown")
		return &types.ScrapingError{Step: "select year", Cause: errors.New("no dropdown offers 4-digit years")}
	}
	yearValue, ok := optionValueFor(yearDD, strconv.Itoa(year))
	if !ok {
		return &types.ScrapingError{Step: "select year", Cause: fmt.Errorf("year %d not offered by the portal", year)}
	}
	if err := s.selectByIndex(ctx, yearDD.Index, yearValue); err != nil {
		return &types.ScrapingError{Step: "select year", Cause: err}
	}
	return nil
}

// selectByIndex sets a dropdown located by its document-order index, since
// the search dropdowns carry no stable id or name.
func (s *FormulariosScraper) selectByIndex(ctx context.Context, index int, value string) error {
	script := fmt.Sprintf(`(function() {
		var sel = document.querySelectorAll('select')[%d];
		if (!sel) return false;
		sel.value = %q;
		sel.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, index, value)
	var ok bool
	if err := s.driver.Evaluate(ctx, script, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("dropdown %d disappeared between inspection and selection", index)
	}
	return nil
}

// runQuery clicks the consult control and parses the results table. Absence
// of the table after the bounded wait means zero results, not an error.
func (s *FormulariosScraper) runQuery(ctx context.Context) ([]formRow, error) {
	clickScript := fmt.Sprintf(`(function() {
		var buttons = document.querySelectorAll('button, input[type=button], input[type=submit]');
		for (var i = 0; i < buttons.length; i++) {
			var label = buttons[i].textContent || buttons[i].value || '';
			if (label.indexOf(%q) >= 0) {
				buttons[i].click();
				return true;
			}
		}
		return false;
	})()`, queryButtonLabel)
	var clicked bool
	if err := s.driver.Evaluate(ctx, clickScript, &clicked); err != nil {
		return nil, &types.ScrapingError{Step: "run query", Cause: err}
	}
	if !clicked {
		s.driver.DumpDiagnostics(ctx, "formularios-no-query-button")
		return nil, &types.ScrapingError{Step: "run query", Cause: errors.New("query control not found")}
	}

	if err := s.driver.WaitVisible(ctx, resultsTableSelector, s.config.LongTimeout); err != nil {
		var notFound *types.ElementNotFoundError
		if errors.As(err, &notFound) {
			s.logger.Info("Results table never appeared, treating as zero results")
			return nil, nil
		}
		s.driver.DumpDiagnostics(ctx, "formularios-no-results-table")
		return nil, &types.ScrapingError{Step: "await results", Cause: err}
	}

	html, err := s.driver.PageSource(ctx)
	if err != nil {
		return nil, &types.ScrapingError{Step: "read results", Cause: err}
	}
	rows, err := parseFormRows(html, resultsTableSelector)
	if err != nil {
		s.driver.DumpDiagnostics(ctx, "formularios-parse")
		return nil, &types.ScrapingError{Step: "parse results", Cause: err}
	}
	return rows, nil
}

// drillInternalID opens the row's detail link, which spawns a tab whose URL
// embeds the internal identifier, then closes the tab. domIndex addresses the
// row in the table's full tr list, header and filler rows included, matching
// how querySelectorAll counts them.
func (s *FormulariosScraper) drillInternalID(ctx context.Context, domIndex int) (string, error) {
	trigger := func(ctx context.Context) error {
		script := fmt.Sprintf(`(function() {
			var rows = document.querySelectorAll('%s tbody tr, %s tr:not(:first-child)');
			var row = rows[%d];
			if (!row) return false;
			var link = row.querySelector('a');
			if (!link) return false;
			link.click();
			return true;
		})()`, resultsTableSelector, resultsTableSelector, domIndex)
		var ok bool
		if err := s.driver.Evaluate(ctx, script, &ok); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("detail link missing on row %d", domIndex)
		}
		return nil
	}

	url, err := s.driver.CaptureNewTabURL(ctx, trigger, s.config.Timeout)
	if err != nil {
		return "", err
	}
	id, ok := extractInternalID(url)
	if !ok {
		return "", fmt.Errorf("detail tab URL %q carries no internal identifier", url)
	}
	return id, nil
}
