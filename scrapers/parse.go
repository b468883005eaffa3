// Package scrapers drives the browser through the portal's UI flows and
// parses the resulting markup. Scrapers never call JSON facades; that is the
// extractors' job.
package scrapers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"sii-extractor/internal/types"
)

// optionInfo is one <option> of a dropdown.
type optionInfo struct {
	Value string
	Text  string
}

// dropdownInfo describes one <select> element on the page by position and
// content. The portal's markup does not expose stable identifiers for the
// search dropdowns, so they are located by inspecting their option lists
// rather than by fixed positional indices.
type dropdownInfo struct {
	Index   int
	ID      string
	Name    string
	Options []optionInfo
}

// collectDropdowns lists every select element in document order.
func collectDropdowns(doc *goquery.Document) []dropdownInfo {
	var dropdowns []dropdownInfo
	doc.Find("select").Each(func(i int, s *goquery.Selection) {
		dd := dropdownInfo{Index: i}
		dd.ID, _ = s.Attr("id")
		dd.Name, _ = s.Attr("name")
		s.Find("option").Each(func(_ int, o *goquery.Selection) {
			value, _ := o.Attr("value")
			dd.Options = append(dd.Options, optionInfo{
				Value: value,
				Text:  strings.TrimSpace(o.Text()),
			})
		})
		dropdowns = append(dropdowns, dd)
	})
	return dropdowns
}

var yearOptionPattern = regexp.MustCompile(`^\d{4}$`)

// findYearDropdown returns the dropdown whose non-placeholder options are
// exclusively 4-digit years.
func findYearDropdown(dropdowns []dropdownInfo) (dropdownInfo, bool) {
	for _, dd := range dropdowns {
		years := 0
		ok := true
		for _, opt := range dd.Options {
			if opt.Text == "" || strings.EqualFold(opt.Text, "seleccione") {
				continue
			}
			if !yearOptionPattern.MatchString(opt.Text) {
				ok = false
				break
			}
			years++
		}
		if ok && years > 0 {
			return dd, true
		}
	}
	return dropdownInfo{}, false
}

// findLabelDropdown returns the dropdown that has at least one option whose
// text contains the given label.
func findLabelDropdown(dropdowns []dropdownInfo, label string) (dropdownInfo, bool) {
	for _, dd := range dropdowns {
		for _, opt := range dd.Options {
			if strings.Contains(opt.Text, label) {
				return dd, true
			}
		}
	}
	return dropdownInfo{}, false
}

// optionValueFor returns the value of the first option whose text contains
// the given string.
func optionValueFor(dd dropdownInfo, text string) (string, bool) {
	for _, opt := range dd.Options {
		if strings.Contains(opt.Text, text) {
			return opt.Value, true
		}
	}
	return "", false
}

// formRow is one parsed result-table row plus parse metadata. DOMIndex is the
// row's position in the table's full tr list, counting the header and filler
// rows the parser skips, so scripts indexing querySelectorAll land on the same
// element.
type formRow struct {
	Summary       types.TaxFormSummary
	DOMIndex      int
	HasDetailLink bool
	UnknownStatus string
}

// parseFormRows extracts every row of the tax-form results table. Unknown
// status text does not fail the batch; the row defaults to "current" and the
// raw text is surfaced so the caller can log a warning.
func parseFormRows(html, tableSelector string) ([]formRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}

	table := doc.Find(tableSelector)
	if table.Length() == 0 {
		return nil, fmt.Errorf("results table not found with selector %q", tableSelector)
	}

	var rows []formRow
	var parseErr error
	table.Find("tbody tr, tr:not(:first-child)").EachWithBreak(func(i int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() < 5 {
			// Header or filler rows inside tbody are skipped.
			return true
		}
		row, err := parseFormRow(cells)
		if err != nil {
			parseErr = fmt.Errorf("row %d: %w", i, err)
			return false
		}
		row.DOMIndex = i
		row.HasDetailLink = tr.Find("a").Length() > 0
		rows = append(rows, row)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return rows, nil
}

// parseFormRow maps the cell layout (period, folio, submission date, status,
// amount) onto a TaxFormSummary.
func parseFormRow(cells *goquery.Selection) (formRow, error) {
	period, err := parsePeriod(cellText(cells, 0))
	if err != nil {
		return formRow{}, err
	}
	folio, err := parseAmount(cellText(cells, 1))
	if err != nil {
		return formRow{}, fmt.Errorf("folio: %w", err)
	}
	amount, err := parseAmount(cellText(cells, 4))
	if err != nil {
		return formRow{}, fmt.Errorf("amount: %w", err)
	}

	statusText := cellText(cells, 3)
	status, known := types.ParseFormStatus(statusText)

	row := formRow{
		Summary: types.TaxFormSummary{
			Folio:          folio,
			Period:         period,
			SubmissionDate: parseDisplayDate(cellText(cells, 2)),
			Status:         status,
			Amount:         amount,
		},
	}
	if !known {
		row.UnknownStatus = statusText
	}
	return row, nil
}

func cellText(cells *goquery.Selection, i int) string {
	return strings.TrimSpace(cells.Eq(i).Text())
}

var (
	periodCompact = regexp.MustCompile(`^\d{6}$`)
	periodDashed  = regexp.MustCompile(`^\d{4}-\d{2}$`)
	periodSlashed = regexp.MustCompile(`^\d{2}/\d{4}$`)
)

// parsePeriod accepts the period renderings the portal uses: "202403",
// "2024-03" and "03/2024".
func parsePeriod(s string) (types.Period, error) {
	s = strings.TrimSpace(s)
	var year, month int
	switch {
	case periodCompact.MatchString(s):
		year, _ = strconv.Atoi(s[:4])
		month, _ = strconv.Atoi(s[4:])
	case periodDashed.MatchString(s):
		year, _ = strconv.Atoi(s[:4])
		month, _ = strconv.Atoi(s[5:])
	case periodSlashed.MatchString(s):
		month, _ = strconv.Atoi(s[:2])
		year, _ = strconv.Atoi(s[3:])
	default:
		return types.Period{}, fmt.Errorf("unrecognized period %q", s)
	}
	p := types.Period{Year: year, Month: month}
	if !p.Valid() {
		return types.Period{}, fmt.Errorf("implausible period %q", s)
	}
	return p, nil
}

// parseAmount strips currency symbols and thousands separators from a portal
// number ("$ 1.234.567" -> 1234567).
func parseAmount(s string) (int64, error) {
	clean := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '-' {
			return r
		}
		return -1
	}, s)
	if clean == "" {
		return 0, fmt.Errorf("no digits in %q", s)
	}
	return strconv.ParseInt(clean, 10, 64)
}

// parseDisplayDate parses the portal's on-screen date formats, returning the
// zero time when the text is not a date.
func parseDisplayDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"02/01/2006", "02-01-2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

var internalIDPattern = regexp.MustCompile(`[?&](?:idInterno|folioInterno)=(\d+)`)

// extractInternalID pulls the portal-internal form identifier out of a detail
// tab URL.
func extractInternalID(url string) (string, bool) {
	m := internalIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}
