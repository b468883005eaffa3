package scrapers

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sii-extractor/internal/types"
)

const searchPageHTML = `<html><body>
<select name="region">
	<option value="">Seleccione</option>
	<option value="13">Metropolitana</option>
</select>
<select>
	<option value="">Seleccione</option>
	<option value="f22">Formulario 22 Renta</option>
	<option value="f29">Formulario 29 IVA</option>
</select>
<select>
	<option value="">Seleccione</option>
	<option value="2024">2024</option>
	<option value="2023">2023</option>
	<option value="2022">2022</option>
</select>
<button>Consultar</button>
</body></html>`

func dropdownsFrom(t *testing.T, html string) []dropdownInfo {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return collectDropdowns(doc)
}

func TestFindYearDropdown_ByContentSignature(t *testing.T) {
	dropdowns := dropdownsFrom(t, searchPageHTML)
	require.Len(t, dropdowns, 3)

	// The year selector is the third select on the page, found by its
	// all-4-digit option list, not by position.
	dd, ok := findYearDropdown(dropdowns)
	require.True(t, ok)
	assert.Equal(t, 2, dd.Index)

	value, ok := optionValueFor(dd, "2023")
	require.True(t, ok)
	assert.Equal(t, "2023", value)
}

func TestFindLabelDropdown(t *testing.T) {
	dropdowns := dropdownsFrom(t, searchPageHTML)

	dd, ok := findLabelDropdown(dropdowns, "Formulario 29")
	require.True(t, ok)
	assert.Equal(t, 1, dd.Index)

	value, ok := optionValueFor(dd, "Formulario 29")
	require.True(t, ok)
	assert.Equal(t, "f29", value)

	_, ok = findLabelDropdown(dropdowns, "Formulario 50")
	assert.False(t, ok)
}

func TestFindYearDropdown_NoneMatches(t *testing.T) {
	dropdowns := dropdownsFrom(t, `<select><option>uno</option><option>dos</option></select>`)
	_, ok := findYearDropdown(dropdowns)
	assert.False(t, ok)
}

const resultsPageHTML = `<html><body>
<table id="tablaDeclaraciones">
	<thead><tr><th>Periodo</th><th>Folio</th><th>Fecha</th><th>Estado</th><th>Monto</th></tr></thead>
	<tbody>
		<tr><td>202401</td><td>7001234567</td><td>12/02/2024</td><td>Vigente</td><td>$ 1.234.567</td><td><a href="#">ver</a></td></tr>
		<tr><td>202402</td><td>7001234568</td><td>12/03/2024</td><td>RECTIFICADA</td><td>890.123</td><td><a href="#">ver</a></td></tr>
		<tr><td>202403</td><td>7001234569</td><td>12/04/2024</td><td>En Tramite</td><td>0</td><td><a href="#">ver</a></td></tr>
	</tbody>
</table>
</body></html>`

func TestParseFormRows(t *testing.T) {
	rows, err := parseFormRows(resultsPageHTML, resultsTableSelector)

	require.NoError(t, err)
	require.Len(t, rows, 3)

	first := rows[0].Summary
	assert.Equal(t, int64(7001234567), first.Folio)
	assert.Equal(t, types.Period{Year: 2024, Month: 1}, first.Period)
	assert.Equal(t, types.FormStatusCurrent, first.Status)
	assert.Equal(t, int64(1234567), first.Amount)
	assert.Equal(t, 12, first.SubmissionDate.Day())
	assert.True(t, rows[0].HasDetailLink)
	assert.Empty(t, rows[0].UnknownStatus)

	assert.Equal(t, types.FormStatusAmended, rows[1].Summary.Status)

	// Unknown status text defaults to current and is surfaced, not fatal.
	assert.Equal(t, types.FormStatusCurrent, rows[2].Summary.Status)
	assert.Equal(t, "En Tramite", rows[2].UnknownStatus)
}

const resultsWithFillerHTML = `<html><body>
<table id="tablaDeclaraciones">
	<tbody>
		<tr><th>Periodo</th><th>Folio</th><th>Fecha</th><th>Estado</th><th>Monto</th></tr>
		<tr><td>202401</td><td>7001234567</td><td>12/02/2024</td><td>Vigente</td><td>$ 1.234.567</td><td><a href="detalle.html?r=1">ver</a></td></tr>
		<tr><td colspan="6">Declaraciones vigentes al 30/04/2024</td></tr>
		<tr><td>202402</td><td>7001234568</td><td>12/03/2024</td><td>Vigente</td><td>890.123</td><td><a href="detalle.html?r=2">ver</a></td></tr>
	</tbody>
</table>
</body></html>`

func TestParseFormRows_FillerRowKeepsDOMIndexes(t *testing.T) {
	rows, err := parseFormRows(resultsWithFillerHTML, resultsTableSelector)

	require.NoError(t, err)
	require.Len(t, rows, 2, "header and filler rows are not data rows")

	// Each row's DOMIndex must address that row's own element in the table's
	// full tr list, the way a querySelectorAll-based script counts rows.
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resultsWithFillerHTML))
	require.NoError(t, err)
	domRows := doc.Find(resultsTableSelector + " tbody tr, " + resultsTableSelector + " tr:not(:first-child)")

	wantLinks := map[int64]string{
		7001234567: "detalle.html?r=1",
		7001234568: "detalle.html?r=2",
	}
	for _, row := range rows {
		href, ok := domRows.Eq(row.DOMIndex).Find("a").Attr("href")
		require.True(t, ok, "folio %d: DOM row %d has no link", row.Summary.Folio, row.DOMIndex)
		assert.Equal(t, wantLinks[row.Summary.Folio], href, "folio %d drills the wrong row", row.Summary.Folio)
	}
}

func TestParseFormRows_TableMissing(t *testing.T) {
	_, err := parseFormRows("<html><body></body></html>", resultsTableSelector)
	assert.Error(t, err)
}

func TestParsePeriod(t *testing.T) {
	for _, in := range []string{"202403", "2024-03", "03/2024"} {
		p, err := parsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, types.Period{Year: 2024, Month: 3}, p, in)
	}

	_, err := parsePeriod("marzo 2024")
	assert.Error(t, err)
	_, err = parsePeriod("202413")
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"$ 1.234.567": 1234567,
		"890.123":     890123,
		"0":           0,
		"-5.000":      -5000,
	}
	for in, want := range cases {
		got, err := parseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseAmount("sin monto")
	assert.Error(t, err)
}

func TestExtractInternalID(t *testing.T) {
	id, ok := extractInternalID("https://www4.sii.cl/sifmConsultaInternet/detalle.html?folio=7001234567&idInterno=998877")
	require.True(t, ok)
	assert.Equal(t, "998877", id)

	id, ok = extractInternalID("https://www4.sii.cl/x?folioInterno=42")
	require.True(t, ok)
	assert.Equal(t, "42", id)

	_, ok = extractInternalID("https://www4.sii.cl/x?folio=7001234567")
	assert.False(t, ok)
}
