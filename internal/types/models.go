package types

import (
	"fmt"
	"time"
)

// Cookie is a browser cookie copied verbatim between the headless browser and
// the HTTP layer. Values are opaque to this client.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// Period identifies a tax period as year + month.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// Tributario returns the period in the portal's YYYYMM wire format.
func (p Period) Tributario() string {
	return fmt.Sprintf("%04d%02d", p.Year, p.Month)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Valid reports whether the period has a plausible year and month.
func (p Period) Valid() bool {
	return p.Year >= 2000 && p.Year <= 2100 && p.Month >= 1 && p.Month <= 12
}

// TaxpayerProfile is the normalized taxpayer record returned by the profile
// extractor.
type TaxpayerProfile struct {
	TaxID          string    `json:"tax_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Address        string    `json:"address,omitempty"`
	ActivityCode   int       `json:"activity_code,omitempty"`
	Activity       string    `json:"activity,omitempty"`
	Segment        string    `json:"segment,omitempty"`
	StartDate      time.Time `json:"start_date,omitempty"`
	LastAuthorized time.Time `json:"last_authorized,omitempty"`
}

// DocumentRecord is a single purchase- or sale-ledger entry. Only API
// extractors produce these, never scrapers.
type DocumentRecord struct {
	DocType          int       `json:"doc_type"`
	Folio            int64     `json:"folio"`
	IssueDate        time.Time `json:"issue_date"`
	CounterpartRUT   string    `json:"counterpart_rut"`
	CounterpartName  string    `json:"counterpart_name"`
	NetAmount        int64     `json:"net_amount"`
	TaxAmount        int64     `json:"tax_amount"`
	TotalAmount      int64     `json:"total_amount"`
	ReceptionDate    time.Time `json:"reception_date,omitempty"`
	AcknowledgeState string    `json:"acknowledge_state,omitempty"`
}

// DocumentSummaryRow is one aggregate line of the purchase/sale register
// summary, keyed by document type.
type DocumentSummaryRow struct {
	DocType     int    `json:"doc_type"`
	DocTypeName string `json:"doc_type_name"`
	Count       int    `json:"count"`
	NetAmount   int64  `json:"net_amount"`
	TaxAmount   int64  `json:"tax_amount"`
	TotalAmount int64  `json:"total_amount"`
}

// FormStatus is the closed set of states a submitted tax form can be in.
type FormStatus string

const (
	// FormStatusCurrent marks the valid, in-force submission for a period.
	FormStatusCurrent FormStatus = "VIGENTE"
	// FormStatusAmended marks a submission superseded by a rectification.
	FormStatusAmended FormStatus = "RECTIFICADA"
	// FormStatusVoided marks an annulled submission.
	FormStatusVoided FormStatus = "ANULADA"
)

// ParseFormStatus maps portal status text onto the closed status set. Unknown
// text maps to FormStatusCurrent; callers log a warning rather than failing
// the batch.
func ParseFormStatus(s string) (FormStatus, bool) {
	switch normalizeStatus(s) {
	case "VIGENTE":
		return FormStatusCurrent, true
	case "RECTIFICADA", "RECTIFICADO":
		return FormStatusAmended, true
	case "ANULADA", "ANULADO":
		return FormStatusVoided, true
	}
	return FormStatusCurrent, false
}

func normalizeStatus(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// TaxFormSummary is one row of the periodic tax-form (F29) listing. InternalID
// is the portal-internal identifier needed for PDF retrieval; it is empty when
// the per-row detail drill failed, which is a recoverable partial result.
type TaxFormSummary struct {
	Folio          int64      `json:"folio"`
	Period         Period     `json:"period"`
	SubmissionDate time.Time  `json:"submission_date"`
	Status         FormStatus `json:"status"`
	Amount         int64      `json:"amount"`
	InternalID     string     `json:"internal_id,omitempty"`
}

// FormSearchResult is the outcome of a tax-form search. MissingInternalIDs
// counts rows whose detail drill failed; those rows are still present in Forms
// with an empty InternalID.
type FormSearchResult struct {
	Forms              []TaxFormSummary `json:"forms"`
	MissingInternalIDs int              `json:"missing_internal_ids"`
}

// Receipt is one professional-services receipt (boleta de honorarios).
type Receipt struct {
	Folio       int64     `json:"folio"`
	IssueDate   time.Time `json:"issue_date"`
	ClientRUT   string    `json:"client_rut"`
	ClientName  string    `json:"client_name"`
	GrossAmount int64     `json:"gross_amount"`
	RetainedTax int64     `json:"retained_tax"`
	NetAmount   int64     `json:"net_amount"`
	Status      string    `json:"status,omitempty"`
}

// CloneCookies deep-copies a cookie slice so one consumer's mutation never
// leaks into another's view.
func CloneCookies(cookies []Cookie) []Cookie {
	if cookies == nil {
		return nil
	}
	out := make([]Cookie, len(cookies))
	copy(out, cookies)
	return out
}
