package extractors

import (
	"context"
	"fmt"

	"sii-extractor/internal/rut"
	"sii-extractor/internal/types"
)

const (
	defaultRCVBaseURL = "https://www4.sii.cl/consdcvinternetui/services/data/facadeService"
	rcvNamespaceBase  = "cl.sii.sdi.lob.diii.consdcv.data.api.interfaces.FacadeService"

	// DocTypeElectronicInvoice is the document-type code for electronic
	// invoices, the default ledger filter.
	DocTypeElectronicInvoice = 33
)

// RCVExtractor fetches the purchase/sale register (Registro de Compras y
// Ventas) through its JSON facade.
type RCVExtractor struct {
	base    *Base
	auth    SessionSource
	logger  types.Logger
	baseURL string
}

// NewRCVExtractor creates the ledger extractor.
func NewRCVExtractor(base *Base, auth SessionSource, logger types.Logger) *RCVExtractor {
	return &RCVExtractor{
		base:    base,
		auth:    auth,
		logger:  logger,
		baseURL: defaultRCVBaseURL,
	}
}

// rcvDetalle is one ledger entry in the facade's wire shape.
type rcvDetalle struct {
	TipoDoc        int    `json:"detTipoDoc"`
	NroDoc         int64  `json:"detNroDoc"`
	FchDoc         string `json:"detFchDoc"`
	RutDoc         int64  `json:"detRutDoc"`
	DvDoc          string `json:"detDvDoc"`
	RznSoc         string `json:"detRznSoc"`
	MntNeto        int64  `json:"detMntNeto"`
	MntIVA         int64  `json:"detMntIVA"`
	MntTotal       int64  `json:"detMntTotal"`
	FecRecepcion   string `json:"detFecRecepcion"`
	EventoReceptor string `json:"detEventoReceptorLeyenda"`
}

// rcvResumen is one aggregate row of the register summary.
type rcvResumen struct {
	TipoDocInteger int    `json:"rsmnTipoDocInteger"`
	TipoDocGlosa   string `json:"rsmnTipoDocGlosa"`
	TotDoc         int    `json:"rsmnTotDoc"`
	MntNeto        int64  `json:"rsmnMntNeto"`
	MntIVA         int64  `json:"rsmnMntIVA"`
	MntTotal       int64  `json:"rsmnMntTotal"`
}

// Purchases returns the purchase ledger for the period. A period with zero
// matching documents yields an empty, non-nil slice.
func (r *RCVExtractor) Purchases(ctx context.Context, period types.Period) ([]types.DocumentRecord, error) {
	return r.detail(ctx, period, "COMPRA", "getDetalleCompra", "compras")
}

// Sales returns the sale ledger for the period.
func (r *RCVExtractor) Sales(ctx context.Context, period types.Period) ([]types.DocumentRecord, error) {
	return r.detail(ctx, period, "VENTA", "getDetalleVenta", "ventas")
}

// Summary returns the per-document-type aggregate rows for the period.
func (r *RCVExtractor) Summary(ctx context.Context, period types.Period) ([]types.DocumentSummaryRow, error) {
	if !period.Valid() {
		return nil, &types.ExtractionError{Resource: "resumen", Cause: fmt.Errorf("invalid period %s", period)}
	}
	payload, err := r.payload(period, "COMPRA")
	if err != nil {
		return nil, &types.ExtractionError{Resource: "resumen", Cause: err}
	}
	cookies, err := r.auth.Cookies(ctx)
	if err != nil {
		return nil, &types.ExtractionError{Resource: "resumen", Cause: err}
	}

	var rows []rcvResumen
	url := r.baseURL + "/getResumen"
	namespace := rcvNamespaceBase + "/getResumen"
	if err := r.base.Post(ctx, url, namespace, cookies, payload, &rows); err != nil {
		return nil, &types.ExtractionError{Resource: "resumen", Cause: err}
	}

	out := make([]types.DocumentSummaryRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.DocumentSummaryRow{
			DocType:     row.TipoDocInteger,
			DocTypeName: row.TipoDocGlosa,
			Count:       row.TotDoc,
			NetAmount:   row.MntNeto,
			TaxAmount:   row.MntIVA,
			TotalAmount: row.MntTotal,
		})
	}
	return out, nil
}

func (r *RCVExtractor) detail(ctx context.Context, period types.Period, operation, method, resource string) ([]types.DocumentRecord, error) {
	if !period.Valid() {
		return nil, &types.ExtractionError{Resource: resource, Cause: fmt.Errorf("invalid period %s", period)}
	}
	payload, err := r.payload(period, operation)
	if err != nil {
		return nil, &types.ExtractionError{Resource: resource, Cause: err}
	}
	cookies, err := r.auth.Cookies(ctx)
	if err != nil {
		return nil, &types.ExtractionError{Resource: resource, Cause: err}
	}

	var detalles []rcvDetalle
	url := r.baseURL + "/" + method
	namespace := rcvNamespaceBase + "/" + method
	if err := r.base.Post(ctx, url, namespace, cookies, payload, &detalles); err != nil {
		return nil, &types.ExtractionError{Resource: resource, Cause: err}
	}

	records := make([]types.DocumentRecord, 0, len(detalles))
	for _, d := range detalles {
		records = append(records, types.DocumentRecord{
			DocType:          d.TipoDoc,
			Folio:            d.NroDoc,
			IssueDate:        parsePortalDate(d.FchDoc),
			CounterpartRUT:   fmt.Sprintf("%d-%s", d.RutDoc, d.DvDoc),
			CounterpartName:  d.RznSoc,
			NetAmount:        d.MntNeto,
			TaxAmount:        d.MntIVA,
			TotalAmount:      d.MntTotal,
			ReceptionDate:    parsePortalDate(d.FecRecepcion),
			AcknowledgeState: d.EventoReceptor,
		})
	}
	r.logger.Debugf("Fetched %d %s records for %s", len(records), resource, period)
	return records, nil
}

func (r *RCVExtractor) payload(period types.Period, operation string) (map[string]interface{}, error) {
	body, dv, err := rut.Split(r.auth.TaxID())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"rutEmisor":       body,
		"dvEmisor":        dv,
		"ptributario":     period.Tributario(),
		"codTipoDoc":      fmt.Sprintf("%d", DocTypeElectronicInvoice),
		"operacion":       operation,
		"estadoContab":    "REGISTRO",
		"busquedaInicial": true,
	}, nil
}
