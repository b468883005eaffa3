package extractors

import (
	"context"

	"sii-extractor/internal/rut"
	"sii-extractor/internal/types"
)

const (
	defaultContribuyenteURL = "https://misiir.sii.cl/cgi_misii/services/data/facadeService/obtenerContribuyente"
	contribuyenteNamespace  = "cl.sii.sdi.lob.diii.contribuyente.data.api.interfaces.FacadeService/obtenerContribuyente"
)

// SessionSource provides cookies and on-demand re-authentication. It is
// implemented by auth.Coordinator.
type SessionSource interface {
	TaxID() string
	Cookies(ctx context.Context) ([]types.Cookie, error)
	Authenticate(ctx context.Context, forceNew bool) error
}

// ContribuyenteExtractor fetches the taxpayer profile.
type ContribuyenteExtractor struct {
	base     *Base
	auth     SessionSource
	logger   types.Logger
	endpoint string
}

// NewContribuyenteExtractor creates the profile extractor.
func NewContribuyenteExtractor(base *Base, auth SessionSource, logger types.Logger) *ContribuyenteExtractor {
	return &ContribuyenteExtractor{
		base:     base,
		auth:     auth,
		logger:   logger,
		endpoint: defaultContribuyenteURL,
	}
}

// contribuyenteData is the facade's wire shape for the taxpayer record.
type contribuyenteData struct {
	Rut               int64  `json:"rut"`
	Dv                string `json:"dv"`
	RazonSocial       string `json:"razonSocial"`
	Email             string `json:"eMail"`
	Telefono          string `json:"telefonoMovil"`
	Direccion         string `json:"direccion"`
	CodActividad      int    `json:"codActividadEconomica"`
	GlosaActividad    string `json:"glosaActividad"`
	Segmento          string `json:"segmento"`
	FechaInicio       string `json:"fechaInicioActividades"`
	FechaUltimoTimbre string `json:"fechaUltimoTimbraje"`
}

// Get fetches the taxpayer profile using a trust-then-verify strategy: the
// first attempt runs on whatever cookies are held; on any failure a fresh
// login is forced and the call retried exactly once. This keeps the browser
// out of the common path.
func (c *ContribuyenteExtractor) Get(ctx context.Context) (*types.TaxpayerProfile, error) {
	cookies, err := c.auth.Cookies(ctx)
	if err != nil {
		return nil, &types.ExtractionError{Resource: "contribuyente", Cause: err}
	}

	profile, err := c.fetch(ctx, cookies)
	if err == nil {
		return profile, nil
	}

	c.logger.Warnf("Profile fetch failed on held cookies, re-authenticating: %v", err)
	if err := c.auth.Authenticate(ctx, true); err != nil {
		return nil, &types.ExtractionError{Resource: "contribuyente", Cause: err}
	}
	cookies, err = c.auth.Cookies(ctx)
	if err != nil {
		return nil, &types.ExtractionError{Resource: "contribuyente", Cause: err}
	}
	profile, err = c.fetch(ctx, cookies)
	if err != nil {
		return nil, &types.ExtractionError{Resource: "contribuyente", Cause: err}
	}
	return profile, nil
}

// Validate is the cheap session probe used by auth.Coordinator.VerifySession:
// a profile fetch on the supplied cookies, with no fallback.
func (c *ContribuyenteExtractor) Validate(ctx context.Context, cookies []types.Cookie) error {
	_, err := c.fetch(ctx, cookies)
	return err
}

func (c *ContribuyenteExtractor) fetch(ctx context.Context, cookies []types.Cookie) (*types.TaxpayerProfile, error) {
	body, dv, err := rut.Split(c.auth.TaxID())
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"rut": body,
		"dv":  dv,
	}
	var data contribuyenteData
	if err := c.base.Post(ctx, c.endpoint, contribuyenteNamespace, cookies, payload, &data); err != nil {
		return nil, err
	}

	return &types.TaxpayerProfile{
		TaxID:          rut.Format(body, dv),
		Name:           data.RazonSocial,
		Email:          data.Email,
		Phone:          data.Telefono,
		Address:        data.Direccion,
		ActivityCode:   data.CodActividad,
		Activity:       data.GlosaActividad,
		Segment:        data.Segmento,
		StartDate:      parsePortalDate(data.FechaInicio),
		LastAuthorized: parsePortalDate(data.FechaUltimoTimbre),
	}, nil
}
