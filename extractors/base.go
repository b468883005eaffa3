// Package extractors fetches taxpayer data through the portal's internal JSON
// facades directly over HTTP, using cookies harvested by the authentication
// coordinator. No browser is involved on this path.
package extractors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"sii-extractor/internal/types"
)

// metaData is the correlation block every facade request carries. The
// conversation id is stable across a logical interaction; the transaction id
// is unique per request. Both are opaque correlation tokens the portal
// expects, not security tokens.
type metaData struct {
	Namespace      string      `json:"namespace"`
	ConversationID string      `json:"conversationId"`
	TransactionID  string      `json:"transaccionId"`
	Page           interface{} `json:"page"`
}

type facadeRequest struct {
	MetaData metaData    `json:"metaData"`
	Data     interface{} `json:"data"`
}

type facadeResponse struct {
	Data     json.RawMessage `json:"data"`
	MetaData struct {
		ConversationID string     `json:"conversationId"`
		TransactionID  string     `json:"transaccionId"`
		Errors         []apiError `json:"errors"`
	} `json:"metaData"`
}

type apiError struct {
	Code        string `json:"codigo"`
	Description string `json:"descripcion"`
}

func (e apiError) Error() string {
	return fmt.Sprintf("portal error %s: %s", e.Code, e.Description)
}

// Base holds the HTTP client shared by all API extractors.
type Base struct {
	config         *types.Config
	logger         types.Logger
	client         *resty.Client
	conversationID string
}

// NewBase creates the shared extractor infrastructure. Transport-level
// failures are retried with a fixed delay; business-error responses never
// are.
func NewBase(config *types.Config, logger types.Logger) *Base {
	client := resty.New().
		SetTimeout(config.LongTimeout).
		SetRetryCount(config.MaxRetries).
		SetRetryWaitTime(config.RetryDelay).
		SetRetryMaxWaitTime(config.RetryDelay).
		SetHeader("User-Agent", config.UserAgent).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Base{
		config:         config,
		logger:         logger,
		client:         client,
		conversationID: uuid.NewString(),
	}
}

// Post sends a facade request with the session cookies attached and decodes
// the data section of the envelope into out. Business errors embedded in an
// otherwise-200 body are inspected and returned as errors, never treated as
// success.
func (b *Base) Post(ctx context.Context, url, namespace string, cookies []types.Cookie, data, out interface{}) error {
	if len(cookies) == 0 {
		return &types.SessionError{Reason: "no cookies available for API call"}
	}

	body := facadeRequest{
		MetaData: metaData{
			Namespace:      namespace,
			ConversationID: b.conversationID,
			TransactionID:  uuid.NewString(),
		},
		Data: data,
	}

	b.logger.Debugf("POST %s (%s)", url, namespace)
	resp, err := b.client.R().
		SetContext(ctx).
		SetCookies(toHTTPCookies(cookies)).
		SetBody(body).
		Post(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode() == http.StatusServiceUnavailable {
		return &types.PortalUnavailableError{RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	var envelope facadeResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("malformed response body: %w", err)
	}
	if len(envelope.MetaData.Errors) > 0 {
		return envelope.MetaData.Errors[0]
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("malformed data section: %w", err)
		}
	}
	return nil
}

func toHTTPCookies(cookies []types.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return out
}

func retryAfter(resp *resty.Response) time.Duration {
	if v := resp.Header().Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// parsePortalDate handles the date renderings the facades use.
func parsePortalDate(s string) time.Time {
	for _, layout := range []string{
		"02/01/2006 15:04:05",
		"02/01/2006",
		"02-01-2006",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
