package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient is the real provider client. The API is Stripe-shaped: bearer
// auth, form-encoded writes, JSON reads, 429 on rate limiting.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, apiKey string) *HTTPClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *HTTPClient) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	var payload struct {
		Session
		Created int64 `json:"created"`
	}
	if err := c.get(ctx, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &payload); err != nil {
		return nil, err
	}
	session := payload.Session
	session.CreatedAt = time.Unix(payload.Created, 0).UTC()
	return &session, nil
}

func (c *HTTPClient) RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.get(ctx, "/v1/payment_intents/"+url.PathEscape(intentID), nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) RetrieveCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var charge Charge
	if err := c.get(ctx, "/v1/charges/"+url.PathEscape(chargeID), nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

func (c *HTTPClient) ListRefundsByPaymentIntent(ctx context.Context, intentID string) ([]Refund, error) {
	return c.listRefunds(ctx, url.Values{"payment_intent": {intentID}})
}

func (c *HTTPClient) ListRefundsByCharge(ctx context.Context, chargeID string) ([]Refund, error) {
	return c.listRefunds(ctx, url.Values{"charge": {chargeID}})
}

func (c *HTTPClient) listRefunds(ctx context.Context, query url.Values) ([]Refund, error) {
	query.Set("limit", "100")
	var payload struct {
		Data []struct {
			Refund
			Created int64 `json:"created"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/v1/refunds", query, &payload); err != nil {
		return nil, err
	}
	refunds := make([]Refund, 0, len(payload.Data))
	for _, item := range payload.Data {
		refund := item.Refund
		refund.CreatedAt = time.Unix(item.Created, 0).UTC()
		refunds = append(refunds, refund)
	}
	return refunds, nil
}

func (c *HTTPClient) CreateRefund(ctx context.Context, req CreateRefundRequest) (*Refund, error) {
	form := url.Values{}
	switch {
	case req.PaymentIntentID != "":
		form.Set("payment_intent", req.PaymentIntentID)
	case req.ChargeID != "":
		form.Set("charge", req.ChargeID)
	default:
		return nil, fmt.Errorf("create refund: no payment intent or charge id")
	}
	if req.AmountCents > 0 {
		form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	}
	if req.Reason != "" {
		form.Set("reason", req.Reason)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var payload struct {
		Refund
		Created int64 `json:"created"`
	}
	if err := c.post(ctx, "/v1/refunds", form, &payload); err != nil {
		return nil, err
	}
	refund := payload.Refund
	refund.CreatedAt = time.Unix(payload.Created, 0).UTC()
	return &refund, nil
}

func (c *HTTPClient) ListRecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit < 1 || limit > 100 {
		limit = 100
	}
	var payload struct {
		Data []struct {
			Session
			Created int64 `json:"created"`
		} `json:"data"`
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/v1/checkout/sessions", query, &payload); err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(payload.Data))
	for _, item := range payload.Data {
		session := item.Session
		session.CreatedAt = time.Unix(item.Created, 0).UTC()
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, dest any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, dest)
}

func (c *HTTPClient) post(ctx context.Context, path string, form url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, dest)
}

// do executes the request with a single retry on 429, per the provider's
// rate-limit guidance. There is no further retry policy; persistent failures
// surface to the caller as soft sync failures.
func (c *HTTPClient) do(req *http.Request, dest any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		select {
		case <-req.Context().Done():
			return req.Context().Err()
		case <-time.After(500 * time.Millisecond):
		}

		retry := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return err
			}
			retry.Body = body
		}
		resp, err = c.httpClient.Do(retry)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return ErrRateLimited
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(dest)
}
