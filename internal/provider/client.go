package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clubledger/backend/internal/config"
)

// HTTPClient talks to the payment processor's REST API and verifies its
// webhook signatures.
type HTTPClient struct {
	baseURL   string
	apiKey    string
	secret    []byte
	tolerance time.Duration
	client    *http.Client

	// now is swappable for signature-tolerance tests.
	now func() time.Time
}

func NewHTTPClient(cfg config.ProviderConfig) *HTTPClient {
	tolerance := cfg.Tolerance
	if tolerance == 0 {
		tolerance = 5 * time.Minute
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		apiKey:    cfg.APIKey,
		secret:    []byte(cfg.WebhookSecret),
		tolerance: tolerance,
		client:    &http.Client{Timeout: 15 * time.Second},
		now:       time.Now,
	}
}

// VerifyEvent checks the "t=<unix>,v1=<hexdigest>" signature header: the
// digest is HMAC-SHA256 over "<t>.<raw body>" with the webhook secret. The
// body must be the exact bytes received, not a re-serialization.
func (c *HTTPClient) VerifyEvent(payload []byte, sigHeader string) (*Event, error) {
	if sigHeader == "" {
		return nil, ErrInvalidSignature
	}

	var timestamp string
	var signature string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signature = v
		}
	}
	if timestamp == "" || signature == "" {
		return nil, ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	age := c.now().Sub(time.Unix(ts, 0))
	if age > c.tolerance || age < -c.tolerance {
		return nil, ErrInvalidSignature
	}

	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(payload)

	provided, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(provided, h.Sum(nil)) {
		return nil, ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &event, nil
}

func (c *HTTPClient) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	if err := c.get(ctx, "/v1/subscriptions/"+url.PathEscape(id), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *HTTPClient) RetrieveInvoice(ctx context.Context, id string) (*Invoice, error) {
	var inv Invoice
	if err := c.get(ctx, "/v1/invoices/"+url.PathEscape(id), &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *HTTPClient) CancelSubscription(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/subscriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *HTTPClient) CreateSubscription(ctx context.Context, customerID string, amountCents int64, metadata map[string]string) (*Subscription, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/subscriptions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var sub Subscription
	if err := c.do(req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
