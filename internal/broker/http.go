package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPClient talks to an order-execution service over REST. The service is
// expected to key placement on the X-Idempotency-Key header.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

// HTTPConfig carries the execution-service connection settings.
type HTTPConfig struct {
	APIURL         string
	APIToken       string
	TimeoutSeconds int
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("broker api_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing broker api_url failed: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		token:      strings.TrimSpace(cfg.APIToken),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *HTTPClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Execute posts the order. Network errors and 5xx responses surface as
// TransportError; 4xx responses are RejectedError with the service's
// reason. Both paths leave the idempotency key valid for a retry decision
// upstream.
func (c *HTTPClient) Execute(ctx context.Context, idempotencyKey string, req Request) (*Ack, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding order request failed: %w", err)
	}

	endpoint := c.baseURL.JoinPath("/orders").String()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Idempotency-Key", idempotencyKey)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &TransportError{Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(raw, 200))}
	case resp.StatusCode >= 400:
		reason := gjson.GetBytes(raw, "reason").String()
		if reason == "" {
			reason = fmt.Sprintf("status=%d", resp.StatusCode)
		}
		return nil, &RejectedError{Reason: reason}
	}

	brokerID := gjson.GetBytes(raw, "broker_id").String()
	if brokerID == "" {
		brokerID = gjson.GetBytes(raw, "order_id").String()
	}
	if brokerID == "" {
		return nil, &TransportError{Err: fmt.Errorf("no broker id in response: %s", truncate(raw, 200))}
	}
	return &Ack{BrokerID: brokerID, PlacedAt: time.Now()}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
