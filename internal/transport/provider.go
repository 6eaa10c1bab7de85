package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

const statusDelivered = "DELIVERED"

type providerResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	ErrorMsg  string `json:"error_message,omitempty"`
}

// ProviderClient delivers over HTTP to an external mail/notification
// provider. One POST per message; any transport-level failure, non-2xx, or
// non-delivered provider status is an error the delivery task will retry.
type ProviderClient struct {
	url     string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewProviderClient(url string, timeout time.Duration) *ProviderClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProviderClient{
		url:     url,
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

func (c *ProviderClient) Send(ctx context.Context, sr *SendRequest) error {
	body, err := json.Marshal(sr)
	if err != nil {
		return fmt.Errorf("provider: marshal request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url + "/api/send")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("provider: send failed: %w", err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("provider: unexpected status %d", resp.StatusCode())
	}

	var pr providerResponse
	if err := json.Unmarshal(resp.Body(), &pr); err != nil {
		return fmt.Errorf("provider: decode response: %w", err)
	}
	if pr.Status != statusDelivered {
		if pr.ErrorMsg != "" {
			return fmt.Errorf("provider: not delivered: %s", pr.ErrorMsg)
		}
		return fmt.Errorf("provider: not delivered, status %q", pr.Status)
	}
	return nil
}
