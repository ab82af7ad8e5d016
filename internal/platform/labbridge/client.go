package labbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/resonantbio/portal/pkg/errs"
)

// Client talks to the lab's submission API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// PushSubmissions sends finalized orders to the lab and returns the
// lab-assigned identifiers.
func (c *Client) PushSubmissions(ctx context.Context, orderIDs []string) ([]Submission, error) {
	var out []Submission
	if err := c.post(ctx, "/v1/submissions", map[string]interface{}{"order_ids": orderIDs}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchResults pulls specimen results completed since the given instant.
func (c *Client) FetchResults(ctx context.Context, since time.Time) ([]Result, error) {
	var out []Result
	body := map[string]interface{}{"since": since.UTC().Format(time.RFC3339)}
	if err := c.post(ctx, "/v1/results/query", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.Internal("encode lab request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errs.Internal("build lab request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Dependency("lab bridge request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errs.Dependency("lab bridge response",
			fmt.Errorf("%s %s: status %d: %s", http.MethodPost, path, resp.StatusCode, string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Dependency("decode lab response", err)
	}
	return nil
}
