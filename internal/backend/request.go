package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"reporthub.io/internal/auth"
	"reporthub.io/internal/obs"
)

const maxResponseSize = 10 * 1024 * 1024

type requestConfig struct {
	operation  string
	path       string   // e.g. "/teams/%s"
	pathParams []string // URL-escaped into path
	query      url.Values
}

// envelope is the API's response wrapper.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// getJSON performs an authenticated GET and decodes the "data" member into result.
func (c *Client) getJSON(ctx context.Context, cfg requestConfig, result any) (err error) {
	start := time.Now()
	defer func() { obs.ObserveBackend(cfg.operation, err, time.Since(start)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(cfg), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if tok, ok := auth.CredentialFromContext(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNetwork, cfg.operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %w", ErrNetwork, cfg.operation, err)
	}
	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp.StatusCode, body, resp.Header.Get("X-Request-Id"))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode %s response: %w", cfg.operation, err)
	}
	if result == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("decode %s data: %w", cfg.operation, err)
	}
	return nil
}

func (c *Client) buildURL(cfg requestConfig) string {
	path := cfg.path
	if len(cfg.pathParams) > 0 {
		escaped := make([]any, len(cfg.pathParams))
		for i, p := range cfg.pathParams {
			escaped[i] = url.PathEscape(p)
		}
		path = fmt.Sprintf(cfg.path, escaped...)
	}
	u := c.endpoint + path
	if len(cfg.query) > 0 {
		u += "?" + cfg.query.Encode()
	}
	return u
}
