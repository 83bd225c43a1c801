package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sentivane/sentivane/errors"
)

const maxResponseBytes = 4 << 20 // 4MB; source payloads are small JSON documents

// HTTPFetcher is a generic Fetcher over an HTTP JSON endpoint. The endpoint
// template may contain {date} and {entity} placeholders. Responses are
// validated as JSON objects at the boundary; anything else is malformed.
type HTTPFetcher struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPFetcher creates a fetcher for the endpoint template. apiKeyEnv
// names an environment variable holding a bearer token; empty means
// unauthenticated.
func NewHTTPFetcher(endpoint string, apiKeyEnv string) *HTTPFetcher {
	apiKey := ""
	if apiKeyEnv != "" {
		apiKey = os.Getenv(apiKeyEnv)
	}

	return &HTTPFetcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			// The per-attempt timeout comes from the caller's context;
			// this is a hard backstop
			Timeout: 2 * time.Minute,
		},
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (json.RawMessage, error) {
	target := strings.NewReplacer(
		"{date}", url.PathEscape(req.Date),
		"{entity}", url.PathEscape(req.EntityID),
	).Replace(f.endpoint)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, Fatal(errors.Wrap(err, "failed to build request"))
	}
	httpReq.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		// Network and timeout errors retry
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, Transient(errors.Wrap(err, "failed to read response body"))
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	// Validate shape at the boundary instead of trusting it at use-site
	if !json.Valid(body) {
		return nil, Malformed(errors.Newf("response is not valid JSON (%d bytes)", len(body)))
	}

	return json.RawMessage(body), nil
}

// classifyStatus maps an HTTP status to the error taxonomy. nil means OK.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return errors.Wrapf(errors.ErrRateLimited, "upstream returned %d", code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Auth(errors.Newf("upstream returned %d", code))
	case code == http.StatusRequestTimeout || code >= 500:
		return Transient(errors.Newf("upstream returned %d", code))
	case code >= 400 && code < 500:
		return Fatal(errors.Newf("upstream returned %d", code))
	default:
		return Transient(errors.Newf("unexpected status %d", code))
	}
}
