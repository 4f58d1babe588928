package ncei

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/ingestion"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
)

// DefaultBaseURL is the root of the nClimGrid-daily county averages.
const DefaultBaseURL = "https://www.ncei.noaa.gov/data/nclimgrid-daily/access/averages"

// Client downloads monthly county files from NCEI.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Connectivity failures are retried under this policy (internal)
	policy retry.Policy
}

// NewClient creates a new NCEI client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL: baseURL,
		policy:  retry.Network(60 * time.Second),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	return c
}

// Fetch downloads the file of key. Timeouts and connection failures are
// retried until they succeed or ctx is done; any response other than 200 is
// returned as a *StatusError without retry.
func (c *Client) Fetch(ctx context.Context, key model.ResourceKey) (ingestion.FetchResult, error) {
	url := key.URL(c.baseURL)

	var result ingestion.FetchResult
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		slog.DebugContext(ctx, "downloading", "url", url)

		content, status, err := c.get(ctx, url)
		if err != nil {
			return err
		}
		result = ingestion.FetchResult{Content: content, StatusCode: status}
		return nil
	})
	if err != nil {
		return ingestion.FetchResult{}, fmt.Errorf("fetch %s: %w", key, err)
	}

	if result.StatusCode != http.StatusOK {
		return result, &StatusError{StatusCode: result.StatusCode, URL: url}
	}

	slog.InfoContext(ctx, "downloaded", "file", key.FileName(), "bytes", len(result.Content))
	return result, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
