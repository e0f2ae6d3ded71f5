// Package catalog talks to a Kiwix-compatible OPDS catalog.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/zimshelf/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "zimshelf/1.0"

	// DefaultURL is the public Kiwix library.
	DefaultURL = "https://library.kiwix.org"

	faviconSize = 48
)

// Client implements domain.CatalogClient and domain.FaviconFetcher.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a catalog client for baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

// doRequest performs a GET and returns the body of a 200 response.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if query != nil {
		reqURL = fmt.Sprintf("%s?%s", reqURL, query.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("catalog request", "url", reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("catalog request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogOffline, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("catalog request error", "status", resp.StatusCode, "url", reqURL)
		return nil, &StatusError{Code: resp.StatusCode, URL: reqURL}
	}
	return body, nil
}

// StatusError reports a non-200 catalog response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.Code, e.URL)
}

// FetchEntries returns up to limit catalog entries starting at offset,
// together with the total number of entries in the catalog.
func (c *Client) FetchEntries(ctx context.Context, offset, limit int) ([]domain.CatalogEntry, int, error) {
	query := url.Values{}
	query.Set("start", strconv.Itoa(offset))
	query.Set("count", strconv.Itoa(limit))

	body, err := c.doRequest(ctx, "/catalog/v2/entries", query)
	if err != nil {
		return nil, 0, err
	}

	entries, total, err := parseFeed(bytes.NewReader(body))
	if err != nil {
		c.logger.Error("failed to parse catalog feed", "error", err, "bodyLen", len(body))
		return nil, 0, err
	}

	c.logger.Debug("catalog page", "offset", offset, "count", len(entries), "total", total)
	return entries, total, nil
}

// FetchFavicon downloads the illustration of an archive.
func (c *Client) FetchFavicon(ctx context.Context, archiveID string) ([]byte, error) {
	query := url.Values{}
	query.Set("size", strconv.Itoa(faviconSize))
	return c.doRequest(ctx, "/catalog/v2/illustration/"+url.PathEscape(archiveID), query)
}
