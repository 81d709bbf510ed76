// Package arxiv reads abstract pages and downloads e-print artifacts from an
// arXiv-compatible document server.
package arxiv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/matsen/texharvest/internal/logger"
)

// DefaultBaseURL is the public arXiv server.
const DefaultBaseURL = "https://arxiv.org"

var idPattern = regexp.MustCompile(`^\d{4}\.\d{4,5}$`)

// ValidID reports whether id is a new-style <YYMM>.<NNNNN> identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// DashedID turns "2412.15272" into "2412-15272" for use in paths and keys.
func DashedID(id string) string {
	return strings.Replace(id, ".", "-", 1)
}

// Fetcher is the subset of fetch.Client used here.
type Fetcher interface {
	Page(ctx context.Context, rawURL string) (string, error)
	Stream(ctx context.Context, rawURL, dest string) (int64, error)
}

// Client talks to the document server.
type Client struct {
	fetcher Fetcher
	baseURL string
	log     *logger.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a client that issues requests through f.
func NewClient(f Fetcher, opts ...ClientOption) *Client {
	c := &Client{
		fetcher: f,
		baseURL: DefaultBaseURL,
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Abstract fetches and parses the abstract page of id. It always returns a
// usable Abstract: on failure the metadata is empty, the version list is
// DefaultVersions and the error says why.
func (c *Client) Abstract(ctx context.Context, id string) (*Abstract, error) {
	fallback := &Abstract{Metadata: EmptyMetadata(), Versions: DefaultVersions()}

	html, err := c.fetcher.Page(ctx, c.baseURL+"/abs/"+id)
	if err != nil {
		c.log.Warn("abstract page unavailable, defaulting to v1", map[string]interface{}{"error": err.Error()})
		return fallback, fmt.Errorf("fetching abstract page for %s: %w", id, err)
	}

	abs, err := ParseAbstract(html)
	if err != nil {
		c.log.Warn("abstract page unparseable, defaulting to v1", map[string]interface{}{"error": err.Error()})
		return fallback, err
	}
	return abs, nil
}

// DownloadEprint downloads version of id into dir as
// "<dashed-id><version>.tar.gz" and returns the path. If the versioned URL
// fails, the bare ID is tried once.
func (c *Client) DownloadEprint(ctx context.Context, id, version, dir string) (string, error) {
	dest := filepath.Join(dir, DashedID(id)+version+".tar.gz")

	n, err := c.fetcher.Stream(ctx, c.baseURL+"/e-print/"+id+version, dest)
	if err != nil {
		c.log.Warn("versioned e-print download failed, trying bare id", map[string]interface{}{
			"version": version,
			"error":   err.Error(),
		})
		os.Remove(dest)
		n, err = c.fetcher.Stream(ctx, c.baseURL+"/e-print/"+id, dest)
		if err != nil {
			os.Remove(dest)
			return "", fmt.Errorf("downloading e-print %s%s: %w", id, version, err)
		}
	}

	c.log.Info("downloaded e-print", map[string]interface{}{"version": version, "bytes": n})
	return dest, nil
}
