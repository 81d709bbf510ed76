// Package s2 looks up venue and reference metadata for arXiv items in the
// Semantic Scholar Graph API.
package s2

import (
	"context"
	"net/url"
	"strings"

	"github.com/matsen/texharvest/internal/fetch"
	"github.com/matsen/texharvest/internal/logger"
)

const (
	// DefaultBaseURL is the Graph API root.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultFields are requested for every lookup.
	DefaultFields = "venue,references.title,references.authors,references.externalIds,references.year,references.paperId"
)

// JSONFetcher is the subset of fetch.Client used here.
type JSONFetcher interface {
	JSON(ctx context.Context, rawURL string, params url.Values, v any) error
}

// Client queries the Graph API. The retry behaviour is that of the fetcher,
// normally a fetch.Client with fetch.BibliographicPolicy and the x-api-key
// header.
type Client struct {
	fetcher JSONFetcher
	baseURL string
	fields  string
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

// NewClient creates a Graph API client.
func NewClient(f JSONFetcher, opts ...ClientOption) *Client {
	c := &Client{
		fetcher: f,
		baseURL: DefaultBaseURL,
		fields:  DefaultFields,
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the venue and arXiv references of id. A 404 is an
// authoritative empty answer and returns no error. Any other failure returns
// an empty result together with the error; callers degrade to no data.
func (c *Client) Lookup(ctx context.Context, id string) (Result, error) {
	var paper S2Paper
	err := c.fetcher.JSON(ctx, c.baseURL+"/paper/arXiv:"+id, url.Values{"fields": {c.fields}}, &paper)
	if err != nil {
		if fetch.IsNotFound(err) {
			c.log.Info("no bibliographic record, skipping references and venue")
			return Empty(), nil
		}
		c.log.Warn("bibliographic lookup failed", map[string]interface{}{"error": err.Error()})
		return Empty(), err
	}

	res := Result{
		Venue:      strings.TrimSpace(paper.Venue),
		References: MapReferences(paper.References),
	}
	c.log.InfoWithCount("retrieved references", len(res.References), map[string]interface{}{"venue": res.Venue})
	return res, nil
}
