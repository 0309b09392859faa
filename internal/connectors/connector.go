// Package connectors defines the upstream data source interface for pgxdash.
package connectors

import (
	"context"
	"net/url"
)

// Response holds the raw body returned by a source.
type Response struct {
	Source string `json:"source"`
	URL    string `json:"url"`
	Status int    `json:"status"`
	Body   []byte `json:"-"`
	Cached bool   `json:"cached"`
}

// Connector defines the interface for fetching from a biomedical API.
type Connector interface {
	// Name returns the source identifier.
	Name() string

	// Fetch performs a GET against endpoint relative to the source base URL.
	// Errors are *models.TaskError values classified by kind.
	Fetch(ctx context.Context, endpoint string, params url.Values) (*Response, error)
}
