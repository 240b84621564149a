package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

var (
	errBadHTTPStatus     = errors.New("unexpected HTTP status")
	errUnsupportedScheme = errors.New("unsupported URI scheme")
	errRelativePath      = errors.New("file URI must name an absolute path")
)

// Resolver implements install.ContentResolver for file and http(s) URIs.
// URIs without a scheme are treated as absolute file paths.
type Resolver struct {
	client *http.Client
}

// Option configures the resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for http and https URIs.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		if client != nil {
			r.client = client
		}
	}
}

// NewResolver creates a resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{client: http.DefaultClient}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Open returns a reader over the URI contents; the caller closes it.
func (r *Resolver) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", uri, err)
	}

	switch parsed.Scheme {
	case "", "file":
		return openFile(parsed)
	case "http", "https":
		return r.openHTTP(ctx, parsed)
	default:
		return nil, fmt.Errorf("%s: %w", parsed.Scheme, errUnsupportedScheme)
	}
}

func openFile(parsed *url.URL) (io.ReadCloser, error) {
	path := parsed.Path
	if path == "" {
		path = parsed.Opaque
	}

	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%q: %w", path, errRelativePath)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open package file: %w", err)
	}

	return file, nil
}

func (r *Resolver) openHTTP(ctx context.Context, parsed *url.URL) (io.ReadCloser, error) {
	finalURL := parsed.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", finalURL, err)
	}

	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()
		return nil, fmt.Errorf("%s, %s: %w", finalURL, response.Status, errBadHTTPStatus)
	}

	return response.Body, nil
}
