package dom

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Fetcher opens the body of a document URL.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error)
}

// DefaultFetcher reads http(s) URLs with a 30s client and file: URLs from
// disk.
type DefaultFetcher struct {
	Client *http.Client
}

func (f DefaultFetcher) Fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	switch u.Scheme {
	case "file":
		return os.Open(u.Path)
	case "http", "https":
		client := f.Client
		if client == nil {
			client = &http.Client{Timeout: 30 * time.Second}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("dom: fetch %s: status %d", u, resp.StatusCode)
		}
		return resp.Body, nil
	}
	return nil, fmt.Errorf("dom: fetch %s: unsupported scheme", u)
}

// Load fetches rawURL and, up to maxDepth levels, the documents of its
// iframes. Frames that fail to load are left empty and logged.
func Load(ctx context.Context, f Fetcher, rawURL string, maxDepth int, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dom: load: %w", err)
	}
	doc, err := fetchDoc(ctx, f, u)
	if err != nil {
		return nil, err
	}
	loadFrames(ctx, f, doc, maxDepth, logger)
	return doc, nil
}

func fetchDoc(ctx context.Context, f Fetcher, u *url.URL) (*Document, error) {
	body, err := f.Fetch(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("dom: load %s: %w", u, err)
	}
	defer body.Close()
	return Parse(body, u.String())
}

func loadFrames(ctx context.Context, f Fetcher, doc *Document, depth int, logger *slog.Logger) {
	if depth <= 0 {
		return
	}
	for _, iframe := range doc.FindAll("iframe") {
		src := Attr(iframe, "src")
		if src == "" {
			continue
		}
		ref, err := url.Parse(src)
		if err != nil {
			logger.Warn("dom: bad iframe src", "src", src, "error", err)
			continue
		}
		u := doc.URL.ResolveReference(ref)
		child, err := fetchDoc(ctx, f, u)
		if err != nil {
			logger.Warn("dom: frame load failed", "url", u.String(), "error", err)
			continue
		}
		if err := doc.Attach(iframe, child); err != nil {
			logger.Warn("dom: frame attach failed", "url", u.String(), "error", err)
			continue
		}
		loadFrames(ctx, f, child, depth-1, logger)
	}
}
