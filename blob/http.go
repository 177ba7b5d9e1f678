package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/a11ypanel/idgen"
)

// MaxBlobSize caps uploads accepted by Handler.
const MaxBlobSize = 64 << 20

type putResponse struct {
	URL string `json:"url"`
}

// Handler serves a Store over HTTP so that consumers in another process
// can fetch references by URL:
//
//	POST   /blobs       store the body, reply {"url": ...}
//	GET    /blobs/{id}  payload
//	DELETE /blobs/{id}  revoke
type Handler struct {
	backing Store
	baseURL string
	logger  *slog.Logger
	newID   idgen.Generator

	ttl     time.Duration
	now     func() time.Time

	mu   sync.Mutex
	refs map[string]servedRef // public id -> backing ref
}

type servedRef struct {
	ref     string
	created time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRefTTL drops public ids older than d on the next upload. Set it to
// the backing store's TTL so ids never outlive their payload.
func WithRefTTL(d time.Duration) HandlerOption {
	return func(h *Handler) { h.ttl = d }
}

// WithHandlerClock overrides time.Now for tests.
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

// NewHandler serves backing under baseURL (scheme://host[/prefix]).
func NewHandler(backing Store, baseURL string, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		backing: backing,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		newID:   idgen.UUIDv7(),
		now:     time.Now,
		refs:    make(map[string]servedRef),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Len returns the number of public ids currently served.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.refs)
}

// Routes returns the chi router for the handler.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/blobs", h.handlePut)
	r.Get("/blobs/{id}", h.handleGet)
	r.Delete("/blobs/{id}", h.handleDelete)
	return r
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBlobSize+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(data) > MaxBlobSize {
		http.Error(w, "blob too large", http.StatusRequestEntityTooLarge)
		return
	}
	ref, err := h.backing.Put(r.Context(), data)
	if err != nil {
		h.logger.Error("blob: put failed", "error", err)
		http.Error(w, "store failed", http.StatusInternalServerError)
		return
	}
	id := h.newID()
	now := h.now()
	h.mu.Lock()
	if h.ttl > 0 {
		for k, sr := range h.refs {
			if now.Sub(sr.created) >= h.ttl {
				delete(h.refs, k)
			}
		}
	}
	h.refs[id] = servedRef{ref: ref, created: now}
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(putResponse{URL: h.baseURL + "/blobs/" + id})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mu.Lock()
	sr, ok := h.refs[id]
	h.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, err := h.backing.Fetch(r.Context(), sr.ref)
	if errors.Is(err, ErrNotFound) {
		// Expired in the backing store.
		h.mu.Lock()
		delete(h.refs, id)
		h.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("blob: fetch failed", "error", err)
		http.Error(w, "fetch failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mu.Lock()
	sr, ok := h.refs[id]
	delete(h.refs, id)
	h.mu.Unlock()
	if ok {
		if err := h.backing.Revoke(r.Context(), sr.ref); err != nil {
			h.logger.Warn("blob: revoke failed", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Client is a Store talking to a remote Handler.
type Client struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.client = c }
}

// WithRetries sets the number of fetch retries. Default: 2.
func WithRetries(n int) ClientOption {
	return func(cl *Client) { cl.maxRetries = n }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a Client for the handler mounted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Put(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/blobs", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("blob: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob: put: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("blob: put: status %d", resp.StatusCode)
	}
	var out putResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("blob: put: decode: %w", err)
	}
	return out.URL, nil
}

// Fetch GETs ref, retrying transport failures and 5xx with exponential backoff.
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, fmt.Errorf("blob: new request: %w", err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("blob: fetch failed", "attempt", attempt+1, "error", err)
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("blob: status %d", resp.StatusCode)
			c.logger.Warn("blob: bad status", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("blob: fetch: status %d", resp.StatusCode)
		case err != nil:
			return nil, fmt.Errorf("blob: fetch: read: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("blob: all retries exhausted: %w", lastErr)
}

func (c *Client) Revoke(ctx context.Context, ref string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, ref, nil)
	if err != nil {
		return fmt.Errorf("blob: new request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("blob: revoke: %w", err)
	}
	resp.Body.Close()
	return nil
}
