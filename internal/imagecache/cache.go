package imagecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "photocal/internal/log"
)

// Cache is a read-through cache for image requests whose host matches the
// configured origin. It implements http.RoundTripper so it can sit in front
// of any client; requests for other hosts pass straight through.
type Cache struct {
	store  Store
	origin string
	next   http.RoundTripper
	// pinLimit bounds concurrent pin fetches; 0 means unbounded.
	pinLimit int
}

type Option func(*Cache)

// WithTransport sets the transport used for network fetches.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Cache) { c.next = rt }
}

// WithPinLimit bounds the number of concurrent fetches during Pin.
func WithPinLimit(n int) Option {
	return func(c *Cache) { c.pinLimit = n }
}

// New returns a cache over store for origin (a host name such as
// "firebasestorage.googleapis.com" or a host:port).
func New(store Store, origin string, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		origin: strings.ToLower(origin),
		next: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSHandshakeTimeout: 10 * time.Second,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Matches reports whether u is served through the cache.
func (c *Cache) Matches(u *url.URL) bool {
	return u != nil && c.origin != "" && strings.EqualFold(u.Host, c.origin)
}

// RoundTrip serves GET requests for the origin cache-first. A request
// carrying "Cache-Control: no-cache" skips the lookup but still refreshes
// the stored copy.
func (c *Cache) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || !c.Matches(req.URL) {
		return c.next.RoundTrip(req)
	}

	key := req.URL.String()
	if !noCache(req.Header) {
		e, ok, err := c.store.Get(key)
		if err != nil {
			appLog.Error("imagecache: lookup failed", err, "url", redactURL(key))
		}
		if ok {
			return entryResponse(req, e), nil
		}
	}

	resp, err := c.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", redactURL(key), err)
	}
	e := Entry{
		URL:         key,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		Body:        body,
	}
	if err := c.store.Put(e); err != nil {
		// Still serve the fresh body.
		appLog.Error("imagecache: store failed", err, "url", redactURL(key))
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

// Fetch returns the entry for rawURL, going to the network on a miss.
func (c *Cache) Fetch(ctx context.Context, rawURL string) (Entry, error) {
	return c.fetch(ctx, rawURL, false)
}

func (c *Cache) fetch(ctx context.Context, rawURL string, bypass bool) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Entry{}, err
	}
	if bypass {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.RoundTrip(req)
	if err != nil {
		return Entry{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Entry{}, fmt.Errorf("fetch %s: %s", redactURL(rawURL), resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		URL:         rawURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		Body:        body,
	}, nil
}

// Pin fetches every URL from the network, bypassing the cached copy, and
// stores or overwrites the entry. Every URL is attempted; failures are
// collected in input order. URLs outside the origin are stored as well
// since the caller asked for them explicitly.
func (c *Cache) Pin(ctx context.Context, urls []string) Message {
	failed := make([]bool, len(urls))

	var g errgroup.Group
	if c.pinLimit > 0 {
		g.SetLimit(c.pinLimit)
	}
	for i, u := range urls {
		g.Go(func() error {
			if err := c.pin(ctx, u); err != nil {
				appLog.Error("imagecache: pin failed", err, "url", redactURL(u))
				failed[i] = true
			}
			// Never cancel the siblings.
			return nil
		})
	}
	_ = g.Wait()

	var failedURLs []string
	for i, f := range failed {
		if f {
			failedURLs = append(failedURLs, urls[i])
		}
	}
	if len(failedURLs) > 0 {
		return Message{Type: TypeCacheError, FailedURLs: failedURLs}
	}
	appLog.Info("imagecache: pinned", "count", len(urls))
	return Message{Type: TypeCacheComplete}
}

func (c *Cache) pin(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if c.Matches(u) {
		_, err := c.fetch(ctx, rawURL, true)
		return err
	}

	// Not intercepted by RoundTrip, so store it here.
	e, err := c.fetchDirect(ctx, rawURL)
	if err != nil {
		return err
	}
	return c.store.Put(e)
}

func (c *Cache) fetchDirect(ctx context.Context, rawURL string) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Entry{}, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.next.RoundTrip(req)
	if err != nil {
		return Entry{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Entry{}, fmt.Errorf("fetch %s: %s", redactURL(rawURL), resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		URL:         rawURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		Body:        body,
	}, nil
}

// Lookup returns the stored entry without touching the network.
func (c *Cache) Lookup(rawURL string) (Entry, bool, error) {
	return c.store.Get(rawURL)
}

// Evict removes one entry.
func (c *Cache) Evict(rawURL string) error {
	return c.store.Delete(rawURL)
}

// Clear drops every entry.
func (c *Cache) Clear() error {
	if err := c.store.Clear(); err != nil {
		return err
	}
	appLog.Info("imagecache: cleared")
	return nil
}

func noCache(h http.Header) bool {
	for _, v := range h.Values("Cache-Control") {
		if strings.Contains(strings.ToLower(v), "no-cache") {
			return true
		}
	}
	return false
}

func entryResponse(req *http.Request, e Entry) *http.Response {
	h := make(http.Header)
	if e.ContentType != "" {
		h.Set("Content-Type", e.ContentType)
	}
	if e.ETag != "" {
		h.Set("ETag", e.ETag)
	}
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	h.Set("X-Cache", "HIT")

	status := e.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

var errEmptyURL = errors.New("empty url")

// redactURL drops path and query (signed URLs carry credentials).
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}

// PinURLs is Pin for callers that only need the failures.
func (c *Cache) PinURLs(ctx context.Context, urls []string) []string {
	return c.Pin(ctx, urls).FailedURLs
}
