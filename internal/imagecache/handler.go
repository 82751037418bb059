package imagecache

import (
	"net/http"
	"net/url"
	"strconv"
)

// Handler serves origin images to the kiosk browser through the cache:
// GET /img?url=<escaped image url>. Only origin URLs are accepted so the
// endpoint is not an open proxy.
func (c *Cache) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		raw := r.URL.Query().Get("url")
		if raw == "" {
			http.Error(w, errEmptyURL.Error(), http.StatusBadRequest)
			return
		}
		u, err := url.Parse(raw)
		if err != nil || !c.Matches(u) {
			http.Error(w, "url is not served by the image cache", http.StatusBadRequest)
			return
		}

		e, err := c.Fetch(r.Context(), raw)
		if err != nil {
			http.Error(w, "image unavailable", http.StatusBadGateway)
			return
		}

		if e.ContentType != "" {
			w.Header().Set("Content-Type", e.ContentType)
		}
		if e.ETag != "" {
			w.Header().Set("ETag", e.ETag)
		}
		w.Header().Set("Cache-Control", "private, max-age=86400")
		w.Header().Set("Content-Length", strconv.Itoa(len(e.Body)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(e.Body)
		}
	})
}
