package imagecache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type origin struct {
	srv *httptest.Server

	mu       sync.Mutex
	hits     map[string]int
	noCache  map[string]bool
	body     map[string]string
	failPath map[string]bool
}

func newOrigin(t *testing.T) *origin {
	o := &origin{
		hits:     map[string]int{},
		noCache:  map[string]bool{},
		body:     map[string]string{},
		failPath: map[string]bool{},
	}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		if r.Header.Get("Cache-Control") == "no-cache" {
			o.noCache[r.URL.Path] = true
		}
		fail := o.failPath[r.URL.Path]
		body, ok := o.body[r.URL.Path]
		o.mu.Unlock()

		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if !ok {
			body = "img:" + r.URL.Path
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) setBody(path, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.body[path] = body
}

func (o *origin) setFail(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failPath[path] = true
}

func (o *origin) sawNoCache(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.noCache[path]
}

func (o *origin) host() string {
	u, _ := url.Parse(o.srv.URL)
	return u.Host
}

func (o *origin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func newCache(t *testing.T, o *origin) (*Cache, *DiskStore) {
	t.Helper()
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	return New(store, o.host(), WithTransport(o.srv.Client().Transport)), store
}

func get(t *testing.T, client *http.Client, u string) (string, *http.Response) {
	t.Helper()
	resp, err := client.Get(u)
	if err != nil {
		t.Fatalf("GET %s: %v", u, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b), resp
}

func TestReadThrough(t *testing.T) {
	o := newOrigin(t)
	c, _ := newCache(t, o)
	client := &http.Client{Transport: c}

	first, _ := get(t, client, o.srv.URL+"/a.jpg")
	second, resp := get(t, client, o.srv.URL+"/a.jpg")

	if first != "img:/a.jpg" || second != first {
		t.Errorf("bodies = %q, %q", first, second)
	}
	if got := o.hitCount("/a.jpg"); got != 1 {
		t.Errorf("origin hit %d times, want 1", got)
	}
	if resp.Header.Get("X-Cache") != "HIT" {
		t.Errorf("second response not served from cache")
	}
	if resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestNon2xxNotStored(t *testing.T) {
	o := newOrigin(t)
	o.setFail("/bad.jpg")
	c, store := newCache(t, o)
	client := &http.Client{Transport: c}

	_, resp := get(t, client, o.srv.URL+"/bad.jpg")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok, _ := store.Get(o.srv.URL + "/bad.jpg"); ok {
		t.Errorf("error response was cached")
	}
	get(t, client, o.srv.URL+"/bad.jpg")
	if got := o.hitCount("/bad.jpg"); got != 2 {
		t.Errorf("origin hit %d times, want 2", got)
	}
}

func TestOtherHostsPassThrough(t *testing.T) {
	o := newOrigin(t)
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := New(store, "images.example.com", WithTransport(o.srv.Client().Transport))
	client := &http.Client{Transport: c}

	get(t, client, o.srv.URL+"/x.jpg")
	get(t, client, o.srv.URL+"/x.jpg")
	if got := o.hitCount("/x.jpg"); got != 2 {
		t.Errorf("origin hit %d times, want 2", got)
	}
	if _, ok, _ := store.Get(o.srv.URL + "/x.jpg"); ok {
		t.Errorf("foreign host response was cached")
	}
}

func TestPinPartialFailure(t *testing.T) {
	o := newOrigin(t)
	o.setFail("/b.jpg")
	c, store := newCache(t, o)

	urlA, urlB := o.srv.URL+"/a.jpg", o.srv.URL+"/b.jpg"
	got := c.Pin(context.Background(), []string{urlA, urlB})
	want := Message{Type: TypeCacheError, FailedURLs: []string{urlB}}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Bad pin response; diff (-got +want)\n%s", diff)
	}
	if _, ok, _ := store.Get(urlA); !ok {
		t.Errorf("urlA missing from cache after partial failure")
	}
}

func TestPinOverwritesAndBypasses(t *testing.T) {
	o := newOrigin(t)
	c, store := newCache(t, o)
	u := o.srv.URL + "/a.jpg"

	if err := store.Put(Entry{URL: u, StatusCode: 200, Body: []byte("stale")}); err != nil {
		t.Fatal(err)
	}
	o.setBody("/a.jpg", "fresh")

	if got := c.Pin(context.Background(), []string{u}); got.Type != TypeCacheComplete {
		t.Fatalf("Pin = %+v", got)
	}
	e, ok, err := store.Get(u)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(e.Body) != "fresh" {
		t.Errorf("body = %q, want fresh", e.Body)
	}
	if !o.sawNoCache("/a.jpg") {
		t.Errorf("pin did not send Cache-Control: no-cache")
	}
}

func TestPinEmpty(t *testing.T) {
	o := newOrigin(t)
	c, _ := newCache(t, o)
	if diff := cmp.Diff(c.Pin(context.Background(), nil), Message{Type: TypeCacheComplete}); diff != "" {
		t.Errorf("diff (-got +want)\n%s", diff)
	}
}

func TestWorkerBroadcasts(t *testing.T) {
	o := newOrigin(t)
	c, _ := newCache(t, o)
	w := NewWorker(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	s1, cancel1 := w.Subscribe()
	defer cancel1()
	s2, cancel2 := w.Subscribe()
	defer cancel2()

	if err := w.Post(ctx, Message{Type: "BOGUS"}); err == nil {
		t.Errorf("Post accepted unknown message type")
	}
	if err := w.Post(ctx, Message{Type: TypeCacheImages, Payload: []string{o.srv.URL + "/a.jpg"}}); err != nil {
		t.Fatalf("Post: %v", err)
	}

	for i, ch := range []<-chan Message{s1, s2} {
		select {
		case got := <-ch:
			if got.Type != TypeCacheComplete {
				t.Errorf("subscriber %d got %+v", i, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestHandler(t *testing.T) {
	o := newOrigin(t)
	c, _ := newCache(t, o)
	h := c.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/img?url="+url.QueryEscape(o.srv.URL+"/a.jpg"), nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "img:/a.jpg" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/img?url="+url.QueryEscape("https://elsewhere.example/a.jpg"), nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("foreign url status = %d, want 400", rec.Code)
	}
}

func TestStores(t *testing.T) {
	disk, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bs, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = bs.Close() })

	for name, s := range map[string]Store{"disk": disk, "badger": bs} {
		t.Run(name, func(t *testing.T) {
			in := Entry{
				URL:         "https://img.example/a.jpg?token=1",
				StatusCode:  200,
				ContentType: "image/png",
				StoredAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Body:        []byte{1, 2, 3},
			}
			if err := s.Put(in); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, ok, err := s.Get(in.URL)
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if diff := cmp.Diff(got, in); diff != "" {
				t.Errorf("Bad entry; diff (-got +want)\n%s", diff)
			}

			if err := s.Delete(in.URL); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := s.Get(in.URL); ok {
				t.Errorf("entry present after Delete")
			}

			_ = s.Put(in)
			if err := s.Clear(); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if _, ok, _ := s.Get(in.URL); ok {
				t.Errorf("entry present after Clear")
			}
		})
	}
}
