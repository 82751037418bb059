package imagecache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	appLog "photocal/internal/log"
)

// Message types exchanged with display clients.
const (
	TypeCacheImages   = "CACHE_IMAGES"
	TypeCacheComplete = "CACHE_COMPLETE"
	TypeCacheError    = "CACHE_ERROR"
)

// Message is the worker protocol: a CACHE_IMAGES request carries Payload;
// the response is CACHE_COMPLETE or CACHE_ERROR with FailedURLs.
type Message struct {
	Type       string   `json:"type"`
	Payload    []string `json:"payload,omitempty"`
	FailedURLs []string `json:"failedUrls,omitempty"`
}

var ErrUnknownMessage = errors.New("unknown message type")

// Worker runs pin requests one at a time in its own goroutine and
// broadcasts every response to all subscribed clients.
type Worker struct {
	cache *Cache

	requests chan Message

	mu     sync.Mutex
	subs   map[int]chan Message
	nextID int
}

const subscriberBuffer = 8

func NewWorker(cache *Cache) *Worker {
	return &Worker{
		cache:    cache,
		requests: make(chan Message, 16),
		subs:     make(map[int]chan Message),
	}
}

// Run processes requests until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.closeSubscribers()
			return
		case msg := <-w.requests:
			resp := w.cache.Pin(ctx, msg.Payload)
			w.broadcast(resp)
		}
	}
}

// Post queues msg. Only CACHE_IMAGES is accepted.
func (w *Worker) Post(ctx context.Context, msg Message) error {
	if msg.Type != TypeCacheImages {
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	select {
	case w.requests <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel receiving every broadcast response. A slow
// subscriber misses messages rather than blocking the worker.
func (w *Worker) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)

	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = ch
	w.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.mu.Lock()
			if c, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(c)
			}
			w.mu.Unlock()
		})
	}
	return ch, cancel
}

func (w *Worker) broadcast(msg Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.subs {
		select {
		case ch <- msg:
		default:
			appLog.Warn("imagecache: subscriber lagging, dropping message", "subscriber", id, "type", msg.Type)
		}
	}
}

func (w *Worker) closeSubscribers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}
