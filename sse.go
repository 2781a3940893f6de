package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	sseChannelBuffer = 16
	sseHeartbeat     = 30 * time.Second
)

// Event feeds a client can subscribe to.
const (
	feedPuzzles = "puzzles" // puzzle_indexed, puzzle_removed
	feedScans   = "scans"   // scan_started, scan_failed
)

// Event is one server-sent event. Data is encoded as JSON.
type Event struct {
	Type string
	Data any
}

// frame renders e in the text/event-stream format.
func (e Event) frame() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", e.Type, data), nil
}

type subscriber struct {
	ch   chan []byte
	feed string
}

// Broadcaster fans events out to the subscribers of each feed. Slow
// subscribers miss events rather than block the sender.
type Broadcaster struct {
	mu    sync.RWMutex
	feeds map[string]map[*subscriber]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{feeds: make(map[string]map[*subscriber]struct{})}
}

// Subscribe adds a subscriber to feed.
func (b *Broadcaster) Subscribe(feed string) *subscriber {
	s := &subscriber{ch: make(chan []byte, sseChannelBuffer), feed: feed}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.feeds[feed]
	if subs == nil {
		subs = make(map[*subscriber]struct{})
		b.feeds[feed] = subs
	}
	subs[s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel. Calling it twice is a no-op.
func (b *Broadcaster) Unsubscribe(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.feeds[s.feed]
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.feeds, s.feed)
	}
	close(s.ch)
}

// Publish sends evt to every subscriber of feed.
func (b *Broadcaster) Publish(feed string, evt Event) error {
	frame, err := evt.frame()
	if err != nil {
		return fmt.Errorf("encode %s event: %w", evt.Type, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.feeds[feed] {
		select {
		case s.ch <- frame:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of subscribers of feed.
func (b *Broadcaster) Subscribers(feed string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.feeds[feed])
}

// ServeSSE streams feed to w until the request is cancelled.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request, feed string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming non supporté", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s := b.Subscribe(feed)
	defer b.Unsubscribe(s)

	fmt.Fprintf(w, ": %s\n\n", feed)
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-s.ch:
			if !ok {
				return
			}
			w.Write(frame)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
