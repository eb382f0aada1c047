// Package streamhub keeps the events of in-flight assistant turns so that a
// client which lost its connection can reattach and replay them.
package streamhub

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var (
	ErrStreamNotFound = errors.New("stream not found")
	ErrStreamExists   = errors.New("stream already exists")
	ErrStreamFinished = errors.New("stream already finished")
)

// Event is one server-sent event. A Snapshot event carries the whole state
// so far: publishing one replaces a directly preceding snapshot of the same
// name, and the buffer keeps only the latest.
type Event struct {
	Name     string
	Data     []byte
	Snapshot bool
}

type entry struct {
	event   Event
	version uint64
}

type Hub struct {
	retention time.Duration

	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	events  []entry
	version uint64
	done    bool
	changed chan struct{}
}

// NewHub returns a hub that forgets finished streams after retention.
func NewHub(retention time.Duration) *Hub {
	return &Hub{
		retention: retention,
		streams:   make(map[string]*stream),
	}
}

func (h *Hub) Start(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.streams[id]; exists {
		return ErrStreamExists
	}
	h.streams[id] = &stream{changed: make(chan struct{})}
	return nil
}

func (h *Hub) Publish(id string, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[id]
	if !ok {
		return ErrStreamNotFound
	}
	if s.done {
		return ErrStreamFinished
	}
	s.version++
	next := entry{event: event, version: s.version}
	if last := len(s.events) - 1; event.Snapshot && last >= 0 {
		prev := s.events[last].event
		if prev.Snapshot && prev.Name == event.Name {
			s.events[last] = next
			s.notify()
			return nil
		}
	}
	s.events = append(s.events, next)
	s.notify()
	return nil
}

// Finish ends the stream. Subscribers drain what is buffered and then get
// io.EOF.
func (h *Hub) Finish(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[id]
	if !ok {
		return ErrStreamNotFound
	}
	if s.done {
		return nil
	}
	s.done = true
	s.notify()
	h.scheduleRemoval(id, s)
	return nil
}

// Active reports whether id is known and still receiving events.
func (h *Hub) Active(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[id]
	return ok && !s.done
}

// Subscribe starts reading id from its first event.
func (h *Hub) Subscribe(id string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[id]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return &Subscription{hub: h, stream: s}, nil
}

// Close finishes every open stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.streams {
		if s.done {
			continue
		}
		s.done = true
		s.notify()
		h.scheduleRemoval(id, s)
	}
}

// scheduleRemoval must be called with h.mu held.
func (h *Hub) scheduleRemoval(id string, s *stream) {
	if h.retention <= 0 {
		delete(h.streams, id)
		return
	}
	time.AfterFunc(h.retention, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.streams[id] == s {
			delete(h.streams, id)
		}
	})
}

// notify wakes every waiting subscriber. Callers hold h.mu.
func (s *stream) notify() {
	close(s.changed)
	if !s.done {
		s.changed = make(chan struct{})
	}
}

// Subscription is a cursor over one stream. It is not safe for concurrent use.
// A subscriber that falls behind skips superseded snapshots.
type Subscription struct {
	hub    *Hub
	stream *stream
	cursor int
	seen   uint64
}

// Next blocks until the next event, io.EOF once the stream finished and
// every event was read, or the context error.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.hub.mu.Lock()
		events := s.stream.events
		for s.cursor < len(events) && events[s.cursor].version <= s.seen {
			s.cursor++
		}
		if s.cursor < len(events) {
			// The cursor stays put: a later snapshot may replace this slot.
			next := events[s.cursor]
			s.seen = next.version
			s.hub.mu.Unlock()
			return next.event, nil
		}
		if s.stream.done {
			s.hub.mu.Unlock()
			return Event{}, io.EOF
		}
		changed := s.stream.changed
		s.hub.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-changed:
		}
	}
}
