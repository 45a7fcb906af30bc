// Package events fans recorded frame results out to in-process subscribers.
package events

import (
	"sync"

	"neurolens/internal/session"
)

// FrameRecorded is published after a frame result has been appended to a session
type FrameRecorded struct {
	ConnectionID string              `json:"connection_id"`
	SessionID    string              `json:"session_id"`
	ContentID    string              `json:"video_url"`
	Result       session.FrameResult `json:"result"`
}

// Handler receives published events synchronously, in publish order
type Handler interface {
	OnFrameRecorded(ev *FrameRecorded)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ev *FrameRecorded)

func (f HandlerFunc) OnFrameRecorded(ev *FrameRecorded) { f(ev) }

// Bus provides pub/sub for recorded frame results
type Bus struct {
	subscribers map[*subscription]bool
	mu          sync.RWMutex
}

type subscription struct {
	sessionFilter string // empty receives every session
	channel       chan *FrameRecorded
	handler       Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*subscription]bool),
	}
}

func (b *Bus) add(sub *subscription) {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		if sub.channel != nil {
			close(sub.channel)
		}
	}
	b.mu.Unlock()
}

// Subscribe registers a handler for every session.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(handler Handler) func() {
	sub := &subscription{handler: handler}
	b.add(sub)
	return func() { b.remove(sub) }
}

// SubscribeSession registers a handler for one session
func (b *Bus) SubscribeSession(sessionID string, handler Handler) func() {
	sub := &subscription{sessionFilter: sessionID, handler: handler}
	b.add(sub)
	return func() { b.remove(sub) }
}

// SubscribeChannel returns a buffered channel receiving every event. Events
// are dropped for this subscriber while its channel is full.
func (b *Bus) SubscribeChannel(bufferSize int) (<-chan *FrameRecorded, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *FrameRecorded, bufferSize)
	sub := &subscription{channel: ch}
	b.add(sub)
	return ch, func() { b.remove(sub) }
}

// Publish delivers ev to all matching subscribers
func (b *Bus) Publish(ev *FrameRecorded) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.sessionFilter != "" && sub.sessionFilter != ev.SessionID {
			continue
		}

		// Handlers run inline so one connection's results arrive in order
		if sub.handler != nil {
			sub.handler.OnFrameRecorded(ev)
		} else if sub.channel != nil {
			select {
			case sub.channel <- ev:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes everyone and closes subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
