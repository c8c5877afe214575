//////////////////////////////////////////////////////////////////////////////
//
// Fan out stream messages to groups of subscribers.
//
// Each subscriber has its own buffered channel. Publishing never blocks: when
// a subscriber's channel is full, its oldest message is dropped to make room
// for the newest. Frames are large and only the latest one matters to a
// viewer, so a backlogged subscriber skips ahead instead of stalling the
// stream for everyone.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package hub

import (
	"sync"

	"github.com/lanikai/rtsprelay/internal/logging"
	"github.com/lanikai/rtsprelay/internal/media"
)

var log = logging.DefaultLogger.WithTag("hub")

type group struct {
	subscribers []chan Message
	dropped     uint64
}

// Hub is a group-keyed publish/subscribe switch.
type Hub struct {
	// OnEmpty, if set, is called in its own goroutine when the last
	// subscriber leaves a group.
	OnEmpty func(key string)

	groups map[string]*group
	mu     sync.Mutex
}

func New() *Hub {
	return &Hub{groups: make(map[string]*group)}
}

// Subscribe to messages published to key, buffering up to capacity messages.
func (h *Hub) Subscribe(key string, capacity int) <-chan Message {
	if capacity < 1 {
		panic("hub: subscriber capacity must be positive")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	g := h.groups[key]
	if g == nil {
		g = &group{}
		h.groups[key] = g
	}
	s := make(chan Message, capacity)
	g.subscribers = append(g.subscribers, s)
	return s
}

// Unsubscribe removes and closes the channel returned by Subscribe. It
// returns errNotFound if s is not subscribed to key.
func (h *Hub) Unsubscribe(key string, s <-chan Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	g := h.groups[key]
	if g == nil {
		return errNotFound
	}

	for i, subscriber := range g.subscribers {
		if s == subscriber {
			// Remove subscriber from slice (order not preserved)
			subs := g.subscribers
			close(subs[i])
			subs[len(subs)-1], subs[i] = subs[i], subs[len(subs)-1]
			subs[len(subs)-1] = nil
			g.subscribers = subs[:len(subs)-1]

			if len(g.subscribers) == 0 {
				delete(h.groups, key)
				if h.OnEmpty != nil {
					go h.OnEmpty(key)
				}
			}
			return nil
		}
	}

	return errNotFound
}

// Subscribers returns the number of subscribers in a group.
func (h *Hub) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if g := h.groups[key]; g != nil {
		return len(g.subscribers)
	}
	return 0
}

// Publish delivers m to every subscriber of key. Messages to a group with no
// subscribers are discarded.
func (h *Hub) Publish(key string, m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g := h.groups[key]
	if g == nil {
		return
	}

	for _, subscriber := range g.subscribers {
		select {
		case subscriber <- m:
		default:
			// Subscriber backlogged. Drop oldest message, add newest.
			select {
			case <-subscriber:
			default:
			}
			subscriber <- m

			g.dropped++
			if g.dropped&(g.dropped-1) == 0 {
				// Powers of two only, so a stuck viewer does not flood the log.
				log.Warn("Group %s: slow subscriber, %d messages dropped", key, g.dropped)
			}
		}
	}
}

// PublishFrame sends an encoded frame to the stream's group.
func (h *Hub) PublishFrame(streamID string, f media.EncodedFrame) {
	f.StreamID = streamID
	h.Publish(GroupKey(streamID), FrameMessage(f))
}

// PublishError sends an error message to the stream's group.
func (h *Hub) PublishError(streamID, text string) {
	h.Publish(GroupKey(streamID), ErrorMessage(streamID, text))
}

// Close closes every subscriber channel. Publishing after Close is a no-op.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, g := range h.groups {
		for _, subscriber := range g.subscribers {
			close(subscriber)
		}
		delete(h.groups, key)
	}
	return nil
}
