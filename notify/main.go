// Package notify fans values out to subscribers. It is tuned for
// snapshot-style payloads (editor views, playback frames): a slow
// subscriber drops intermediate values instead of stalling the publisher,
// and late subscribers immediately receive the latest published value.
package notify

import (
	"sync"

	"go.uber.org/zap"
)

type subscriber[E any] struct {
	ch      chan E
	comment string
}

type Multiplexer[E any] struct {
	comment string
	mu      sync.Mutex
	subs    map[int]subscriber[E]
	nextKey int
	last    E
	hasLast bool
}

func NewMultiplexer[E any](comment string) *Multiplexer[E] {
	return &Multiplexer[E]{
		comment: comment,
		subs:    map[int]subscriber[E]{},
	}
}

// Subscribe registers ch and returns its cancel function. ch should be
// buffered; values that arrive while it is full are dropped for this
// subscriber only. If anything was ever published, ch immediately
// receives the latest value.
func (m *Multiplexer[E]) Subscribe(comment string, ch chan E) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.nextKey
	m.nextKey++
	m.subs[key] = subscriber[E]{ch: ch, comment: comment}
	if m.hasLast {
		select {
		case ch <- m.last:
		default:
		}
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, key)
	}
}

// Publish delivers e to every subscriber without blocking.
func (m *Multiplexer[E]) Publish(e E) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = e
	m.hasLast = true
	for _, sub := range m.subs {
		select {
		case sub.ch <- e:
		default:
			zap.S().Debugf("notify %s: subscriber %s is full, dropping", m.comment, sub.comment)
		}
	}
}

// Last returns the latest published value, if any.
func (m *Multiplexer[E]) Last() (e E, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast
}
