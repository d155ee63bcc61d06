// Package router implements the event fan-out described in §4.D: it holds
// one unbounded, single-consumer sink per (session, handle) pair plus a
// root sink per session for events that have no handle, and dispatches
// inbound asynchronous Janus events to the right one without ever blocking
// the reader goroutine that drives it.
package router

import (
	"context"
	"log"
	"sync"

	jaerrors "github.com/koefmatt/jarust/internal/errors"
	"github.com/koefmatt/jarust/japrotocol"
)

// Receiver is the single-consumer read side of a sink. A Receiver that is
// never drained grows without bound — this is a documented, intentional
// property (§4.D) rather than a bug: the router must never block the
// reader goroutine waiting on a slow or absent consumer.
type Receiver struct {
	sink *sink
}

// Recv blocks until an event is available, ctx is cancelled, or the
// receiver has been closed (handle detached/destroyed, or the connection
// was torn down).
func (r *Receiver) Recv(ctx context.Context) (japrotocol.JaResponse, error) {
	return r.sink.recv(ctx)
}

type sink struct {
	mu     sync.Mutex
	queue  []japrotocol.JaResponse
	notify chan struct{}
	closed bool
}

func newSink() *sink {
	return &sink{notify: make(chan struct{}, 1)}
}

func (s *sink) push(v japrotocol.JaResponse) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *sink) recv(ctx context.Context) (japrotocol.JaResponse, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			v := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return v, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return japrotocol.JaResponse{}, jaerrors.ErrSinkClosed
		}

		select {
		case <-s.notify:
			continue
		case <-ctx.Done():
			return japrotocol.JaResponse{}, ctx.Err()
		}
	}
}

func (s *sink) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

type subrouteKey struct {
	session uint64
	handle  uint64
}

// Router owns every event sink for a single Connection.
type Router struct {
	mu    sync.Mutex
	roots map[uint64]*sink
	subs  map[subrouteKey]*sink
}

// New returns an empty Router.
func New() *Router {
	return &Router{
		roots: make(map[uint64]*sink),
		subs:  make(map[subrouteKey]*sink),
	}
}

// AddRoot creates the session-level root sink used for session-scoped
// events that lack a sender (Timeout, session-level Detached).
func (r *Router) AddRoot(session uint64) *Receiver {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := newSink()
	r.roots[session] = s
	return &Receiver{sink: s}
}

// RemoveRoot closes and forgets the root sink for session, e.g. once the
// session has been destroyed.
func (r *Router) RemoveRoot(session uint64) {
	r.mu.Lock()
	s, ok := r.roots[session]
	if ok {
		delete(r.roots, session)
	}
	r.mu.Unlock()

	if ok {
		s.close()
	}
}

// AddSubroute creates a new unbounded single-consumer sink for (session,
// handle) and returns its Receiver.
func (r *Router) AddSubroute(session, handle uint64) *Receiver {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := newSink()
	r.subs[subrouteKey{session, handle}] = s
	return &Receiver{sink: s}
}

// RemoveSubroute closes and forgets the sink for (session, handle). Events
// published to it afterward are silently dropped (§4.D: late event after
// detach).
func (r *Router) RemoveSubroute(session, handle uint64) {
	key := subrouteKey{session, handle}

	r.mu.Lock()
	s, ok := r.subs[key]
	if ok {
		delete(r.subs, key)
	}
	r.mu.Unlock()

	if ok {
		s.close()
	}
}

// PubRoot delivers resp to the root sink of session, if one is registered.
func (r *Router) PubRoot(session uint64, resp japrotocol.JaResponse) {
	r.mu.Lock()
	s, ok := r.roots[session]
	r.mu.Unlock()

	if !ok {
		log.Printf("[router] dropping session-scoped %q event: no root sink for session %d", resp.Janus, session)
		return
	}
	s.push(resp)
}

// PubSubroute delivers resp to the (session, handle) sink, if one is
// registered. A missing sink (handle already detached) is a silent drop by
// design, not an error.
func (r *Router) PubSubroute(session, handle uint64, resp japrotocol.JaResponse) {
	r.mu.Lock()
	s, ok := r.subs[subrouteKey{session, handle}]
	r.mu.Unlock()

	if !ok {
		return
	}
	s.push(resp)
}

// Sessions returns the ids of every session with a registered root sink,
// used by a transport to broadcast a session-scoped Timeout on teardown.
func (r *Router) Sessions() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint64, 0, len(r.roots))
	for session := range r.roots {
		out = append(out, session)
	}
	return out
}

// CloseAll closes every root and subroute sink. Called when the owning
// connection is torn down so every blocked Receiver.Recv returns.
func (r *Router) CloseAll() {
	r.mu.Lock()
	roots := make([]*sink, 0, len(r.roots))
	for _, s := range r.roots {
		roots = append(roots, s)
	}
	subs := make([]*sink, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.roots = make(map[uint64]*sink)
	r.subs = make(map[subrouteKey]*sink)
	r.mu.Unlock()

	for _, s := range roots {
		s.close()
	}
	for _, s := range subs {
		s.close()
	}
}
