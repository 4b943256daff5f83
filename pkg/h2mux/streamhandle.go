package h2mux

import "sync/atomic"

// StreamState is the lifecycle state of a stream as seen by the core,
// per spec §3: IDLE, ACTIVE, CLOSED. It is intentionally coarser than
// RFC 7540's four-state stream machine — the framer (out of scope here)
// owns the full protocol state; the multiplexer only needs to know
// whether a stream exists for dispatch purposes.
type StreamState int32

const (
	// StreamIdle is the state of a stream that has not been activated
	// yet: every new handle, with or without an id, starts here, and the
	// stream of a channel created by Bootstrap.Connect stays here until
	// its first HEADERS write succeeds.
	StreamIdle StreamState = iota
	// StreamActive is the state of a stream whose channel has been
	// activated (outbound window credited).
	StreamActive
	// StreamClosed is the state of a stream whose channel has fully closed.
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "IDLE"
	case StreamActive:
		return "ACTIVE"
	case StreamClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StreamHandle is an opaque identity for a protocol-level stream.
// Equality is by pointer identity, matching spec §3 ("Equality is by
// identity"): two handles with the same numeric id are not
// interchangeable unless they are the same handle.
//
// A handle for a locally-initiated stream starts as a placeholder (ID
// 0, which is not a valid HTTP/2 stream id) until the framer assigns a
// real id — spec §4.2's "stream handle (possibly placeholder, for
// locally-initiated streams that haven't been assigned an id yet)".
type StreamHandle struct {
	id    uint32
	state int32 // atomic StreamState
}

// NewStreamHandle returns a handle for an already-identified stream
// (typically a remotely-initiated one delivered by the framer).
func NewStreamHandle(id uint32) *StreamHandle {
	return &StreamHandle{id: id, state: int32(StreamIdle)}
}

// PlaceholderStreamHandle returns a handle for a locally-initiated
// stream that has not yet been assigned an id.
func PlaceholderStreamHandle() *StreamHandle {
	return &StreamHandle{id: 0, state: int32(StreamIdle)}
}

// ID returns the stream identifier, or 0 if not yet assigned.
func (s *StreamHandle) ID() uint32 {
	if s == nil {
		return 0
	}
	return atomic.LoadUint32(&s.id)
}

// HasValidID reports whether the stream has been assigned a non-zero id.
func (s *StreamHandle) HasValidID() bool {
	return s.ID() != 0
}

// assignID is called by the framer (here, the ParentContext
// implementation, via AssignID) when a locally-initiated stream's first
// HEADERS frame is actually put on the wire and an id is chosen.
func (s *StreamHandle) assignID(id uint32) {
	atomic.StoreUint32(&s.id, id)
}

// AssignID is assignID's exported entry point for a ParentContext
// implementation living outside this package (spec §4.2: a
// locally-initiated stream's placeholder handle gets a real id once its
// first HEADERS frame is actually submitted to the wire). A no-op if the
// handle already carries a valid id, so a framer racing its own retry
// logic can call it more than once safely.
func (s *StreamHandle) AssignID(id uint32) {
	if s.HasValidID() {
		return
	}
	s.assignID(id)
}

// State returns the stream's current lifecycle state.
func (s *StreamHandle) State() StreamState {
	return StreamState(atomic.LoadInt32(&s.state))
}

func (s *StreamHandle) setState(st StreamState) {
	atomic.StoreInt32(&s.state, int32(st))
}

// Outbound reports whether this stream was initiated locally, given
// whether this endpoint is acting as a server. Parity determines the
// initiator: odd ids are client-initiated, even are server-initiated
// (spec Glossary).
func (s *StreamHandle) Outbound(server bool) bool {
	id := s.ID()
	if id == 0 {
		// A placeholder with no id yet is, by construction, locally
		// initiated (remotely-initiated streams always arrive with an id).
		return true
	}
	clientInitiated := id%2 == 1
	if server {
		return !clientInitiated
	}
	return clientInitiated
}
