package h2mux

import (
	"github.com/xkLoveTy/h2mux/internal/refbuf"
	"golang.org/x/net/http2"
)

// FrameKind identifies which HTTP/2 frame a Frame carries. The wire
// encoding of each kind — HPACK, length-prefixing, padding — is the
// frame codec's job (out of scope per spec §1); Frame only carries the
// decoded fields a logical stream channel cares about.
type FrameKind uint8

// HTTP/2 frame kinds relevant at the multiplexer layer. Values mirror
// golang.org/x/net/http2's FrameType ordering so translation to/from a
// real wire codec is a direct mapping.
const (
	KindHeaders      FrameKind = FrameKind(http2.FrameHeaders)
	KindData         FrameKind = FrameKind(http2.FrameData)
	KindRSTStream    FrameKind = FrameKind(http2.FrameRSTStream)
	KindSettings     FrameKind = FrameKind(http2.FrameSettings)
	KindWindowUpdate FrameKind = FrameKind(http2.FrameWindowUpdate)
	KindGoAway       FrameKind = FrameKind(http2.FrameGoAway)
	KindPushPromise  FrameKind = FrameKind(http2.FramePushPromise)
)

func (k FrameKind) String() string {
	switch k {
	case KindHeaders:
		return "HEADERS"
	case KindData:
		return "DATA"
	case KindRSTStream:
		return "RST_STREAM"
	case KindSettings:
		return "SETTINGS"
	case KindWindowUpdate:
		return "WINDOW_UPDATE"
	case KindGoAway:
		return "GOAWAY"
	case KindPushPromise:
		return "PUSH_PROMISE"
	default:
		return "UNKNOWN"
	}
}

// Frame is the tagged union of HTTP/2 frame kinds the core and stream
// channels exchange (spec §3 "Frame"). A *stream frame* additionally
// carries a mutable binding to a StreamHandle, unset by the application
// and set exactly once by the core or the stream channel before the
// frame leaves the channel (spec invariant 3).
type Frame struct {
	Kind FrameKind

	stream *StreamHandle // set-once binding for stream frames

	EndStream  bool
	EndHeaders bool

	// HEADERS
	HeaderBlock *refbuf.Buf // opaque HPACK-encoded block; never decoded here

	// DATA
	Payload *refbuf.Buf

	// RST_STREAM
	ErrCode http2.ErrCode

	// WINDOW_UPDATE
	Increment uint32

	// SETTINGS
	InitialWindowSize *uint32 // nil means the SETTINGS frame omitted it

	// GOAWAY
	LastStreamID uint32
	DebugData    *refbuf.Buf

	// PUSH_PROMISE
	PromisedStreamID uint32
}

// IsStreamFrame reports whether this frame kind is scoped to a single
// stream (spec §3/§6). SETTINGS and GOAWAY are connection-scoped and are
// never stream frames.
func (f *Frame) IsStreamFrame() bool {
	switch f.Kind {
	case KindHeaders, KindData, KindRSTStream, KindWindowUpdate, KindPushPromise:
		return true
	default:
		return false
	}
}

// Stream returns the frame's bound stream handle, or nil if unset.
func (f *Frame) Stream() *StreamHandle {
	return f.stream
}

// BindStream sets the frame's stream binding. It fails if the binding is
// already set (spec invariant 5: "An application cannot submit a stream
// frame whose stream binding is already set").
func (f *Frame) BindStream(s *StreamHandle) error {
	if f.stream != nil {
		return ErrStreamAlreadySet
	}
	f.stream = s
	return nil
}

// Release releases any reference-counted payload the frame owns. Safe
// to call on frames without a payload.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.Payload.Release()
	f.HeaderBlock.Release()
	f.DebugData.Release()
}

// retainForChild takes an additional reference on behalf of a child
// stream channel's read queue (spec §5: "every frame forwarded inbound
// retains the buffer once on behalf of the child; the child is
// responsible for releasing after consumption"). This is separate from,
// and in addition to, the retain a GOAWAY fan-out duplicate takes.
func (f *Frame) retainForChild() {
	f.Payload = f.Payload.Retain()
	f.HeaderBlock = f.HeaderBlock.Retain()
}

// goAwayDuplicate returns a retained duplicate of a GOAWAY frame for a
// single fan-out recipient, per spec §4.1/§9: "each recipient gets a
// retained duplicate; the source is released after fan-out."
func (f *Frame) goAwayDuplicate() *Frame {
	dup := *f
	dup.stream = nil
	dup.DebugData = f.DebugData.Retain()
	return &dup
}

// NewHeadersFrame constructs an unbound HEADERS stream frame, taking a
// copy of headerBlock into a fresh reference-counted buffer (spec §3:
// HEADERS carries a reference-counted payload buffer, same as DATA).
func NewHeadersFrame(headerBlock []byte, endStream bool) *Frame {
	var hb *refbuf.Buf
	if len(headerBlock) > 0 {
		hb = refbuf.New(headerBlock)
	}
	return &Frame{Kind: KindHeaders, HeaderBlock: hb, EndStream: endStream, EndHeaders: true}
}

// NewDataFrame constructs an unbound DATA stream frame over payload,
// taking ownership of the caller's reference (the caller should Retain
// first if it needs to keep its own).
func NewDataFrame(payload *refbuf.Buf, endStream bool) *Frame {
	return &Frame{Kind: KindData, Payload: payload, EndStream: endStream}
}

// NewWindowUpdateFrame constructs an unbound WINDOW_UPDATE stream frame.
func NewWindowUpdateFrame(increment uint32) *Frame {
	return &Frame{Kind: KindWindowUpdate, Increment: increment}
}

// NewRSTStreamFrame constructs an unbound RST_STREAM stream frame.
func NewRSTStreamFrame(code http2.ErrCode) *Frame {
	return &Frame{Kind: KindRSTStream, ErrCode: code}
}

// NewGoAwayFrame constructs a connection-scoped GOAWAY frame. It is
// never a stream frame and so never carries a binding.
func NewGoAwayFrame(lastStreamID uint32, code http2.ErrCode, debug []byte) *Frame {
	var d *refbuf.Buf
	if len(debug) > 0 {
		d = refbuf.New(debug)
	}
	return &Frame{Kind: KindGoAway, LastStreamID: lastStreamID, ErrCode: code, DebugData: d}
}

// NewSettingsFrame constructs a connection-scoped SETTINGS frame whose
// only setting is an optional initial window size; nil means the frame
// omits it.
func NewSettingsFrame(initialWindowSize *uint32) *Frame {
	return &Frame{Kind: KindSettings, InitialWindowSize: initialWindowSize}
}
