package h2mux

import (
	"sync"

	"golang.org/x/net/http2"
)

// ChannelState is the stream channel's application-facing state machine
// (spec §4.2 "State machine (stream-channel)").
type ChannelState int32

const (
	ChannelInitial ChannelState = iota
	ChannelOpen
	ChannelHalfClosed
	ChannelClosed
)

// closeMessage is the end-of-stream sentinel enqueued on a graceful
// protocol-initiated close (spec §4.1 "enqueues an end-of-stream
// sentinel on the read queue"). It is never a real HTTP/2 frame kind.
var closeMessage = &Frame{Kind: 0xff}

func isCloseMessage(f *Frame) bool { return f == closeMessage }

// StreamChannel is the per-stream logical channel presented to
// applications (spec §4.2). All protocol-facing state is mutated only
// from the parent event loop (spec §5); the mutex here exists for the
// read queue and flags that a differently-scheduled application pipeline
// might inspect, matching spec §5's "transitions between the two
// domains occur only through the framework's channel-boundary
// primitives".
type StreamChannel struct {
	core    *Core
	stream  *StreamHandle
	handler Handler
	config  Config
	attrs   map[string]any

	mu            sync.Mutex
	readQueue     []*Frame
	readRequested bool
	registered    bool

	outboundWindow int32 // invariant 4: monotone non-negative

	firstFrameWritten        bool
	streamClosedWithoutError bool
	inReadCompleteBatch      bool
	closed                   bool

	state ChannelState
}

func newStreamChannel(core *Core, stream *StreamHandle, handler Handler, config Config, options map[string]any, attrs map[string]any) *StreamChannel {
	ch := &StreamChannel{
		core:    core,
		stream:  stream,
		handler: handler,
		config:  config,
		attrs:   make(map[string]any, len(attrs)),
		state:   ChannelInitial,
	}
	core.registryRef().put(stream, ch)
	ch.applyOptions(options)
	for k, v := range attrs {
		ch.attrs[k] = v
	}
	return ch
}

// applyOptions applies a bootstrap's option map. Unknown options log a
// warning but do not fail creation (spec §4.2) — Netty's
// Http2MultiplexCodec.initOpts idiom, re-derived here as a plain
// key-switch since this module has no generic ChannelOption type.
func (ch *StreamChannel) applyOptions(options map[string]any) {
	for k, v := range options {
		switch k {
		case "MaxMessagesPerRead":
			if n, ok := v.(int); ok && n > 0 {
				ch.config.MaxMessagesPerRead = n
				continue
			}
			ch.core.config.Logger.Printf("h2mux: invalid value for option %q: %v", k, v)
		case "AutoRead":
			if b, ok := v.(bool); ok {
				ch.config.AutoRead = b
				continue
			}
			ch.core.config.Logger.Printf("h2mux: invalid value for option %q: %v", k, v)
		default:
			ch.core.config.Logger.Printf("h2mux: unknown channel option: %s", k)
		}
	}
}

// Stream returns the channel's bound stream handle.
func (ch *StreamChannel) Stream() *StreamHandle { return ch.stream }

// State returns the channel's current state-machine state.
func (ch *StreamChannel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Attr returns a previously-set attribute and whether it was present.
func (ch *StreamChannel) Attr(key string) (any, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	v, ok := ch.attrs[key]
	return v, ok
}

// IsWritable reports whether the outbound flow-control window allows a
// write (spec invariant 4: "a positive counter implies writable").
func (ch *StreamChannel) IsWritable() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.outboundWindow > 0
}

// Window returns the current outbound flow-control window.
func (ch *StreamChannel) Window() int32 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.outboundWindow
}

// creditWindow adds delta to the outbound window and reports the new
// value. Only ever called from the event loop.
func (ch *StreamChannel) creditWindow(delta int32) int32 {
	ch.mu.Lock()
	ch.outboundWindow += delta
	w := ch.outboundWindow
	ch.mu.Unlock()
	return w
}

// debitWindow subtracts n bytes of outbound DATA from the window.
func (ch *StreamChannel) debitWindow(n int32) {
	ch.mu.Lock()
	ch.outboundWindow -= n
	ch.mu.Unlock()
}

// Write implements the do_write contract of spec §4.2.
func (ch *StreamChannel) Write(frame *Frame) *Promise {
	promise := NewPromise()

	if frame.Kind == KindGoAway {
		// Writable GOAWAY: bound-frame check skipped; submit as-is.
		ch.core.writeFromChannel(frame, promise, false)
		return promise
	}

	if !frame.IsStreamFrame() {
		frame.Release()
		promise.TryFail(ErrInvalidWriteMessage)
		return promise
	}

	if err := ch.validateStreamFrame(frame); err != nil {
		frame.Release()
		promise.TryFail(err)
		return promise
	}

	ch.mu.Lock()
	firstWrite := !ch.firstFrameWritten && !ch.stream.HasValidID()
	if firstWrite {
		if frame.Kind != KindHeaders {
			ch.mu.Unlock()
			frame.Release()
			promise.TryFail(ErrFirstFrameNotHeaders)
			return promise
		}
		ch.firstFrameWritten = true
	}
	ch.mu.Unlock()

	if firstWrite {
		promise.AddListener(func(err error) {
			if err == nil {
				ch.core.onStreamActive(ch.stream)
			} else {
				ch.handler.OnExceptionCaught(ch, err)
				ch.Close()
			}
		})
	}

	if err := frame.BindStream(ch.stream); err != nil {
		frame.Release()
		promise.TryFail(err)
		return promise
	}

	if frame.EndStream {
		ch.observeLocalEndStream()
	}
	if frame.Kind == KindData {
		ch.debitWindow(int32(frame.Payload.Len()))
		outboundWindowDebitedTotal.Add(float64(frame.Payload.Len()))
	}

	// Wrap the child promise as a listener on a fresh parent promise, so
	// completion of the parent write propagates to the child (spec
	// §4.2). The child promise is already required to be non-cancellable
	// by Promise's own contract.
	parentPromise := NewPromise()
	parentPromise.AddListener(notifier(promise))

	ch.core.writeFromChannel(frame, parentPromise, false)
	return promise
}

// validateStreamFrame implements spec §4.2's validate_stream_frame:
// reject anything that isn't a stream frame, and reject a frame whose
// binding is already set.
func (ch *StreamChannel) validateStreamFrame(frame *Frame) error {
	if !frame.IsStreamFrame() {
		return ErrNotAStreamFrame
	}
	if frame.Stream() != nil {
		return ErrStreamAlreadySet
	}
	return nil
}

// WriteComplete implements do_write_complete: flush is deferred here.
func (ch *StreamChannel) WriteComplete() {
	ch.core.flushFromChannel()
}

// ConsumeBytes implements the bytes-consumed hook: emits a WINDOW_UPDATE
// bound to this stream through the core's write path, unflushed.
func (ch *StreamChannel) ConsumeBytes(n int) {
	if n <= 0 {
		return
	}
	wu := NewWindowUpdateFrame(uint32(n))
	_ = wu.BindStream(ch.stream)
	ch.core.writeFromChannel(wu, NewPromise(), false)
}

// fireChildRead enqueues an inbound frame and dispatches it to the
// pipeline only if a read has been requested or auto-read is enabled
// (spec §4.2 — not the generic channel-read path, because auto-read
// gating must apply).
func (ch *StreamChannel) fireChildRead(frame *Frame) {
	ch.mu.Lock()
	ch.readQueue = append(ch.readQueue, frame)
	ch.mu.Unlock()
	ch.drain()
}

// Read requests dispatch of queued inbound frames, the application side
// of the auto-read gate.
func (ch *StreamChannel) Read() {
	ch.mu.Lock()
	ch.readRequested = true
	ch.mu.Unlock()
	ch.drain()
}

func (ch *StreamChannel) drain() {
	for {
		ch.mu.Lock()
		if len(ch.readQueue) == 0 {
			ch.mu.Unlock()
			return
		}
		if !ch.config.AutoRead && !ch.readRequested {
			ch.mu.Unlock()
			return
		}
		n := ch.config.MaxMessagesPerRead
		if n <= 0 || n > len(ch.readQueue) {
			n = len(ch.readQueue)
		}
		batch := ch.readQueue[:n]
		ch.readQueue = ch.readQueue[n:]
		if !ch.config.AutoRead {
			ch.readRequested = false
		}
		ch.mu.Unlock()

		for _, frame := range batch {
			if isCloseMessage(frame) {
				ch.completeClose()
				continue
			}
			if frame.EndStream {
				ch.observeRemoteEndStream()
			}
			ch.handler.OnStreamRead(ch, frame)
		}
	}
}

// fireReadComplete delivers one read-complete notification, per spec
// §4.1's batching contract.
func (ch *StreamChannel) fireReadComplete() {
	ch.handler.OnReadComplete(ch)
}

// fireWritabilityChanged delivers a writability-changed notification,
// used on activation (spec §4.1 step 3).
func (ch *StreamChannel) fireWritabilityChanged() {
	ch.handler.OnWritabilityChanged(ch)
}

// fireUserEvent delivers a connection-wide event routed to this stream
// (GOAWAY fan-out, spec §4.1).
func (ch *StreamChannel) fireUserEvent(evt any) {
	ch.handler.OnUserEvent(ch, evt)
}

// fireException delivers a per-stream protocol exception, then closes
// the channel (spec §4.1 "Exception routing").
func (ch *StreamChannel) fireException(cause error) {
	ch.handler.OnExceptionCaught(ch, cause)
	ch.Close()
}

// streamClosedFromProtocol implements the CLOSED-from-protocol path:
// marks the channel so do_close knows not to send RESET, and enqueues
// the end-of-stream sentinel (spec §4.1/§4.2).
func (ch *StreamChannel) streamClosedFromProtocol() {
	ch.mu.Lock()
	ch.streamClosedWithoutError = true
	ch.mu.Unlock()
	ch.fireChildRead(closeMessage)
}

// observeLocalEndStream and observeRemoteEndStream implement the
// OPEN -> HALF_CLOSED transition "on END_STREAM observed in either
// direction" (spec §4.2's state machine).
func (ch *StreamChannel) observeLocalEndStream() { ch.advanceToHalfClosed() }
func (ch *StreamChannel) observeRemoteEndStream() { ch.advanceToHalfClosed() }

func (ch *StreamChannel) advanceToHalfClosed() {
	ch.mu.Lock()
	if ch.state == ChannelOpen {
		ch.state = ChannelHalfClosed
	}
	ch.mu.Unlock()
}

// markOpen transitions INITIAL -> OPEN (spec §4.2's state machine: "on
// first HEADERS write success ... or on first inbound frame").
func (ch *StreamChannel) markOpen() {
	ch.mu.Lock()
	if ch.state == ChannelInitial {
		ch.state = ChannelOpen
	}
	ch.mu.Unlock()
}

// Close implements do_close (spec §4.2): a graceful protocol-close skips
// the RESET; otherwise, a valid-id stream gets a RESET(CANCEL) flushed
// before shutdown.
func (ch *StreamChannel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	gracefulFromProtocol := ch.streamClosedWithoutError
	ch.mu.Unlock()

	if !gracefulFromProtocol && ch.stream.HasValidID() {
		rst := NewRSTStreamFrame(http2.ErrCodeCancel)
		_ = rst.BindStream(ch.stream)
		ch.core.writeFromChannel(rst, NewPromise(), true)
	}
	ch.completeClose()
}

// completeClose finalizes the channel: idempotent, matching spec §8
// "Double-close on a stream channel is a no-op after the first."
func (ch *StreamChannel) completeClose() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	ch.state = ChannelClosed
	ch.mu.Unlock()

	ch.stream.setState(StreamClosed)
	ch.core.registryRef().delete(ch.stream)
	streamsClosedTotal.Inc()
	ch.handler.OnChannelClosed(ch)
}

// forceClose is the low-level close path used when registration fails
// before the channel reports itself registered (spec §4.3).
func (ch *StreamChannel) forceClose() {
	ch.completeClose()
}
