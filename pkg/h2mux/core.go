package h2mux

import (
	"context"
	"fmt"
	"sync"
)

// Core is the Multiplex Core of spec §4.1: the single demultiplexing
// point between one parent framing connection and the StreamChannels
// layered over it. Exactly one Core attaches to exactly one
// ParentContext (spec invariant 2).
type Core struct {
	server bool
	config Config

	mu        sync.Mutex
	parent    ParentContext
	bootstrap *Bootstrap
	attached  bool

	reg *registry

	initialOutboundStreamWindow uint32

	batchMu   sync.Mutex
	readBatch []*StreamChannel
	inBatch   map[*StreamChannel]bool
}

// NewCore returns an unattached Core for the given role. server selects
// which stream ids this endpoint initiates (odd for client, even for
// server, per the Glossary), used by GOAWAY fan-out parity checks.
func NewCore(server bool, config Config) *Core {
	_ = config.Validate()
	c := &Core{
		server:                      server,
		config:                      config,
		initialOutboundStreamWindow: 65535,
		inBatch:                     make(map[*StreamChannel]bool),
	}
	c.reg = newRegistry(c)
	return c
}

func (c *Core) registryRef() *registry { return c.reg }

// Attach binds the Core to a parent connection and a Bootstrap template,
// per spec §4.1's Attach contract. It fails if the bootstrap already has
// a parent preset (spec §6's "Bootstrap already bound to a parent"
// error) or if called twice.
func (c *Core) Attach(parent ParentContext, bootstrap *Bootstrap) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return ErrUnexpectedLifecycleState
	}
	if !parent.InEventLoop() {
		return ErrExecutorMismatch
	}
	if bootstrap.parentPreset() {
		return ErrBootstrapParentSet
	}
	c.parent = parent
	c.bootstrap = bootstrap
	c.attached = true
	bootstrap.bindParent(parent)
	bootstrap.bindCore(c)
	return nil
}

func (c *Core) assertAttached() {
	if c.parent == nil {
		panic(ErrUnexpectedLifecycleState)
	}
}

// onStreamActive implements the activation sequence of spec §4.1 step 3:
// credit the new channel's outbound window to the negotiated initial
// value, then fire a writability-changed notification.
func (c *Core) onStreamActive(stream *StreamHandle) {
	ch, ok := c.reg.get(stream)
	if !ok {
		return
	}
	if stream.State() == StreamActive {
		// Re-delivery of ACTIVE for an already-active stream (spec §8's
		// round-trip property): the first-write-success listener and a
		// framer-delivered ACTIVE event can race; whichever runs second
		// must not duplicate the window credit.
		return
	}
	stream.setState(StreamActive)
	c.creditAndActivate(ch, stream)
}

// creditAndActivate credits a freshly-activated channel's outbound
// window to the negotiated initial value and notifies it, wrapped in a
// trace span (spec §4.1 step 3, SPEC_FULL.md §4.3's "span around each
// stream activation"). Shared by onStreamActive and newInboundChannel so
// both activation paths produce the same span and metrics.
func (c *Core) creditAndActivate(ch *StreamChannel, stream *StreamHandle) {
	_, span := traceActivation(context.Background(), stream.ID())
	ch.markOpen()
	streamsActivatedTotal.Inc()
	ch.creditWindow(int32(c.initialOutboundStreamWindow))
	outboundWindowCreditedTotal.Add(float64(c.initialOutboundStreamWindow))
	ch.fireWritabilityChanged()
	endSpan(span, nil)
}

// newInboundChannel constructs and registers a channel for a
// remotely-initiated stream, using the bootstrap's handler template,
// config, and option/attribute maps (spec §4.3).
func (c *Core) newInboundChannel(stream *StreamHandle) *StreamChannel {
	handler, config, options, attrs := c.bootstrap.templateFor(c.config)
	ch := newStreamChannel(c, stream, handler, config, options, attrs)
	stream.setState(StreamActive)
	c.creditAndActivate(ch, stream)
	return ch
}

// DeliverFrame dispatches one inbound frame from the parent connection,
// per spec §4.1's inbound dispatch table. It must be called only from
// the parent's event loop.
func (c *Core) DeliverFrame(fr *Frame) error {
	c.reg.assertOnLoop()
	c.assertAttached()

	switch fr.Kind {
	case KindGoAway:
		c.goAwayFanOut(fr)
		return nil
	case KindSettings:
		c.applySettings(fr)
		return nil
	}

	if !fr.IsStreamFrame() {
		fr.Release()
		return fmt.Errorf("h2mux: unhandled connection-scoped frame kind %s", fr.Kind)
	}

	stream := fr.Stream()
	if stream == nil {
		fr.Release()
		return ErrNotAStreamFrame
	}

	ch, ok := c.reg.get(stream)
	if !ok {
		// Defensive synthesis (spec §4.1, matching Netty's
		// Http2MultiplexCodec.channelReadStreamFrame): the framer should
		// already have called DeliverStreamEvent(stream, StreamActive)
		// before handing us this frame, but every inbound stream frame
		// must be observed by exactly one child channel regardless of
		// kind (invariant 1), so a missing channel is synthesized here
		// rather than the frame being dropped.
		ch = c.newInboundChannel(stream)
	}

	// The channel's read queue becomes a second owner of any
	// reference-counted payload; the framer/parent side retains whatever
	// reference it already holds (spec §5).
	fr.retainForChild()

	c.queueForReadComplete(ch)
	ch.fireChildRead(fr)
	return nil
}

// DeliverStreamEvent implements spec §6's upstream
// deliver_stream_event(stream, state) interface: the framer notifies the
// core of a protocol-level stream lifecycle transition, independently of
// any frame delivery (spec §4.1 "Stream lifecycle events").
func (c *Core) DeliverStreamEvent(stream *StreamHandle, state StreamState) error {
	c.reg.assertOnLoop()
	c.assertAttached()

	switch state {
	case StreamActive:
		if _, ok := c.reg.get(stream); ok {
			c.onStreamActive(stream)
			return nil
		}
		c.newInboundChannel(stream)
		return nil
	case StreamClosed:
		ch, ok := c.reg.get(stream)
		if !ok {
			// Already closed/drained, or never opened. Nothing to notify.
			return nil
		}
		ch.streamClosedFromProtocol()
		return nil
	default:
		// spec §4.1: "On any other lifecycle state: treat as a programming
		// error (the framer must emit only ACTIVE/CLOSED at this layer)."
		return ErrUnexpectedLifecycleState
	}
}

// applySettings updates the negotiated initial outbound window for
// streams activated after this point. Per spec §9's design note (and
// Netty's own channelRead SETTINGS branch), already-active streams keep
// their existing window; there is deliberately no walk of live streams
// to rebase them.
func (c *Core) applySettings(fr *Frame) {
	if fr.InitialWindowSize != nil {
		// TODO: RFC 7540 §6.9.2 requires adjusting every open stream's
		// window by the delta, not just future activations. Preserved as
		// a known gap rather than silently fixed; see SPEC_FULL.md §7.
		c.initialOutboundStreamWindow = *fr.InitialWindowSize
	}
}

// goAwayFanOut implements spec §4.1's GOAWAY fan-out: every channel
// whose stream was initiated locally (relative to this endpoint's role)
// and whose id exceeds the GOAWAY's last_stream_id was not accepted by
// the peer and must be told so, each via its own retained duplicate.
// The source frame is released once fan-out completes.
func (c *Core) goAwayFanOut(fr *Frame) {
	_, span := traceGoAwayFanOut(context.Background(), fr.LastStreamID)
	c.reg.forEach(func(s *StreamHandle, ch *StreamChannel) {
		if !s.Outbound(c.server) {
			return
		}
		if s.ID() <= fr.LastStreamID {
			return
		}
		dup := fr.goAwayDuplicate()
		goAwayNotifiedTotal.Inc()
		ch.fireUserEvent(GoAwayEvent{Frame: dup})
	})
	endSpan(span, nil)
	fr.Release()
}

// DeliverException routes a protocol-level exception to the owning
// stream's channel, or drops it if the stream is unknown (it may have
// already closed).
func (c *Core) DeliverException(stream *StreamHandle, cause error) {
	c.reg.assertOnLoop()
	if stream == nil {
		return
	}
	ch, ok := c.reg.get(stream)
	if !ok {
		return
	}
	ch.fireException(cause)
}

// queueForReadComplete records that ch received at least one frame in
// the batch currently being processed, so ReadBatchComplete fires
// exactly one notification for it (spec invariant 5).
func (c *Core) queueForReadComplete(ch *StreamChannel) {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	if c.inBatch[ch] {
		return
	}
	c.inBatch[ch] = true
	c.readBatch = append(c.readBatch, ch)
}

// ReadBatchComplete fires one read-complete notification per channel
// that received a frame since the last call, then clears the batch
// before firing so that any channel re-entrantly scheduling a dispatch
// from within its own OnReadComplete lands in the NEXT batch rather than
// being silently folded into this one (spec §4.1's "clear before fire"
// rule).
func (c *Core) ReadBatchComplete() {
	c.reg.assertOnLoop()

	c.batchMu.Lock()
	batch := c.readBatch
	c.readBatch = nil
	c.inBatch = make(map[*StreamChannel]bool, len(batch))
	c.batchMu.Unlock()

	for _, ch := range batch {
		readCompleteBatchesTotal.Inc()
		ch.fireReadComplete()
	}
}

// writeFromChannel is the write half of the StreamChannel/Core
// boundary: the channel has already validated and bound the frame, and
// the Core's only job is to forward it to the parent connection.
func (c *Core) writeFromChannel(fr *Frame, p *Promise, flush bool) {
	c.assertAttached()
	c.parent.Write(fr, p)
	if flush {
		c.parent.Flush()
	}
}

// flushFromChannel is the do_write_complete flush passthrough.
func (c *Core) flushFromChannel() {
	c.assertAttached()
	c.parent.Flush()
}

// Flush exposes the same passthrough for direct use by the parent
// connection's own event loop (e.g. after an explicit flush request
// unrelated to any single channel's write).
func (c *Core) Flush() {
	c.assertAttached()
	c.parent.Flush()
}

// RegisteredStreamCount reports how many channels are currently active,
// mainly for tests and diagnostics.
func (c *Core) RegisteredStreamCount() int {
	c.reg.assertOnLoop()
	return c.reg.size()
}

// ParentOpen reports whether the attached parent connection is still
// usable, consulted by Bootstrap.Connect before registering an
// outbound stream channel.
func (c *Core) ParentOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parent != nil && c.parent.IsOpen()
}
