// Package gnetparent implements h2mux.ParentContext over a real
// gnet.Conn, the concrete collaborator a Multiplex Core attaches to
// when running inside a gnet event loop. Its write batching is grounded
// directly on the teacher's internal/h2/transport.connWriter: a pending
// buffer accumulates writes between flushes, an inflight AsyncWritev
// drains whatever was pending at flush time, and anything that arrives
// while a write is inflight is queued and drained by the same
// callback recursively.
//
// Wire framing and HPACK are out of scope here just as they are for the
// rest of this module (spec §1 Non-goals): Context writes pre-encoded
// bytes handed to it by an Encoder the embedding application supplies.
package gnetparent

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/gnet/v2"
	"github.com/xkLoveTy/h2mux/pkg/h2mux"
)

// Encoder turns a logical Frame into the wire bytes of one HTTP/2 frame.
// Implementing this is the embedding application's job; this package
// only knows how to batch and send whatever bytes Encoder produces.
type Encoder interface {
	Encode(fr *h2mux.Frame) ([]byte, error)
}

type pendingWrite struct {
	data    []byte
	promise *h2mux.Promise
}

// Context adapts one gnet.Conn to h2mux.ParentContext.
type Context struct {
	conn    gnet.Conn
	encoder Encoder
	logger  *log.Logger

	mu                sync.Mutex
	pending           []pendingWrite
	queued            []pendingWrite
	inflight          bool
	localNextStreamID uint32 // next id for a locally-initiated stream, guarded by mu

	open      int32 // atomic bool; 1 once the connection is established
	loopDepth int32 // atomic; >0 while executing inside this conn's gnet callback
}

// New returns a Context wrapping conn. server selects the parity of
// locally-initiated stream ids this connection hands out — odd for a
// client, even for a server (spec Glossary) — matching h2mux.NewCore's
// own role parameter. Call MarkOpen once the connection is usable and
// MarkClosed when gnet reports it gone.
func New(conn gnet.Conn, encoder Encoder, logger *log.Logger, server bool) *Context {
	if logger == nil {
		logger = log.New(log.Writer(), "", 0)
	}
	firstID := uint32(1)
	if server {
		firstID = 2
	}
	return &Context{conn: conn, encoder: encoder, logger: logger, localNextStreamID: firstID}
}

// MarkOpen flags the connection as usable for writes.
func (c *Context) MarkOpen() { atomic.StoreInt32(&c.open, 1) }

// MarkClosed flags the connection as no longer usable. Any write
// already inflight still completes through its own callback.
func (c *Context) MarkClosed() { atomic.StoreInt32(&c.open, 0) }

// IsOpen implements h2mux.ParentContext.
func (c *Context) IsOpen() bool { return atomic.LoadInt32(&c.open) == 1 }

// EnterLoop marks the calling goroutine as executing within this
// connection's gnet callback; the returned func must run via defer to
// mark the exit. gnet guarantees callbacks for one connection never run
// concurrently, so a simple depth counter is enough to back
// InEventLoop — no goroutine-id bookkeeping required.
func (c *Context) EnterLoop() func() {
	atomic.AddInt32(&c.loopDepth, 1)
	return func() { atomic.AddInt32(&c.loopDepth, -1) }
}

// InEventLoop implements h2mux.Executor.
func (c *Context) InEventLoop() bool { return atomic.LoadInt32(&c.loopDepth) > 0 }

// Write implements h2mux.ParentContext. A locally-initiated stream's
// first HEADERS frame gets a real stream id assigned here, before
// encoding, since the wire bytes need to carry it (spec §4.2). The frame
// is then encoded and released immediately; only the resulting wire
// bytes are retained until the batch lands.
func (c *Context) Write(fr *h2mux.Frame, promise *h2mux.Promise) {
	if fr.Kind == h2mux.KindHeaders {
		if stream := fr.Stream(); stream != nil && !stream.HasValidID() {
			c.mu.Lock()
			id := c.localNextStreamID
			c.localNextStreamID += 2
			c.mu.Unlock()
			stream.AssignID(id)
		}
	}

	data, err := c.encoder.Encode(fr)
	fr.Release()
	if err != nil {
		promise.TryFail(err)
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, pendingWrite{data: data, promise: promise})
	c.mu.Unlock()
}

// Flush implements h2mux.ParentContext, draining whatever is pending
// through a single AsyncWritev, or folding it into an inflight batch's
// queue if one is already in progress.
func (c *Context) Flush() {
	c.mu.Lock()
	if c.inflight {
		if len(c.pending) > 0 {
			c.queued = append(c.queued, c.pending...)
			c.pending = nil
		}
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = nil
	if len(batch) == 0 {
		c.mu.Unlock()
		return
	}
	c.inflight = true
	c.mu.Unlock()
	c.asyncSend(batch)
}

func (c *Context) asyncSend(batch []pendingWrite) {
	parts := make([][]byte, len(batch))
	for i, w := range batch {
		parts[i] = w.data
	}
	err := c.conn.AsyncWritev(parts, func(_ gnet.Conn, sendErr error) error {
		for _, w := range batch {
			if sendErr != nil {
				w.promise.TryFail(sendErr)
			} else {
				w.promise.TrySuccess()
			}
		}
		c.mu.Lock()
		next := c.queued
		c.queued = nil
		if len(next) == 0 {
			c.inflight = false
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		c.asyncSend(next)
		return nil
	})
	if err != nil {
		c.logger.Printf("gnetparent: AsyncWritev submit failed: %v", err)
		for _, w := range batch {
			w.promise.TryFail(err)
		}
		c.mu.Lock()
		c.inflight = false
		c.mu.Unlock()
	}
}
