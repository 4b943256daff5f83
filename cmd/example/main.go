// Package main wires a Core to a minimal in-process ParentContext and
// drives it through an inbound request and an outbound request, the way
// the teacher's cmd/example wires a router into a Server — except the
// product here is the demultiplexer, not a request router.
package main

import (
	"fmt"
	"log"
	"sync"

	"github.com/xkLoveTy/h2mux/pkg/h2mux"
)

// loopParent is a single-goroutine ParentContext: everything it does
// runs inline on the calling goroutine, which is therefore always "the
// event loop". Good enough to demonstrate the Core's dispatch without
// pulling in a real gnet listener.
type loopParent struct {
	mu     sync.Mutex
	open   bool
	writes []*h2mux.Frame
}

func (p *loopParent) InEventLoop() bool { return true }

func (p *loopParent) Write(fr *h2mux.Frame, promise *h2mux.Promise) {
	p.mu.Lock()
	p.writes = append(p.writes, fr)
	p.mu.Unlock()
	log.Printf("parent: wrote %s frame for stream %d", fr.Kind, fr.Stream().ID())
	promise.TrySuccess()
}

func (p *loopParent) Flush()       { log.Printf("parent: flush") }
func (p *loopParent) IsOpen() bool { return p.open }
func (p *loopParent) markOpen()    { p.open = true }

// echoHandler logs the read, read-complete, writability and close
// callbacks on its channel (user events and exceptions are not logged)
// and echoes DATA frames back as WINDOW_UPDATE consumption, exactly the
// minimal behavior scenario A in spec.md §8 expects of an application.
type echoHandler struct {
	h2mux.BaseHandler
	name string
}

func (h *echoHandler) OnStreamRead(ch *h2mux.StreamChannel, frame *h2mux.Frame) {
	log.Printf("%s: read %s (end_stream=%v)", h.name, frame.Kind, frame.EndStream)
	if frame.Kind == h2mux.KindData {
		ch.ConsumeBytes(frame.Payload.Len())
	}
}

func (h *echoHandler) OnReadComplete(ch *h2mux.StreamChannel) {
	log.Printf("%s: read complete for stream %d", h.name, ch.Stream().ID())
}

func (h *echoHandler) OnWritabilityChanged(ch *h2mux.StreamChannel) {
	log.Printf("%s: writability changed, window=%d", h.name, ch.Window())
}

func (h *echoHandler) OnChannelClosed(ch *h2mux.StreamChannel) {
	log.Printf("%s: channel closed for stream %d", h.name, ch.Stream().ID())
}

func main() {
	runInboundScenario()
	runOutboundScenario()
}

// runInboundScenario mirrors spec.md §8 Scenario A: a server receiving a
// request over stream 1, HEADERS then DATA with end_stream, followed by
// a read-batch-complete.
func runInboundScenario() {
	fmt.Println("=== scenario A: inbound request ===")

	core := h2mux.NewCore(true, h2mux.DefaultConfig())
	bootstrap := h2mux.NewBootstrap().WithHandler(&echoHandler{name: "server"})
	parent := &loopParent{}
	parent.markOpen()

	if err := core.Attach(parent, bootstrap); err != nil {
		log.Fatalf("attach: %v", err)
	}

	stream := h2mux.NewStreamHandle(1)
	if err := core.DeliverStreamEvent(stream, h2mux.StreamActive); err != nil {
		log.Fatalf("deliver stream event: %v", err)
	}

	headers := h2mux.NewHeadersFrame([]byte(":method: GET"), false)
	_ = headers.BindStream(stream)
	if err := core.DeliverFrame(headers); err != nil {
		log.Fatalf("deliver headers: %v", err)
	}

	data := h2mux.NewDataFrame(nil, true)
	_ = data.BindStream(stream)
	if err := core.DeliverFrame(data); err != nil {
		log.Fatalf("deliver data: %v", err)
	}

	core.ReadBatchComplete()
}

// runOutboundScenario mirrors spec.md §8 Scenario B: a client opening a
// new stream channel and writing HEADERS before the stream has an id.
func runOutboundScenario() {
	fmt.Println("=== scenario B: outbound request ===")

	core := h2mux.NewCore(false, h2mux.DefaultConfig())
	bootstrap := h2mux.NewBootstrap().WithHandler(&echoHandler{name: "client"})
	parent := &loopParent{}
	parent.markOpen()

	if err := core.Attach(parent, bootstrap); err != nil {
		log.Fatalf("attach: %v", err)
	}

	stream := h2mux.PlaceholderStreamHandle()
	ch, connectPromise := bootstrap.Connect(stream)
	if err := connectPromise.Err(); err != nil {
		log.Fatalf("connect: %v", err)
	}

	headers := h2mux.NewHeadersFrame([]byte(":method: GET"), false)
	writePromise := ch.Write(headers)
	writePromise.AddListener(func(err error) {
		if err != nil {
			log.Fatalf("write headers: %v", err)
		}
		log.Printf("client: headers acknowledged, window=%d", ch.Window())
	})
	ch.WriteComplete()
}
