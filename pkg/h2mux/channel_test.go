package h2mux

import (
	"errors"
	"testing"

	"github.com/xkLoveTy/h2mux/internal/refbuf"
)

// TestStreamChannel_FirstWriteMustBeHeaders covers spec.md §8's boundary
// behavior: a local stream whose first write is DATA is rejected
// synchronously, the message is released, and no frame reaches the
// parent.
func TestStreamChannel_FirstWriteMustBeHeaders(t *testing.T) {
	h := newRecordingHandler()
	_, parent, bootstrap := newAttachedCore(t, false, h, DefaultConfig())

	stream := PlaceholderStreamHandle()
	ch, _ := bootstrap.Connect(stream)

	payload := refbuf.New([]byte("data"))
	data := NewDataFrame(payload, false)

	promise := ch.Write(data)
	if !errors.Is(promise.Err(), ErrFirstFrameNotHeaders) {
		t.Fatalf("err = %v, want ErrFirstFrameNotHeaders", promise.Err())
	}
	if got := payload.RefCount(); got != 0 {
		t.Fatalf("payload refcount = %d, want 0 (released on rejection)", got)
	}
	if len(parent.writes) != 0 {
		t.Fatal("rejected first write must not reach the parent")
	}
}

// TestStreamChannel_RejectsPreboundFrame covers spec invariant 5: the
// application cannot submit a stream frame whose binding is already set.
func TestStreamChannel_RejectsPreboundFrame(t *testing.T) {
	h := newRecordingHandler()
	core, parent, _ := newAttachedCore(t, true, h, DefaultConfig())

	stream := NewStreamHandle(1)
	if err := core.DeliverStreamEvent(stream, StreamActive); err != nil {
		t.Fatal(err)
	}
	ch, _ := core.reg.get(stream)

	other := NewStreamHandle(99)
	payload := refbuf.New([]byte("data"))
	data := NewDataFrame(payload, false)
	if err := data.BindStream(other); err != nil {
		t.Fatal(err)
	}

	promise := ch.Write(data)
	if !errors.Is(promise.Err(), ErrStreamAlreadySet) {
		t.Fatalf("err = %v, want ErrStreamAlreadySet", promise.Err())
	}
	if got := payload.RefCount(); got != 0 {
		t.Fatalf("payload refcount = %d, want 0 (released on rejection)", got)
	}
	if len(parent.writes) != 0 {
		t.Fatal("rejected write must not reach the parent")
	}
}

// TestStreamChannel_RejectsNonStreamNonGoAway covers "message must be an
// HTTP/2 stream frame or GOAWAY frame" from spec.md §6.
func TestStreamChannel_RejectsNonStreamNonGoAway(t *testing.T) {
	h := newRecordingHandler()
	core, _, _ := newAttachedCore(t, true, h, DefaultConfig())

	stream := NewStreamHandle(1)
	if err := core.DeliverStreamEvent(stream, StreamActive); err != nil {
		t.Fatal(err)
	}
	ch, _ := core.reg.get(stream)

	settings := NewSettingsFrame(nil)
	promise := ch.Write(settings)
	if !errors.Is(promise.Err(), ErrInvalidWriteMessage) {
		t.Fatalf("err = %v, want ErrInvalidWriteMessage", promise.Err())
	}
}

// TestStreamChannel_WritableGoAwaySkipsBindingCheck covers spec.md §4.2's
// "Writable GOAWAY" path: GOAWAY is accepted even though it never carries
// a stream binding.
func TestStreamChannel_WritableGoAwaySkipsBindingCheck(t *testing.T) {
	h := newRecordingHandler()
	core, parent, _ := newAttachedCore(t, true, h, DefaultConfig())

	stream := NewStreamHandle(1)
	if err := core.DeliverStreamEvent(stream, StreamActive); err != nil {
		t.Fatal(err)
	}
	ch, _ := core.reg.get(stream)

	goaway := NewGoAwayFrame(1, 0, nil)
	promise := ch.Write(goaway)
	if err := promise.Err(); err != nil {
		t.Fatalf("writable GOAWAY rejected: %v", err)
	}
	if len(parent.writes) != 1 || parent.writes[0].frame.Kind != KindGoAway {
		t.Fatalf("expected the GOAWAY to reach the parent, writes = %v", parent.writes)
	}
}

// TestStreamChannel_AutoReadGating covers fire_child_read's auto-read
// backlog gate: with AutoRead disabled, frames queue until Read is called.
func TestStreamChannel_AutoReadGating(t *testing.T) {
	h := newRecordingHandler()
	cfg := DefaultConfig()
	cfg.AutoRead = false
	core, _, _ := newAttachedCore(t, true, h, cfg)

	stream := NewStreamHandle(1)
	if err := core.DeliverStreamEvent(stream, StreamActive); err != nil {
		t.Fatal(err)
	}

	headers := NewHeadersFrame([]byte("headers"), false)
	if err := headers.BindStream(stream); err != nil {
		t.Fatal(err)
	}
	if err := core.DeliverFrame(headers); err != nil {
		t.Fatal(err)
	}

	if len(h.reads[1]) != 0 {
		t.Fatal("frame must not dispatch before Read is called")
	}

	ch, _ := core.reg.get(stream)
	ch.Read()

	if len(h.reads[1]) != 1 {
		t.Fatalf("reads = %d, want 1 after Read", len(h.reads[1]))
	}
}

// TestStreamChannel_UnknownOptionLogsAndSucceeds covers spec.md §4.2:
// "unknown options log a warning but do not fail creation."
func TestStreamChannel_UnknownOptionLogsAndSucceeds(t *testing.T) {
	h := newRecordingHandler()
	core := NewCore(true, DefaultConfig())
	bootstrap := NewBootstrap().WithHandler(h).WithOption("NotARealOption", 42)
	parent := newFakeParent()
	if err := core.Attach(parent, bootstrap); err != nil {
		t.Fatalf("attach: %v", err)
	}

	stream := NewStreamHandle(1)
	if err := core.DeliverStreamEvent(stream, StreamActive); err != nil {
		t.Fatalf("activation must succeed despite the unknown option: %v", err)
	}
	if core.RegisteredStreamCount() != 1 {
		t.Fatal("channel must still be created")
	}
}

// TestPromise_NotCancellable covers spec §5: child promises are
// non-cancellable by contract.
func TestPromise_NotCancellable(t *testing.T) {
	p := NewPromise()
	if p.Cancellable() {
		t.Fatal("promise reports cancellable")
	}
	if err := p.Cancel(); !errors.Is(err, ErrPromiseNotCancellable) {
		t.Fatalf("err = %v, want ErrPromiseNotCancellable", err)
	}
}

// TestPromise_ListenerAfterCompletionRunsImmediately covers the
// "runs synchronously if already completed" contract AddListener documents.
func TestPromise_ListenerAfterCompletionRunsImmediately(t *testing.T) {
	p := NewPromise()
	p.TrySuccess()

	called := false
	p.AddListener(func(err error) {
		called = true
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
	if !called {
		t.Fatal("listener added after completion did not run")
	}
}
