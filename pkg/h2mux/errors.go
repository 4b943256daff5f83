package h2mux

import "errors"

// Sentinel errors returned to applications, matching the fixed set spec
// §6 enumerates verbatim so callers can errors.Is against them.
var (
	// ErrFirstFrameNotHeaders is returned when a locally-initiated
	// channel's first outbound write is not a HEADERS frame.
	ErrFirstFrameNotHeaders = errors.New("h2mux: first frame must be a headers frame")

	// ErrInvalidWriteMessage is returned when do_write is given anything
	// other than a stream frame or a GOAWAY frame.
	ErrInvalidWriteMessage = errors.New("h2mux: message must be an HTTP/2 stream frame or GOAWAY frame")

	// ErrStreamAlreadySet is returned when the application submits a
	// stream frame whose binding is already set.
	ErrStreamAlreadySet = errors.New("h2mux: stream must not be set on the frame")

	// ErrExecutorMismatch is returned on attach when the core's executor
	// is not the parent channel's event loop.
	ErrExecutorMismatch = errors.New("h2mux: EventExecutor must be EventLoop of Channel")

	// ErrBootstrapParentSet is returned when a Bootstrap already carrying
	// a parent context is passed to Attach.
	ErrBootstrapParentSet = errors.New("h2mux: parent channel must not be set on the bootstrap")

	// ErrNotAStreamFrame is returned when a non-stream-frame message is
	// validated as a stream frame.
	ErrNotAStreamFrame = errors.New("h2mux: message must be a stream frame")

	// ErrPromiseNotCancellable is returned from Promise.Cancel: child
	// promises are non-cancellable by contract (spec §5).
	ErrPromiseNotCancellable = errors.New("h2mux: promise is not cancellable")

	// ErrNotOnEventLoop is the panic value of operations that assert they
	// run on the owning event loop (spec invariant 1, §5) but don't.
	ErrNotOnEventLoop = errors.New("h2mux: operation must run on the parent event loop")

	// ErrUnexpectedLifecycleState is returned when the framer delivers a
	// stream lifecycle event other than ACTIVE/CLOSED (spec §4.1: "treat
	// as a programming error").
	ErrUnexpectedLifecycleState = errors.New("h2mux: framer emitted an unexpected stream lifecycle state")

	// ErrChannelClosed fails Bootstrap.Connect's promise when the parent
	// connection is no longer open (the new channel is force-closed), and
	// is the error Promise.TryFail records when given a nil cause.
	// StreamChannel operations do not check for an already-closed channel
	// and never return it.
	ErrChannelClosed = errors.New("h2mux: stream channel is closed")
)
