package h2mux

import "sync"

// Bootstrap is the Stream Channel Bootstrap of spec §4.3: a template
// for the channels a Core creates, whether for a remotely-initiated
// stream the Core discovers inbound, or for a locally-initiated stream
// the application opens via Connect.
//
// A single Bootstrap is shared by every channel it creates — including
// its handler value (spec §4.3's "a single shared handler instance",
// matching Netty's own documented constraint that the handler must be
// either stateless or internally synchronized).
type Bootstrap struct {
	mu sync.Mutex

	handler Handler
	options map[string]any
	attrs   map[string]any
	config  Config

	core *Core
}

// NewBootstrap returns an empty Bootstrap. Handler must be set before
// the Bootstrap is attached to a Core.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{
		options: make(map[string]any),
		attrs:   make(map[string]any),
		config:  DefaultConfig(),
	}
}

// WithHandler sets the shared handler instance installed on every
// channel this Bootstrap creates.
func (b *Bootstrap) WithHandler(h Handler) *Bootstrap {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
	return b
}

// WithOption sets a channel option applied to every channel this
// Bootstrap creates (spec §4.3). Recognized keys are "MaxMessagesPerRead"
// (int) and "AutoRead" (bool); unrecognized keys are accepted here and
// rejected per-channel with a logged warning, matching
// StreamChannel.applyOptions.
func (b *Bootstrap) WithOption(key string, value any) *Bootstrap {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.options[key] = value
	return b
}

// WithAttr sets an attribute pre-populated on every channel this
// Bootstrap creates, readable back via StreamChannel.Attr.
func (b *Bootstrap) WithAttr(key string, value any) *Bootstrap {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attrs[key] = value
	return b
}

// WithConfig overrides the Bootstrap's base Config (MaxMessagesPerRead,
// AutoRead, Logger); per-channel options layered on top still win.
func (b *Bootstrap) WithConfig(cfg Config) *Bootstrap {
	_ = cfg.Validate()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cfg
	return b
}

func (b *Bootstrap) parentPreset() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.core != nil
}

func (b *Bootstrap) bindParent(parent ParentContext) {
	// Parent wiring itself happens on Core, and bindParent records
	// nothing. It is bindCore, which Core.Attach calls right after it,
	// that marks this Bootstrap as spoken for, so that parentPreset
	// rejects attaching it to a second Core (spec §4.1's "Bootstrap
	// already bound to a parent" check).
}

func (b *Bootstrap) bindCore(core *Core) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.core = core
}

// templateFor returns this Bootstrap's shared handler, its base Config
// (with the core's Logger filled in when unset), and copies of the
// option/attribute maps — the ingredients newStreamChannel needs. The
// options are layered over the base Config later, by applyOptions.
func (b *Bootstrap) templateFor(coreConfig Config) (Handler, Config, map[string]any, map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg := b.config
	if cfg.Logger == nil {
		cfg.Logger = coreConfig.Logger
	}

	options := make(map[string]any, len(b.options))
	for k, v := range b.options {
		options[k] = v
	}
	attrs := make(map[string]any, len(b.attrs))
	for k, v := range b.attrs {
		attrs[k] = v
	}
	return b.handler, cfg, options, attrs
}

// Connect implements the locally-initiated half of spec §4.2: it
// optimistically creates and registers a channel for stream, then
// checks the parent connection is still open. If the parent has
// already closed, the channel is force-closed via the low-level path
// (spec §4.3's "close via normal close" vs. "force-close via low-level
// path" branches) rather than ever being handed a chance to write.
func (b *Bootstrap) Connect(stream *StreamHandle) (*StreamChannel, *Promise) {
	promise := NewPromise()

	b.mu.Lock()
	core := b.core
	b.mu.Unlock()

	if core == nil {
		promise.TryFail(ErrUnexpectedLifecycleState)
		return nil, promise
	}

	handler, config, options, attrs := b.templateFor(core.config)
	ch := newStreamChannel(core, stream, handler, config, options, attrs)

	if !core.ParentOpen() {
		ch.forceClose()
		promise.TryFail(ErrChannelClosed)
		return ch, promise
	}

	promise.TrySuccess()
	return ch, promise
}
