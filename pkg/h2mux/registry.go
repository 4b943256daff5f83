package h2mux

// registry maps a StreamHandle to its StreamChannel. Per spec invariant
// 1 ("The registry is read and mutated only on the parent event loop
// thread") and the design note in spec §9 ("The source uses a
// concurrent map, but all access is asserted to be on the event loop. A
// single-threaded map suffices"), this is a plain Go map guarded only by
// an owner-goroutine assertion, not a mutex — mirroring the teacher's
// internal/stream/stream.go Manager, generalized from map[uint32]*Stream
// to map[*StreamHandle]*StreamChannel.
type registry struct {
	core     *Core
	channels map[*StreamHandle]*StreamChannel
}

func newRegistry(core *Core) *registry {
	return &registry{core: core, channels: make(map[*StreamHandle]*StreamChannel)}
}

func (r *registry) assertOnLoop() {
	if r.core.parent != nil && !r.core.parent.InEventLoop() {
		panic(ErrNotOnEventLoop)
	}
}

func (r *registry) get(s *StreamHandle) (*StreamChannel, bool) {
	r.assertOnLoop()
	ch, ok := r.channels[s]
	return ch, ok
}

func (r *registry) put(s *StreamHandle, ch *StreamChannel) {
	r.assertOnLoop()
	r.channels[s] = ch
	activeStreamsGauge.Set(float64(len(r.channels)))
}

func (r *registry) delete(s *StreamHandle) {
	r.assertOnLoop()
	delete(r.channels, s)
	activeStreamsGauge.Set(float64(len(r.channels)))
}

func (r *registry) size() int {
	r.assertOnLoop()
	return len(r.channels)
}

// forEach visits every registered channel. The visit function must not
// mutate the registry (spec §4.1's GOAWAY fan-out only reads it).
func (r *registry) forEach(fn func(s *StreamHandle, ch *StreamChannel)) {
	r.assertOnLoop()
	for s, ch := range r.channels {
		fn(s, ch)
	}
}
