package neohub

import "sync"

// listeners is an ordered set of callbacks for one event category.
// Registration order is invocation order, and unregistering twice is
// harmless: removal goes by pointer identity, so the second call finds
// nothing to remove.
type listeners[T any] struct {
	mu  sync.Mutex
	fns []*T
}

func (l *listeners[T]) register(fn T) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := &fn
	l.fns = append(l.fns, p)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, q := range l.fns {
			if q == p {
				l.fns = append(l.fns[:i], l.fns[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners[T]) all() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, 0, len(l.fns))
	for _, p := range l.fns {
		out = append(out, *p)
	}
	return out
}

// callbacks holds one listener list per event category.
type callbacks struct {
	connect         listeners[func()]
	disconnect      listeners[func()]
	fullState       listeners[func(State)]
	partitionUpdate listeners[func(PartitionUpdate)]
	zoneUpdate      listeners[func(ZoneUpdate)]
	err             listeners[func(string)]
}

// OnConnect registers fn to run after every successful connect,
// including reconnects. It returns a function that unregisters fn.
func (c *Client) OnConnect(fn func()) func() { return c.callbacks.connect.register(fn) }

// OnDisconnect registers fn to run whenever the connection is lost or
// closed. It returns a function that unregisters fn.
func (c *Client) OnDisconnect(fn func()) func() { return c.callbacks.disconnect.register(fn) }

// OnFullState registers fn to receive a snapshot after each full state
// message. It returns a function that unregisters fn.
func (c *Client) OnFullState(fn func(State)) func() { return c.callbacks.fullState.register(fn) }

// OnPartitionUpdate registers fn for partition status changes. It
// returns a function that unregisters fn.
func (c *Client) OnPartitionUpdate(fn func(PartitionUpdate)) func() {
	return c.callbacks.partitionUpdate.register(fn)
}

// OnZoneUpdate registers fn for zone open/closed changes. It returns a
// function that unregisters fn.
func (c *Client) OnZoneUpdate(fn func(ZoneUpdate)) func() {
	return c.callbacks.zoneUpdate.register(fn)
}

// OnError registers fn for error frames sent by the hub. It returns a
// function that unregisters fn.
func (c *Client) OnError(fn func(string)) func() { return c.callbacks.err.register(fn) }
