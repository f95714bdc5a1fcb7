package vwire

import (
	"fmt"
)

// EventKind selects which pin events a handler receives.
type EventKind string

// Pin event kinds.
const (
	// EventVirtualWrite fires when the dashboard writes a pin.
	EventVirtualWrite EventKind = "write"
	// EventVirtualRead fires when the dashboard asks for a pin value.
	EventVirtualRead EventKind = "read"
)

// PinHandler handles a pin event. For EventVirtualRead the value is the
// current cached value (empty if the pin was never written); respond with
// VirtualWrite.
type PinHandler func(PinValue)

type handlerKey struct {
	kind EventKind
	pin  int
}

// On registers handler for pin events of the given kind. A later
// registration for the same kind and pin replaces the earlier one; a nil
// handler removes it.
func (c *Client) On(kind EventKind, pin int, handler PinHandler) error {
	if kind != EventVirtualWrite && kind != EventVirtualRead {
		return fmt.Errorf("vwire: unknown event kind %q", kind)
	}
	if err := validatePin(pin); err != nil {
		return err
	}

	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	key := handlerKey{kind: kind, pin: pin}
	if handler == nil {
		delete(c.handlers, key)
		return nil
	}
	c.handlers[key] = handler
	return nil
}

// OnVirtualWrite registers the handler for dashboard writes to pin.
//
//	client.OnVirtualWrite(0, func(v vwire.PinValue) {
//	    on, _ := v.Bool()
//	    relay.Set(on)
//	})
func (c *Client) OnVirtualWrite(pin int, handler PinHandler) error {
	return c.On(EventVirtualWrite, pin, handler)
}

// OnVirtualRead registers the handler for dashboard read requests on pin.
func (c *Client) OnVirtualRead(pin int, handler PinHandler) error {
	return c.On(EventVirtualRead, pin, handler)
}

// OnConnected adds a callback run after every successful (re)connection.
func (c *Client) OnConnected(fn func()) {
	if fn == nil {
		return
	}
	c.handlersMu.Lock()
	c.onConnected = append(c.onConnected, fn)
	c.handlersMu.Unlock()
}

// OnDisconnected adds a callback run when the connection drops. err is nil
// after an explicit Disconnect.
func (c *Client) OnDisconnected(fn func(err error)) {
	if fn == nil {
		return
	}
	c.handlersMu.Lock()
	c.onDisconnected = append(c.onDisconnected, fn)
	c.handlersMu.Unlock()
}

// Watch adds a callback run for every pin cache change, whether written
// locally or received from the dashboard.
func (c *Client) Watch(fn func(PinValue)) {
	if fn == nil {
		return
	}
	c.handlersMu.Lock()
	c.watchers = append(c.watchers, fn)
	c.handlersMu.Unlock()
}

func (c *Client) handler(kind EventKind, pin int) PinHandler {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return c.handlers[handlerKey{kind: kind, pin: pin}]
}

func (c *Client) notifyConnected() {
	c.handlersMu.RLock()
	fns := append([]func(){}, c.onConnected...)
	c.handlersMu.RUnlock()

	for _, fn := range fns {
		c.safeCall("connected", fn)
	}
}

func (c *Client) notifyDisconnected(err error) {
	c.handlersMu.RLock()
	fns := append([]func(error){}, c.onDisconnected...)
	c.handlersMu.RUnlock()

	for _, fn := range fns {
		c.safeCall("disconnected", func() { fn(err) })
	}
}

func (c *Client) notifyWatchers(pv PinValue) {
	c.handlersMu.RLock()
	fns := append([]func(PinValue){}, c.watchers...)
	c.handlersMu.RUnlock()

	for _, fn := range fns {
		c.safeCall("watch", func() { fn(pv) })
	}
}

// safeCall runs a user callback, recovering and logging panics.
func (c *Client) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic recovered",
				"event", event,
				"panic", r,
			)
		}
	}()
	fn()
}
