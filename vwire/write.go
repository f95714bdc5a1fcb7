package vwire

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// VirtualWrite sends a value to a virtual pin. Several values are sent as
// one multi-value message:
//
//	client.VirtualWrite(0, 23.5)
//	client.VirtualWrite(1, "lat", 52.37, 4.89)
//
// The cached value is updated even if the publish fails. With a Store
// configured, a write made while disconnected is queued and nil is returned,
// and later writes queue behind it until the outbox has been sent.
func (c *Client) VirtualWrite(pin int, values ...any) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	payload, err := FormatValues(values...)
	if err != nil {
		return err
	}

	c.cachePin(PinValue{Pin: pin, Value: payload, Timestamp: c.now(), Source: SourceDevice})

	topic := c.topics.pin(pin)
	if c.store == nil {
		return c.publish(topic, []byte(payload))
	}

	// A live write must not overtake older queued ones.
	c.outboxMu.Lock()
	defer c.outboxMu.Unlock()
	if c.backlog {
		c.drainOutbox()
	}
	err = ErrNotConnected
	if !c.backlog {
		err = c.publish(topic, []byte(payload))
	}
	if !errors.Is(err, ErrNotConnected) {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if qerr := c.store.Enqueue(ctx, topic, []byte(payload)); qerr != nil {
		return fmt.Errorf("%w: queueing write: %w", err, qerr)
	}
	c.backlog = true
	c.metrics.MessageQueued()
	c.debug("pin write queued", "pin", PinName(pin))
	return nil
}

// VirtualRead returns the last known value of a pin, written locally or
// received from the dashboard.
func (c *Client) VirtualRead(pin int) (string, bool) {
	pv, ok := c.Pin(pin)
	return pv.Value, ok
}

// Pin returns the cached value of a pin with its metadata.
func (c *Client) Pin(pin int) (PinValue, bool) {
	c.pinsMu.RLock()
	defer c.pinsMu.RUnlock()
	pv, ok := c.pins[pin]
	return pv, ok
}

// Pins returns every cached pin value ordered by pin number.
func (c *Client) Pins() []PinValue {
	c.pinsMu.RLock()
	out := make([]PinValue, 0, len(c.pins))
	for _, pv := range c.pins {
		out = append(out, pv)
	}
	c.pinsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Pin < out[j].Pin })
	return out
}

// SyncVirtual asks the server to resend the stored value of each pin. The
// values arrive asynchronously through the OnVirtualWrite handlers. With no
// pins it behaves like SyncAll.
func (c *Client) SyncVirtual(pins ...int) error {
	if len(pins) == 0 {
		return c.SyncAll()
	}
	for _, pin := range pins {
		if err := validatePin(pin); err != nil {
			return err
		}
	}

	var errs []error
	for _, pin := range pins {
		if err := c.publish(c.topics.syncPin(pin), nil); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", PinName(pin), err))
		}
	}
	return errors.Join(errs...)
}

// SyncAll asks the server to resend every stored pin value.
func (c *Client) SyncAll() error {
	return c.publish(c.topics.syncAll(), nil)
}

// cachePin stores a value and notifies watchers.
func (c *Client) cachePin(pv PinValue) {
	c.pinsMu.Lock()
	c.pins[pv.Pin] = pv
	c.pinsMu.Unlock()

	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := c.store.SavePin(ctx, pv); err != nil {
			c.logger.Warn("failed to persist pin value", "pin", pv.Name(), "error", err)
		}
		cancel()
	}

	c.notifyWatchers(pv)
}
