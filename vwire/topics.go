package vwire

import "strings"

// Topic kinds below vwire/{token}/.
const (
	kindPin       = "pin"
	kindSync      = "sync"
	kindProp      = "prop"
	kindLog       = "log"
	kindNotify    = "notify"
	kindEmail     = "email"
	kindHeartbeat = "heartbeat"
	kindCmd       = "cmd"
	kindRead      = "read"
)

// topics builds the per-device topic tree.
//
// Topic structure:
//
//	vwire/{token}/pin/V{n}     pin value (publish)
//	vwire/{token}/sync[/V{n}]  sync request (publish)
//	vwire/{token}/prop/V{n}    widget property (publish, subscribe)
//	vwire/{token}/log          event log entry (publish)
//	vwire/{token}/notify       push notification (publish)
//	vwire/{token}/email        email request (publish)
//	vwire/{token}/heartbeat    liveness (publish)
//	vwire/{token}/cmd/V{n}     dashboard write (subscribe)
//	vwire/{token}/read/V{n}    dashboard read request (subscribe)
type topics struct {
	base string
}

func newTopics(token string) topics {
	return topics{base: "vwire/" + token + "/"}
}

func (t topics) pin(pin int) string      { return t.base + kindPin + "/" + PinName(pin) }
func (t topics) syncPin(pin int) string  { return t.base + kindSync + "/" + PinName(pin) }
func (t topics) syncAll() string         { return t.base + kindSync }
func (t topics) property(pin int) string { return t.base + kindProp + "/" + PinName(pin) }
func (t topics) log() string             { return t.base + kindLog }
func (t topics) notify() string          { return t.base + kindNotify }
func (t topics) email() string           { return t.base + kindEmail }
func (t topics) heartbeat() string       { return t.base + kindHeartbeat }

// wildcard returns the subscription filter for an inbound kind.
func (t topics) wildcard(kind string) string { return t.base + kind + "/#" }

// split returns the kind and remainder of a device topic, e.g.
// "vwire/tok/cmd/V3" -> ("cmd", "V3").
func (t topics) split(topic string) (kind, rest string, ok bool) {
	suffix, found := strings.CutPrefix(topic, t.base)
	if !found {
		return "", "", false
	}
	kind, rest, _ = strings.Cut(suffix, "/")
	return kind, rest, kind != ""
}

// kindOf returns the kind segment of a device topic, for metrics labels.
func (t topics) kindOf(topic string) string {
	kind, _, ok := t.split(topic)
	if !ok {
		return "unknown"
	}
	return kind
}
