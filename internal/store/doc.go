// Package store persists the device's pin cache and its offline outbox in
// SQLite. It implements vwire.Store, so a client configured with
// vwire.WithStore(store.New(db)) restores its last pin values on start and
// replays writes made while the broker was unreachable.
package store
