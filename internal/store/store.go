package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/vwireiot/vwire-go/internal/infrastructure/database"
	"github.com/vwireiot/vwire-go/vwire"
)

const (
	// DefaultMaxOutbox bounds the outbox. When full, the oldest message is
	// dropped to make room.
	DefaultMaxOutbox = 10000

	// flushBatch is the number of outbox rows read per query during Flush.
	flushBatch = 100
)

// SQLiteStore implements vwire.Store on the agent database. The schema is
// created by the migrations package.
type SQLiteStore struct {
	db        *database.DB
	maxOutbox int
	now       func() time.Time

	// flushMu serialises Flush so concurrent flushes never send a row twice.
	flushMu sync.Mutex
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithMaxOutbox sets the outbox capacity. n <= 0 means unbounded.
func WithMaxOutbox(n int) Option {
	return func(s *SQLiteStore) { s.maxOutbox = n }
}

// New creates a store on a migrated database.
func New(db *database.DB, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		db:        db,
		maxOutbox: DefaultMaxOutbox,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ vwire.Store = (*SQLiteStore)(nil)

// SavePin upserts the latest value of a pin.
func (s *SQLiteStore) SavePin(ctx context.Context, pv vwire.PinValue) error {
	ts := pv.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	source := pv.Source
	if source == "" {
		source = vwire.SourceDevice
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pin_values (pin, value, source, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(pin) DO UPDATE SET
			value = excluded.value,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		pv.Pin, pv.Value, string(source), ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving pin %s: %w", pv.Name(), err)
	}
	return nil
}

// LoadPins returns every stored pin ordered by pin number.
func (s *SQLiteStore) LoadPins(ctx context.Context) ([]vwire.PinValue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pin, value, source, updated_at FROM pin_values ORDER BY pin`)
	if err != nil {
		return nil, fmt.Errorf("querying pins: %w", err)
	}
	defer rows.Close()

	var pins []vwire.PinValue
	for rows.Next() {
		pv, err := scanPin(rows)
		if err != nil {
			return nil, err
		}
		pins = append(pins, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pins: %w", err)
	}
	return pins, nil
}

func scanPin(rows *sql.Rows) (vwire.PinValue, error) {
	var (
		pv      vwire.PinValue
		source  string
		updated int64
	)
	if err := rows.Scan(&pv.Pin, &pv.Value, &source, &updated); err != nil {
		return pv, fmt.Errorf("scanning pin row: %w", err)
	}
	pv.Source = vwire.Source(source)
	pv.Timestamp = time.Unix(0, updated)
	return pv, nil
}

// Enqueue appends a message to the outbox, dropping the oldest entries
// beyond the capacity.
func (s *SQLiteStore) Enqueue(ctx context.Context, topic string, payload []byte) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO outbox (topic, payload, created_at) VALUES (?, ?, ?)`,
			topic, payload, s.now().UnixNano(),
		); err != nil {
			return fmt.Errorf("queueing message: %w", err)
		}
		if s.maxOutbox <= 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM outbox WHERE id NOT IN (
				SELECT id FROM outbox ORDER BY id DESC LIMIT ?
			)`, s.maxOutbox,
		); err != nil {
			return fmt.Errorf("trimming outbox: %w", err)
		}
		return nil
	})
}

// Pending returns the number of queued messages.
func (s *SQLiteStore) Pending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting outbox: %w", err)
	}
	return n, nil
}

type outboxRow struct {
	id      int64
	topic   string
	payload []byte
}

// Flush sends queued messages oldest first and deletes each one send
// accepts. It stops at the first send error.
//
// No transaction is held while send runs, so send may use the store.
func (s *SQLiteStore) Flush(ctx context.Context, send func(topic string, payload []byte) error) (int, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	sent := 0
	for {
		batch, err := s.nextBatch(ctx)
		if err != nil {
			return sent, err
		}
		if len(batch) == 0 {
			return sent, nil
		}

		for _, msg := range batch {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			if err := send(msg.topic, msg.payload); err != nil {
				return sent, err
			}
			if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, msg.id); err != nil {
				return sent, fmt.Errorf("removing sent message: %w", err)
			}
			sent++
		}
	}
}

func (s *SQLiteStore) nextBatch(ctx context.Context) ([]outboxRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, payload FROM outbox ORDER BY id LIMIT ?`, flushBatch)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer rows.Close()

	var batch []outboxRow
	for rows.Next() {
		var r outboxRow
		if err := rows.Scan(&r.id, &r.topic, &r.payload); err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox: %w", err)
	}
	return batch, nil
}
