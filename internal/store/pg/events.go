package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/flowkernel/kernel/internal/events"
)

// Record is a durable, ordered copy of a kernel event.
type Record struct {
	Sequence   int64
	Name       string
	Fields     map[string]any
	RecordedAt time.Time
}

// EventStore appends events.Bus events to an append-only kernel_events
// table and lists them back in sequence order, giving operators a
// durable audit trail independent of the in-memory component state.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(s *Store) *EventStore { return &EventStore{db: s.db} }

// Append inserts evt as the next row in kernel_events.
func (es *EventStore) Append(ctx context.Context, evt events.Event) error {
	raw, err := json.Marshal(evt.Fields)
	if err != nil {
		return err
	}
	_, err = es.db.ExecContext(ctx, `
		insert into kernel_events(name, fields, recorded_at)
		values ($1, $2, now())
	`, evt.Name, raw)
	return err
}

// List returns up to limit events recorded after afterSeq, in sequence
// order, along with the last sequence number returned (0 if none).
func (es *EventStore) List(ctx context.Context, afterSeq int64, limit int) ([]Record, int64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := es.db.QueryContext(ctx, `
		select sequence, name, fields, recorded_at
		from kernel_events
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Record
	var last int64
	for rows.Next() {
		var r Record
		var raw []byte
		if err := rows.Scan(&r.Sequence, &r.Name, &raw, &r.RecordedAt); err != nil {
			return nil, 0, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.Fields); err != nil {
				return nil, 0, err
			}
		}
		out = append(out, r)
		last = r.Sequence
	}
	return out, last, nil
}

// Listen subscribes to bus and appends every published event to the
// journal until ctx is cancelled. Append failures are reported on
// errs (non-blocking send); callers that don't care may pass a nil
// channel, in which case failures are dropped.
func (es *EventStore) Listen(ctx context.Context, bus *events.Bus, errs chan<- error) {
	sub := bus.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if err := es.Append(ctx, evt); err != nil && errs != nil {
				select {
				case errs <- err:
				default:
				}
			}
		}
	}
}
