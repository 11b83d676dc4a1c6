// Package journal defines the persistence abstraction for the engine's
// event record. Every emitted event and status transition is appended so
// that operators can reconstruct what the alarm did and when. The default
// implementation is SQLite; the engine itself never reads the journal back,
// it is queried by the HTTP API only.
package journal

import (
	"context"
	"time"
)

// EntityKind classifies the entity an entry belongs to.
type EntityKind string

const (
	// EntityAlert entries record alert events and status transitions.
	EntityAlert EntityKind = "alert"

	// EntityMode entries record mode entered/left events.
	EntityMode EntityKind = "mode"

	// EntitySensor entries record sensor enablement and trigger edges.
	EntitySensor EntityKind = "sensor"
)

// Entry is a single recorded event.
type Entry struct {
	ID     int64      `json:"id"`
	Entity EntityKind `json:"entity"`
	Name   string     `json:"name"`
	Event  string     `json:"event"`
	Detail string     `json:"detail,omitempty"`
	TS     time.Time  `json:"ts"`
}

// Journal is the persistence abstraction. All methods are context-aware.
type Journal interface {
	// Record appends a single entry. Failures must not disturb the engine;
	// callers log and move on.
	Record(ctx context.Context, entity EntityKind, name, event, detail string) error

	// RecentEntries returns up to limit entries, ordered newest first.
	RecentEntries(ctx context.Context, limit int) ([]Entry, error)

	// EntriesFor returns up to limit entries for one entity, newest first.
	EntriesFor(ctx context.Context, entity EntityKind, name string, limit int) ([]Entry, error)

	Close() error
}

// Discard is a Journal that records nothing. Used in tests and when the
// daemon runs without a journal path.
type Discard struct{}

func (Discard) Record(context.Context, EntityKind, string, string, string) error { return nil }

func (Discard) RecentEntries(context.Context, int) ([]Entry, error) { return nil, nil }

func (Discard) EntriesFor(context.Context, EntityKind, string, int) ([]Entry, error) {
	return nil, nil
}

func (Discard) Close() error { return nil }
