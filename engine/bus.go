package engine

import "github.com/whisper-darkly/sentinel-backend/lkd"

// Object is a handle on a single bus object. Reads and writes go straight to
// the daemon so the engine never acts on stale values.
type Object interface {
	ID() string
	Bool() (bool, error)
	SetBool(bool) error
	Float() (float64, error)
	SetFloat(float64) error
	Int() (int, error)
	SetInt(int) error
}

// Bus is what the engine needs from the bus backend: object handles plus
// action execution. *lkd.Client satisfies it through NewLKDBus; tests plug in
// an in-memory fake.
type Bus interface {
	Object(id string) Object
	ExecuteAction(doc map[string]any) error
}

type lkdBus struct {
	client *lkd.Client
}

// NewLKDBus wraps an LKD client as an engine Bus.
func NewLKDBus(c *lkd.Client) Bus {
	return lkdBus{client: c}
}

func (b lkdBus) Object(id string) Object { return b.client.Object(id) }

func (b lkdBus) ExecuteAction(doc map[string]any) error { return b.client.ExecuteAction(doc) }
