package event

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/embercord/embercord/logging"
)

// Receiver consumes typed events. Receivers for one raw event run
// concurrently; Emit joins them before returning.
type Receiver func(ctx context.Context, ev Event)

// Emitter routes raw gateway frames to typed events and fans them out to
// receivers. The transport drives Emit one frame at a time, so cache
// mutations stay causally ordered; concurrency only exists inside the
// fan-out of a single frame.
type Emitter struct {
	state State
	log   *logrus.Entry

	mu        sync.RWMutex
	types     map[string][]Type
	receivers map[int]Receiver
	nextID    int
}

// NewEmitter creates an emitter bound to the given state.
func NewEmitter(state State) *Emitter {
	return &Emitter{
		state:     state,
		log:       logging.NewLogger("events"),
		types:     make(map[string][]Type),
		receivers: make(map[int]Receiver),
	}
}

// AddType registers a loader under its raw event name. Multiple types may
// share one name.
func (e *Emitter) AddType(t Type) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types[t.Name] = append(e.types[t.Name], t)
}

// RemoveType drops every loader registered under name.
func (e *Emitter) RemoveType(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.types, name)
}

// AddReceiver subscribes a receiver and returns a handle for RemoveReceiver.
func (e *Emitter) AddReceiver(r Receiver) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.receivers[id] = r
	return id
}

// RemoveReceiver unsubscribes the receiver registered under id.
func (e *Emitter) RemoveReceiver(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.receivers, id)
}

// Emit processes one raw gateway frame: every loader registered under name
// runs sequentially, and each loaded event fans out to every receiver. Emit
// returns only after all receivers finish, so the transport can apply
// backpressure between frames. Unknown names are ignored.
func (e *Emitter) Emit(ctx context.Context, name string, raw json.RawMessage) {
	e.mu.RLock()
	types := e.types[name]
	e.mu.RUnlock()

	for _, t := range types {
		ev, err := t.Load(ctx, raw, e.state)
		if err != nil {
			e.log.WithError(err).Warnf("failed to load %s event", name)
			continue
		}
		if ev == nil {
			// Loader discarded the payload, usually an entity that is not
			// cached yet.
			e.log.Debugf("discarded %s event", name)
			continue
		}
		e.Dispatch(ctx, ev)
	}
}

// Dispatch fans one already-loaded event out to every receiver and joins
// the fan-out. The ready machine uses this for machine-driven events that
// never arrive as raw frames.
func (e *Emitter) Dispatch(ctx context.Context, ev Event) {
	e.mu.RLock()
	receivers := make([]Receiver, 0, len(e.receivers))
	for _, r := range e.receivers {
		receivers = append(receivers, r)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, r := range receivers {
		wg.Add(1)
		go func(r Receiver) {
			defer wg.Done()
			r(ctx, ev)
		}(r)
	}
	wg.Wait()
}
