// Package registry caches native rendering handles per execution context and
// resource. Handle construction is expensive (file parsing, database
// connections), so concurrent requests for the same key converge on a single
// construction and share the result for the life of the process.
package registry

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"maprender/internal/engine"
)

// Key identifies the isolation domain under which a handle may be reused.
// ContextID distinguishes execution contexts that must not share native
// handles (a forked worker inherits descriptors it cannot safely use);
// Resource is the concrete, already-resolved resource identifier.
type Key struct {
	ContextID string
	Resource  string
}

// Entry is the lifecycle record of one handle. It is created in the loading
// state and becomes ready exactly once, when the ready channel is closed.
// handle and err are written before the close and only read after it.
type Entry struct {
	// renderMu serializes configure+draw on the shared handle; the engine
	// is not assumed reentrant per handle.
	renderMu sync.Mutex

	ready  chan struct{}
	handle engine.Handle
	err    error
}

// Handle returns the constructed handle. Valid only after Acquire returned
// this entry without error.
func (e *Entry) Handle() engine.Handle { return e.handle }

// Lock takes exclusive access to the handle for one configure+draw span.
func (e *Entry) Lock() { e.renderMu.Lock() }

// Unlock releases exclusive access.
func (e *Entry) Unlock() { e.renderMu.Unlock() }

// Registry is the process-wide handle table. The zero value is not usable;
// use New or Default.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[Key]*Entry)}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry, constructed on first use and
// never reset. Constructing pipeline objects must not clear it; all of them
// share this one table.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// Acquire returns the ready entry for key, constructing the handle via
// construct if no entry exists. The membership check and the insertion of
// the loading entry happen under one lock acquisition, so at most one caller
// constructs per key; construct itself runs outside the lock so slow loads
// do not serialize unrelated keys.
//
// If construction fails the entry is removed, the failure is delivered to
// every caller already waiting on it, and the next Acquire constructs again.
//
// A caller whose ctx is cancelled stops waiting, but an in-flight
// construction always runs to completion and populates the table.
func (r *Registry) Acquire(ctx context.Context, key Key, construct func(resource string) (engine.Handle, error)) (*Entry, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &Entry{ready: make(chan struct{})}
		r.entries[key] = e
		r.mu.Unlock()

		h, err := construct(key.Resource)
		if err != nil {
			e.err = &engine.InitError{Resource: key.Resource, Err: err}
			r.mu.Lock()
			delete(r.entries, key)
			r.mu.Unlock()
			close(e.ready)
			return nil, e.err
		}
		e.handle = h
		close(e.ready)
		return e, nil
	}
	r.mu.Unlock()

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e, nil
}

// Len reports the number of resident entries, loading ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ProcessContextID returns an opaque identifier for this process instance,
// computed once at startup. Two processes (or a process and its fork) never
// share an id, so their cache lines never collide.
var ProcessContextID = sync.OnceValue(func() string {
	return fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString())
})
