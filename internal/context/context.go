// Package context implements the per-connection engine Context (spec.md
// §5): cached class definitions keyed by name and id, a watermark
// against the substrate's schema_version counter, the current
// principal, the last error, and an exclusive logical lock per
// class_id so two alterations of the same class never interleave.
//
// Class-definition caching is backed by ristretto, the one in-memory
// cache library the retrieval pack wires in (dgraph-io/ristretto); the
// narrower, always-consistent name dictionary in internal/names stays
// on a plain mutex-guarded map since that is the teacher's own idiom
// for small lookup tables, reserving ristretto for the larger,
// evictable working set a connection actually wants bounded.
package context

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"

	"flexilite/internal/flexerr"
	"flexilite/internal/schema"
	"flexilite/internal/store"
)

// defaultCacheConfig mirrors ristretto's own documented defaults for a
// moderate-sized read-heavy cache.
func defaultCacheConfig() *ristretto.Config {
	return &ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	}
}

// Principal identifies who is driving the connection, for audit logging.
type Principal struct {
	ID   string
	Name string
}

// Context is one connection's engine-facing state.
type Context struct {
	st store.Store

	byName *ristretto.Cache
	byID   *ristretto.Cache

	mu              sync.Mutex
	classLocks      map[uint64]*sync.Mutex
	schemaVersion   uint64
	principal       Principal
	lastErr         error
}

// New creates a Context bound to st. The schema version watermark
// starts at 0 and is brought up to the substrate's counter by the first
// EnsureFresh.
func New(st store.Store, principal Principal) (*Context, error) {
	byName, err := ristretto.NewCache(defaultCacheConfig())
	if err != nil {
		return nil, fmt.Errorf("create class-by-name cache: %w", err)
	}
	byID, err := ristretto.NewCache(defaultCacheConfig())
	if err != nil {
		return nil, fmt.Errorf("create class-by-id cache: %w", err)
	}
	return &Context{
		st:         st,
		byName:     byName,
		byID:       byID,
		classLocks: make(map[uint64]*sync.Mutex),
		principal:  principal,
	}, nil
}

// Close releases the Context's caches.
func (c *Context) Close() {
	c.byName.Close()
	c.byID.Close()
}

// LastError returns the most recent error recorded by Fail.
func (c *Context) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Fail records err as the Context's last error and returns it
// unchanged, so call sites can write `return ctx.Fail(err)`.
func (c *Context) Fail(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// Principal returns the connection's current principal.
func (c *Context) Principal() Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal
}

// EnsureFresh compares the Context's watermark against the substrate's
// schema_version counter and invalidates both caches if the substrate
// has moved ahead (spec.md §5: another connection committed a schema
// change).
func (c *Context) EnsureFresh(ctx context.Context) error {
	v, err := c.st.SchemaVersion(ctx, nil)
	if err != nil {
		return flexerr.Wrap(flexerr.KindSubstrateError, err, "read schema version")
	}

	c.mu.Lock()
	stale := v != c.schemaVersion
	c.schemaVersion = v
	c.mu.Unlock()

	if stale {
		c.byName.Clear()
		c.byID.Clear()
	}
	return nil
}

// ClassByName returns a cached class definition, loading and caching it
// from the store on a miss.
func (c *Context) ClassByName(ctx context.Context, name string) (*schema.ClassDef, error) {
	if v, ok := c.byName.Get(name); ok {
		return v.(*schema.ClassDef), nil
	}
	cd, found, err := c.st.LoadClassByName(ctx, nil, name)
	if err != nil {
		return nil, flexerr.Wrap(flexerr.KindSubstrateError, err, "load class %q", name)
	}
	if !found {
		return nil, flexerr.New(flexerr.KindNotFound, "class %q does not exist", name)
	}
	c.cacheClass(cd)
	return cd, nil
}

// ClassByID returns a cached class definition, loading and caching it
// from the store on a miss.
func (c *Context) ClassByID(ctx context.Context, id uint64) (*schema.ClassDef, error) {
	if v, ok := c.byID.Get(id); ok {
		return v.(*schema.ClassDef), nil
	}
	cd, found, err := c.st.LoadClassByID(ctx, nil, id)
	if err != nil {
		return nil, flexerr.Wrap(flexerr.KindSubstrateError, err, "load class %d", id)
	}
	if !found {
		return nil, flexerr.New(flexerr.KindNotFound, "class id %d does not exist", id)
	}
	c.cacheClass(cd)
	return cd, nil
}

// InvalidateClass drops a class definition from both caches, typically
// called by the engine right after it commits an alteration so the next
// read observes the new definition instead of a stale cached one.
func (c *Context) InvalidateClass(cd *schema.ClassDef) {
	c.byName.Del(cd.Name.Text)
	c.byID.Del(cd.ClassID)
}

func (c *Context) cacheClass(cd *schema.ClassDef) {
	cost := int64(64 + len(cd.PropMap)*128)
	c.byName.Set(cd.Name.Text, cd, cost)
	c.byID.Set(cd.ClassID, cd, cost)
	c.byName.Wait()
	c.byID.Wait()
}

// LockClass acquires the connection-local exclusive lock for classID so
// two alterations of the same class never interleave within one engine
// instance (spec.md §5); cross-connection exclusion is the substrate's
// own row/advisory locking, out of this package's scope.
func (c *Context) LockClass(classID uint64) func() {
	c.mu.Lock()
	l, ok := c.classLocks[classID]
	if !ok {
		l = &sync.Mutex{}
		c.classLocks[classID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}
