// Package engine is the callable surface (spec.md §1, §4.1):
// create_class, alter_class, drop_class and rename_class, each driving
// one connection Context through parse -> merge -> validate -> apply ->
// commit -> invalidate.
package engine

import (
	"context"
	"fmt"

	appcontext "flexilite/internal/context"

	"flexilite/internal/applier"
	"flexilite/internal/audit"
	"flexilite/internal/defparser"
	"flexilite/internal/flexerr"
	"flexilite/internal/identifier"
	"flexilite/internal/merger"
	"flexilite/internal/names"
	"flexilite/internal/schema"
	"flexilite/internal/store"
	"flexilite/internal/validator"
)

// Engine binds one store.Store to the operations the callable surface
// exposes. A single Engine is shared across connections; each caller
// supplies its own *appcontext.Context.
type Engine struct {
	store   store.Store
	names   *names.Dictionary
	applier *applier.Applier
	audit   *audit.Logger
}

// Options configures the Engine's Applier.
type Options struct {
	Applier applier.Options
}

// New returns an Engine backed by st.
func New(st store.Store, opts Options, auditLog *audit.Logger) *Engine {
	return &Engine{
		store:   st,
		names:   names.New(st),
		applier: applier.New(st, opts.Applier),
		audit:   auditLog,
	}
}

// CreateClass parses definitionJSON and persists it as a new class named
// name. It fails with AlreadyExists if a class with that name already
// exists (spec.md §4.1).
func (e *Engine) CreateClass(ctx context.Context, cctx *appcontext.Context, name string, definitionJSON []byte) (*schema.ClassDef, error) {
	if !identifier.Valid(name) {
		return nil, cctx.Fail(flexerr.New(flexerr.KindInvalidName, "%q is not a valid class name", name))
	}
	if err := cctx.EnsureFresh(ctx); err != nil {
		return nil, cctx.Fail(err)
	}
	if _, err := cctx.ClassByName(ctx, name); err == nil {
		return nil, cctx.Fail(flexerr.New(flexerr.KindAlreadyExists, "class %q already exists", name).WithClass(name))
	}

	cd, err := defparser.Parse(definitionJSON, defparser.Options{Strict: false})
	if err != nil {
		return nil, cctx.Fail(err)
	}

	unlock := cctx.LockClass(0)
	defer unlock()

	nameID, err := e.names.Insert(ctx, nil, name)
	if err != nil {
		return nil, cctx.Fail(err)
	}
	cd.Name = schema.Name{ID: nameID, Text: name}

	if err := e.assignPropertyNames(ctx, cd); err != nil {
		return nil, cctx.Fail(err)
	}

	mr, err := merger.Merge(nil, cd, e.mixinResolver(ctx, cctx))
	if err != nil {
		return nil, cctx.Fail(err)
	}

	res, err := e.applier.CreateClass(ctx, mr)
	if err != nil {
		e.audit.Failed(audit.OpCreateClass, name, cctx.Principal(), err)
		return nil, cctx.Fail(err)
	}

	e.audit.Commit(audit.OpCreateClass, name, cctx.Principal(), res)
	return res.ClassDef, nil
}

// AlterClass merges definitionJSON against the current definition of
// name and commits the result, running a data validation scan if the
// merge requires one.
func (e *Engine) AlterClass(ctx context.Context, cctx *appcontext.Context, name string, definitionJSON []byte, mode validator.Mode) (*schema.ClassDef, error) {
	if err := cctx.EnsureFresh(ctx); err != nil {
		return nil, cctx.Fail(err)
	}
	old, err := cctx.ClassByName(ctx, name)
	if err != nil {
		return nil, cctx.Fail(err)
	}

	unlock := cctx.LockClass(old.ClassID)
	defer unlock()

	next, err := defparser.Parse(definitionJSON, defparser.Options{Strict: false})
	if err != nil {
		return nil, cctx.Fail(err)
	}
	next.Name = old.Name

	if err := e.assignPropertyNames(ctx, next); err != nil {
		return nil, cctx.Fail(err)
	}

	mr, err := merger.Merge(old, next, e.mixinResolver(ctx, cctx))
	if err != nil {
		return nil, cctx.Fail(err)
	}

	res, err := e.applier.AlterClass(ctx, old.ClassID, mr, mode)
	if err != nil {
		e.audit.Failed(audit.OpAlterClass, name, cctx.Principal(), err)
		return nil, cctx.Fail(err)
	}

	cctx.InvalidateClass(old)
	e.audit.Commit(audit.OpAlterClass, name, cctx.Principal(), res)
	return res.ClassDef, nil
}

// DropClass removes a class definition. When soft is true the class is
// marked soft-deleted rather than physically removed (spec.md's
// original_source-derived soft-delete behaviour).
func (e *Engine) DropClass(ctx context.Context, cctx *appcontext.Context, name string, soft bool) error {
	if err := cctx.EnsureFresh(ctx); err != nil {
		return cctx.Fail(err)
	}
	cd, err := cctx.ClassByName(ctx, name)
	if err != nil {
		return cctx.Fail(err)
	}

	unlock := cctx.LockClass(cd.ClassID)
	defer unlock()

	if cd.RefCount > 0 && !soft {
		return cctx.Fail(flexerr.New(flexerr.KindConstraintViolation,
			"class %q is referenced by %d other class(es); drop those references first or use soft delete", name, cd.RefCount).WithClass(name))
	}

	if err := e.applier.DropClass(ctx, cd, soft); err != nil {
		e.audit.Failed(audit.OpDropClass, name, cctx.Principal(), err)
		return cctx.Fail(err)
	}

	cctx.InvalidateClass(cd)
	e.audit.Commit(audit.OpDropClass, name, cctx.Principal(), &applier.Result{ClassDef: cd})
	return nil
}

// RenameClass reassigns a class's interned name.
func (e *Engine) RenameClass(ctx context.Context, cctx *appcontext.Context, oldName, newName string) (*schema.ClassDef, error) {
	if !identifier.Valid(newName) {
		return nil, cctx.Fail(flexerr.New(flexerr.KindInvalidName, "%q is not a valid class name", newName))
	}
	if err := cctx.EnsureFresh(ctx); err != nil {
		return nil, cctx.Fail(err)
	}
	cd, err := cctx.ClassByName(ctx, oldName)
	if err != nil {
		return nil, cctx.Fail(err)
	}
	if _, err := cctx.ClassByName(ctx, newName); err == nil {
		return nil, cctx.Fail(flexerr.New(flexerr.KindAlreadyExists, "class %q already exists", newName).WithClass(newName))
	}

	unlock := cctx.LockClass(cd.ClassID)
	defer unlock()

	newNameID, err := e.names.Insert(ctx, nil, newName)
	if err != nil {
		return nil, cctx.Fail(err)
	}

	if err := e.applier.RenameClass(ctx, cd, newNameID, newName); err != nil {
		e.audit.Failed(audit.OpRenameClass, oldName, cctx.Principal(), err)
		return nil, cctx.Fail(err)
	}

	cctx.InvalidateClass(cd)
	e.audit.Commit(audit.OpRenameClass, newName, cctx.Principal(), &applier.Result{ClassDef: cd})
	return cd, nil
}

// mixinResolver binds a merger.MixinResolver to this connection's
// Context, so mixin lookups (spec.md §4.4.6) go through the same
// by-id/by-name class-definition cache every other read uses.
func (e *Engine) mixinResolver(ctx context.Context, cctx *appcontext.Context) merger.MixinResolver {
	return func(ref schema.MetadataRef) (*schema.ClassDef, error) {
		if ref.Name != "" {
			return cctx.ClassByName(ctx, ref.Name)
		}
		return cctx.ClassByID(ctx, ref.ID)
	}
}

// assignPropertyNames interns every property's name, filling in its
// Name.ID (spec.md §2.1: classes and properties share one dictionary).
func (e *Engine) assignPropertyNames(ctx context.Context, cd *schema.ClassDef) error {
	for key, p := range cd.PropMap {
		id, err := e.names.Insert(ctx, nil, p.Name.Text)
		if err != nil {
			return fmt.Errorf("intern property %q: %w", key, err)
		}
		p.Name.ID = id
	}
	return nil
}
