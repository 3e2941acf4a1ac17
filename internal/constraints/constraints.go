// Package constraints tracks loading constraints: requirements that several
// class loaders resolve a type name to the same klass.
package constraints

import (
	"context"
	"sync"

	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/internal/symbol"
	apperrors "github.com/klasslink/pkg/errors"
	"github.com/klasslink/pkg/utils"
)

// LoadedFunc reports the klass a loader has already loaded for a type, or
// nil when it has not loaded one yet.
type LoadedFunc func(t *symbol.Type, loader runtime.Loader) runtime.Klass

// Table holds the constraint groups of every constrained type name. Each
// name has its own lock; unrelated names never contend.
type Table struct {
	loaded  LoadedFunc
	logger  utils.Logger
	entries sync.Map // *symbol.Type -> *entry
}

type entry struct {
	mu     sync.Mutex
	groups []*group
}

// group is a set of loaders that must agree on a type, plus the klass they
// agree on once one of them has loaded it.
type group struct {
	klass   runtime.Klass
	loaders []runtime.Loader
}

// Group is a snapshot of one constraint group.
type Group struct {
	Klass   runtime.Klass
	Loaders []runtime.Loader
}

// New creates an empty table. loaded is consulted for the current
// resolution of a type by a loader.
func New(loaded LoadedFunc, logger utils.Logger) *Table {
	if loaded == nil {
		loaded = func(*symbol.Type, runtime.Loader) runtime.Klass { return nil }
	}
	return &Table{loaded: loaded, logger: utils.OrNull(logger)}
}

func (t *Table) entry(typ *symbol.Type) *entry {
	if e, ok := t.entries.Load(typ); ok {
		return e.(*entry)
	}
	e, _ := t.entries.LoadOrStore(typ, &entry{})
	return e.(*entry)
}

func (t *Table) peek(typ *symbol.Type) *entry {
	if e, ok := t.entries.Load(typ); ok {
		return e.(*entry)
	}
	return nil
}

func (e *entry) find(l runtime.Loader) *group {
	for _, g := range e.groups {
		for _, m := range g.loaders {
			if m == l {
				return g
			}
		}
	}
	return nil
}

func (e *entry) remove(g *group) {
	for i, x := range e.groups {
		if x == g {
			e.groups = append(e.groups[:i], e.groups[i+1:]...)
			return
		}
	}
}

// CheckConstraint records that l1 and l2 must resolve typ to the same
// klass. It fails with a linkage error when they already disagree.
func (t *Table) CheckConstraint(_ context.Context, typ *symbol.Type, l1, l2 runtime.Loader) error {
	if l1 == l2 {
		return nil
	}
	e := t.entry(typ)
	e.mu.Lock()
	defer e.mu.Unlock()

	// Loads go through Install, which holds the same lock, so neither
	// loader can gain a klass for typ until the groups are updated.
	k1, k2 := t.loaded(typ, l1), t.loaded(typ, l2)
	if k1 != nil && k2 != nil && k1 != k2 {
		return t.violation(typ, l1, l2, k1, k2)
	}
	known := k1
	if known == nil {
		known = k2
	}

	g1, g2 := e.find(l1), e.find(l2)
	// Work out the klass the merged group ends up with before touching
	// anything, so a violation leaves the groups unchanged.
	klass := known
	for _, g := range []*group{g1, g2} {
		if g == nil || g.klass == nil {
			continue
		}
		if klass != nil && klass != g.klass {
			return t.violation(typ, l1, l2, klass, g.klass)
		}
		klass = g.klass
	}

	var g *group
	switch {
	case g1 == nil && g2 == nil:
		g = &group{loaders: []runtime.Loader{l1, l2}}
		e.groups = append(e.groups, g)
	case g1 == nil:
		g = g2
		g.loaders = append(g.loaders, l1)
	case g2 == nil:
		g = g1
		g.loaders = append(g.loaders, l2)
	case g1 == g2:
		g = g1
	default:
		large, small := g1, g2
		if len(small.loaders) > len(large.loaders) {
			large, small = small, large
		}
		large.loaders = append(large.loaders, small.loaders...)
		e.remove(small)
		g = large
	}
	g.klass = klass
	t.logger.Debug("loading constraint on %s between %s and %s (%d loaders)", typ, runtime.LoaderName(l1), runtime.LoaderName(l2), len(g.loaders))
	return nil
}

// StoreFunc inserts a klass into a loader's registry unless one is there
// already. It returns the registered klass and whether it was there before.
type StoreFunc func() (actual runtime.Klass, loaded bool)

// Install admits klass as loader's class for typ and runs store while the
// constraints on typ are held still. When store registers klass, the
// loader's constraint group is bound to it. A violation fails before store
// runs, so nothing is registered.
func (t *Table) Install(typ *symbol.Type, klass runtime.Klass, loader runtime.Loader, store StoreFunc) (runtime.Klass, bool, error) {
	e := t.entry(typ)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := t.admit(e, typ, klass, loader); err != nil {
		return nil, false, err
	}
	actual, loaded := store()
	if loaded {
		return actual, true, nil
	}
	if g := e.find(loader); g != nil && g.klass == nil {
		g.klass = klass
	}
	return actual, false, nil
}

func (t *Table) admit(e *entry, typ *symbol.Type, klass runtime.Klass, loader runtime.Loader) error {
	g := e.find(loader)
	if g == nil || g.klass == nil || g.klass == klass {
		return nil
	}
	err := apperrors.Linkage(typ.String(), runtime.LoaderName(loader),
		"loader constraint violated: the loader defines %s but is constrained to the %s defined by %s",
		klass, g.klass, runtime.LoaderName(g.klass.Loader()))
	t.logger.WithField("loader", runtime.LoaderName(loader)).Error("%v", err)
	return err
}

func (t *Table) violation(typ *symbol.Type, l1, l2 runtime.Loader, k1, k2 runtime.Klass) error {
	err := apperrors.Linkage(typ.String(), runtime.LoaderName(l1),
		"loader constraint violated: loaders %s and %s have different classes for the type (defined by %s and %s)",
		runtime.LoaderName(l1), runtime.LoaderName(l2),
		runtime.LoaderName(k1.Loader()), runtime.LoaderName(k2.Loader()))
	t.logger.WithField("loader", runtime.LoaderName(l1)).Error("%v", err)
	return err
}

// Groups returns a snapshot of the constraint groups recorded for typ.
func (t *Table) Groups(typ *symbol.Type) []Group {
	e := t.peek(typ)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Group, len(e.groups))
	for i, g := range e.groups {
		out[i] = Group{Klass: g.klass, Loaders: append([]runtime.Loader(nil), g.loaders...)}
	}
	return out
}

// Reset drops every constraint.
func (t *Table) Reset() {
	t.entries.Range(func(key, _ any) bool {
		t.entries.Delete(key)
		return true
	})
}
