package constraints

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/linker"
	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/internal/testutil"
	apperrors "github.com/klasslink/pkg/errors"
)

type loader string

func (l loader) LoaderName() string { return string(l) }

func (l loader) LoadClass(context.Context, *symbol.Type, bool) (runtime.Klass, error) {
	return nil, nil
}

// fixture plays the registry: it remembers which klass each loader has
// loaded for a type.
type fixture struct {
	t      *testing.T
	env    *runtime.Env
	object *runtime.ObjectKlass
	mu     sync.Mutex
	loaded map[string]runtime.Klass
	table  *Table
	foo    *symbol.Type
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:      t,
		env:    runtime.NewEnv(symbol.NewTable(), nil),
		loaded: make(map[string]runtime.Klass),
	}
	f.object = f.klass(nil, testutil.ObjectClass(), nil)
	f.table = New(f.lookup, nil)
	f.foo = f.env.Symbols.Type("Lp/Foo;")
	return f
}

func (f *fixture) klass(l runtime.Loader, data []byte, super *runtime.ObjectKlass) *runtime.ObjectKlass {
	f.t.Helper()
	parsed, err := classfile.Parse(data, f.env.Symbols, "")
	require.NoError(f.t, err)
	var superLinked *linker.LinkedKlass
	if super != nil {
		superLinked = super.Linked()
	}
	linked, err := linker.Link(parsed, superLinked, nil)
	require.NoError(f.t, err)
	k, err := runtime.NewObjectKlass(f.env, linked, super, nil, l)
	require.NoError(f.t, err)
	return k
}

// foo defines a distinct p/Foo klass on behalf of l.
func (f *fixture) fooKlass(l runtime.Loader) *runtime.ObjectKlass {
	return f.klass(l, testutil.SimpleClass("p/Foo"), f.object)
}

func (f *fixture) load(typ *symbol.Type, l runtime.Loader, k runtime.Klass) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded[typ.String()+"@"+runtime.LoaderName(l)] = k
}

// install runs Table.Install with a store into the fixture's map.
func (f *fixture) install(typ *symbol.Type, k runtime.Klass, l runtime.Loader) error {
	_, _, err := f.table.Install(typ, k, l, func() (runtime.Klass, bool) {
		f.mu.Lock()
		defer f.mu.Unlock()
		key := typ.String() + "@" + runtime.LoaderName(l)
		if prev, ok := f.loaded[key]; ok {
			return prev, true
		}
		f.loaded[key] = k
		return k, false
	})
	return err
}

func (f *fixture) lookup(typ *symbol.Type, l runtime.Loader) runtime.Klass {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded[typ.String()+"@"+runtime.LoaderName(l)]
}

func TestCheckConstraint_SameLoader(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.table.CheckConstraint(context.Background(), f.foo, loader("a"), loader("a")))
	assert.Empty(t, f.table.Groups(f.foo))
}

// Scenario: two loaders have each loaded their own p/Foo; constraining them
// to agree fails before any override across them is accepted.
func TestCheckConstraint_BothLoadedDiffer(t *testing.T) {
	f := newFixture(t)
	l1, l2 := loader("l1"), loader("l2")
	f.load(f.foo, l1, f.fooKlass(l1))
	f.load(f.foo, l2, f.fooKlass(l2))

	err := f.table.CheckConstraint(context.Background(), f.foo, l1, l2)
	require.Error(t, err)
	assert.True(t, apperrors.IsLinkageError(err))
	assert.Contains(t, err.Error(), "Lp/Foo;")
	assert.Contains(t, err.Error(), "l1")
	assert.Contains(t, err.Error(), "l2")
	assert.Empty(t, f.table.Groups(f.foo), "a violation records nothing")
}

func TestCheckConstraint_LaterLoadIsChecked(t *testing.T) {
	f := newFixture(t)
	l1, l2 := loader("l1"), loader("l2")
	k1 := f.fooKlass(l1)
	f.load(f.foo, l1, k1)

	require.NoError(t, f.table.CheckConstraint(context.Background(), f.foo, l1, l2))
	groups := f.table.Groups(f.foo)
	require.Len(t, groups, 1)
	assert.Same(t, k1, groups[0].Klass)
	assert.ElementsMatch(t, []runtime.Loader{l1, l2}, groups[0].Loaders)

	t.Run("different klass is rejected", func(t *testing.T) {
		err := f.install(f.foo, f.fooKlass(l2), l2)
		assert.True(t, apperrors.IsLinkageError(err))
		assert.Nil(t, f.lookup(f.foo, l2), "nothing is stored")
	})

	t.Run("same klass is accepted", func(t *testing.T) {
		assert.NoError(t, f.install(f.foo, k1, l2))
		assert.Same(t, k1, f.lookup(f.foo, l2))
	})

	t.Run("unconstrained loader is free", func(t *testing.T) {
		l3 := loader("l3")
		k3 := f.fooKlass(l3)
		assert.NoError(t, f.install(f.foo, k3, l3))
		assert.Same(t, k3, f.lookup(f.foo, l3))
	})
}

func TestCheckConstraint_BackfillsKlass(t *testing.T) {
	f := newFixture(t)
	l1, l2 := loader("l1"), loader("l2")
	require.NoError(t, f.table.CheckConstraint(context.Background(), f.foo, l1, l2))
	assert.Nil(t, f.table.Groups(f.foo)[0].Klass)

	k := f.fooKlass(l2)
	require.NoError(t, f.install(f.foo, k, l2))
	assert.Same(t, k, f.table.Groups(f.foo)[0].Klass)

	assert.Error(t, f.install(f.foo, f.fooKlass(l1), l1), "l1 is now bound to l2's klass")
	assert.Nil(t, f.lookup(f.foo, l1))
}

func TestCheckConstraint_MergesGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c, d, e := loader("a"), loader("b"), loader("c"), loader("d"), loader("e")

	require.NoError(t, f.table.CheckConstraint(ctx, f.foo, a, b))
	require.NoError(t, f.table.CheckConstraint(ctx, f.foo, a, c))
	require.NoError(t, f.table.CheckConstraint(ctx, f.foo, d, e))
	require.Len(t, f.table.Groups(f.foo), 2)

	require.NoError(t, f.table.CheckConstraint(ctx, f.foo, e, b))
	groups := f.table.Groups(f.foo)
	require.Len(t, groups, 1)
	assert.Equal(t, []runtime.Loader{a, b, c, d, e}, groups[0].Loaders, "smaller group is appended to the larger")

	require.NoError(t, f.table.CheckConstraint(ctx, f.foo, c, d), "already in one group")
	assert.Len(t, f.table.Groups(f.foo)[0].Loaders, 5)
}

func TestCheckConstraint_MergeConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c, d := loader("a"), loader("b"), loader("c"), loader("d")

	require.NoError(t, f.table.CheckConstraint(ctx, f.foo, a, b))
	require.NoError(t, f.install(f.foo, f.fooKlass(a), a))
	require.NoError(t, f.table.CheckConstraint(ctx, f.foo, c, d))
	require.NoError(t, f.install(f.foo, f.fooKlass(c), c))

	err := f.table.CheckConstraint(ctx, f.foo, b, d)
	assert.True(t, apperrors.IsLinkageError(err))
	assert.Len(t, f.table.Groups(f.foo), 2, "groups are left as they were")
}

func TestCheckConstraint_Concurrent(t *testing.T) {
	f := newFixture(t)
	root := loader("root")
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := loader(string(rune('A' + i)))
			assert.NoError(t, f.table.CheckConstraint(context.Background(), f.foo, root, l))
		}(i)
	}
	wg.Wait()

	groups := f.table.Groups(f.foo)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Loaders, 33)

	f.table.Reset()
	assert.Empty(t, f.table.Groups(f.foo))
}

// A constraint added while a load is being installed waits for the install
// and then sees the installed klass.
func TestInstall_ConstraintDuringStore(t *testing.T) {
	f := newFixture(t)
	l1, l2 := loader("l1"), loader("l2")
	k1, k2 := f.fooKlass(l1), f.fooKlass(l2)
	require.NoError(t, f.install(f.foo, k1, l1))

	checked := make(chan error, 1)
	_, loaded, err := f.table.Install(f.foo, k2, l2, func() (runtime.Klass, bool) {
		go func() {
			checked <- f.table.CheckConstraint(context.Background(), f.foo, l1, l2)
		}()
		time.Sleep(20 * time.Millisecond)
		f.load(f.foo, l2, k2)
		return k2, false
	})
	require.NoError(t, err)
	assert.False(t, loaded)

	select {
	case err := <-checked:
		assert.True(t, apperrors.IsLinkageError(err))
	case <-time.After(5 * time.Second):
		t.Fatal("CheckConstraint did not return")
	}
	assert.Empty(t, f.table.Groups(f.foo), "the violating constraint records nothing")
}

func TestInstall_AlreadyLoaded(t *testing.T) {
	f := newFixture(t)
	l1, l2 := loader("l1"), loader("l2")
	require.NoError(t, f.table.CheckConstraint(context.Background(), f.foo, l1, l2))
	first := f.fooKlass(loader("x"))
	require.NoError(t, f.install(f.foo, first, l1))

	actual, loaded, err := f.table.Install(f.foo, first, l1, func() (runtime.Klass, bool) {
		return first, true
	})
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Same(t, first, actual)
	assert.Same(t, first, f.table.Groups(f.foo)[0].Klass)
}
