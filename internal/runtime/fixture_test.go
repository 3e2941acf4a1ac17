package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/linker"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/internal/testutil"
)

// world defines classes directly, without a registry. Names are unique
// across loaders.
type world struct {
	t       *testing.T
	env     *Env
	klasses map[string]*ObjectKlass
}

func newWorld(t *testing.T) *world {
	w := &world{t: t, env: NewEnv(symbol.NewTable(), nil), klasses: make(map[string]*ObjectKlass)}
	w.env.Resolver = w
	w.define(nil, testutil.ObjectClass())
	return w
}

func (w *world) define(loader Loader, data []byte) *ObjectKlass {
	w.t.Helper()
	k, err := w.tryDefine(loader, data)
	require.NoError(w.t, err)
	return k
}

func (w *world) tryDefine(loader Loader, data []byte) (*ObjectKlass, error) {
	parsed, err := classfile.Parse(data, w.env.Symbols, "")
	if err != nil {
		return nil, err
	}
	var super *ObjectKlass
	var superLinked *linker.LinkedKlass
	if parsed.SuperName != nil {
		super = w.klasses[parsed.SuperName.String()]
		require.NotNil(w.t, super, "superclass %s not defined", parsed.SuperName)
		superLinked = super.Linked()
	}
	ifaces := make([]*ObjectKlass, len(parsed.InterfaceNames))
	ifaceLinked := make([]*linker.LinkedKlass, len(parsed.InterfaceNames))
	for i, n := range parsed.InterfaceNames {
		ifaces[i] = w.klasses[n.String()]
		require.NotNil(w.t, ifaces[i], "interface %s not defined", n)
		ifaceLinked[i] = ifaces[i].Linked()
	}
	linked, err := linker.Link(parsed, superLinked, ifaceLinked)
	if err != nil {
		return nil, err
	}
	k, err := NewObjectKlass(w.env, linked, super, ifaces, loader)
	if err != nil {
		return nil, err
	}
	w.klasses[parsed.Name.String()] = k
	return k, nil
}

func (w *world) Resolve(_ context.Context, t *symbol.Type, _ Loader) (Klass, error) {
	if k, ok := w.klasses[symbol.NameFromType(t.String())]; ok {
		return k, nil
	}
	return nil, nil
}

func (w *world) name(s string) *symbol.Name { return w.env.Symbols.Name(s) }

func (w *world) sig(s string) *symbol.Signature { return w.env.Symbols.Signature(s) }

func (w *world) method(k *ObjectKlass, name, sig string) *Method {
	w.t.Helper()
	m := k.LookupDeclaredMethod(w.name(name), w.sig(sig))
	require.NotNil(w.t, m, "%s.%s%s", k, name, sig)
	return m
}

func (w *world) field(k *ObjectKlass, name, typ string) *Field {
	w.t.Helper()
	f := k.LookupField(w.name(name), w.env.Symbols.Type(typ))
	require.NotNil(w.t, f, "%s.%s", k, name)
	return f
}

type testLoader string

func (l testLoader) LoaderName() string { return string(l) }

func (l testLoader) LoadClass(context.Context, *symbol.Type, bool) (Klass, error) {
	return nil, nil
}

// initFunc adapts a function to Initializer.
type initFunc func(ctx context.Context, k *ObjectKlass, clinit *Method) error

func (f initFunc) RunClassInitializer(ctx context.Context, k *ObjectKlass, clinit *Method) error {
	return f(ctx, k, clinit)
}

// recordingInitializer records the order classes were initialized in.
type recordingInitializer struct {
	mu    sync.Mutex
	order []string
	fail  map[string]error
}

func (r *recordingInitializer) RunClassInitializer(_ context.Context, k *ObjectKlass, _ *Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, k.Name().String())
	return r.fail[k.Name().String()]
}

type countingBinder struct {
	mu    sync.Mutex
	calls int
}

func (b *countingBinder) Bind(m *Method, code *classfile.ParsedMethod) (Body, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return &struct{ code *classfile.ParsedMethod }{code}, nil
}

type recordingChecker struct {
	calls []string
	err   error
}

func (c *recordingChecker) CheckConstraint(_ context.Context, t *symbol.Type, l1, l2 Loader) error {
	c.calls = append(c.calls, t.String()+" "+LoaderName(l1)+" "+LoaderName(l2))
	return c.err
}

func defaultMethodInterface(name string) []byte {
	return testutil.NewInterface(name).
		Method(testutil.AccPublic, "m", "()V").
		Build()
}

func abstractInterface(name string, methods ...string) []byte {
	b := testutil.NewInterface(name)
	for _, m := range methods {
		b.Method(testutil.AccPublic|testutil.AccAbstract, m, "()V")
	}
	return b.Build()
}
