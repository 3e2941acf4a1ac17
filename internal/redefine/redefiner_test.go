package redefine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	appmock "github.com/klasslink/internal/mock"
	"github.com/klasslink/internal/redefine"
	"github.com/klasslink/internal/registry"
	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/internal/storage"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/internal/testutil"
	"github.com/klasslink/pkg/utils"
)

const (
	runnable = "java/lang/Runnable"
	callable = "java/util/concurrent/Callable"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t          *testing.T
	registries *registry.Registries
	redefiner  *redefine.Redefiner
	events     *appmock.MockEventRecorder
}

func newFixture(t *testing.T, classes map[string][]byte, opts redefine.Options) *fixture {
	t.Helper()
	mem := storage.NewMemoryStorage()
	mem.Put(symbol.ObjectName+storage.ClassSuffix, testutil.ObjectClass())
	mem.Put(runnable+storage.ClassSuffix, testutil.NewInterface(runnable).Build())
	mem.Put(callable+storage.ClassSuffix, testutil.NewInterface(callable).Build())
	for name, data := range classes {
		mem.Put(name+storage.ClassSuffix, data)
	}
	env := runtime.NewEnv(symbol.NewTable(), nil)
	registries := registry.New(env, registry.Options{
		ClassPath: storage.NewClassPath(nil, storage.Entry{Storage: mem}),
	})

	events := new(appmock.MockEventRecorder)
	events.On("RecordRedefinition", mock.Anything, mock.Anything).Return(nil)
	if opts.Events == nil {
		opts.Events = events
	}
	if opts.Clock == nil {
		opts.Clock = utils.NewMockClock(epoch)
	}
	opts.Workers = 2
	return &fixture{
		t:          t,
		registries: registries,
		redefiner:  redefine.New(registries, opts),
		events:     events,
	}
}

func (f *fixture) load(name string) *runtime.ObjectKlass {
	f.t.Helper()
	k, err := f.registries.ResolveName(context.Background(), name, nil)
	require.NoError(f.t, err)
	require.NotNil(f.t, k, "%s not found", name)
	return k.(*runtime.ObjectKlass)
}

func (f *fixture) redefine(defs ...redefine.ClassDefinition) *redefine.Result {
	f.t.Helper()
	res, err := f.redefiner.RedefineClasses(context.Background(), nil, defs)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) method(k *runtime.ObjectKlass, name, sig string) *runtime.Method {
	symbols := f.registries.Env().Symbols
	return k.LookupDeclaredMethod(symbols.Name(name), symbols.Signature(sig))
}

func counter(body byte, extra ...string) []byte {
	b := testutil.NewClass("p/Counter", symbol.ObjectName, testutil.AccPublic|testutil.AccSuper).
		Field(testutil.AccStatic, "count", "I").
		Method(testutil.AccPublic, "<init>", "()V").
		Method(testutil.AccPublic, "value", "()I", testutil.WithCode(1, 1, []byte{body, 0xac}))
	for _, name := range extra {
		b.Method(testutil.AccPublic, name, "()V")
	}
	return b.Build()
}

func def(name string, data []byte) redefine.ClassDefinition {
	return redefine.ClassDefinition{Name: name, Bytes: data}
}

func TestRedefineClasses_MethodBody(t *testing.T) {
	f := newFixture(t, map[string][]byte{"p/Counter": counter(0x03)}, redefine.Options{})
	k := f.load("p/Counter")
	value := f.method(k, "value", "()I")

	res := f.redefine(def("p/Counter", counter(0x04)))

	require.Equal(t, redefine.StatusSuccess, res.Status)
	require.Len(t, res.Classes, 1)
	out := res.Classes[0]
	assert.Equal(t, "p/Counter", out.Class)
	assert.Equal(t, redefine.MethodBodyChange, out.Change)
	assert.Equal(t, []string{"value()I"}, out.Methods)
	assert.Equal(t, 1, out.Version)

	assert.Equal(t, 1, k.VersionNumber())
	assert.Same(t, value, f.method(k, "value", "()I"))
	assert.Equal(t, []byte{0x04, 0xac}, value.Code().Bytecode)

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "p/Counter", events[0].Class)
	assert.Equal(t, "bootstrap", events[0].Loader)
	assert.Equal(t, redefine.StatusSuccess, events[0].Status)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, epoch, events[0].At)
}

func TestRedefineClass(t *testing.T) {
	f := newFixture(t, map[string][]byte{"p/Counter": counter(0x03)}, redefine.Options{})
	k := f.load("p/Counter")

	status, err := f.redefiner.RedefineClass(context.Background(), k, counter(0x03))
	require.NoError(t, err)
	assert.Equal(t, redefine.StatusSuccess, status)
	assert.Zero(t, k.VersionNumber(), "identical bytes install nothing")

	status, err = f.redefiner.RedefineClass(context.Background(), k, counter(0x03, "extra"))
	require.NoError(t, err)
	assert.Equal(t, redefine.StatusAddMethodNotImplemented, status)
}

func TestRedefineClasses_Capability(t *testing.T) {
	tests := []struct {
		name       string
		capability redefine.Capability
		next       []byte
		status     redefine.Status
	}{
		{"add method declined", redefine.CapabilityMethodBody, counter(0x03, "reset", "clear"), redefine.StatusAddMethodNotImplemented},
		{"add method allowed", redefine.CapabilityAddMethod, counter(0x03, "reset", "clear"), redefine.StatusSuccess},
		{"delete method declined", redefine.CapabilityAddMethod, counter(0x03), redefine.StatusDeleteMethodNotImplemented},
		{"delete method allowed", redefine.CapabilityArbitrary, counter(0x03), redefine.StatusSuccess},
		{"hierarchy never allowed", redefine.CapabilityArbitrary,
			testutil.NewClass("p/Counter", symbol.ObjectName, testutil.AccPublic|testutil.AccSuper).Interfaces(runnable).Build(),
			redefine.StatusHierarchyChangeNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string][]byte{"p/Counter": counter(0x03, "reset")}, redefine.Options{Capability: tt.capability})
			k := f.load("p/Counter")
			before := k.Parsed()

			res := f.redefine(def("p/Counter", tt.next))
			assert.Equal(t, tt.status, res.Status)
			require.Len(t, res.Classes, 1)
			assert.Equal(t, tt.status, res.Classes[0].Status)

			if tt.status == redefine.StatusSuccess {
				assert.Equal(t, 1, k.VersionNumber())
			} else {
				assert.Zero(t, k.VersionNumber())
				assert.Same(t, before, k.Parsed())
				assert.NotEmpty(t, res.Classes[0].Reason)
			}
			require.Len(t, f.events.Events(), 1)
			assert.Equal(t, tt.status, f.events.Events()[0].Status)
		})
	}

	t.Run("raised at runtime", func(t *testing.T) {
		f := newFixture(t, map[string][]byte{"p/Counter": counter(0x03)}, redefine.Options{})
		k := f.load("p/Counter")

		res := f.redefine(def("p/Counter", counter(0x03, "reset")))
		require.Equal(t, redefine.StatusAddMethodNotImplemented, res.Status)

		f.redefiner.SetCapability(redefine.CapabilityAddMethod)
		assert.Equal(t, redefine.CapabilityAddMethod, f.redefiner.Capability())
		res = f.redefine(def("p/Counter", counter(0x03, "reset")))
		require.Equal(t, redefine.StatusSuccess, res.Status)
		assert.NotNil(t, f.method(k, "reset", "()V"))
	})
}

func TestRedefineClasses_AllOrNothing(t *testing.T) {
	other := func(extra ...string) []byte {
		b := testutil.NewClass("p/Other", symbol.ObjectName, testutil.AccPublic|testutil.AccSuper)
		for _, name := range extra {
			b.Method(testutil.AccPublic, name, "()V")
		}
		return b.Build()
	}
	f := newFixture(t, map[string][]byte{"p/Counter": counter(0x03), "p/Other": other()}, redefine.Options{})
	k := f.load("p/Counter")
	o := f.load("p/Other")

	res := f.redefine(def("p/Counter", counter(0x04)), def("p/Other", other("added")))

	assert.Equal(t, redefine.StatusAddMethodNotImplemented, res.Status)
	require.Len(t, res.Classes, 2)
	assert.Equal(t, redefine.StatusSuccess, res.Classes[0].Status)
	assert.Equal(t, redefine.StatusAddMethodNotImplemented, res.Classes[1].Status)
	assert.Zero(t, k.VersionNumber())
	assert.Zero(t, o.VersionNumber())
	assert.Equal(t, []byte{0x03, 0xac}, f.method(k, "value", "()I").Code().Bytecode)
}

func TestRedefineClasses_LinkFailureChangesNothing(t *testing.T) {
	a := func(flags uint16) []byte {
		return testutil.NewClass("p/A", symbol.ObjectName, flags).
			Method(testutil.AccPublic, "run", "()V").
			Build()
	}
	b := func(fields ...string) []byte {
		cb := testutil.NewClass("p/B", symbol.ObjectName, testutil.AccPublic|testutil.AccSuper)
		for _, name := range fields {
			cb.Field(testutil.AccPrivate, name, "I")
		}
		return cb.Build()
	}
	f := newFixture(t, map[string][]byte{
		"p/A":   a(testutil.AccPublic | testutil.AccSuper),
		"p/Sub": testutil.NewClass("p/Sub", "p/A", testutil.AccPublic|testutil.AccSuper).Build(),
		"p/B":   b(),
	}, redefine.Options{Capability: redefine.CapabilityArbitrary})
	ka := f.load("p/A")
	sub := f.load("p/Sub")
	kb := f.load("p/B")

	_, err := f.redefiner.RedefineClasses(context.Background(), nil, []redefine.ClassDefinition{
		def("p/B", b("extra")),
		def("p/A", a(testutil.AccPublic|testutil.AccSuper|testutil.AccFinal)),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p/Sub")

	for _, k := range []*runtime.ObjectKlass{ka, sub, kb} {
		assert.Zero(t, k.VersionNumber(), "%s", k)
	}
	assert.Zero(t, ka.Flags()&testutil.AccFinal)
	assert.Empty(t, kb.FieldTable())
	assert.Empty(t, f.events.Events())
}

func TestRedefineClasses_InvalidClassFormat(t *testing.T) {
	tests := []struct {
		name string
		defs []redefine.ClassDefinition
	}{
		{"malformed bytes", []redefine.ClassDefinition{def("p/Counter", []byte{0xca, 0xfe, 0xba, 0xbe})}},
		{"wrong name", []redefine.ClassDefinition{def("p/Counter", testutil.SimpleClass("p/Other"))}},
		{"same class twice", []redefine.ClassDefinition{def("p/Counter", counter(0x04)), def("p/Counter", counter(0x05))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string][]byte{"p/Counter": counter(0x03)}, redefine.Options{})
			k := f.load("p/Counter")

			res := f.redefine(tt.defs...)
			assert.Equal(t, redefine.StatusInvalidClassFormat, res.Status)
			require.Len(t, res.Classes, 1)
			assert.Equal(t, "p/Counter", res.Classes[0].Class)
			assert.Equal(t, redefine.InvalidClassFormat, res.Classes[0].Change)
			assert.Zero(t, k.VersionNumber())
		})
	}
}

// greeter returns a class whose greet method loads a string constant. The
// pool layout does not depend on the greeting.
func greeter(greeting string) []byte {
	b := testutil.NewClass("p/Greeter", symbol.ObjectName, testutil.AccPublic|testutil.AccSuper)
	str := b.String(greeting)
	return b.
		Method(testutil.AccPublic, "<init>", "()V").
		Method(testutil.AccPublic, "greet", "()Ljava/lang/String;", testutil.WithCode(1, 1, []byte{0x12, byte(str), 0xb0})).
		Method(testutil.AccPublic, "count", "()I", testutil.WithCode(1, 1, []byte{0x03, 0xac})).
		Build()
}

func TestRedefineClasses_ConstantOnlyChange(t *testing.T) {
	f := newFixture(t, map[string][]byte{"p/Greeter": greeter("hello")}, redefine.Options{})
	k := f.load("p/Greeter")
	greet := f.method(k, "greet", "()Ljava/lang/String;")
	count := f.method(k, "count", "()I")

	res := f.redefine(def("p/Greeter", greeter("howdy")))

	require.Equal(t, redefine.StatusSuccess, res.Status)
	assert.Equal(t, redefine.MethodBodyChange, res.Classes[0].Change)
	assert.Equal(t, []string{"greet()Ljava/lang/String;"}, res.Classes[0].Methods)
	assert.Equal(t, 1, k.VersionNumber())
	assert.True(t, greet.Parsed().BodyChanged())
	assert.False(t, count.Parsed().BodyChanged())
	assert.Equal(t, greeter("howdy"), k.Parsed().Bytes)
}

func anonymous(name, iface, method string) []byte {
	return testutil.NewClass(name, symbol.ObjectName, testutil.AccSuper).
		Interfaces(iface).
		EnclosingMethod("p/Outer", "main", "()V").
		Method(0, "<init>", "()V").
		Method(testutil.AccPublic, method, "()V").
		Build()
}

func TestRedefineClasses_AnonymousClasses(t *testing.T) {
	loaded := map[string][]byte{
		"p/Outer$1": anonymous("p/Outer$1", runnable, "run"),
		"p/Outer$2": anonymous("p/Outer$2", callable, "call"),
	}

	t.Run("recompiled in a different order", func(t *testing.T) {
		f := newFixture(t, loaded, redefine.Options{})
		one, two := f.load("p/Outer$1"), f.load("p/Outer$2")

		res := f.redefine(
			def("p/Outer$1", anonymous("p/Outer$1", callable, "call")),
			def("p/Outer$2", anonymous("p/Outer$2", runnable, "run")))

		require.Equal(t, redefine.StatusSuccess, res.Status)
		assert.Equal(t, map[string]string{"p/Outer$1": "p/Outer$2", "p/Outer$2": "p/Outer$1"}, res.Renamed)
		for _, o := range res.Classes {
			assert.Equal(t, redefine.NoChange, o.Change, o.Class)
		}
		assert.Zero(t, one.VersionNumber())
		assert.Zero(t, two.VersionNumber())
		assert.Empty(t, res.Added)
		assert.Empty(t, res.Removed)

		assert.Equal(t, 1, f.redefiner.Cache().Len())
		infos, ok, err := f.redefiner.Cache().Get(context.Background(), nil, "p/Outer")
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, infos, 2)
		for _, info := range infos {
			if info.Name == "p/Outer$2" {
				assert.Contains(t, info.Hierarchy, callable)
			}
		}

		again := f.redefine(
			def("p/Outer$1", anonymous("p/Outer$1", callable, "call")),
			def("p/Outer$2", anonymous("p/Outer$2", runnable, "run")))
		require.Equal(t, redefine.StatusSuccess, again.Status)
		assert.Equal(t, res.Renamed, again.Renamed)
	})

	t.Run("new anonymous class", func(t *testing.T) {
		f := newFixture(t, loaded, redefine.Options{})
		f.load("p/Outer$1")
		f.load("p/Outer$2")
		added := testutil.NewClass("p/Outer$3", symbol.ObjectName, testutil.AccSuper).
			EnclosingMethod("p/Outer", "main", "()V").
			Method(0, "<init>", "()V").
			Build()

		res := f.redefine(
			def("p/Outer$1", anonymous("p/Outer$1", runnable, "run")),
			def("p/Outer$2", anonymous("p/Outer$2", callable, "call")),
			def("p/Outer$3", added))

		require.Equal(t, redefine.StatusSuccess, res.Status)
		assert.Empty(t, res.Renamed)
		require.Len(t, res.Added, 1)
		assert.Equal(t, "p/Outer$3", res.Added[0].Name)
		assert.Len(t, res.Classes, 2)
	})

	t.Run("dropped anonymous class", func(t *testing.T) {
		f := newFixture(t, loaded, redefine.Options{})
		f.load("p/Outer$1")
		f.load("p/Outer$2")

		res := f.redefine(def("p/Outer$1", anonymous("p/Outer$1", callable, "call")))

		require.Equal(t, redefine.StatusSuccess, res.Status)
		assert.Equal(t, map[string]string{"p/Outer$1": "p/Outer$2"}, res.Renamed)
		assert.Equal(t, []string{"p/Outer$1"}, res.Removed)
	})

	t.Run("persistence failure is not fatal", func(t *testing.T) {
		store := new(appmock.MockFingerprintStore)
		store.ExpectLoadFingerprints("bootstrap", "p/Outer", nil, false, nil)
		store.ExpectSaveFingerprints("bootstrap", "p/Outer", errors.New("disk full"))
		f := newFixture(t, loaded, redefine.Options{Cache: redefine.NewFingerprintCache(store, nil)})
		f.load("p/Outer$1")
		f.load("p/Outer$2")

		res := f.redefine(def("p/Outer$1", anonymous("p/Outer$1", runnable, "run")))
		assert.Equal(t, redefine.StatusSuccess, res.Status)
		store.AssertExpectations(t)
	})
}
