package vm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	appmock "github.com/klasslink/internal/mock"
	"github.com/klasslink/internal/redefine"
	"github.com/klasslink/internal/repository"
	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/internal/storage"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/internal/testutil"
	"github.com/klasslink/pkg/config"
	apperrors "github.com/klasslink/pkg/errors"
	"github.com/klasslink/pkg/utils"
)

func counter(body byte) []byte {
	return testutil.NewClass("p/Counter", symbol.ObjectName, testutil.AccPublic|testutil.AccSuper).
		Method(testutil.AccPublic, "<init>", "()V").
		Method(testutil.AccPublic, "value", "()I", testutil.WithCode(1, 1, []byte{body, 0xac})).
		Build()
}

func memoryClassPath(classes map[string][]byte) *storage.ClassPath {
	mem := storage.NewMemoryStorage()
	mem.Put(symbol.ObjectName+storage.ClassSuffix, testutil.ObjectClass())
	for name, data := range classes {
		mem.Put(name+storage.ClassSuffix, data)
	}
	return storage.NewClassPath(nil, storage.Entry{Storage: mem})
}

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader("yaml", []byte(yaml))
	require.NoError(t, err)
	return cfg
}

func newContext(t *testing.T, cfg *config.Config, classes map[string][]byte) *Context {
	t.Helper()
	c, err := New(context.Background(), cfg, Options{
		Logger:    utils.OrNull(nil),
		ClassPath: memoryClassPath(classes),
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Defaults(t *testing.T) {
	c := newContext(t, nil, map[string][]byte{"p/Counter": counter(0x03)})

	assert.Nil(t, c.Repositories())
	assert.Equal(t, redefine.CapabilityMethodBody, c.Redefiner().Capability())
	assert.Same(t, c.Symbols(), c.Env().Symbols)
	assert.Same(t, c.Env(), c.Registries().Env())

	k, err := c.Load(context.Background(), "p/Counter", nil)
	require.NoError(t, err)
	assert.Equal(t, "p/Counter", k.Name().String())
	assert.Equal(t, "bootstrap", runtime.LoaderName(k.Loader()))
}

func TestNew_Preload(t *testing.T) {
	t.Run("Loads", func(t *testing.T) {
		cfg := loadConfig(t, `
registry:
  preload_workers: 2
  preload: ["p/Counter", "java/lang/Object"]
`)
		c := newContext(t, cfg, map[string][]byte{"p/Counter": counter(0x03)})

		k := c.Registries().FindLoaded(c.Symbols().Type("Lp/Counter;"), nil)
		assert.NotNil(t, k)
	})

	t.Run("MissingClass", func(t *testing.T) {
		cfg := loadConfig(t, `
registry:
  preload: ["p/Missing"]
`)
		_, err := New(context.Background(), cfg, Options{
			Logger:    utils.OrNull(nil),
			ClassPath: memoryClassPath(nil),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "p/Missing")
	})
}

func TestNew_Timer(t *testing.T) {
	dir := testutil.ClassDir(t, map[string][]byte{
		symbol.ObjectName: testutil.ObjectClass(),
		"p/Counter":       counter(0x03),
	})
	cfg := loadConfig(t, fmt.Sprintf(`
classpath:
  entries: [%q]
registry:
  preload: ["p/Counter"]
`, dir))

	timer := utils.NewTimer("vm")
	c, err := New(context.Background(), cfg, Options{Logger: utils.OrNull(nil), Timer: timer})
	require.NoError(t, err)
	defer c.Close()

	var names []string
	for _, p := range timer.Phases() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"class path", "registries", "preload"}, names)
}

func TestNew_LocalClassPath(t *testing.T) {
	dir := testutil.ClassDir(t, map[string][]byte{
		symbol.ObjectName: testutil.ObjectClass(),
		"p/Counter":       counter(0x03),
	})
	cfg := loadConfig(t, fmt.Sprintf(`
classpath:
  entries: [%q]
`, dir))

	c, err := New(context.Background(), cfg, Options{Logger: utils.OrNull(nil)})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Load(context.Background(), "p/Counter", nil)
	require.NoError(t, err)

	_, err = c.Load(context.Background(), "p/Missing", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetErrorCode(err))
}

func TestNew_PersistFingerprints(t *testing.T) {
	cfg := loadConfig(t, `
redefinition:
  capability: add_method
  persist_fingerprints: true
database:
  type: sqlite
  path: ":memory:"
`)
	c := newContext(t, cfg, map[string][]byte{"p/Counter": counter(0x03)})
	ctx := context.Background()

	require.NotNil(t, c.Repositories())
	assert.Equal(t, redefine.CapabilityAddMethod, c.Redefiner().Capability())
	require.NoError(t, c.Repositories().HealthCheck(ctx))

	t.Run("CacheWritesThrough", func(t *testing.T) {
		infos := []*redefine.ClassInfo{{
			Name:      "p/Outer$1",
			Hierarchy: []string{symbol.ObjectName},
			Methods:   []string{"<init>()V"},
		}}
		require.NoError(t, c.Redefiner().Cache().Put(ctx, nil, "p/Outer", infos))

		stored, ok, err := c.Repositories().Fingerprints.LoadFingerprints(ctx, "bootstrap", "p/Outer")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, infos, stored)
	})

	t.Run("EventsRecorded", func(t *testing.T) {
		k, err := c.Load(ctx, "p/Counter", nil)
		require.NoError(t, err)

		status, err := c.Redefiner().RedefineClass(ctx, k.(*runtime.ObjectKlass), counter(0x04))
		require.NoError(t, err)
		assert.Equal(t, redefine.StatusSuccess, status)

		events, err := c.Repositories().Events.ListRedefinitions(ctx, repository.EventQuery{Class: "p/Counter"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, redefine.MethodBodyChange, events[0].Change)
		assert.Equal(t, 1, events[0].Version)
	})

	t.Run("Close", func(t *testing.T) {
		require.NoError(t, c.Close())
		assert.Nil(t, c.Repositories())
		assert.NoError(t, c.Close())
	})
}

func TestContext_ClassNames(t *testing.T) {
	c := newContext(t, nil, map[string][]byte{"p/Counter": counter(0x03)})

	names, err := c.ClassNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{symbol.ObjectName, "p/Counter"}, names)
}

func TestNew_ExecutionHooks(t *testing.T) {
	ctx := context.Background()
	data := testutil.NewClass("p/Boot", symbol.ObjectName, testutil.AccPublic|testutil.AccSuper).
		Method(testutil.AccStatic, "<clinit>", "()V", testutil.WithCode(0, 0, []byte{0xb1})).
		Method(testutil.AccPublic, "value", "()I", testutil.WithCode(1, 1, []byte{0x03, 0xac})).
		Build()

	initializer := new(appmock.MockInitializer)
	initializer.On("RunClassInitializer", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	binder := new(appmock.MockBinder)
	binder.On("Bind", mock.Anything, mock.Anything).Return("compiled", nil).Once()

	c, err := New(ctx, nil, Options{
		Logger:      utils.OrNull(nil),
		ClassPath:   memoryClassPath(map[string][]byte{"p/Boot": data}),
		Initializer: initializer,
		Binder:      binder,
	})
	require.NoError(t, err)
	defer c.Close()

	k, err := c.Load(ctx, "p/Boot", nil)
	require.NoError(t, err)
	obj := k.(*runtime.ObjectKlass)

	require.NoError(t, obj.Initialize(ctx))
	require.NoError(t, obj.Initialize(ctx))
	assert.Equal(t, runtime.StateInitialized, obj.State())
	initializer.AssertNumberOfCalls(t, "RunClassInitializer", 1)

	m := obj.LookupDeclaredMethod(c.Symbols().Name("value"), c.Symbols().Signature("()I"))
	require.NotNil(t, m)
	for range 3 {
		body, err := m.ExecutableBody()
		require.NoError(t, err)
		assert.Equal(t, "compiled", body)
	}
	binder.AssertExpectations(t)
}
