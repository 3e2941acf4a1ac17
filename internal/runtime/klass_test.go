package runtime

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klasslink/internal/kind"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/internal/testutil"
	apperrors "github.com/klasslink/pkg/errors"
)

func TestEnv_Primitives(t *testing.T) {
	env := NewEnv(symbol.NewTable(), nil)

	assert.Len(t, env.Primitives(), kind.NumPrimitives+1)
	for _, k := range kind.Primitives {
		p := env.Primitive(k)
		require.NotNil(t, p)
		assert.Equal(t, k, p.Kind())
		assert.Equal(t, string(k.Char()), p.Type().String())
		assert.Nil(t, p.Superclass())
		assert.NoError(t, p.Initialize(context.Background()))
	}
	assert.Equal(t, kind.Void, env.Primitive(kind.Void).Kind())
	assert.Nil(t, env.Object())

	_, err := env.Primitive(kind.Void).ArrayClass()
	assert.Error(t, err)
	assert.Panics(t, func() { env.Primitive(kind.Object) })
}

func TestArrayKlass(t *testing.T) {
	w := newWorld(t)
	object := w.klasses[symbol.ObjectName]
	assert.Same(t, object, w.env.Object())

	t.Run("cached per component", func(t *testing.T) {
		a1, err := object.ArrayClass()
		require.NoError(t, err)
		a2, err := object.ArrayClass()
		require.NoError(t, err)
		assert.Same(t, a1, a2)
		assert.Equal(t, "[Ljava/lang/Object;", a1.Type().String())
		assert.Same(t, object, a1.Superclass())
	})

	t.Run("concurrent creation yields one array class", func(t *testing.T) {
		intKlass := w.env.Primitive(kind.Int)
		results := make([]*ArrayKlass, 16)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _ = intKlass.ArrayClass()
			}(i)
		}
		wg.Wait()
		for _, r := range results {
			assert.Same(t, results[0], r)
		}
	})

	t.Run("nested arrays", func(t *testing.T) {
		ints, err := w.env.Primitive(kind.Int).ArrayClass()
		require.NoError(t, err)
		matrix, err := ints.ArrayClass()
		require.NoError(t, err)
		assert.Equal(t, 2, matrix.Dimensions())
		assert.Same(t, ints, matrix.Component())
		assert.Same(t, w.env.Primitive(kind.Int), matrix.Elemental())
		assert.Equal(t, "[[I", matrix.Name().String())
	})

	t.Run("dimension limit", func(t *testing.T) {
		var k Klass = w.env.Primitive(kind.Byte)
		for i := 0; i < MaxArrayDimensions; i++ {
			a, err := k.ArrayClass()
			require.NoError(t, err)
			k = a
		}
		_, err := k.ArrayClass()
		require.Error(t, err)
		assert.True(t, apperrors.IsLinkageError(err))
	})
}

func TestIsAssignableFrom(t *testing.T) {
	w := newWorld(t)
	object := w.klasses[symbol.ObjectName]
	cloneable := w.define(nil, testutil.NewInterface(symbol.CloneableName).Build())
	iface := w.define(nil, abstractInterface("p/I", "run"))
	base := w.define(nil, testutil.SimpleClass("p/Base"))
	sub := w.define(nil, testutil.NewClass("p/Sub", "p/Base", testutil.AccPublic).Interfaces("p/I").
		Method(testutil.AccPublic, "run", "()V").Build())

	subs, err := sub.ArrayClass()
	require.NoError(t, err)
	bases, err := base.ArrayClass()
	require.NoError(t, err)
	objects, err := object.ArrayClass()
	require.NoError(t, err)
	ints, err := w.env.Primitive(kind.Int).ArrayClass()
	require.NoError(t, err)
	longs, err := w.env.Primitive(kind.Long).ArrayClass()
	require.NoError(t, err)

	tests := []struct {
		name   string
		target Klass
		value  Klass
		want   bool
	}{
		{"same class", base, base, true},
		{"superclass accepts subclass", base, sub, true},
		{"subclass rejects superclass", sub, base, false},
		{"object accepts class", object, sub, true},
		{"object accepts interface", object, iface, true},
		{"object accepts array", object, ints, true},
		{"object rejects primitive", object, w.env.Primitive(kind.Int), false},
		{"interface accepts implementor", iface, sub, true},
		{"interface rejects non-implementor", iface, base, false},
		{"cloneable accepts array", cloneable, ints, true},
		{"covariant arrays", bases, subs, true},
		{"covariant arrays reversed", subs, bases, false},
		{"object array accepts class array", objects, subs, true},
		{"object array rejects int array", objects, ints, false},
		{"primitive arrays match exactly", ints, longs, false},
		{"primitive arrays identical", ints, ints, true},
		{"primitive identity", w.env.Primitive(kind.Int), w.env.Primitive(kind.Int), true},
		{"primitives differ", w.env.Primitive(kind.Int), w.env.Primitive(kind.Long), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.target.IsAssignableFrom(tt.value))
		})
	}

	assert.Equal(t, []*ObjectKlass{cloneable}, ints.Interfaces())
}

func TestObjectKlass_Lookups(t *testing.T) {
	w := newWorld(t)
	w.define(nil, testutil.NewInterface("p/I").
		Field(testutil.AccPublic|testutil.AccStatic|testutil.AccFinal, "LIMIT", "I").
		Method(testutil.AccPublic, "greet", "()V").
		Method(testutil.AccPublic|testutil.AccAbstract, "run", "()V").
		Build())
	j := w.define(nil, testutil.NewClass("p/J", symbol.ObjectName, testutil.AccPublic|testutil.AccInterface|testutil.AccAbstract).
		Interfaces("p/I").
		Method(testutil.AccPublic|testutil.AccAbstract, "jump", "()V").
		Build())
	base := w.define(nil, testutil.NewClass("p/Base", symbol.ObjectName, testutil.AccPublic).
		Field(0, "count", "I").
		Field(testutil.AccStatic, "LIMIT", "I").
		Method(testutil.AccPublic, "<init>", "()V").
		Method(testutil.AccPublic, "foo", "()V").
		Build())
	sub := w.define(nil, testutil.NewClass("p/Sub", "p/Base", testutil.AccPublic).Interfaces("p/J").
		Field(0, "name", "Ljava/lang/String;").
		Method(testutil.AccPublic, "run", "()V").
		Method(testutil.AccPublic, "jump", "()V").
		Build())

	t.Run("method in superclass", func(t *testing.T) {
		m := sub.LookupMethod(w.name("foo"), w.sig("()V"))
		require.NotNil(t, m)
		assert.Same(t, base, m.Holder())
	})

	t.Run("method from Object", func(t *testing.T) {
		m := sub.LookupMethod(w.name("hashCode"), w.sig("()I"))
		require.NotNil(t, m)
		assert.Equal(t, symbol.ObjectName, m.Holder().Name().String())
	})

	t.Run("default method through interfaces", func(t *testing.T) {
		m := sub.LookupMethod(w.name("greet"), w.sig("()V"))
		require.NotNil(t, m)
		assert.True(t, m.IsDefault())
	})

	t.Run("declared lookup uses interned identity", func(t *testing.T) {
		assert.Nil(t, sub.LookupDeclaredMethod(w.name("foo"), w.sig("()V")))
		assert.Nil(t, sub.LookupMethod(w.name("foo"), w.sig("()I")))
	})

	t.Run("interface method: own declaration", func(t *testing.T) {
		m := j.LookupInterfaceMethod(w.name("jump"), w.sig("()V"))
		require.NotNil(t, m)
		assert.Same(t, j, m.Holder())
	})

	t.Run("interface method: Object public method", func(t *testing.T) {
		m := j.LookupInterfaceMethod(w.name("toString"), w.sig("()Ljava/lang/String;"))
		require.NotNil(t, m)
		assert.Equal(t, symbol.ObjectName, m.Holder().Name().String())
	})

	t.Run("interface method: Object protected method is skipped", func(t *testing.T) {
		assert.Nil(t, j.LookupInterfaceMethod(w.name("clone"), w.sig("()Ljava/lang/Object;")))
	})

	t.Run("interface method: superinterface default", func(t *testing.T) {
		m := j.LookupInterfaceMethod(w.name("greet"), w.sig("()V"))
		require.NotNil(t, m)
		assert.Equal(t, "p/I", m.Holder().Name().String())
	})

	t.Run("interface method: abstract superinterface method", func(t *testing.T) {
		m := j.LookupInterfaceMethod(w.name("run"), w.sig("()V"))
		require.NotNil(t, m)
		assert.True(t, m.IsAbstract())
	})

	t.Run("fields: own, interfaces, superclass", func(t *testing.T) {
		assert.Same(t, sub, w.field(sub, "name", "Ljava/lang/String;").Holder())
		assert.Equal(t, "p/I", w.field(sub, "LIMIT", "I").Holder().Name().String())
		assert.Same(t, base, w.field(sub, "count", "I").Holder())
		assert.Same(t, base, w.field(base, "LIMIT", "I").Holder())
		assert.Nil(t, sub.LookupField(w.name("count"), w.env.Symbols.Type("J")))
	})

	t.Run("field table", func(t *testing.T) {
		table := sub.FieldTable()
		require.Len(t, table, 2)
		assert.Equal(t, "count", table[0].Name().String())
		assert.Equal(t, "name", table[1].Name().String())
		assert.Equal(t, 1, table[1].Slot())
		assert.Len(t, sub.DeclaredFields(), 1)
		assert.Len(t, base.DeclaredFields(), 2)
	})

	t.Run("field type resolution", func(t *testing.T) {
		k, err := w.field(sub, "count", "I").ResolveType(context.Background())
		require.NoError(t, err)
		assert.Same(t, w.env.Primitive(kind.Int), k)

		_, err = w.field(sub, "name", "Ljava/lang/String;").ResolveType(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))

		w.define(nil, testutil.SimpleClass(symbol.StringName))
		k, err = w.field(sub, "name", "Ljava/lang/String;").ResolveType(context.Background())
		require.NoError(t, err)
		assert.Equal(t, symbol.StringName, k.Name().String())
	})

	t.Run("subtypes", func(t *testing.T) {
		assert.Equal(t, []*ObjectKlass{sub}, base.Subclasses())
		assert.Equal(t, []*ObjectKlass{sub}, j.Subclasses())
	})
}

func TestObjectKlass_StaticConstants(t *testing.T) {
	w := newWorld(t)
	b := testutil.NewClass("p/Consts", symbol.ObjectName, testutil.AccPublic)
	i := b.Integer(-42)
	l := b.Long(1 << 40)
	f := b.Float(1.5)
	d := b.Double(-2.25)
	s := b.String("hello")
	z := b.Integer(1)
	k := w.define(nil, b.
		Field(testutil.AccStatic|testutil.AccFinal, "I", "I", testutil.WithConstantValue(i)).
		Field(testutil.AccStatic|testutil.AccFinal, "L", "J", testutil.WithConstantValue(l)).
		Field(testutil.AccStatic|testutil.AccFinal, "F", "F", testutil.WithConstantValue(f)).
		Field(testutil.AccStatic|testutil.AccFinal, "D", "D", testutil.WithConstantValue(d)).
		Field(testutil.AccStatic|testutil.AccFinal, "S", "Ljava/lang/String;", testutil.WithConstantValue(s)).
		Field(testutil.AccStatic|testutil.AccFinal, "Z", "Z", testutil.WithConstantValue(z)).
		Field(testutil.AccStatic, "plain", "I").
		Build())

	require.NoError(t, k.Prepare(context.Background()))
	assert.Equal(t, StatePrepared, k.State())

	statics := k.Statics()
	require.NotNil(t, statics)
	assert.Same(t, k, k.Mirror().Klass())
	assert.Equal(t, int32(-42), int32(uint32(statics.Primitive(w.field(k, "I", "I")))))
	assert.Equal(t, uint64(1<<40), statics.Primitive(w.field(k, "L", "J")))
	assert.Equal(t, float32(1.5), math.Float32frombits(uint32(statics.Primitive(w.field(k, "F", "F")))))
	assert.Equal(t, -2.25, math.Float64frombits(statics.Primitive(w.field(k, "D", "D"))))
	assert.Equal(t, uint64(1), statics.Primitive(w.field(k, "Z", "Z")))
	assert.Same(t, w.env.Symbols.Constant("hello"), statics.Object(w.field(k, "S", "Ljava/lang/String;")))
	assert.Equal(t, uint64(0), statics.Primitive(w.field(k, "plain", "I")))

	statics.SetPrimitive(w.field(k, "plain", "I"), 7)
	assert.Equal(t, uint64(7), statics.Primitive(w.field(k, "plain", "I")))

	other := w.define(nil, testutil.NewClass("p/Inst", symbol.ObjectName, 0).Field(0, "x", "I").Build())
	assert.Panics(t, func() { statics.Primitive(w.field(other, "x", "I")) })
}
