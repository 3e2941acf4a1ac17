// Package runtime implements the runtime type objects of the linker: the
// closed Klass family (primitive, array and object classes), their methods
// and fields, the dispatch tables of object classes, and the class
// initialization state machine.
package runtime

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/kind"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/pkg/collections"
	apperrors "github.com/klasslink/pkg/errors"
	"github.com/klasslink/pkg/utils"
)

// MaxArrayDimensions is the deepest array type that can be created.
const MaxArrayDimensions = 255

// Klass is a runtime type. The set of implementations is closed:
// *PrimitiveKlass, *ArrayKlass and *ObjectKlass. Identity is pointer
// identity; a Klass keeps its identity across redefinitions.
type Klass interface {
	Name() *symbol.Name
	Type() *symbol.Type
	// Loader returns the defining loader, nil for the bootstrap loader.
	Loader() Loader
	Kind() kind.Kind
	Flags() uint16
	IsInterface() bool
	Superclass() *ObjectKlass
	Interfaces() []*ObjectKlass
	// ArrayClass returns the array type whose component is this type,
	// creating it on first use.
	ArrayClass() (*ArrayKlass, error)
	Mirror() *Mirror
	IsAssignableFrom(other Klass) bool
	Initialize(ctx context.Context) error
	String() string

	sealed()
}

// Loader is a guest class loader. The bootstrap loader is represented by a
// nil Loader.
type Loader interface {
	LoaderName() string
	// LoadClass asks the guest loader for a class, delegating upward as the
	// loader sees fit. A nil Klass with a nil error means not found.
	LoadClass(ctx context.Context, name *symbol.Type, resolve bool) (Klass, error)
}

// LoaderName returns a printable loader name.
func LoaderName(l Loader) string {
	if l == nil {
		return "bootstrap"
	}
	return l.LoaderName()
}

// Resolver resolves a type as seen from a loader. A nil Klass with a nil
// error means the type was not found.
type Resolver interface {
	Resolve(ctx context.Context, t *symbol.Type, loader Loader) (Klass, error)
}

// ConstraintChecker enforces that two loaders agree on a type name.
type ConstraintChecker interface {
	CheckConstraint(ctx context.Context, t *symbol.Type, l1, l2 Loader) error
}

// Initializer runs class initializers. It is the boundary to the bytecode
// executor.
type Initializer interface {
	RunClassInitializer(ctx context.Context, k *ObjectKlass, clinit *Method) error
}

// Body is whatever an execution engine binds a method to.
type Body any

// Binder produces the executable body of a method.
type Binder interface {
	Bind(m *Method, code *classfile.ParsedMethod) (Body, error)
}

// Env holds the collaborators shared by every klass of one VM context.
// Collaborator fields must be set before the first klass is created.
type Env struct {
	Symbols     *symbol.Table
	Logger      utils.Logger
	Resolver    Resolver
	Constraints ConstraintChecker
	Initializer Initializer
	Binder      Binder

	nextID     atomic.Int64
	primitives [kind.NumPrimitives]*PrimitiveKlass
	void       *PrimitiveKlass

	object       atomic.Pointer[ObjectKlass]
	cloneable    atomic.Pointer[ObjectKlass]
	serializable atomic.Pointer[ObjectKlass]

	// redefineMu serializes version swaps.
	redefineMu sync.Mutex
}

// NewEnv creates an environment with the primitive klasses in place.
func NewEnv(symbols *symbol.Table, logger utils.Logger) *Env {
	env := &Env{Symbols: symbols, Logger: utils.OrNull(logger)}
	for i, k := range kind.Primitives {
		env.primitives[i] = newPrimitiveKlass(env, k)
	}
	env.void = newPrimitiveKlass(env, kind.Void)
	return env
}

// Primitive returns the klass of a primitive kind (or void).
func (e *Env) Primitive(k kind.Kind) *PrimitiveKlass {
	if k == kind.Void {
		return e.void
	}
	if o := k.Order(); o >= 0 {
		return e.primitives[o]
	}
	apperrors.Internal("no primitive klass for kind %s", k)
	return nil
}

// Primitives returns the eight primitive klasses and void.
func (e *Env) Primitives() []*PrimitiveKlass {
	out := make([]*PrimitiveKlass, 0, kind.NumPrimitives+1)
	out = append(out, e.primitives[:]...)
	return append(out, e.void)
}

// Object returns the bootstrap java/lang/Object once it has been defined.
func (e *Env) Object() *ObjectKlass {
	return e.object.Load()
}

func (e *Env) register(k *ObjectKlass) {
	if k.loader != nil {
		return
	}
	switch k.name.String() {
	case symbol.ObjectName:
		e.object.Store(k)
	case symbol.CloneableName:
		e.cloneable.Store(k)
	case symbol.SerializableNm:
		e.serializable.Store(k)
	}
}

// base holds the state common to every klass variant.
type base struct {
	env    *Env
	name   *symbol.Name
	typ    *symbol.Type
	loader Loader
	array  collections.Memo[*ArrayKlass]
	mirror collections.Memo[*Mirror]
}

func (b *base) Name() *symbol.Name { return b.name }
func (b *base) Type() *symbol.Type { return b.typ }
func (b *base) Loader() Loader { return b.loader }

// Env returns the environment the klass belongs to.
func (b *base) Env() *Env { return b.env }

func (b *base) String() string {
	return strings.ReplaceAll(b.name.String(), "/", ".")
}

func (b *base) sealed() {}

func (b *base) arrayOf(self Klass, dims int) (*ArrayKlass, error) {
	return b.array.Get(func() (*ArrayKlass, error) {
		if dims+1 > MaxArrayDimensions {
			return nil, apperrors.Newf(apperrors.CodeLinkage, "%s: array type exceeds %d dimensions", self, MaxArrayDimensions)
		}
		return newArrayKlass(b.env, self), nil
	})
}

func (b *base) mirrorOf(self Klass, statics func() *StaticStorage) *Mirror {
	return b.mirror.MustGet(func() *Mirror {
		m := &Mirror{klass: self}
		if statics != nil {
			m.statics.Store(statics())
		}
		return m
	})
}

// PrimitiveKlass is one of the eight primitive types or void.
type PrimitiveKlass struct {
	base
	kind kind.Kind
}

func newPrimitiveKlass(env *Env, k kind.Kind) *PrimitiveKlass {
	desc := string(k.Char())
	return &PrimitiveKlass{
		base: base{env: env, name: env.Symbols.Name(k.String()), typ: env.Symbols.Type(desc)},
		kind: k,
	}
}

func (p *PrimitiveKlass) Kind() kind.Kind { return p.kind }

func (p *PrimitiveKlass) Flags() uint16 {
	return classfile.AccPublic | classfile.AccFinal | classfile.AccAbstract
}

func (p *PrimitiveKlass) IsInterface() bool { return false }
func (p *PrimitiveKlass) Superclass() *ObjectKlass { return nil }
func (p *PrimitiveKlass) Interfaces() []*ObjectKlass { return nil }
func (p *PrimitiveKlass) Initialize(context.Context) error { return nil }

func (p *PrimitiveKlass) ArrayClass() (*ArrayKlass, error) {
	if p.kind == kind.Void {
		return nil, apperrors.Newf(apperrors.CodeLinkage, "void has no array type")
	}
	return p.arrayOf(p, 0)
}

func (p *PrimitiveKlass) Mirror() *Mirror { return p.mirrorOf(p, nil) }

func (p *PrimitiveKlass) IsAssignableFrom(other Klass) bool { return other == Klass(p) }

// ArrayKlass is an array type. It has no declared members; its superclass
// is java/lang/Object and it implements Cloneable and Serializable.
type ArrayKlass struct {
	base
	component Klass
	elemental Klass
	dims      int
}

func newArrayKlass(env *Env, component Klass) *ArrayKlass {
	desc := "[" + component.Type().String()
	a := &ArrayKlass{
		base: base{
			env:    env,
			name:   env.Symbols.Name(desc),
			typ:    env.Symbols.Type(desc),
			loader: component.Loader(),
		},
		component: component,
		elemental: component,
		dims:      1,
	}
	if c, ok := component.(*ArrayKlass); ok {
		a.elemental = c.elemental
		a.dims = c.dims + 1
	}
	return a
}

// Component returns the component type.
func (a *ArrayKlass) Component() Klass { return a.component }

// Elemental returns the innermost non-array component.
func (a *ArrayKlass) Elemental() Klass { return a.elemental }

// Dimensions returns the array rank.
func (a *ArrayKlass) Dimensions() int { return a.dims }

func (a *ArrayKlass) Kind() kind.Kind { return kind.Object }

func (a *ArrayKlass) Flags() uint16 {
	access := a.elemental.Flags() & (classfile.AccPublic | classfile.AccPrivate | classfile.AccProtected)
	return access | classfile.AccFinal | classfile.AccAbstract
}

func (a *ArrayKlass) IsInterface() bool { return false }

func (a *ArrayKlass) Superclass() *ObjectKlass { return a.env.Object() }

func (a *ArrayKlass) Interfaces() []*ObjectKlass {
	var out []*ObjectKlass
	if c := a.env.cloneable.Load(); c != nil {
		out = append(out, c)
	}
	if s := a.env.serializable.Load(); s != nil {
		out = append(out, s)
	}
	return out
}

// Initialize is a no-op: array types are always initialized.
func (a *ArrayKlass) Initialize(context.Context) error { return nil }

func (a *ArrayKlass) ArrayClass() (*ArrayKlass, error) { return a.arrayOf(a, a.dims) }

func (a *ArrayKlass) Mirror() *Mirror { return a.mirrorOf(a, nil) }

func (a *ArrayKlass) IsAssignableFrom(other Klass) bool {
	o, ok := other.(*ArrayKlass)
	if !ok {
		return false
	}
	if o == a {
		return true
	}
	_, primitive := a.component.(*PrimitiveKlass)
	_, otherPrimitive := o.component.(*PrimitiveKlass)
	if primitive || otherPrimitive {
		return a.component == o.component
	}
	return a.component.IsAssignableFrom(o.component)
}

// Mirror is the guest-visible class object of a klass. It refers back to
// its klass without owning it and holds the static field storage of object
// classes.
type Mirror struct {
	klass   Klass
	statics atomic.Pointer[StaticStorage]
}

// Klass returns the klass the mirror reflects.
func (m *Mirror) Klass() Klass { return m.klass }

// Statics returns the static field storage, nil for primitive and array
// types.
func (m *Mirror) Statics() *StaticStorage { return m.statics.Load() }

// DottedName converts an internal name to its dotted form.
func DottedName(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}
