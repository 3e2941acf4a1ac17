package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/kind"
	"github.com/klasslink/internal/linker"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/pkg/collections"
	apperrors "github.com/klasslink/pkg/errors"
)

// ObjectKlass is a class or interface defined from class-file bytes.
//
// Everything derived from the class bytes lives in an immutable version
// snapshot. Redefinition publishes a new snapshot; readers load the
// snapshot once per operation and never observe a mix of two versions.
type ObjectKlass struct {
	base
	id         int
	super      *ObjectKlass
	interfaces []*ObjectKlass

	version atomic.Pointer[version]

	prepared  collections.Memo[bool]
	initMu    sync.Mutex
	initCond  *sync.Cond
	initState atomic.Int32
	initOwner *initToken

	published  atomic.Bool
	subMu      sync.Mutex
	subclasses []*ObjectKlass
}

// version is one snapshot of the class-derived state.
type version struct {
	number   int
	linked   *linker.LinkedKlass
	pool     *ConstantPool
	methods  []*Method
	mirandas []*Method

	// fieldTable holds all instance fields, inherited ones first.
	fieldTable   []*Field
	staticFields []*Field

	vtable      []*Method
	itable      [][]*Method
	iklassTable []*ObjectKlass

	// overrides pairs each method with the method of another class it
	// overrides or implements, for loading-constraint checks.
	overrides []override
}

type override struct {
	method     *Method
	overridden *Method
}

// NewObjectKlass creates the runtime class for linked and publishes it.
// super and interfaces must be the runtime classes of linked.Super and
// linked.Interfaces. The class starts in the Linked state with its dispatch
// tables built.
func NewObjectKlass(env *Env, linked *linker.LinkedKlass, super *ObjectKlass, interfaces []*ObjectKlass, loader Loader) (*ObjectKlass, error) {
	k, err := BuildObjectKlass(env, linked, super, interfaces, loader)
	if err != nil {
		return nil, err
	}
	k.Publish()
	return k, nil
}

// BuildObjectKlass creates the runtime class for linked without making it
// known to its supertypes. A class that loses an installation race is
// simply dropped; the winner is published with Publish.
func BuildObjectKlass(env *Env, linked *linker.LinkedKlass, super *ObjectKlass, interfaces []*ObjectKlass, loader Loader) (*ObjectKlass, error) {
	name := linked.Name()
	if (super == nil) != (linked.Super == nil) {
		return nil, apperrors.Newf(apperrors.CodeInternal, "%s: superclass does not match linked superclass", name)
	}
	if super != nil && super.Linked() != linked.Super {
		return nil, apperrors.Newf(apperrors.CodeInternal, "%s: superclass %s is linked to another version", name, super)
	}
	if len(interfaces) != len(linked.Interfaces) {
		return nil, apperrors.Newf(apperrors.CodeInternal, "%s: %d interfaces supplied, %d linked", name, len(interfaces), len(linked.Interfaces))
	}

	k := &ObjectKlass{
		base: base{
			env:    env,
			name:   name,
			typ:    env.Symbols.Type(symbol.TypeFromName(name.String())),
			loader: loader,
		},
		id:         int(env.nextID.Add(1)),
		super:      super,
		interfaces: interfaces,
	}
	k.initCond = sync.NewCond(&k.initMu)

	s := newStage()
	if _, err := k.buildVersion(s, linked, nil); err != nil {
		return nil, err
	}
	s.commit()
	k.initState.Store(int32(StateLinked))
	return k, nil
}

// Publish records k as a subtype of its supertypes, so redefinitions reach
// it, and registers well-known bootstrap classes with the environment.
// Publishing twice has no effect.
func (k *ObjectKlass) Publish() {
	if !k.published.CompareAndSwap(false, true) {
		return
	}
	if k.super != nil {
		k.super.addSubclass(k)
	}
	for _, iface := range k.interfaces {
		iface.addSubclass(k)
	}
	k.env.register(k)
	v := k.current()
	k.env.Logger.WithField("loader", LoaderName(k.loader)).Debug("linked %s: vtable=%d itables=%d fields=%d", k, len(v.vtable), len(v.itable), len(v.fieldTable))
}

// buildVersion derives a snapshot from linked and adds it to s. When old is
// non-nil, methods and fields with unchanged identity are carried over;
// their new state is staged in s.
func (k *ObjectKlass) buildVersion(s *stage, linked *linker.LinkedKlass, old *version) (*version, error) {
	v := &version{linked: linked}
	if old != nil {
		v.number = old.number + 1
	}
	v.pool = newConstantPool(k, linked.Parsed.Pool)
	s.add(k, v)

	var oldMethods map[methodKey]*Method
	if old != nil {
		oldMethods = make(map[methodKey]*Method, len(old.methods))
		for _, m := range old.methods {
			if !m.miranda {
				oldMethods[keyOf(m)] = m
			}
		}
	}
	for _, lm := range linked.Methods {
		key := methodKey{lm.Parsed.Name, lm.Parsed.Descriptor}
		if m, ok := oldMethods[key]; ok {
			s.setState(m, m.state.Load().rebound(lm))
			v.methods = append(v.methods, m)
			delete(oldMethods, key)
			continue
		}
		v.methods = append(v.methods, newMethod(k, lm))
	}
	for _, m := range oldMethods {
		s.setState(m, m.state.Load().obsoleted())
	}

	v.fieldTable = k.buildFieldTable(s, linked.InstanceFields, old)
	v.staticFields = k.buildFields(linked.StaticFields, old)

	if err := k.buildDispatch(s, v, old); err != nil {
		return nil, err
	}
	return v, nil
}

func (k *ObjectKlass) buildFieldTable(s *stage, own []*linker.LinkedField, old *version) []*Field {
	var inherited []*Field
	if k.super != nil {
		inherited = s.versionOf(k.super).fieldTable
	}
	table := make([]*Field, 0, len(inherited)+len(own))
	table = append(table, inherited...)
	return append(table, k.buildFields(own, old)...)
}

func (k *ObjectKlass) buildFields(linked []*linker.LinkedField, old *version) []*Field {
	var previous []*Field
	if old != nil {
		previous = append(previous, old.fieldTable...)
		previous = append(previous, old.staticFields...)
	}
	out := make([]*Field, len(linked))
	for i, lf := range linked {
		for _, f := range previous {
			if f.holder == k && sameShape(f.linked, lf) {
				out[i] = f
				break
			}
		}
		if out[i] == nil {
			out[i] = newField(k, lf)
		}
	}
	return out
}

type methodKey struct {
	name *symbol.Name
	sig  *symbol.Signature
}

func keyOf(m *Method) methodKey { return methodKey{m.name, m.sig} }

func (k *ObjectKlass) current() *version { return k.version.Load() }

// ID returns a small integer unique within the environment.
func (k *ObjectKlass) ID() int { return k.id }

// Linked returns the linked shape of the current version.
func (k *ObjectKlass) Linked() *linker.LinkedKlass { return k.current().linked }

// Parsed returns the parsed class of the current version.
func (k *ObjectKlass) Parsed() *classfile.ParsedClass { return k.current().linked.Parsed }

// VersionNumber counts redefinitions, starting at zero.
func (k *ObjectKlass) VersionNumber() int { return k.current().number }

// ConstantPool returns the runtime constant pool of the current version.
func (k *ObjectKlass) ConstantPool() *ConstantPool { return k.current().pool }

func (k *ObjectKlass) Kind() kind.Kind { return kind.Object }

func (k *ObjectKlass) Flags() uint16 { return k.current().linked.Flags() }

func (k *ObjectKlass) IsInterface() bool { return k.Flags()&classfile.AccInterface != 0 }

// IsAbstract reports whether the class is abstract.
func (k *ObjectKlass) IsAbstract() bool { return k.Flags()&classfile.AccAbstract != 0 }

func (k *ObjectKlass) Superclass() *ObjectKlass { return k.super }

func (k *ObjectKlass) Interfaces() []*ObjectKlass { return k.interfaces }

func (k *ObjectKlass) ArrayClass() (*ArrayKlass, error) { return k.arrayOf(k, 0) }

// Mirror returns the class mirror, creating it and the static storage on
// first use.
func (k *ObjectKlass) Mirror() *Mirror {
	return k.mirrorOf(k, func() *StaticStorage {
		l := k.current().linked.Layout
		return newStaticStorage(l.StaticBytes, l.StaticObjects)
	})
}

// Statics returns the static field storage.
func (k *ObjectKlass) Statics() *StaticStorage { return k.Mirror().Statics() }

// DeclaredMethods returns the declared methods followed by mirandas.
func (k *ObjectKlass) DeclaredMethods() []*Method { return k.current().methods }

// Mirandas returns the synthesized miranda methods.
func (k *ObjectKlass) Mirandas() []*Method { return k.current().mirandas }

// VTable returns the virtual dispatch table.
func (k *ObjectKlass) VTable() []*Method { return k.current().vtable }

// ITable returns one method table per entry of IKlassTable.
func (k *ObjectKlass) ITable() [][]*Method { return k.current().itable }

// IKlassTable returns the interfaces the itables belong to. For an
// interface the first entry is the interface itself.
func (k *ObjectKlass) IKlassTable() []*ObjectKlass { return k.current().iklassTable }

// FieldTable returns all instance fields, inherited ones first.
func (k *ObjectKlass) FieldTable() []*Field { return k.current().fieldTable }

// StaticFields returns the static fields declared by this class.
func (k *ObjectKlass) StaticFields() []*Field { return k.current().staticFields }

// DeclaredFields returns the instance and static fields declared by this
// class, hidden fields included.
func (k *ObjectKlass) DeclaredFields() []*Field {
	v := k.current()
	own := v.fieldTable[len(v.fieldTable)-len(v.linked.InstanceFields):]
	out := make([]*Field, 0, len(own)+len(v.staticFields))
	out = append(out, own...)
	return append(out, v.staticFields...)
}

// Subclasses returns the loaded direct subtypes: subclasses of a class, and
// subinterfaces and implementing classes of an interface.
func (k *ObjectKlass) Subclasses() []*ObjectKlass {
	k.subMu.Lock()
	defer k.subMu.Unlock()
	return append([]*ObjectKlass(nil), k.subclasses...)
}

func (k *ObjectKlass) addSubclass(sub *ObjectKlass) {
	k.subMu.Lock()
	defer k.subMu.Unlock()
	k.subclasses = append(k.subclasses, sub)
}

// LookupDeclaredMethod finds a declared method or miranda.
func (k *ObjectKlass) LookupDeclaredMethod(name *symbol.Name, sig *symbol.Signature) *Method {
	return findMethod(k.current().methods, name, sig)
}

func findMethod(methods []*Method, name *symbol.Name, sig *symbol.Signature) *Method {
	for _, m := range methods {
		if m.matches(name, sig) {
			return m
		}
	}
	return nil
}

// LookupMethod resolves a method the way invokevirtual and invokestatic do:
// the class and its superclasses first, then the maximally specific
// superinterface method.
func (k *ObjectKlass) LookupMethod(name *symbol.Name, sig *symbol.Signature) *Method {
	for c := k; c != nil; c = c.super {
		if m := c.LookupDeclaredMethod(name, sig); m != nil {
			return m
		}
	}
	return lookupInSuperInterfaces(published{}, k.current().iklassTable, nil, name, sig)
}

// LookupInterfaceMethod resolves a method of an interface: its own
// declarations, then public instance methods of java/lang/Object, then a
// unique maximally specific default method, then any matching
// superinterface method.
func (k *ObjectKlass) LookupInterfaceMethod(name *symbol.Name, sig *symbol.Signature) *Method {
	if m := k.LookupDeclaredMethod(name, sig); m != nil {
		return m
	}
	if object := k.objectRoot(); object != nil {
		if m := object.LookupDeclaredMethod(name, sig); m != nil && m.IsPublic() && !m.IsStatic() {
			return m
		}
	}
	return lookupInSuperInterfaces(published{}, k.current().iklassTable, k, name, sig)
}

func (k *ObjectKlass) objectRoot() *ObjectKlass {
	c := k
	for c.super != nil {
		c = c.super
	}
	if c == k {
		return nil
	}
	return c
}

// lookupInSuperInterfaces picks the unique maximally specific non-abstract
// candidate, or failing that any candidate.
func lookupInSuperInterfaces(vw view, ifaces []*ObjectKlass, skip *ObjectKlass, name *symbol.Name, sig *symbol.Signature) *Method {
	var candidates []*Method
	for _, iface := range ifaces {
		if iface == skip {
			continue
		}
		m := findMethod(vw.versionOf(iface).methods, name, sig)
		if m != nil && vw.stateOf(m).flags&(classfile.AccPrivate|classfile.AccStatic) == 0 {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	var specific *Method
	count := 0
	for _, c := range candidates {
		if c.abstractIn(vw) || !isMaximallySpecific(vw, c, candidates) {
			continue
		}
		specific = c
		count++
	}
	if count == 1 {
		return specific
	}
	return candidates[0]
}

func isMaximallySpecific(vw view, m *Method, candidates []*Method) bool {
	for _, other := range candidates {
		if other != m && other.holder != m.holder && implementsIn(vw, other.holder, m.holder) {
			return false
		}
	}
	return true
}

// implements reports whether iface is in k's interface closure.
func (k *ObjectKlass) implements(iface *ObjectKlass) bool {
	return implementsIn(published{}, k, iface)
}

func implementsIn(vw view, k, iface *ObjectKlass) bool {
	for _, i := range vw.versionOf(k).iklassTable {
		if i == iface {
			return true
		}
	}
	return false
}

// LookupField finds a field by name and type: declared fields first, then
// superinterfaces, then the superclass.
func (k *ObjectKlass) LookupField(name *symbol.Name, typ *symbol.Type) *Field {
	for _, f := range k.DeclaredFields() {
		if f.name == name && f.typ == typ {
			return f
		}
	}
	for _, iface := range k.interfaces {
		if f := iface.LookupField(name, typ); f != nil {
			return f
		}
	}
	if k.super != nil {
		return k.super.LookupField(name, typ)
	}
	return nil
}

// VTableLookup returns the method in a vtable slot.
func (k *ObjectKlass) VTableLookup(index int) *Method {
	vt := k.current().vtable
	if index < 0 || index >= len(vt) {
		return nil
	}
	return vt[index]
}

// ITableLookup returns the method in slot index of iface's itable.
func (k *ObjectKlass) ITableLookup(iface *ObjectKlass, index int) *Method {
	v := k.current()
	for i, ik := range v.iklassTable {
		if ik == iface {
			if index < 0 || index >= len(v.itable[i]) {
				return nil
			}
			return v.itable[i][index]
		}
	}
	return nil
}

// IsAssignableFrom reports whether a value of type other can be stored in a
// variable of this type.
func (k *ObjectKlass) IsAssignableFrom(other Klass) bool {
	switch o := other.(type) {
	case *ObjectKlass:
		if o == k {
			return true
		}
		if k.IsInterface() {
			return o.implements(k)
		}
		for c := o.super; c != nil; c = c.super {
			if c == k {
				return true
			}
		}
		return false
	case *ArrayKlass:
		if k.loader != nil {
			return false
		}
		switch k.name.String() {
		case symbol.ObjectName, symbol.CloneableName, symbol.SerializableNm:
			return true
		}
		return false
	default:
		return false
	}
}

// declaresDefaults reports whether an interface declares a default method.
func (k *ObjectKlass) declaresDefaults() bool {
	for _, m := range k.current().methods {
		if m.IsDefault() {
			return true
		}
	}
	return false
}

// hasDefaults reports whether an interface or any of its superinterfaces
// declares a default method.
func (k *ObjectKlass) hasDefaults() bool {
	for _, iface := range k.current().iklassTable {
		if iface.declaresDefaults() {
			return true
		}
	}
	return false
}

// ConstantPool is the runtime view of a class's constant pool. Class
// entries are resolved on first use and cached.
type ConstantPool struct {
	holder  *ObjectKlass
	pool    *classfile.ConstantPool
	classes []collections.Memo[Klass]
}

func newConstantPool(holder *ObjectKlass, pool *classfile.ConstantPool) *ConstantPool {
	return &ConstantPool{holder: holder, pool: pool, classes: make([]collections.Memo[Klass], pool.Len())}
}

// Raw returns the parsed constant pool.
func (p *ConstantPool) Raw() *classfile.ConstantPool { return p.pool }

// ResolveClass resolves the Class entry at idx from the holder's loader.
func (p *ConstantPool) ResolveClass(ctx context.Context, idx uint16) (Klass, error) {
	name, err := p.pool.ClassName(idx)
	if err != nil {
		return nil, apperrors.InvalidClassFormat(p.holder.name.String(), "%v", err)
	}
	return p.classes[idx].Get(func() (Klass, error) {
		env := p.holder.env
		if env.Resolver == nil {
			return nil, apperrors.Newf(apperrors.CodeInternal, "no resolver configured for %s", p.holder)
		}
		t := env.Symbols.Type(symbol.TypeFromName(name))
		k, err := env.Resolver.Resolve(ctx, t, p.holder.loader)
		if err != nil {
			return nil, err
		}
		if k == nil {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "%s: class %s not found", p.holder, name)
		}
		return k, nil
	})
}
