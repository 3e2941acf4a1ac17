package runtime

import (
	"fmt"
	"sync/atomic"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/linker"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/pkg/collections"
	apperrors "github.com/klasslink/pkg/errors"
)

// Method is a method of an object class. A Method keeps its identity when
// its class is redefined; the parsed code it executes is swapped underneath
// and its body is rebound on next access.
//
// Proxies are lightweight copies of a method occupying a different itable
// slot. They share the original's state.
type Method struct {
	holder *ObjectKlass
	name   *symbol.Name
	sig    *symbol.Signature

	state *atomic.Pointer[methodState]

	vtableIndex atomic.Int32
	itableIndex atomic.Int32

	miranda bool
	// source is the interface method a miranda stands in for, or the
	// method a proxy copies.
	source *Method
	proxy  bool
}

type methodState struct {
	parsed   *classfile.ParsedMethod
	linked   *linker.LinkedMethod
	flags    uint16
	obsolete bool
	body     collections.Memo[Body]
}

func newMethod(holder *ObjectKlass, lm *linker.LinkedMethod) *Method {
	m := &Method{
		holder: holder,
		name:   lm.Parsed.Name,
		sig:    lm.Parsed.Descriptor,
		state:  new(atomic.Pointer[methodState]),
	}
	m.vtableIndex.Store(-1)
	m.itableIndex.Store(-1)
	m.state.Store(&methodState{parsed: lm.Parsed, linked: lm, flags: lm.Parsed.Flags})
	return m
}

// newMiranda synthesizes the placeholder an abstract class gets for an
// interface method it neither declares nor inherits.
func newMiranda(vw view, holder *ObjectKlass, im *Method) *Method {
	m := &Method{
		holder:  holder,
		name:    im.name,
		sig:     im.sig,
		state:   new(atomic.Pointer[methodState]),
		miranda: true,
		source:  im,
	}
	m.vtableIndex.Store(-1)
	m.itableIndex.Store(-1)
	m.state.Store(mirandaState(vw, im))
	return m
}

// mirandaState derives a miranda's state from the interface method it
// stands in for. A default method's code is carried over.
func mirandaState(vw view, im *Method) *methodState {
	ist := vw.stateOf(im)
	st := &methodState{
		parsed: ist.parsed,
		linked: ist.linked,
		flags:  classfile.AccPublic | classfile.AccAbstract,
	}
	if im.defaultIn(vw) {
		st.flags = ist.flags
	}
	return st
}

// atItableIndex returns m itself when it can occupy itable slot i, or a
// proxy otherwise. Methods of the class being built take the index
// directly the first time.
func (s *stage) atItableIndex(m *Method, builder *ObjectKlass, i int) *Method {
	if m.holder == builder && s.itableIndex(m) == -1 {
		s.setITableIndex(m, i)
		return m
	}
	if s.itableIndex(m) == i {
		return m
	}
	orig := m
	if m.proxy {
		orig = m.source
	}
	p := &Method{
		holder:  orig.holder,
		name:    orig.name,
		sig:     orig.sig,
		state:   orig.state,
		miranda: orig.miranda,
		source:  orig,
		proxy:   true,
	}
	p.vtableIndex.Store(int32(s.vtableIndex(orig)))
	p.itableIndex.Store(int32(i))
	return p
}

// Holder returns the declaring class.
func (m *Method) Holder() *ObjectKlass { return m.holder }

// Name returns the method name.
func (m *Method) Name() *symbol.Name { return m.name }

// Signature returns the method descriptor.
func (m *Method) Signature() *symbol.Signature { return m.sig }

// Flags returns the access flags of the current version.
func (m *Method) Flags() uint16 { return m.state.Load().flags }

// Parsed returns the parsed method of the current version. Non-default
// mirandas return the interface method's declaration.
func (m *Method) Parsed() *classfile.ParsedMethod { return m.state.Load().parsed }

// Code returns the Code attribute of the current version, nil if the method
// has none.
func (m *Method) Code() *classfile.Code {
	if p := m.state.Load().parsed; p != nil && !m.IsAbstract() {
		return p.Code
	}
	return nil
}

// ArgSlots returns the number of local slots taken by the arguments,
// receiver included.
func (m *Method) ArgSlots() int { return m.state.Load().linked.ArgSlots }

// VTableIndex returns the vtable slot, -1 if the method is not virtual.
func (m *Method) VTableIndex() int { return int(m.vtableIndex.Load()) }

// ITableIndex returns the itable slot, -1 if the method fills none.
func (m *Method) ITableIndex() int { return int(m.itableIndex.Load()) }

func (m *Method) IsStatic() bool   { return m.Flags()&classfile.AccStatic != 0 }
func (m *Method) IsPrivate() bool  { return m.Flags()&classfile.AccPrivate != 0 }
func (m *Method) IsAbstract() bool { return m.Flags()&classfile.AccAbstract != 0 }
func (m *Method) IsNative() bool   { return m.Flags()&classfile.AccNative != 0 }
func (m *Method) IsPublic() bool   { return m.Flags()&classfile.AccPublic != 0 }

// IsMiranda reports whether the method was synthesized for an unimplemented
// interface method.
func (m *Method) IsMiranda() bool { return m.miranda }

// IsProxy reports whether m is an itable copy of another method.
func (m *Method) IsProxy() bool { return m.proxy }

// Source returns the interface method behind a miranda or the original
// behind a proxy, nil otherwise.
func (m *Method) Source() *Method { return m.source }

// IsDefault reports whether m is a non-abstract instance method declared by
// an interface.
func (m *Method) IsDefault() bool { return m.defaultIn(published{}) }

func (m *Method) defaultIn(vw view) bool {
	return vw.versionOf(m.holder).isInterface() &&
		vw.stateOf(m).flags&(classfile.AccAbstract|classfile.AccStatic|classfile.AccPrivate) == 0
}

// IsObsolete reports whether a redefinition removed the method.
func (m *Method) IsObsolete() bool { return m.state.Load().obsolete }

// IsConstructor reports whether m is an instance initializer.
func (m *Method) IsConstructor() bool { return m.name.String() == symbol.Init }

// IsClassInitializer reports whether m is <clinit>.
func (m *Method) IsClassInitializer() bool { return m.name.String() == symbol.Clinit }

// virtualIn reports whether m takes part in virtual dispatch.
func (m *Method) virtualIn(vw view) bool {
	return vw.stateOf(m).flags&(classfile.AccStatic|classfile.AccPrivate) == 0 &&
		!m.IsConstructor() && !m.IsClassInitializer()
}

func (m *Method) abstractIn(vw view) bool {
	return vw.stateOf(m).flags&classfile.AccAbstract != 0
}

func (m *Method) matches(name *symbol.Name, sig *symbol.Signature) bool {
	return m.name == name && m.sig == sig
}

// ExecutableBody returns the body the configured Binder produced for the
// current version, binding it on first access. Every later call returns the
// same body until the method is redefined.
func (m *Method) ExecutableBody() (Body, error) {
	st := m.state.Load()
	return st.body.Get(func() (Body, error) {
		binder := m.holder.env.Binder
		if binder == nil {
			return nil, apperrors.Newf(apperrors.CodeInternal, "no binder configured for %s", m)
		}
		return binder.Bind(m, st.parsed)
	})
}

// rebound returns the state of a method moved to a new parsed version. The
// bound body survives when the code did not change.
func (old *methodState) rebound(lm *linker.LinkedMethod) *methodState {
	st := &methodState{parsed: lm.Parsed, linked: lm, flags: lm.Parsed.Flags}
	if !lm.Parsed.BodyChanged() {
		if b, ok := old.body.Peek(); ok {
			st.body.MustGet(func() Body { return b })
		}
	}
	return st
}

func (old *methodState) obsoleted() *methodState {
	return &methodState{parsed: old.parsed, linked: old.linked, flags: old.flags, obsolete: true}
}

func (m *Method) String() string {
	return fmt.Sprintf("%s.%s%s", m.holder, m.name, m.sig)
}
