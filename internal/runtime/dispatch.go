package runtime

import (
	"github.com/klasslink/pkg/collections"
	apperrors "github.com/klasslink/pkg/errors"
)

// buildDispatch fills the vtable, itables and mirandas of v. Declared
// methods must already be in v.methods. Indices are recorded in s.
func (k *ObjectKlass) buildDispatch(s *stage, v *version, old *version) error {
	if old != nil {
		for _, m := range v.methods {
			s.setVTableIndex(m, -1)
			s.setITableIndex(m, -1)
		}
	}
	if v.isInterface() {
		k.buildInterfaceTables(s, v)
	} else {
		k.buildVTable(s, v)
		k.buildClassITables(s, v, old)
	}
	return k.verifyTables(s, v)
}

func (k *ObjectKlass) buildVTable(s *stage, v *version) {
	var inherited []*Method
	if k.super != nil {
		inherited = s.versionOf(k.super).vtable
	}
	vt := make([]*Method, len(inherited), len(inherited)+len(v.methods))
	copy(vt, inherited)

	for _, m := range v.methods {
		if !m.virtualIn(s) {
			continue
		}
		if i := indexOf(inherited, m); i >= 0 {
			v.overrides = append(v.overrides, override{method: m, overridden: inherited[i]})
			vt[i] = m
			s.setVTableIndex(m, i)
			continue
		}
		s.setVTableIndex(m, len(vt))
		vt = append(vt, m)
	}
	v.vtable = vt
}

func indexOf(table []*Method, m *Method) int {
	for i, t := range table {
		if t.matches(m.name, m.sig) {
			return i
		}
	}
	return -1
}

// buildInterfaceTables gives an interface one itable for its own virtual
// methods in declaration order, followed by the itables of its
// superinterfaces.
func (k *ObjectKlass) buildInterfaceTables(s *stage, v *version) {
	var own []*Method
	for _, m := range v.methods {
		if m.virtualIn(s) {
			own = append(own, s.atItableIndex(m, k, len(own)))
		}
	}
	v.iklassTable = []*ObjectKlass{k}
	v.itable = [][]*Method{own}

	seen := collections.NewBitset(k.id + 1)
	seen.Set(k.id)
	for _, super := range k.interfaces {
		sv := s.versionOf(super)
		for i, ik := range sv.iklassTable {
			if seen.Add(ik.id) {
				v.iklassTable = append(v.iklassTable, ik)
				v.itable = append(v.itable, sv.itable[i])
			}
		}
	}
}

// buildClassITables inherits the superclass itables, substituting methods
// this class declares, then adds the itables of interfaces first reached
// through this class. Unimplemented slots of an abstract class get
// mirandas, which are appended to the declared methods and the vtable.
func (k *ObjectKlass) buildClassITables(s *stage, v *version, old *version) {
	declared := v.methods
	if k.super != nil {
		sv := s.versionOf(k.super)
		v.iklassTable = append(v.iklassTable, sv.iklassTable...)
		v.itable = append(v.itable, sv.itable...)
	}

	seen := collections.NewBitset(k.id + 1)
	for _, ik := range v.iklassTable {
		seen.Set(ik.id)
	}
	inherited := len(v.iklassTable)
	for _, iface := range k.interfaces {
		for _, ik := range s.versionOf(iface).iklassTable {
			if seen.Add(ik.id) {
				v.iklassTable = append(v.iklassTable, ik)
			}
		}
	}

	for e := 0; e < inherited; e++ {
		var table []*Method
		for j, im := range v.itable[e] {
			m := findMethod(declared, im.name, im.sig)
			if m == nil || !m.virtualIn(s) {
				continue
			}
			if table == nil {
				table = append([]*Method(nil), v.itable[e]...)
			}
			v.overrides = append(v.overrides, override{method: m, overridden: im})
			table[j] = s.atItableIndex(m, k, j)
		}
		if table != nil {
			v.itable[e] = table
		}
	}

	var oldMirandas []*Method
	if old != nil {
		oldMirandas = old.mirandas
	}
	for _, ik := range v.iklassTable[inherited:] {
		own := s.versionOf(ik).itable[0]
		table := make([]*Method, len(own))
		for j, im := range own {
			table[j] = k.fillSlot(s, v, declared, oldMirandas, im, j)
		}
		v.itable = append(v.itable, table)
	}
	v.methods = append(v.methods, v.mirandas...)
}

// fillSlot picks the method for slot j of an interface itable.
func (k *ObjectKlass) fillSlot(s *stage, v *version, declared, oldMirandas []*Method, im *Method, j int) *Method {
	if m := findMethod(declared, im.name, im.sig); m != nil && m.virtualIn(s) {
		v.overrides = append(v.overrides, override{method: m, overridden: im})
		return s.atItableIndex(m, k, j)
	}
	if i := indexOf(v.vtable, im); i >= 0 {
		if m := v.vtable[i]; !m.abstractIn(s) || v.isAbstract() {
			v.overrides = append(v.overrides, override{method: m, overridden: im})
			return s.atItableIndex(m, k, j)
		}
	}
	// The most specific default among all superinterfaces wins over the
	// slot's own declaration.
	target := lookupInSuperInterfaces(s, v.iklassTable, nil, im.name, im.sig)
	if target == nil || target.abstractIn(s) {
		target = im
	}
	if !v.isAbstract() {
		return s.atItableIndex(target, k, j)
	}
	if m := findMethod(v.mirandas, im.name, im.sig); m != nil {
		return s.atItableIndex(m, k, j)
	}
	mir := k.miranda(s, target, oldMirandas)
	s.setVTableIndex(mir, len(v.vtable))
	v.vtable = append(v.vtable, mir)
	v.mirandas = append(v.mirandas, mir)
	return s.atItableIndex(mir, k, j)
}

// miranda reuses a miranda of the previous version standing in for the same
// interface method, or synthesizes a new one.
func (k *ObjectKlass) miranda(s *stage, im *Method, old []*Method) *Method {
	for _, m := range old {
		if m.source == im {
			s.setState(m, mirandaState(s, im))
			s.setVTableIndex(m, -1)
			s.setITableIndex(m, -1)
			return m
		}
	}
	return newMiranda(s, k, im)
}

// The flags of a version under construction are read from the version, not
// from the klass, which still publishes the previous one.
func (v *version) isInterface() bool { return v.linked.IsInterface() }
func (v *version) isAbstract() bool  { return v.linked.Parsed.IsAbstract() }

// verifyTables checks that every vtable and itable entry sits at its own
// index.
func (k *ObjectKlass) verifyTables(s *stage, v *version) error {
	loader := LoaderName(k.loader)
	for i, m := range v.vtable {
		if got := s.vtableIndex(m); got != i {
			return apperrors.Linkage(k.name.String(), loader, "vtable slot %d holds %s with index %d", i, m, got)
		}
	}
	if len(v.itable) != len(v.iklassTable) {
		return apperrors.Linkage(k.name.String(), loader, "%d itables for %d interfaces", len(v.itable), len(v.iklassTable))
	}
	for e, table := range v.itable {
		for j, m := range table {
			if got := s.itableIndex(m); got != j {
				return apperrors.Linkage(k.name.String(), loader, "itable %s slot %d holds %s with index %d", v.iklassTable[e], j, m, got)
			}
		}
	}
	return nil
}
