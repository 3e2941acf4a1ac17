package runtime

import (
	"sync/atomic"
)

// view reads class versions and method data, either as published or as
// staged by a build that has not been published yet.
type view interface {
	versionOf(k *ObjectKlass) *version
	stateOf(m *Method) *methodState
}

type published struct{}

func (published) versionOf(k *ObjectKlass) *version { return k.current() }
func (published) stateOf(m *Method) *methodState    { return m.state.Load() }

type slotIndex struct {
	vtable int32
	itable int32
}

// stage collects new versions of one or more classes together with the
// method states and table indices they imply. Shared Method objects are
// left untouched until commit, so readers of the published versions keep
// seeing consistent data while the build runs or when it fails.
type stage struct {
	versions map[*ObjectKlass]*version
	order    []*ObjectKlass
	states   map[*atomic.Pointer[methodState]]*methodState
	indices  map[*Method]*slotIndex
	statics  map[*ObjectKlass]*StaticStorage
}

func newStage() *stage {
	return &stage{
		versions: make(map[*ObjectKlass]*version),
		states:   make(map[*atomic.Pointer[methodState]]*methodState),
		indices:  make(map[*Method]*slotIndex),
		statics:  make(map[*ObjectKlass]*StaticStorage),
	}
}

func (s *stage) versionOf(k *ObjectKlass) *version {
	if v, ok := s.versions[k]; ok {
		return v
	}
	return k.current()
}

func (s *stage) stateOf(m *Method) *methodState {
	if st, ok := s.states[m.state]; ok {
		return st
	}
	return m.state.Load()
}

func (s *stage) add(k *ObjectKlass, v *version) {
	if _, ok := s.versions[k]; !ok {
		s.order = append(s.order, k)
	}
	s.versions[k] = v
}

func (s *stage) setState(m *Method, st *methodState) { s.states[m.state] = st }

func (s *stage) index(m *Method) *slotIndex {
	idx, ok := s.indices[m]
	if !ok {
		idx = &slotIndex{vtable: m.vtableIndex.Load(), itable: m.itableIndex.Load()}
		s.indices[m] = idx
	}
	return idx
}

func (s *stage) vtableIndex(m *Method) int {
	if idx, ok := s.indices[m]; ok {
		return int(idx.vtable)
	}
	return int(m.vtableIndex.Load())
}

func (s *stage) itableIndex(m *Method) int {
	if idx, ok := s.indices[m]; ok {
		return int(idx.itable)
	}
	return int(m.itableIndex.Load())
}

func (s *stage) setVTableIndex(m *Method, i int) { s.index(m).vtable = int32(i) }
func (s *stage) setITableIndex(m *Method, i int) { s.index(m).itable = int32(i) }

// commit publishes everything staged: method data first, then the versions
// in build order, supertypes before subtypes.
func (s *stage) commit() {
	for ptr, st := range s.states {
		ptr.Store(st)
	}
	for m, idx := range s.indices {
		m.vtableIndex.Store(idx.vtable)
		m.itableIndex.Store(idx.itable)
	}
	for _, k := range s.order {
		v := s.versions[k]
		if next, ok := s.statics[k]; ok {
			k.carryStatics(next, v)
		}
		k.version.Store(v)
	}
}
