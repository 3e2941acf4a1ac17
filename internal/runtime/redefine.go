package runtime

import (
	"sort"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/linker"
	"github.com/klasslink/pkg/collections"
	apperrors "github.com/klasslink/pkg/errors"
)

// Redefinition is a new parsed version of a loaded class.
type Redefinition struct {
	Klass  *ObjectKlass
	Parsed *classfile.ParsedClass
}

// Redefine installs parsed as the new version of k. See
// Env.RedefineClasses.
func (k *ObjectKlass) Redefine(parsed *classfile.ParsedClass) error {
	return k.env.RedefineClasses([]Redefinition{{Klass: k, Parsed: parsed}})
}

// RedefineClasses installs new versions of several classes at once.
// Methods with the same name and signature keep their identity and are
// rebound to the new code; methods that disappeared become obsolete. Static
// values survive. Loaded subtypes are relinked against the new versions.
//
// Every new version and every relinked subtype is built before anything is
// published. When one of them fails, no class changes.
func (e *Env) RedefineClasses(defs []Redefinition) error {
	e.redefineMu.Lock()
	defer e.redefineMu.Unlock()

	targets := make(map[*ObjectKlass]*classfile.ParsedClass, len(defs))
	for _, d := range defs {
		if d.Parsed.Name != d.Klass.name {
			return apperrors.Newf(apperrors.CodeInternal, "cannot install %s as a version of %s", d.Parsed.Name, d.Klass)
		}
		if _, dup := targets[d.Klass]; dup {
			return apperrors.Newf(apperrors.CodeInternal, "%s is redefined twice in one request", d.Klass)
		}
		targets[d.Klass] = d.Parsed
	}

	s := newStage()
	for _, k := range affected(defs) {
		old := k.current()
		parsed, redefined := targets[k]
		if !redefined {
			parsed = old.linked.Parsed
		}
		linked, err := k.linkVersion(s, parsed)
		if err == nil {
			var v *version
			if v, err = k.buildVersion(s, linked, old); err == nil {
				err = k.stageStatics(s, v, old)
			}
		}
		if err != nil {
			if !redefined {
				e.Logger.WithField("loader", LoaderName(k.loader)).Error("relinking %s failed: %v", k, err)
			}
			return err
		}
	}
	s.commit()

	for _, k := range s.order {
		logger := e.Logger.WithField("loader", LoaderName(k.loader))
		if _, ok := targets[k]; ok {
			logger.Info("redefined %s (version %d)", k, k.VersionNumber())
		} else {
			logger.Debug("relinked %s (version %d)", k, k.VersionNumber())
		}
	}
	return nil
}

// affected returns the redefined classes and all their loaded subtypes,
// supertypes first.
func affected(defs []Redefinition) []*ObjectKlass {
	seen := make(map[*ObjectKlass]bool)
	queue := collections.NewQueue[*ObjectKlass]()
	for _, d := range defs {
		queue.Push(d.Klass)
	}
	var out []*ObjectKlass
	for k, ok := queue.Pop(); ok; k, ok = queue.Pop() {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		queue.Push(k.Subclasses()...)
	}

	depths := make(map[*ObjectKlass]int, len(out))
	sort.SliceStable(out, func(i, j int) bool {
		return depthOf(out[i], depths) < depthOf(out[j], depths)
	})
	return out
}

// depthOf is the length of the longest supertype chain above k, so every
// supertype sorts before its subtypes.
func depthOf(k *ObjectKlass, memo map[*ObjectKlass]int) int {
	if d, ok := memo[k]; ok {
		return d
	}
	d := 0
	if k.super != nil {
		d = depthOf(k.super, memo) + 1
	}
	for _, iface := range k.interfaces {
		d = max(d, depthOf(iface, memo)+1)
	}
	memo[k] = d
	return d
}

// linkVersion links parsed against the versions of k's superclass and
// interfaces as seen through s. The names of the superclass and interfaces
// must not change.
func (k *ObjectKlass) linkVersion(s *stage, parsed *classfile.ParsedClass) (*linker.LinkedKlass, error) {
	var super *linker.LinkedKlass
	if k.super != nil {
		super = s.versionOf(k.super).linked
	}
	ifaces := make([]*linker.LinkedKlass, len(k.interfaces))
	for i, iface := range k.interfaces {
		ifaces[i] = s.versionOf(iface).linked
	}
	return linker.Link(parsed, super, ifaces)
}

// stageStatics prepares fresh static storage when the static layout of v
// differs from old, with the ConstantValue fields already set. Values of the
// other fields are carried over at commit.
func (k *ObjectKlass) stageStatics(s *stage, v, old *version) error {
	l, ol := v.linked.Layout, old.linked.Layout
	if sameStatics(v.staticFields, old.staticFields) && l.StaticBytes == ol.StaticBytes && l.StaticObjects == ol.StaticObjects {
		return nil
	}
	next := newStaticStorage(l.StaticBytes, l.StaticObjects)
	for _, f := range v.staticFields {
		if p := f.linked.Parsed; p == nil || !p.HasConstantValue() {
			continue
		}
		if err := setConstant(next, f, v.linked.Parsed.Pool, k.env.Symbols); err != nil {
			return apperrors.InvalidClassFormat(k.name.String(), "constant value of %s: %v", f.name, err)
		}
	}
	s.statics[k] = next
	return nil
}

// carryStatics copies static values from the published storage into next,
// matching fields by name and type, and swaps next in. Without a mirror
// there are no values yet and next is dropped.
func (k *ObjectKlass) carryStatics(next *StaticStorage, v *version) {
	mirror, ok := k.mirror.Peek()
	if !ok {
		return
	}
	prev := mirror.Statics()
	previous := make(map[string]*Field)
	for _, f := range k.current().staticFields {
		previous[f.name.String()+":"+f.typ.String()] = f
	}
	for _, f := range v.staticFields {
		if p := f.linked.Parsed; p != nil && p.HasConstantValue() {
			continue
		}
		o, ok := previous[f.name.String()+":"+f.typ.String()]
		if !ok {
			continue
		}
		if f.Kind().IsPrimitive() {
			next.SetPrimitive(f, prev.Primitive(o))
		} else {
			next.SetObject(f, prev.Object(o))
		}
	}
	mirror.statics.Store(next)
}

func sameStatics(a, b []*Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
