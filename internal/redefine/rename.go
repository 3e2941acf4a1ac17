package redefine

import (
	"sort"
	"strings"

	"github.com/klasslink/internal/classfile"
)

// Rules renames classes: each key is a class name as compiled and the
// value the name it is installed under. Classes nested in a renamed class
// follow their outer class unless they have a rule of their own. All rules
// apply at once, so two classes may swap names.
type Rules map[string]string

// Rename returns the installed name of a class name.
func (r Rules) Rename(name string) string {
	if to, ok := r[name]; ok {
		return to
	}
	for i := len(name) - 1; i > 0; i-- {
		if name[i] != '$' {
			continue
		}
		if to, ok := r[name[:i]]; ok {
			return to + name[i:]
		}
	}
	return name
}

// Apply renames a constant-pool string: a bare class name, or a
// descriptor or generic signature in which every L<name>; reference is
// renamed.
func (r Rules) Apply(value string) (string, bool) {
	if len(r) == 0 || value == "" {
		return value, false
	}
	if renamed := r.Rename(value); renamed != value {
		return renamed, true
	}

	var b strings.Builder
	changed := false
	i := 0
	for {
		j := strings.IndexByte(value[i:], 'L')
		if j < 0 {
			break
		}
		j += i
		end := strings.IndexAny(value[j+1:], ";<")
		if end < 0 {
			break
		}
		end += j + 1
		b.WriteString(value[i : j+1])
		name := value[j+1 : end]
		renamed := r.Rename(name)
		if renamed != name {
			changed = true
		}
		b.WriteString(renamed)
		// The whole reference is consumed, so an L inside the name is
		// never taken as the start of another one.
		i = end
	}
	if !changed {
		return value, false
	}
	b.WriteString(value[i:])
	return b.String(), true
}

// Patch rewrites every Utf8 constant of a class file through Apply. The
// result may be longer or shorter than data. The count of patched entries
// is returned alongside.
func (r Rules) Patch(data []byte) ([]byte, int, error) {
	if len(r) == 0 {
		return data, 0, nil
	}
	return classfile.RewriteUtf8(data, func(_ int, value string) (string, bool) {
		return r.Apply(value)
	})
}

// normalize returns a copy of info with every class name it mentions
// renamed. Names of the info and its inner classes are left alone.
func (r Rules) normalize(info *ClassInfo) *ClassInfo {
	if len(r) == 0 {
		return info
	}
	out := *info
	out.Hierarchy = make([]string, len(info.Hierarchy))
	for i, name := range info.Hierarchy {
		out.Hierarchy[i] = r.Rename(name)
	}
	out.Methods = r.applyAll(info.Methods)
	out.Fields = r.applyAll(info.Fields)
	out.EnclosingClass = r.Rename(info.EnclosingClass)
	out.EnclosingMethod, _ = r.Apply(info.EnclosingMethod)
	return &out
}

func (r Rules) applyAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i], _ = r.Apply(v)
	}
	sort.Strings(out)
	return out
}
