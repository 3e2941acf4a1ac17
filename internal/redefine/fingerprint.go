package redefine

import (
	"sort"
	"strconv"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/pkg/filter"
)

// Matching weights. Hierarchy is not weighted: a differing hierarchy
// rules a candidate out.
const (
	WeightMethods         = 8
	WeightEnclosingMethod = 4
	WeightFields          = 2
	WeightInnerCount      = 1
)

// ClassInfo is the fingerprint of one version of a class: enough to tell
// whether two anonymous classes compiled at different times are the same
// logical class.
type ClassInfo struct {
	Name string
	// Hierarchy is the superclass followed by the interfaces.
	Hierarchy []string
	// Methods and Fields are sorted name+descriptor strings.
	Methods []string
	Fields  []string
	// EnclosingClass and EnclosingMethod (name+descriptor) come from the
	// EnclosingMethod attribute and are empty when absent.
	EnclosingClass  string
	EnclosingMethod string
	Bytes           []byte
	// Inner holds the fingerprints of the anonymous classes nested
	// directly in this one.
	Inner []*ClassInfo
}

// NewClassInfo fingerprints a parsed class. Inner is left empty.
func NewClassInfo(parsed *classfile.ParsedClass) *ClassInfo {
	info := &ClassInfo{
		Name:      parsed.Name.String(),
		Hierarchy: append([]string{superName(parsed)}, interfaceNames(parsed)...),
		Methods:   make([]string, len(parsed.Methods)),
		Fields:    make([]string, len(parsed.Fields)),
		Bytes:     parsed.Bytes,
	}
	for i, m := range parsed.Methods {
		info.Methods[i] = m.Name.String() + m.Descriptor.String()
	}
	for i, f := range parsed.Fields {
		info.Fields[i] = f.Name.String() + ":" + f.Type.String()
	}
	sort.Strings(info.Methods)
	sort.Strings(info.Fields)
	if em := parsed.EnclosingMethod; em != nil {
		info.EnclosingClass = em.ClassName
		info.EnclosingMethod = em.MethodName + em.MethodDescriptor
	}
	return info
}

// Score rates how likely next is a recompiled old. Zero means no match.
func Score(old, next *ClassInfo) int {
	if !equalStrings(old.Hierarchy, next.Hierarchy) {
		return 0
	}
	score := 0
	if equalStrings(old.Methods, next.Methods) {
		score += WeightMethods
	}
	if old.EnclosingClass == next.EnclosingClass && old.EnclosingMethod == next.EnclosingMethod {
		score += WeightEnclosingMethod
	}
	if equalStrings(old.Fields, next.Fields) {
		score += WeightFields
	}
	if len(old.Inner) == len(next.Inner) {
		score += WeightInnerCount
	}
	return score
}

func equalStrings(a, b []string) bool {
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

// OutermostClass strips every trailing anonymous-class suffix, so that
// p/Outer$1$2 yields p/Outer. The second result is false for names that
// are not anonymous classes.
func OutermostClass(name string) (string, bool) {
	outer, ok := filter.AnonymousOuter(name)
	if !ok {
		return name, false
	}
	for {
		next, ok := filter.AnonymousOuter(outer)
		if !ok {
			return outer, true
		}
		outer = next
	}
}

// BuildTree links flat fingerprints into trees by their names and returns
// the anonymous classes nested directly in outer, in input order.
func BuildTree(outer string, flat []*ClassInfo) []*ClassInfo {
	byName := make(map[string]*ClassInfo, len(flat))
	for _, info := range flat {
		info.Inner = nil
		byName[info.Name] = info
	}
	var roots []*ClassInfo
	for _, info := range flat {
		parent, ok := filter.AnonymousOuter(info.Name)
		if !ok {
			continue
		}
		if parent == outer {
			roots = append(roots, info)
		} else if p, ok := byName[parent]; ok {
			p.Inner = append(p.Inner, info)
		}
	}
	return roots
}

// Flatten lists every fingerprint of the trees, parents before children.
func Flatten(infos []*ClassInfo) []*ClassInfo {
	var out []*ClassInfo
	var walk func([]*ClassInfo)
	walk = func(list []*ClassInfo) {
		for _, info := range list {
			out = append(out, info)
			walk(info.Inner)
		}
	}
	walk(infos)
	return out
}

// Pair binds a new anonymous class to the old class it replaces.
type Pair struct {
	Old   *ClassInfo
	New   *ClassInfo
	Score int
}

// MatchResult is the outcome of matching the anonymous classes of one
// outer class.
type MatchResult struct {
	Pairs []Pair
	// Added are new classes without an old counterpart; Removed are old
	// classes without a new one.
	Added   []*ClassInfo
	Removed []*ClassInfo
	// Rules renames the new compiler-assigned names to the names the
	// classes must be installed under.
	Rules Rules
}

// Match pairs old and new anonymous classes greedily: the best scoring
// candidate pair of unmatched classes is bound first, ties going to the
// pair encountered first. Nested anonymous classes are matched within
// matched parents. Added classes whose name is already taken are given a
// fresh one.
func Match(old, next []*ClassInfo) *MatchResult {
	res := &MatchResult{Rules: make(Rules)}
	match(old, next, res)

	claimed := make(map[string]bool)
	counters := make(map[string]int)
	count := func(name string) {
		if outer, ok := filter.AnonymousOuter(name); ok {
			n, _ := strconv.Atoi(name[len(outer)+1:])
			counters[outer] = max(counters[outer], n)
		}
	}
	for _, info := range Flatten(old) {
		claimed[info.Name] = true
		count(info.Name)
	}
	for _, info := range Flatten(next) {
		count(info.Name)
	}
	for _, info := range res.Added {
		name := res.Rules.Rename(info.Name)
		if claimed[name] {
			outer, _ := filter.AnonymousOuter(name)
			counters[outer]++
			name = outer + "$" + strconv.Itoa(counters[outer])
			res.Rules[info.Name] = name
		}
		claimed[name] = true
		count(name)
	}
	return res
}

func match(old, next []*ClassInfo, res *MatchResult) {
	type candidate struct{ i, j, score int }
	var candidates []candidate
	for j, n := range next {
		normalized := res.Rules.normalize(n)
		for i, o := range old {
			if s := Score(o, normalized); s > 0 {
				candidates = append(candidates, candidate{i, j, s})
			}
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	usedOld := make([]bool, len(old))
	usedNew := make([]bool, len(next))
	var pairs []Pair
	for _, c := range candidates {
		if usedOld[c.i] || usedNew[c.j] {
			continue
		}
		usedOld[c.i], usedNew[c.j] = true, true
		p := Pair{Old: old[c.i], New: next[c.j], Score: c.score}
		if res.Rules.Rename(p.New.Name) != p.Old.Name {
			res.Rules[p.New.Name] = p.Old.Name
		}
		pairs = append(pairs, p)
	}
	res.Pairs = append(res.Pairs, pairs...)

	for j, n := range next {
		if !usedNew[j] {
			res.Added = append(res.Added, Flatten([]*ClassInfo{n})...)
		}
	}
	for i, o := range old {
		if !usedOld[i] {
			res.Removed = append(res.Removed, Flatten([]*ClassInfo{o})...)
		}
	}
	for _, p := range pairs {
		match(p.Old.Inner, p.New.Inner, res)
	}
}
