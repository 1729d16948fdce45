package selector

import (
	"strings"

	"github.com/gosimple/slug"
)

// Rules configures compatibility rewriting of selectors for constrained
// rendering environments.
type Rules struct {
	// FirstChildClass is the literal class standing in for :first-child.
	FirstChildClass string
	// Elements maps poorly supported element types to their replacements.
	Elements map[string]string
}

// Injection pairs a compiled selector with the class token every matching
// document element must gain so that the rewritten stylesheet still applies.
type Injection struct {
	Selector   *Selector
	Class      string
	FirstChild bool
}

// Rewrite is the outcome of rewriting one extracted selector: the replacement
// group for the stylesheet and the class injections for the documents.
// Group keeps the original member first when the rewrite augments rather
// than replaces.
type Rewrite struct {
	Original   string
	Group      []string
	Injections []Injection
}

// Changed reports whether the stylesheet text needs updating for this selector.
func (r *Rewrite) Changed() bool {
	return len(r.Group) != 1 || r.Group[0] != r.Original
}

// Rewrite parses sel against the binding table and applies the rules:
// element-type substitution, namespace-attribute conversion to class
// selectors, and :first-child augmentation. A selector that fails the grammar
// or uses an unbound prefix returns an error; unsupported constructs return
// an UnsupportedError for the caller to skip.
func (rules Rules) Rewrite(sel string, ns map[string]string) (*Rewrite, error) {
	compiled, err := Compile(sel, ns)
	if err != nil {
		return nil, err
	}

	rw := &Rewrite{Original: sel}
	base, changed := rules.transform(compiled.sel, rw)

	member := sel
	if changed {
		member = base.String()
	}

	if !containsPseudoClass(base, "first-child") {
		rw.Group = []string{member}
		return rw, nil
	}

	// Augmentation: the original form stays for environments that do support
	// the pseudo-class, the class compound is appended for those that do not.
	// Matching for the injection uses the full original selector, so only
	// elements the source stylesheet actually addressed gain the class.
	substituted := substitutePseudoClass(base, "first-child", rules.FirstChildClass)
	rw.Group = []string{member, substituted.String()}
	rw.Injections = append(rw.Injections, Injection{
		Selector:   compiled,
		Class:      rules.FirstChildClass,
		FirstChild: true,
	})
	return rw, nil
}

// transform rebuilds the selector tree applying element renames and
// namespace-attribute conversion. Fragment injections are recorded as they
// are found; the tree passed in is never mutated.
func (rules Rules) transform(s Sel, rw *Rewrite) (Sel, bool) {
	switch v := s.(type) {
	case *tagSelector:
		if repl, ok := rules.Elements[v.name]; ok {
			return &tagSelector{name: repl}, true
		}
		return v, false

	case *attrSelector:
		if v.space == "" || v.space == "*" {
			return v, false
		}
		class := AttrClass(v.space, v.key, v.val)
		rw.Injections = append(rw.Injections, Injection{
			Selector: &Selector{text: v.String(), sel: v},
			Class:    class,
		})
		return &classSelector{name: class}, true

	case *compoundSelector:
		out := make([]Sel, len(v.selectors))
		changed := false
		for i, sub := range v.selectors {
			var c bool
			out[i], c = rules.transform(sub, rw)
			changed = changed || c
		}
		if !changed {
			return v, false
		}
		return &compoundSelector{selectors: out}, true

	case *combinedSelector:
		first, c1 := rules.transform(v.first, rw)
		second, c2 := rules.transform(v.second, rw)
		if !c1 && !c2 {
			return v, false
		}
		return &combinedSelector{first: first, combinator: v.combinator, second: second}, true
	}
	return s, false
}

// containsPseudoClass reports whether the selector tree uses the named
// pseudo-class anywhere.
func containsPseudoClass(s Sel, name string) bool {
	switch v := s.(type) {
	case *pseudoClassSelector:
		return v.name == name
	case *compoundSelector:
		for _, sub := range v.selectors {
			if containsPseudoClass(sub, name) {
				return true
			}
		}
	case *combinedSelector:
		return containsPseudoClass(v.first, name) || containsPseudoClass(v.second, name)
	}
	return false
}

// substitutePseudoClass rebuilds the selector tree with every occurrence of
// the named pseudo-class replaced by a literal class selector.
func substitutePseudoClass(s Sel, name, class string) Sel {
	switch v := s.(type) {
	case *pseudoClassSelector:
		if v.name == name {
			return &classSelector{name: class}
		}
	case *compoundSelector:
		out := make([]Sel, len(v.selectors))
		for i, sub := range v.selectors {
			out[i] = substitutePseudoClass(sub, name, class)
		}
		return &compoundSelector{selectors: out}
	case *combinedSelector:
		return &combinedSelector{
			first:      substitutePseudoClass(v.first, name, class),
			combinator: v.combinator,
			second:     substitutePseudoClass(v.second, name, class),
		}
	}
	return s
}

// AttrClass derives the class token standing in for a namespace-qualified
// attribute selector. Dots separate hierarchy levels inside vocabulary values
// and become hyphens before general sanitization so that dotted terms stay
// single legal class tokens. The mapping is deterministic: the same fragment
// always yields the same class.
func AttrClass(prefix, attr, value string) string {
	parts := []string{prefix, attr}
	if value != "" {
		parts = append(parts, strings.ReplaceAll(value, ".", "-"))
	}
	return slug.Make(strings.Join(parts, "-"))
}
