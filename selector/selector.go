// Package selector compiles a constrained CSS selector grammar and evaluates
// it against etree document trees. Matching is namespace-aware for attribute
// selectors and case-sensitive throughout, as XML requires.
package selector

import (
	"strings"

	"github.com/beevik/etree"
)

// Matcher is the ability to test one element.
type Matcher interface {
	Match(e *etree.Element) bool
}

// Sel is a parsed selector component: it matches elements and prints itself
// back in canonical form.
type Sel interface {
	Matcher
	String() string
}

// Selector is a compiled selector bound to a namespace table. It keeps the
// source text it was compiled from; rewriting produces new values and never
// mutates a compiled selector.
type Selector struct {
	text string
	sel  Sel
}

// Text returns the source text the selector was compiled from.
func (s *Selector) Text() string { return s.text }

// String returns the canonical form of the selector.
func (s *Selector) String() string { return s.sel.String() }

// Match reports whether the element satisfies the selector.
func (s *Selector) Match(e *etree.Element) bool { return s.sel.Match(e) }

// MatchAll returns all elements of the tree rooted at root that satisfy the
// selector, in document order. The returned element handles are positions in
// that tree: re-parsing the document invalidates them and requires a fresh
// query.
func (s *Selector) MatchAll(root *etree.Element) []*etree.Element {
	return MatchAll(root, s.sel)
}

// MatchAll returns all elements of the tree rooted at root matching m, in
// document order, including root itself.
func MatchAll(root *etree.Element, m Matcher) []*etree.Element {
	if root == nil {
		return nil
	}
	var out []*etree.Element
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		if m.Match(e) {
			out = append(out, e)
		}
		for _, ch := range e.ChildElements() {
			walk(ch)
		}
	}
	walk(root)
	return out
}

// parentElement returns the parent of e as long as it is a real element.
// etree parents the root element to the document container, which carries an
// empty tag and must not take part in matching.
func parentElement(e *etree.Element) *etree.Element {
	p := e.Parent()
	if p == nil || p.Tag == "" {
		return nil
	}
	return p
}

type tagSelector struct {
	name string
}

func (s *tagSelector) Match(e *etree.Element) bool {
	return e.Tag == s.name
}

func (s *tagSelector) String() string {
	return s.name
}

type universalSelector struct{}

func (s *universalSelector) Match(e *etree.Element) bool {
	return true
}

func (s *universalSelector) String() string {
	return "*"
}

type classSelector struct {
	name string
}

func (s *classSelector) Match(e *etree.Element) bool {
	return containsToken(e.SelectAttrValue("class", ""), s.name)
}

func (s *classSelector) String() string {
	return "." + s.name
}

type idSelector struct {
	id string
}

func (s *idSelector) Match(e *etree.Element) bool {
	return e.SelectAttrValue("id", "") == s.id
}

func (s *idSelector) String() string {
	return "#" + s.id
}

// attrSelector matches on an attribute, optionally namespace-qualified.
// space holds the prefix as written in the selector ("*" matches any
// namespace); uri is the resolved binding used for comparison.
type attrSelector struct {
	space     string
	uri       string
	key       string
	val       string
	operation string
}

func (s *attrSelector) Match(e *etree.Element) bool {
	for _, a := range e.Attr {
		if a.Key != s.key {
			continue
		}
		switch {
		case s.space == "*":
			// any namespace
		case s.space == "":
			if a.Space != "" {
				continue
			}
		default:
			if a.NamespaceURI() != s.uri {
				continue
			}
		}
		if matchAttrValue(a.Value, s.val, s.operation) {
			return true
		}
	}
	return false
}

func matchAttrValue(value, want, operation string) bool {
	switch operation {
	case "":
		return true
	case "=":
		return value == want
	case "~=":
		return want != "" && containsToken(value, want)
	case "|=":
		return value == want || strings.HasPrefix(value, want+"-")
	case "^=":
		return want != "" && strings.HasPrefix(value, want)
	case "$=":
		return want != "" && strings.HasSuffix(value, want)
	case "*=":
		return want != "" && strings.Contains(value, want)
	}
	return false
}

func (s *attrSelector) String() string {
	key := s.key
	if s.space != "" {
		key = s.space + "|" + key
	}
	if s.operation == "" {
		return "[" + key + "]"
	}
	return "[" + key + s.operation + `"` + escapeAttrValue(s.val) + `"]`
}

func escapeAttrValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `"`, `\"`)
}

// pseudoClassSelector holds a supported structural pseudo-class.
type pseudoClassSelector struct {
	name string
}

func (s *pseudoClassSelector) Match(e *etree.Element) bool {
	switch s.name {
	case "first-child":
		p := parentElement(e)
		if p == nil {
			return false
		}
		kids := p.ChildElements()
		return len(kids) > 0 && kids[0] == e
	case "last-child":
		p := parentElement(e)
		if p == nil {
			return false
		}
		kids := p.ChildElements()
		return len(kids) > 0 && kids[len(kids)-1] == e
	case "only-child":
		p := parentElement(e)
		if p == nil {
			return false
		}
		kids := p.ChildElements()
		return len(kids) == 1 && kids[0] == e
	case "empty":
		for _, ch := range e.Child {
			switch t := ch.(type) {
			case *etree.Element:
				return false
			case *etree.CharData:
				if strings.TrimSpace(t.Data) != "" {
					return false
				}
			}
		}
		return true
	}
	return false
}

func (s *pseudoClassSelector) String() string {
	return ":" + s.name
}

// compoundSelector is a sequence of simple selectors applying to one element.
type compoundSelector struct {
	selectors []Sel
}

func (s *compoundSelector) Match(e *etree.Element) bool {
	for _, sel := range s.selectors {
		if !sel.Match(e) {
			return false
		}
	}
	return true
}

func (s *compoundSelector) String() string {
	var sb strings.Builder
	for _, sel := range s.selectors {
		sb.WriteString(sel.String())
	}
	return sb.String()
}

// combinedSelector joins two selectors with a combinator:
// ' ' descendant, '>' child, '+' adjacent sibling, '~' general sibling.
type combinedSelector struct {
	first      Sel
	combinator byte
	second     Sel
}

func (s *combinedSelector) Match(e *etree.Element) bool {
	if !s.second.Match(e) {
		return false
	}
	switch s.combinator {
	case ' ':
		for p := parentElement(e); p != nil; p = parentElement(p) {
			if s.first.Match(p) {
				return true
			}
		}
	case '>':
		if p := parentElement(e); p != nil {
			return s.first.Match(p)
		}
	case '+':
		if prev := precedingSibling(e); prev != nil {
			return s.first.Match(prev)
		}
	case '~':
		for prev := precedingSibling(e); prev != nil; prev = precedingSibling(prev) {
			if s.first.Match(prev) {
				return true
			}
		}
	}
	return false
}

// precedingSibling returns the element sibling immediately before e, or nil.
func precedingSibling(e *etree.Element) *etree.Element {
	p := parentElement(e)
	if p == nil {
		return nil
	}
	kids := p.ChildElements()
	for i, k := range kids {
		if k == e {
			if i == 0 {
				return nil
			}
			return kids[i-1]
		}
	}
	return nil
}

func (s *combinedSelector) String() string {
	sep := " "
	if s.combinator != ' ' {
		sep = " " + string(s.combinator) + " "
	}
	return s.first.String() + sep + s.second.String()
}

// containsToken reports whether the whitespace-separated token list contains
// the given token.
func containsToken(list, token string) bool {
	if token == "" {
		return false
	}
	for list != "" {
		i := strings.IndexAny(list, " \t\r\n\f")
		if i == -1 {
			return list == token
		}
		if list[:i] == token {
			return true
		}
		list = list[i+1:]
	}
	return false
}
