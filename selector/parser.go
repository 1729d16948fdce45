package selector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// UnsupportedError marks selector constructs the matcher cannot evaluate
// against a static document tree: pseudo-elements, dynamic state classes,
// functional pseudo-classes. Unsupported is a recognized category distinct
// from both a parse failure and a selector that matches nothing.
type UnsupportedError struct {
	Selector  string
	Construct string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported selector %q: %s", e.Selector, e.Construct)
}

// IsUnsupported reports whether err marks an unsupported selector construct.
func IsUnsupported(err error) bool {
	var ue *UnsupportedError
	return errors.As(err, &ue)
}

// Compile parses a single selector against a namespace binding table mapping
// prefixes to URIs. A selector that fails the grammar or uses an unbound
// prefix returns an error carrying the selector text; an unsupported
// construct returns an UnsupportedError instead.
//
// Comma groups are split before compilation; a comma here is trailing input.
func Compile(sel string, ns map[string]string) (*Selector, error) {
	p := &parser{s: sel, ns: ns}
	compiled, err := p.parseSelector()
	if err != nil {
		if IsUnsupported(err) {
			return nil, err
		}
		return nil, fmt.Errorf("parsing selector %q: %w", sel, err)
	}
	if p.i < len(sel) {
		return nil, fmt.Errorf("parsing selector %q: %d bytes left over", sel, len(sel)-p.i)
	}
	return &Selector{text: sel, sel: compiled}, nil
}

// MustCompile is like Compile, but panics instead of returning an error.
func MustCompile(sel string, ns map[string]string) *Selector {
	compiled, err := Compile(sel, ns)
	if err != nil {
		panic(err)
	}
	return compiled
}

// a parser for the constrained selector grammar
type parser struct {
	s  string // the source text
	i  int    // the current position
	ns map[string]string
}

// parseEscape parses a backslash escape.
func (p *parser) parseEscape() (string, error) {
	if p.i+2 > len(p.s) || p.s[p.i] != '\\' {
		return "", errors.New("invalid escape sequence")
	}

	start := p.i + 1
	c := p.s[start]
	switch {
	case c == '\r' || c == '\n' || c == '\f':
		return "", errors.New("escaped line ending outside string")
	case hexDigit(c):
		// unicode escape (hex)
		i := start
		for i < start+6 && i < len(p.s) && hexDigit(p.s[i]) {
			i++
		}
		v, _ := strconv.ParseUint(p.s[start:i], 16, 32)
		if len(p.s) > i {
			switch p.s[i] {
			case '\r':
				i++
				if len(p.s) > i && p.s[i] == '\n' {
					i++
				}
			case ' ', '\t', '\n', '\f':
				i++
			}
		}
		p.i = i
		return string(rune(v)), nil
	}

	// Return the literal character after the backslash.
	result := p.s[start : start+1]
	p.i += 2
	return result, nil
}

func hexDigit(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// nameStart returns whether c can be the first character of an identifier
// (not counting an initial hyphen, or an escape sequence).
func nameStart(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || c == '_' || c > 127
}

// nameChar returns whether c can be a character within an identifier
// (not counting an escape sequence).
func nameChar(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || c == '_' || c > 127 ||
		c == '-' || '0' <= c && c <= '9'
}

// parseIdentifier parses an identifier.
func (p *parser) parseIdentifier() (string, error) {
	startingDash := false
	if len(p.s) > p.i && p.s[p.i] == '-' {
		startingDash = true
		p.i++
	}

	if len(p.s) <= p.i {
		return "", errors.New("expected identifier, found EOF instead")
	}

	if c := p.s[p.i]; !(nameStart(c) || c == '\\') {
		return "", fmt.Errorf("expected identifier, found %c instead", c)
	}

	result, err := p.parseName()
	if startingDash && err == nil {
		result = "-" + result
	}
	return result, err
}

// parseName parses a name (which is like an identifier, but doesn't have
// extra restrictions on the first character).
func (p *parser) parseName() (string, error) {
	i := p.i
	var result string
loop:
	for i < len(p.s) {
		c := p.s[i]
		switch {
		case nameChar(c):
			start := i
			for i < len(p.s) && nameChar(p.s[i]) {
				i++
			}
			result += p.s[start:i]
		case c == '\\':
			p.i = i
			val, err := p.parseEscape()
			if err != nil {
				return "", err
			}
			i = p.i
			result += val
		default:
			break loop
		}
	}

	if result == "" {
		return "", errors.New("expected name, found EOF instead")
	}

	p.i = i
	return result, nil
}

// parseString parses a single- or double-quoted string.
func (p *parser) parseString() (string, error) {
	i := p.i
	if len(p.s) < i+2 {
		return "", errors.New("expected string, found EOF instead")
	}

	quote := p.s[i]
	i++

	var result string
loop:
	for i < len(p.s) {
		switch p.s[i] {
		case '\\':
			if len(p.s) > i+1 {
				switch c := p.s[i+1]; c {
				case '\r':
					if len(p.s) > i+2 && p.s[i+2] == '\n' {
						i += 3
						continue loop
					}
					fallthrough
				case '\n', '\f':
					i += 2
					continue loop
				}
			}
			p.i = i
			val, err := p.parseEscape()
			if err != nil {
				return "", err
			}
			i = p.i
			result += val
		case quote:
			break loop
		case '\r', '\n', '\f':
			return "", errors.New("unexpected end of line in string")
		default:
			start := i
			for i < len(p.s) {
				if c := p.s[i]; c == quote || c == '\\' || c == '\r' || c == '\n' || c == '\f' {
					break
				}
				i++
			}
			result += p.s[start:i]
		}
	}

	if i >= len(p.s) {
		return "", errors.New("EOF in string")
	}

	// Consume the final quote.
	i++

	p.i = i
	return result, nil
}

// skipWhitespace consumes whitespace characters and comments.
// It returns true if there was actually anything to skip.
func (p *parser) skipWhitespace() bool {
	i := p.i
	for i < len(p.s) {
		switch p.s[i] {
		case ' ', '\t', '\r', '\n', '\f':
			i++
			continue
		case '/':
			if strings.HasPrefix(p.s[i:], "/*") {
				end := strings.Index(p.s[i+len("/*"):], "*/")
				if end != -1 {
					i += end + len("/**/")
					continue
				}
			}
		}
		break
	}

	if i > p.i {
		p.i = i
		return true
	}
	return false
}

// parseTypeSelector parses a type selector (one that matches by tag name).
// Tag names stay as written: XML matching is case-sensitive.
func (p *parser) parseTypeSelector() (Sel, error) {
	tag, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	return &tagSelector{name: tag}, nil
}

// parseIDSelector parses a selector that matches by id attribute.
func (p *parser) parseIDSelector() (Sel, error) {
	if p.i >= len(p.s) {
		return nil, errors.New("expected id selector, found EOF instead")
	}
	if p.s[p.i] != '#' {
		return nil, fmt.Errorf("expected id selector (#id), found %c instead", p.s[p.i])
	}
	p.i++

	id, err := p.parseName()
	if err != nil {
		return nil, err
	}
	return &idSelector{id: id}, nil
}

// parseClassSelector parses a selector that matches by class attribute.
func (p *parser) parseClassSelector() (Sel, error) {
	if p.i >= len(p.s) {
		return nil, errors.New("expected class selector, found EOF instead")
	}
	if p.s[p.i] != '.' {
		return nil, fmt.Errorf("expected class selector (.class), found %c instead", p.s[p.i])
	}
	p.i++

	class, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	return &classSelector{name: class}, nil
}

// parseAttributeSelector parses a selector that matches by attribute value,
// with an optional namespace prefix on the attribute name.
func (p *parser) parseAttributeSelector() (Sel, error) {
	if p.i >= len(p.s) {
		return nil, errors.New("expected attribute selector, found EOF instead")
	}
	if p.s[p.i] != '[' {
		return nil, fmt.Errorf("expected attribute selector ([...]), found %c instead", p.s[p.i])
	}
	p.i++
	p.skipWhitespace()

	var space string
	switch {
	case p.i+1 < len(p.s) && p.s[p.i] == '*' && p.s[p.i+1] == '|':
		space = "*"
		p.i += 2
	case p.i < len(p.s) && p.s[p.i] == '|':
		// explicit no-namespace form, same as no prefix
		p.i++
	}

	key, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}

	// prefix|name form; '|=' here is the dash-match operation instead
	if space == "" && p.i+1 < len(p.s) && p.s[p.i] == '|' && p.s[p.i+1] != '=' {
		space = key
		p.i++
		key, err = p.parseIdentifier()
		if err != nil {
			return nil, err
		}
	}

	var uri string
	if space != "" && space != "*" {
		var ok bool
		uri, ok = p.ns[space]
		if !ok {
			return nil, fmt.Errorf("unbound namespace prefix %q", space)
		}
	}

	p.skipWhitespace()
	if p.i >= len(p.s) {
		return nil, errors.New("unexpected EOF in attribute selector")
	}
	if p.s[p.i] == ']' {
		p.i++
		return &attrSelector{space: space, uri: uri, key: key}, nil
	}
	if p.i+1 >= len(p.s) {
		return nil, errors.New("unexpected EOF in attribute selector")
	}

	operation := string(p.s[p.i])
	if operation != "=" {
		if p.s[p.i+1] != '=' {
			return nil, fmt.Errorf("expected attribute operation, found %c instead", p.s[p.i])
		}
		operation += "="
	}
	p.i += len(operation)
	switch operation {
	case "=", "~=", "|=", "^=", "$=", "*=":
	default:
		return nil, fmt.Errorf("invalid attribute operation %q", operation)
	}

	p.skipWhitespace()
	if p.i >= len(p.s) {
		return nil, errors.New("unexpected EOF in attribute selector")
	}
	var val string
	if p.s[p.i] == '\'' || p.s[p.i] == '"' {
		val, err = p.parseString()
	} else {
		val, err = p.parseIdentifier()
	}
	if err != nil {
		return nil, err
	}

	p.skipWhitespace()
	if p.i >= len(p.s) || p.s[p.i] != ']' {
		return nil, errors.New("expected ']' to close attribute selector")
	}
	p.i++

	return &attrSelector{space: space, uri: uri, key: key, val: val, operation: operation}, nil
}

// parsePseudoclassSelector parses a pseudo-class or flags a pseudo-element.
func (p *parser) parsePseudoclassSelector() (Sel, error) {
	if p.i >= len(p.s) {
		return nil, errors.New("expected pseudo-class selector, found EOF instead")
	}
	if p.s[p.i] != ':' {
		return nil, fmt.Errorf("expected pseudo-class selector (:pseudo), found %c instead", p.s[p.i])
	}
	p.i++

	if p.i < len(p.s) && p.s[p.i] == ':' {
		p.i++
		name, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		return nil, &UnsupportedError{Selector: p.s, Construct: "pseudo-element ::" + toLowerASCII(name)}
	}

	name, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	name = toLowerASCII(name)

	if p.i < len(p.s) && p.s[p.i] == '(' {
		if err := p.skipBalanced('(', ')'); err != nil {
			return nil, err
		}
		return nil, &UnsupportedError{Selector: p.s, Construct: "pseudo-class :" + name + "(...)"}
	}

	switch name {
	case "first-child", "last-child", "only-child", "empty":
		return &pseudoClassSelector{name: name}, nil
	case "before", "after", "first-line", "first-letter":
		// legacy single-colon pseudo-element syntax
		return nil, &UnsupportedError{Selector: p.s, Construct: "pseudo-element :" + name}
	default:
		return nil, &UnsupportedError{Selector: p.s, Construct: "pseudo-class :" + name}
	}
}

// skipBalanced advances past a balanced delimiter pair, honoring quoted strings.
func (p *parser) skipBalanced(open, close byte) error {
	depth := 0
	for p.i < len(p.s) {
		switch p.s[p.i] {
		case open:
			depth++
			p.i++
		case close:
			depth--
			p.i++
			if depth == 0 {
				return nil
			}
		case '\'', '"':
			if _, err := p.parseString(); err != nil {
				return err
			}
		default:
			p.i++
		}
	}
	return fmt.Errorf("unbalanced %q", string(open))
}

// parseSimpleSelectorSequence parses a selector sequence that applies to
// a single element.
func (p *parser) parseSimpleSelectorSequence() (Sel, error) {
	var (
		selectors []Sel
		universal bool
	)

	if p.i >= len(p.s) {
		return nil, errors.New("expected selector, found EOF instead")
	}

	switch p.s[p.i] {
	case '*':
		universal = true
		p.i++
	case '#', '.', '[', ':':
		// just skip this character; the next one should be the name
	default:
		t, err := p.parseTypeSelector()
		if err != nil {
			return nil, err
		}
		selectors = append(selectors, t)
	}

loop:
	for p.i < len(p.s) {
		var (
			next Sel
			err  error
		)
		switch p.s[p.i] {
		case '#':
			next, err = p.parseIDSelector()
		case '.':
			next, err = p.parseClassSelector()
		case '[':
			next, err = p.parseAttributeSelector()
		case ':':
			next, err = p.parsePseudoclassSelector()
		default:
			break loop
		}
		if err != nil {
			return nil, err
		}
		selectors = append(selectors, next)
	}

	if len(selectors) == 0 {
		if universal {
			return &universalSelector{}, nil
		}
		return nil, errors.New("expected selector, found none")
	}
	if len(selectors) == 1 {
		return selectors[0], nil
	}
	return &compoundSelector{selectors: selectors}, nil
}

// parseSelector parses a selector that may include combinators.
func (p *parser) parseSelector() (Sel, error) {
	p.skipWhitespace()
	result, err := p.parseSimpleSelectorSequence()
	if err != nil {
		return nil, err
	}

	for {
		var combinator byte
		if p.skipWhitespace() {
			combinator = ' '
		}
		if p.i >= len(p.s) {
			return result, nil
		}

		switch p.s[p.i] {
		case '+', '>', '~':
			combinator = p.s[p.i]
			p.i++
			p.skipWhitespace()
		case ',':
			// can't begin a selector; Compile reports it as trailing input
			return result, nil
		}
		if combinator == 0 {
			return result, nil
		}

		second, err := p.parseSimpleSelectorSequence()
		if err != nil {
			return nil, err
		}
		result = &combinedSelector{first: result, combinator: combinator, second: second}
	}
}

func toLowerASCII(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			if b == nil {
				b = make([]byte, len(s))
				copy(b, s)
			}
			b[i] = c + ('a' - 'A')
		}
	}
	if b == nil {
		return s
	}
	return string(b)
}
