package css

import (
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// ExpandShorthands replaces box shorthand declarations (margin, padding) with
// their four longhand sides using the 1/2/3/4-value distribution rule.
// Longhands take the shorthand's cascade position. Values that do not split
// into plain space-separated tokens (functions, comma lists) are left alone.
// Returns the number of declarations expanded.
func (s *Stylesheet) ExpandShorthands(properties []string) int {
	if len(properties) == 0 {
		return 0
	}
	want := make(map[string]bool, len(properties))
	for _, prop := range properties {
		want[strings.ToLower(prop)] = true
	}

	count := 0
	s.eachDeclarationList(func(decls []Declaration) []Declaration {
		out, n := expandList(decls, want)
		count += n
		return out
	})
	return count
}

func expandList(decls []Declaration, want map[string]bool) ([]Declaration, int) {
	expanded := 0
	out := make([]Declaration, 0, len(decls))
	for _, d := range decls {
		if d.IsComment() || !want[strings.ToLower(d.Property)] {
			out = append(out, d)
			continue
		}
		longhands, ok := expandBoxValue(d.Property, d.Value)
		if !ok {
			out = append(out, d)
			continue
		}
		out = append(out, longhands...)
		expanded++
	}
	if expanded == 0 {
		return decls, 0
	}
	return out, expanded
}

// expandBoxValue distributes 1 to 4 space-separated value tokens over the
// four sides: one value sets all sides, two set vertical/horizontal, three
// set top/horizontal/bottom, four set top/right/bottom/left.
func expandBoxValue(property, value string) ([]Declaration, bool) {
	core := value
	var suffix string
	if cut, found := strings.CutSuffix(core, "!important"); found {
		suffix = " !important"
		core = strings.TrimSpace(cut)
	}
	if strings.ContainsAny(core, "(,!\"'") {
		return nil, false
	}

	parts := strings.Fields(core)
	var top, right, bottom, left string
	switch len(parts) {
	case 1:
		top, right, bottom, left = parts[0], parts[0], parts[0], parts[0]
	case 2:
		top, right, bottom, left = parts[0], parts[1], parts[0], parts[1]
	case 3:
		top, right, bottom, left = parts[0], parts[1], parts[2], parts[1]
	case 4:
		top, right, bottom, left = parts[0], parts[1], parts[2], parts[3]
	default:
		return nil, false
	}

	return []Declaration{
		{Property: property + "-top", Value: top + suffix},
		{Property: property + "-right", Value: right + suffix},
		{Property: property + "-bottom", Value: bottom + suffix},
		{Property: property + "-left", Value: left + suffix},
	}, true
}

// RenameValueIdents replaces identifier tokens in declaration values.
// Quoted strings are opaque: content strings never change. Returns the
// number of declarations touched.
func (s *Stylesheet) RenameValueIdents(subs map[string]string) int {
	if len(subs) == 0 {
		return 0
	}
	count := 0
	s.eachDeclarationList(func(decls []Declaration) []Declaration {
		for i := range decls {
			if decls[i].IsComment() {
				continue
			}
			if v, changed := renameIdents(decls[i].Value, subs); changed {
				decls[i].Value = v
				count++
			}
		}
		return decls
	})
	return count
}

func renameIdents(value string, subs map[string]string) (string, bool) {
	lexer := css.NewLexer(parse.NewInputString(value))
	var sb strings.Builder
	changed := false
	for {
		tt, data := lexer.Next()
		if tt == css.ErrorToken {
			break
		}
		if tt == css.IdentToken {
			if repl, ok := subs[string(data)]; ok {
				sb.WriteString(repl)
				changed = true
				continue
			}
		}
		sb.Write(data)
	}
	if !changed {
		return value, false
	}
	return sb.String(), true
}

// eachDeclarationList visits every declaration block in the stylesheet,
// including those nested in conditional group rules and block at-rules.
// The visitor may return a replacement slice.
func (s *Stylesheet) eachDeclarationList(fn func([]Declaration) []Declaration) {
	var visit func(items []Item)
	visit = func(items []Item) {
		for _, it := range items {
			switch {
			case it.Rule != nil:
				it.Rule.Declarations = fn(it.Rule.Declarations)
			case it.AtRule != nil && it.AtRule.HasBlock:
				it.AtRule.Declarations = fn(it.AtRule.Declarations)
			case it.Block != nil:
				visit(it.Block.Items)
			}
		}
	}
	visit(s.Items)
}
