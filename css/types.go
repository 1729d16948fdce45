package css

import (
	"fmt"
	"io"
	"strings"
)

// Declaration is a single entry in a declaration block. Either Property/Value
// are set, or Comment holds a comment that appeared between declarations.
type Declaration struct {
	Property string
	Value    string
	Comment  string
}

// IsComment returns true when the entry carries a comment instead of a declaration.
func (d Declaration) IsComment() bool {
	return d.Comment != ""
}

// Rule is a single ruleset: a selector group and its declaration block.
// Selectors keep the comma group split into standalone members in source
// order. Declaration order is significant for the cascade and is preserved.
type Rule struct {
	Selectors    []string
	Declarations []Declaration
}

// HasSelector returns true if the rule's group contains the given selector.
func (r *Rule) HasSelector(sel string) bool {
	for _, s := range r.Selectors {
		if s == sel {
			return true
		}
	}
	return false
}

// AtRule is an @-rule that carries no nested rulesets: either a single
// statement (@namespace, @import, @charset) or a declaration block
// (@font-face and the like).
type AtRule struct {
	Name         string
	Prelude      string
	HasBlock     bool
	Declarations []Declaration
}

// AtBlock is a conditional group rule (@media, @supports) holding nested items.
type AtBlock struct {
	Name      string
	Condition string
	Items     []Item
}

// Rules returns the nested rulesets of the block in source order.
func (b *AtBlock) Rules() []*Rule {
	var rules []*Rule
	for _, it := range b.Items {
		if it.Rule != nil {
			rules = append(rules, it.Rule)
		}
	}
	return rules
}

// Item is a single top-level stylesheet item. Exactly one field is non-nil.
type Item struct {
	Rule    *Rule
	Block   *AtBlock
	AtRule  *AtRule
	Comment *string
}

// Stylesheet is a parsed stylesheet: items in source order plus namespace
// prefix bindings collected from @namespace rules.
type Stylesheet struct {
	Items      []Item
	Namespaces map[string]string
	Source     string
}

// Selectors returns the unique selectors of all top-level rulesets in first
// occurrence order. Selectors inside conditional group rules are not part of
// the live selector set.
func (s *Stylesheet) Selectors() []string {
	var (
		out  []string
		seen = make(map[string]struct{})
	)
	for _, item := range s.Items {
		if item.Rule == nil {
			continue
		}
		for _, sel := range item.Rule.Selectors {
			if _, ok := seen[sel]; ok {
				continue
			}
			seen[sel] = struct{}{}
			out = append(out, sel)
		}
	}
	return out
}

// ReplaceSelectors rewrites selector occurrences in all top-level rulesets.
// Every selector with an entry in repl is replaced by the entry's members;
// members already present in the rule's group are skipped so that repeated
// application never grows a group. Returns the number of groups changed.
func (s *Stylesheet) ReplaceSelectors(repl map[string][]string) int {
	changed := 0
	for _, item := range s.Items {
		if item.Rule == nil {
			continue
		}
		if replaceInRule(item.Rule, repl) {
			changed++
		}
	}
	return changed
}

func replaceInRule(r *Rule, repl map[string][]string) bool {
	out := make([]string, 0, len(r.Selectors))
	present := func(sel string) bool {
		for _, s := range out {
			if s == sel {
				return true
			}
		}
		return false
	}

	for _, sel := range r.Selectors {
		group, ok := repl[sel]
		if !ok {
			group = []string{sel}
		}
		for _, member := range group {
			if !present(member) {
				out = append(out, member)
			}
		}
	}

	changed := len(out) != len(r.Selectors)
	if !changed {
		for i := range out {
			if out[i] != r.Selectors[i] {
				changed = true
				break
			}
		}
	}
	if changed {
		r.Selectors = out
	}
	return changed
}

// WriteTo writes the stylesheet to w in source order, implementing io.WriterTo.
// Output layout is deterministic: repeated serialization of the same model
// produces identical bytes.
func (s *Stylesheet) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for i, item := range s.Items {
		n, err := writeItem(w, item, "")
		total += int64(n)
		if err != nil {
			return total, err
		}

		// Blank line between items, except after a comment (comments
		// attach to the item below) and after the last item.
		if i < len(s.Items)-1 && item.Comment == nil {
			n, err = fmt.Fprint(w, "\n")
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// String returns the CSS text of the stylesheet.
func (s *Stylesheet) String() string {
	var sb strings.Builder
	s.WriteTo(&sb) //nolint:errcheck
	return sb.String()
}

func writeItem(w io.Writer, item Item, indent string) (int, error) {
	switch {
	case item.Comment != nil:
		return fmt.Fprintf(w, "%s%s\n", indent, *item.Comment)
	case item.AtRule != nil:
		return writeAtRule(w, item.AtRule, indent)
	case item.Block != nil:
		return writeAtBlock(w, item.Block, indent)
	case item.Rule != nil:
		return writeRule(w, item.Rule, indent)
	}
	return 0, nil
}

func writeRule(w io.Writer, rule *Rule, indent string) (int, error) {
	var total int
	n, err := fmt.Fprintf(w, "%s%s {\n", indent, strings.Join(rule.Selectors, ", "))
	total += n
	if err != nil {
		return total, err
	}
	n, err = writeDeclarations(w, rule.Declarations, indent+"  ")
	total += n
	if err != nil {
		return total, err
	}
	n, err = fmt.Fprintf(w, "%s}\n", indent)
	total += n
	return total, err
}

func writeDeclarations(w io.Writer, decls []Declaration, indent string) (int, error) {
	var total int
	for _, d := range decls {
		var (
			n   int
			err error
		)
		if d.IsComment() {
			n, err = fmt.Fprintf(w, "%s%s\n", indent, d.Comment)
		} else {
			n, err = fmt.Fprintf(w, "%s%s: %s;\n", indent, d.Property, d.Value)
		}
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeAtRule(w io.Writer, at *AtRule, indent string) (int, error) {
	var total int
	if !at.HasBlock {
		if at.Prelude == "" {
			return fmt.Fprintf(w, "%s%s;\n", indent, at.Name)
		}
		return fmt.Fprintf(w, "%s%s %s;\n", indent, at.Name, at.Prelude)
	}

	head := at.Name
	if at.Prelude != "" {
		head += " " + at.Prelude
	}
	n, err := fmt.Fprintf(w, "%s%s {\n", indent, head)
	total += n
	if err != nil {
		return total, err
	}
	n, err = writeDeclarations(w, at.Declarations, indent+"  ")
	total += n
	if err != nil {
		return total, err
	}
	n, err = fmt.Fprintf(w, "%s}\n", indent)
	total += n
	return total, err
}

func writeAtBlock(w io.Writer, blk *AtBlock, indent string) (int, error) {
	var total int
	head := blk.Name
	if blk.Condition != "" {
		head += " " + blk.Condition
	}
	n, err := fmt.Fprintf(w, "%s%s {\n", indent, head)
	total += n
	if err != nil {
		return total, err
	}

	for i, it := range blk.Items {
		n, err = writeItem(w, it, indent+"  ")
		total += n
		if err != nil {
			return total, err
		}

		if i < len(blk.Items)-1 && it.Comment == nil {
			n, err = fmt.Fprint(w, "\n")
			total += n
			if err != nil {
				return total, err
			}
		}
	}

	n, err = fmt.Fprintf(w, "%s}\n", indent)
	total += n
	return total, err
}
