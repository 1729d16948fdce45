package css_test

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"epc/css"
)

// allRules collects all top-level rules from a stylesheet's Items. It does
// not flatten conditional group blocks.
func allRules(sheet *css.Stylesheet) []*css.Rule {
	var rules []*css.Rule
	for _, item := range sheet.Items {
		if item.Rule != nil {
			rules = append(rules, item.Rule)
		}
	}
	return rules
}

func mustParse(t *testing.T, input string) *css.Stylesheet {
	t.Helper()
	sheet, err := css.NewParser(zap.NewNop()).Parse([]byte(input), "test.css")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return sheet
}

func TestParser_ElementSelector(t *testing.T) {
	sheet := mustParse(t, `p { text-indent: 1em; }`)

	rules := allRules(sheet)
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}

	rule := rules[0]
	if len(rule.Selectors) != 1 || rule.Selectors[0] != "p" {
		t.Errorf("expected selectors [p], got %v", rule.Selectors)
	}
	if len(rule.Declarations) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(rule.Declarations))
	}
	d := rule.Declarations[0]
	if d.Property != "text-indent" || d.Value != "1em" {
		t.Errorf("expected text-indent: 1em, got %s: %s", d.Property, d.Value)
	}
}

func TestParser_GroupedSelectors(t *testing.T) {
	sheet := mustParse(t, `h2, h3, h4 { font-size: 120%; }`)

	rules := allRules(sheet)
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}

	got := rules[0].Selectors
	want := []string{"h2", "h3", "h4"}
	if len(got) != len(want) {
		t.Fatalf("expected %d selectors, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("selector %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestParser_SelectorExtraction(t *testing.T) {
	// Comma groups split into members; comments and declaration bodies
	// contribute nothing to the selector set.
	sheet := mustParse(t, `a, b.c { color: red; } /* x */ d[e~="f"] { margin: 1px 2px; }`)

	got := sheet.Selectors()
	want := []string{"a", "b.c", `d[e~="f"]`}
	if len(got) != len(want) {
		t.Fatalf("expected selectors %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("selector %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestParser_QuotedCommaDoesNotSplit(t *testing.T) {
	sheet := mustParse(t, `a[title="x, y"], b { color: red; }`)

	rules := allRules(sheet)
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	got := rules[0].Selectors
	if len(got) != 2 {
		t.Fatalf("expected 2 selectors, got %d: %v", len(got), got)
	}
	if got[0] != `a[title="x, y"]` {
		t.Errorf(`expected a[title="x, y"], got %q`, got[0])
	}
	if got[1] != "b" {
		t.Errorf("expected b, got %q", got[1])
	}
}

func TestParser_QuotedBraceDoesNotEndBlock(t *testing.T) {
	sheet := mustParse(t, `q::before { content: "}"; } p { margin: 0; }`)

	rules := allRules(sheet)
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if got := rules[0].Declarations[0].Value; got != `"}"` {
		t.Errorf(`expected content value "}", got %s`, got)
	}
	if rules[1].Selectors[0] != "p" {
		t.Errorf("expected second rule selector p, got %q", rules[1].Selectors[0])
	}
}

func TestParser_TrailingGroupComma(t *testing.T) {
	sheet := mustParse(t, `a, b, { color: red; }`)

	rules := allRules(sheet)
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	got := rules[0].Selectors
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected selectors [a b], got %v", got)
	}
}

func TestParser_DescendantAndChildSelectors(t *testing.T) {
	sheet := mustParse(t, "blockquote p,\nsection > header { margin: 0; }")

	rules := allRules(sheet)
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	got := rules[0].Selectors
	if len(got) != 2 {
		t.Fatalf("expected 2 selectors, got %v", got)
	}
	if got[0] != "blockquote p" {
		t.Errorf("expected %q, got %q", "blockquote p", got[0])
	}
	if got[1] != "section > header" {
		t.Errorf("expected %q, got %q", "section > header", got[1])
	}
}

func TestParser_CommentsPreserved(t *testing.T) {
	sheet := mustParse(t, `/* publication styles */
p { margin: 0; }
/* end */`)

	if len(sheet.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(sheet.Items))
	}
	if sheet.Items[0].Comment == nil || *sheet.Items[0].Comment != "/* publication styles */" {
		t.Errorf("expected leading comment item, got %+v", sheet.Items[0])
	}
	if sheet.Items[1].Rule == nil {
		t.Error("expected rule item after leading comment")
	}
	if sheet.Items[2].Comment == nil || *sheet.Items[2].Comment != "/* end */" {
		t.Errorf("expected trailing comment item, got %+v", sheet.Items[2])
	}
}

func TestParser_InlineCommentInBlock(t *testing.T) {
	// A comment between declarations must not derail declaration parsing.
	sheet := mustParse(t, `p {
	margin: 0;
	/* hanging indent */
	text-indent: 1em;
}`)

	var props []string
	for _, d := range declarations(t, sheet) {
		if !d.IsComment() {
			props = append(props, d.Property)
		}
	}
	if len(props) != 2 || props[0] != "margin" || props[1] != "text-indent" {
		t.Errorf("expected properties [margin text-indent], got %v", props)
	}
}

func TestParser_NamespaceBindings(t *testing.T) {
	sheet := mustParse(t, `@namespace url("http://www.w3.org/1999/xhtml");
@namespace epub url("http://www.idpf.org/2007/ops");
@namespace z "http://www.daisy.org/z3998/2012/vocab/structure/";
p { margin: 0; }`)

	want := map[string]string{
		"":     "http://www.w3.org/1999/xhtml",
		"epub": "http://www.idpf.org/2007/ops",
		"z":    "http://www.daisy.org/z3998/2012/vocab/structure/",
	}
	for prefix, uri := range want {
		if got := sheet.Namespaces[prefix]; got != uri {
			t.Errorf("namespace %q: expected %q, got %q", prefix, uri, got)
		}
	}

	// Statement rules stay in the item list so they serialize back out.
	atRules := 0
	for _, item := range sheet.Items {
		if item.AtRule != nil && item.AtRule.Name == "@namespace" {
			atRules++
		}
	}
	if atRules != 3 {
		t.Errorf("expected 3 @namespace items, got %d", atRules)
	}
}

func TestParser_MediaBlock(t *testing.T) {
	sheet := mustParse(t, `@media screen and (max-width: 30em) {
	p { margin: 0; }
}
blockquote { margin: 1em; }`)

	if len(sheet.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(sheet.Items))
	}
	blk := sheet.Items[0].Block
	if blk == nil {
		t.Fatal("expected conditional block item")
	}
	if blk.Name != "@media" {
		t.Errorf("expected @media, got %q", blk.Name)
	}
	if !strings.Contains(blk.Condition, "screen") {
		t.Errorf("expected condition to mention screen, got %q", blk.Condition)
	}
	nested := blk.Rules()
	if len(nested) != 1 || nested[0].Selectors[0] != "p" {
		t.Errorf("expected nested rule for p, got %+v", nested)
	}

	// Nested selectors are not part of the live top-level set.
	got := sheet.Selectors()
	if len(got) != 1 || got[0] != "blockquote" {
		t.Errorf("expected live selectors [blockquote], got %v", got)
	}
}

func TestParser_FontFaceBlock(t *testing.T) {
	sheet := mustParse(t, `@font-face {
	font-family: "Fira Sans";
	src: url(../fonts/fira.woff2);
}`)

	if len(sheet.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(sheet.Items))
	}
	at := sheet.Items[0].AtRule
	if at == nil || !at.HasBlock {
		t.Fatalf("expected block at-rule, got %+v", sheet.Items[0])
	}
	if at.Name != "@font-face" {
		t.Errorf("expected @font-face, got %q", at.Name)
	}
	if len(at.Declarations) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(at.Declarations))
	}
	if at.Declarations[0].Value != `"Fira Sans"` {
		t.Errorf(`expected font-family "Fira Sans", got %s`, at.Declarations[0].Value)
	}
}

func TestParser_DeclarationValueKeptVerbatim(t *testing.T) {
	sheet := mustParse(t, `p { font-family: "Fira Sans", sans-serif; }`)

	rules := allRules(sheet)
	got := rules[0].Declarations[0].Value
	if got != `"Fira Sans", sans-serif` {
		t.Errorf("expected value kept verbatim, got %q", got)
	}
}

func TestParser_MalformedStylesheet(t *testing.T) {
	_, err := css.NewParser(zap.NewNop()).Parse([]byte(`p { color: red; } }`), "broken.css")
	if err == nil {
		t.Fatal("expected parse error for stray closing brace")
	}
	if !strings.Contains(err.Error(), "broken.css") {
		t.Errorf("expected error to name the source, got %v", err)
	}
}

func TestParser_EmptyInput(t *testing.T) {
	sheet := mustParse(t, "")
	if len(sheet.Items) != 0 {
		t.Errorf("expected no items, got %d", len(sheet.Items))
	}
	if len(sheet.Selectors()) != 0 {
		t.Errorf("expected no selectors, got %v", sheet.Selectors())
	}
}

func TestParser_NilLogger(t *testing.T) {
	sheet, err := css.NewParser(nil).Parse([]byte(`p { margin: 0; }`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(allRules(sheet)) != 1 {
		t.Error("expected 1 rule with nil logger")
	}
}
