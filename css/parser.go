package css

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// Parser parses CSS stylesheets into structured rules.
type Parser struct {
	log *zap.Logger
}

// NewParser creates a new CSS parser.
func NewParser(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log.Named("css-parser")}
}

// Conditional group rules carry nested rulesets rather than declarations.
var conditionalAtRules = map[string]bool{
	"@media":    true,
	"@supports": true,
}

// Parse parses stylesheet text into a Stylesheet.
// The optional source parameter names what is being parsed and is included in
// error and log messages. Text that fails to tokenize is a hard error: the
// stylesheet is malformed and its processing must stop.
func (p *Parser) Parse(data []byte, source ...string) (*Stylesheet, error) {
	sheet := &Stylesheet{
		Namespaces: make(map[string]string),
	}
	if len(source) > 0 {
		sheet.Source = source[0]
	}
	if sheet.Source != "" {
		p.log.Debug("Parsing CSS", zap.String("source", sheet.Source), zap.Int("bytes", len(data)))
	}

	input := parse.NewInput(bytes.NewReader(data))
	parser := css.NewParser(input, false)

	var group []string

	for {
		gt, _, data := parser.Next()

		switch gt {
		case css.ErrorGrammar:
			if err := parser.Err(); !errors.Is(err, io.EOF) {
				return nil, parseError(sheet.Source, err)
			}
			if sheet.Source != "" {
				p.log.Debug("Parsed CSS",
					zap.String("source", sheet.Source),
					zap.Int("items", len(sheet.Items)),
					zap.Int("namespaces", len(sheet.Namespaces)))
			}
			return sheet, nil

		case css.CommentGrammar:
			text := string(data)
			sheet.Items = append(sheet.Items, Item{Comment: &text})

		case css.QualifiedRuleGrammar:
			// Non-final member of a comma-separated selector group.
			group = append(group, splitSelectors(data, parser.Values())...)

		case css.BeginRulesetGrammar:
			group = append(group, splitSelectors(data, parser.Values())...)
			decls, err := p.parseDeclarations(parser, sheet)
			if err != nil {
				return nil, err
			}
			sheet.Items = append(sheet.Items, Item{Rule: &Rule{Selectors: group, Declarations: decls}})
			group = nil

		case css.BeginAtRuleGrammar:
			name := string(data)
			prelude := normalizedText(parser.Values())
			if conditionalAtRules[name] {
				blk, err := p.parseAtBlock(parser, sheet, name, prelude)
				if err != nil {
					return nil, err
				}
				sheet.Items = append(sheet.Items, Item{Block: blk})
			} else {
				decls, err := p.parseDeclarations(parser, sheet)
				if err != nil {
					return nil, err
				}
				sheet.Items = append(sheet.Items, Item{AtRule: &AtRule{
					Name:         name,
					Prelude:      prelude,
					HasBlock:     true,
					Declarations: decls,
				}})
			}

		case css.AtRuleGrammar:
			// Statement @-rule without a block (@namespace, @import, @charset).
			name := string(data)
			if name == "@namespace" {
				sheet.bindNamespace(parser.Values())
			}
			sheet.Items = append(sheet.Items, Item{AtRule: &AtRule{
				Name:    name,
				Prelude: normalizedText(parser.Values()),
			}})

		case css.TokenGrammar:
			// Stray tokens at top level (CDO/CDC markers and the like).
			p.log.Debug("Skipping stray token", zap.ByteString("token", data))
		}
	}
}

// parseDeclarations consumes a declaration block until its closing grammar.
// Both ruleset and at-rule blocks end here, whichever comes first.
func (p *Parser) parseDeclarations(parser *css.Parser, sheet *Stylesheet) ([]Declaration, error) {
	var decls []Declaration

	for {
		gt, _, data := parser.Next()

		switch gt {
		case css.ErrorGrammar:
			if err := parser.Err(); !errors.Is(err, io.EOF) {
				return nil, parseError(sheet.Source, err)
			}
			return decls, nil

		case css.EndRulesetGrammar, css.EndAtRuleGrammar:
			return decls, nil

		case css.CommentGrammar:
			decls = append(decls, Declaration{Comment: string(data)})

		case css.DeclarationGrammar, css.CustomPropertyGrammar:
			decls = append(decls, Declaration{
				Property: string(data),
				Value:    valueText(parser.Values()),
			})
		}
	}
}

// parseAtBlock consumes the body of a conditional group rule (@media, @supports).
func (p *Parser) parseAtBlock(parser *css.Parser, sheet *Stylesheet, name, condition string) (*AtBlock, error) {
	blk := &AtBlock{Name: name, Condition: condition}
	var group []string

	for {
		gt, _, data := parser.Next()

		switch gt {
		case css.ErrorGrammar:
			if err := parser.Err(); !errors.Is(err, io.EOF) {
				return nil, parseError(sheet.Source, err)
			}
			return blk, nil

		case css.EndAtRuleGrammar:
			return blk, nil

		case css.CommentGrammar:
			text := string(data)
			blk.Items = append(blk.Items, Item{Comment: &text})

		case css.QualifiedRuleGrammar:
			group = append(group, splitSelectors(data, parser.Values())...)

		case css.BeginRulesetGrammar:
			group = append(group, splitSelectors(data, parser.Values())...)
			decls, err := p.parseDeclarations(parser, sheet)
			if err != nil {
				return nil, err
			}
			blk.Items = append(blk.Items, Item{Rule: &Rule{Selectors: group, Declarations: decls}})
			group = nil

		case css.BeginAtRuleGrammar:
			nested := string(data)
			prelude := normalizedText(parser.Values())
			if conditionalAtRules[nested] {
				inner, err := p.parseAtBlock(parser, sheet, nested, prelude)
				if err != nil {
					return nil, err
				}
				blk.Items = append(blk.Items, Item{Block: inner})
			} else {
				decls, err := p.parseDeclarations(parser, sheet)
				if err != nil {
					return nil, err
				}
				blk.Items = append(blk.Items, Item{AtRule: &AtRule{
					Name:         nested,
					Prelude:      prelude,
					HasBlock:     true,
					Declarations: decls,
				}})
			}
		}
	}
}

// bindNamespace records the prefix binding of an @namespace rule.
// Handles: @namespace url(...); @namespace prefix "uri"; @namespace prefix url(...);
func (s *Stylesheet) bindNamespace(tokens []css.Token) {
	prefix := ""
	for _, t := range tokens {
		switch t.TokenType {
		case css.IdentToken:
			prefix = string(t.Data)
		case css.StringToken:
			s.Namespaces[prefix] = unquote(string(t.Data))
			return
		case css.URLToken:
			// token data is the full url(...) string
			raw := strings.TrimSuffix(strings.TrimPrefix(string(t.Data), "url("), ")")
			s.Namespaces[prefix] = unquote(strings.TrimSpace(raw))
			return
		}
	}
}

// splitSelectors turns the prelude tokens of a ruleset into standalone
// selector strings. The split happens at commas outside attribute brackets;
// commas inside quoted strings never split because quoted content arrives as
// a single token. Whitespace runs collapse to single spaces.
func splitSelectors(data []byte, tokens []css.Token) []string {
	var (
		out     []string
		sb      strings.Builder
		pending bool
		depth   int
	)
	flush := func() {
		if s := sb.String(); s != "" {
			out = append(out, s)
		}
		sb.Reset()
		pending = false
	}

	if len(data) > 0 {
		sb.Write(data)
	}
	for _, t := range tokens {
		switch t.TokenType {
		case css.WhitespaceToken:
			pending = sb.Len() > 0
			continue
		case css.CommentToken:
			continue
		case css.CommaToken:
			if depth == 0 {
				flush()
				continue
			}
		case css.LeftBracketToken:
			depth++
		case css.RightBracketToken:
			if depth > 0 {
				depth--
			}
		}
		if pending {
			sb.WriteByte(' ')
			pending = false
		}
		sb.Write(t.Data)
	}
	flush()
	return out
}

// valueText joins value tokens preserving inner whitespace exactly,
// trimming only the ends. Values the rewrite rules never touch must
// survive byte for byte.
func valueText(tokens []css.Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.Write(t.Data)
	}
	return strings.TrimSpace(sb.String())
}

// normalizedText joins tokens collapsing whitespace runs to single spaces.
func normalizedText(tokens []css.Token) string {
	var (
		sb      strings.Builder
		pending bool
	)
	for _, t := range tokens {
		if t.TokenType == css.WhitespaceToken {
			pending = sb.Len() > 0
			continue
		}
		if pending {
			sb.WriteByte(' ')
			pending = false
		}
		sb.Write(t.Data)
	}
	return sb.String()
}

func parseError(source string, err error) error {
	if source != "" {
		return fmt.Errorf("parsing stylesheet %q: %w", source, err)
	}
	return fmt.Errorf("parsing stylesheet: %w", err)
}

// unquote removes surrounding quotes from a string.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	if (s[0] == '"' && s[len(s)-1] == '"') ||
		(s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
