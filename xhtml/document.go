// Package xhtml is the document model of a publication: parsing markup into
// element trees, structural mutation, and deterministic serialization.
//
// Elements of a parsed tree are positions inside that tree: re-parsing a
// document invalidates every element obtained from the previous tree, and any
// pass that needs elements after a mutation re-queries the fresh tree.
package xhtml

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

// Well-known vocabulary namespaces shared by all documents of a publication.
const (
	NamespaceXHTML = "http://www.w3.org/1999/xhtml"
	NamespaceEpub  = "http://www.idpf.org/2007/ops"
	NamespaceZ3998 = "http://www.daisy.org/z3998/2012/vocab/structure/"
)

// xmlDeclaration is emitted verbatim at the start of every serialized document.
const xmlDeclaration = `version="1.0" encoding="utf-8"`

// Namespaces returns the fixed prefix bindings selectors resolve against:
// default markup, the packaging vocabulary and the semantic structure
// vocabulary.
func Namespaces() map[string]string {
	return map[string]string{
		"":     NamespaceXHTML,
		"epub": NamespaceEpub,
		"z":    NamespaceZ3998,
	}
}

// Document is one parsed publication document.
type Document struct {
	Name string
	doc  *etree.Document
}

// Parse parses document text. Malformed markup is a hard error: the document
// must not be processed further, and nothing may be written for it. When a
// forced encoding is given the text is decoded through it first and any
// encoding declared inside the document is ignored.
func Parse(data []byte, name string, enc encoding.Encoding) (*Document, error) {
	read := etree.ReadSettings{
		CharsetReader: charset.NewReaderLabel,
		Entity:        namedEntities,
		Permissive:    false,
	}
	if enc != nil {
		decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("decoding document %q: %w", name, err)
		}
		// text is UTF-8 now, whatever the declaration claimed
		data = stripEncodingDeclaration(decoded)
		read.CharsetReader = nil
	}
	r := bytes.NewReader(data)

	doc := etree.NewDocument()
	doc.ReadSettings = read
	doc.WriteSettings = etree.WriteSettings{
		CanonicalText:    true,
		CanonicalAttrVal: true,
	}
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("parsing document %q: %w", name, err)
	}
	if n := len(doc.ChildElements()); n != 1 {
		if n == 0 {
			return nil, fmt.Errorf("parsing document %q: no root element", name)
		}
		return nil, fmt.Errorf("parsing document %q: %d root elements", name, n)
	}
	return &Document{Name: name, doc: doc}, nil
}

// stripEncodingDeclaration removes the encoding pseudo-attribute from the XML
// declaration so the parser does not try to decode already decoded text.
func stripEncodingDeclaration(data []byte) []byte {
	end := bytes.Index(data, []byte("?>"))
	if !bytes.HasPrefix(data, []byte("<?xml")) || end == -1 {
		return data
	}
	decl := data[:end]
	if i := bytes.Index(decl, []byte("encoding=")); i != -1 {
		rest := decl[i+len("encoding="):]
		if len(rest) > 0 && (rest[0] == '"' || rest[0] == '\'') {
			if j := bytes.IndexByte(rest[1:], rest[0]); j != -1 {
				out := make([]byte, 0, len(data))
				out = append(out, bytes.TrimRight(decl[:i], " \t")...)
				out = append(out, rest[j+2:]...)
				out = append(out, data[end:]...)
				return out
			}
		}
	}
	return data
}

// Root returns the root element of the tree. Elements reached from it stay
// valid until the document is re-parsed.
func (d *Document) Root() *etree.Element {
	return d.doc.Root()
}

// WriteTo serializes the document: a fixed XML declaration, exactly one
// default namespace declaration on the root element, and all parsed character
// data preserved byte for byte. Repeated serialization of the same tree
// produces identical output.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	d.normalizeDeclaration()
	d.ensureDefaultNamespace()
	return d.doc.WriteTo(w)
}

// Bytes returns the serialized document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serializing document %q: %w", d.Name, err)
	}
	return buf.Bytes(), nil
}

// Indent re-indents the whole tree with the given shift width. This rewrites
// whitespace inside the document and is offered as an explicit operation
// only; plain serialization never reflows anything.
func (d *Document) Indent(spaces int) {
	d.doc.Indent(spaces)
}

// IndentTabs re-indents the whole tree with tabs, the conventional shift in
// publication sources.
func (d *Document) IndentTabs() {
	d.doc.IndentTabs()
}

// normalizeDeclaration pins the document's XML declaration to the fixed form,
// inserting one when the source had none.
func (d *Document) normalizeDeclaration() {
	for _, tok := range d.doc.Child {
		if pi, ok := tok.(*etree.ProcInst); ok && pi.Target == "xml" {
			pi.Inst = xmlDeclaration
			return
		}
	}
	d.doc.InsertChildAt(0, etree.NewProcInst("xml", xmlDeclaration))
	d.doc.InsertChildAt(1, etree.NewText("\n"))
}

// ensureDefaultNamespace guarantees exactly one default namespace declaration
// on the root element. CreateAttr replaces an existing attribute with the
// same key, so a present declaration is never duplicated.
func (d *Document) ensureDefaultNamespace() {
	root := d.doc.Root()
	if root.SelectAttr("xmlns") == nil {
		root.CreateAttr("xmlns", NamespaceXHTML)
	}
}

// AddClass adds a class token to the element's class set. Adding a token the
// set already holds is a no-op. Reports whether the element changed.
func AddClass(e *etree.Element, token string) bool {
	current := e.SelectAttrValue("class", "")
	for _, t := range strings.Fields(current) {
		if t == token {
			return false
		}
	}
	if current == "" {
		e.CreateAttr("class", token)
	} else {
		e.CreateAttr("class", current+" "+token)
	}
	return true
}

// RenameElements renames every element of the default markup namespace whose
// tag has an entry in subs. Attributes, children and surrounding character
// data stay untouched. Returns the number of elements renamed.
func (d *Document) RenameElements(subs map[string]string) int {
	if len(subs) == 0 {
		return 0
	}
	count := 0
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		if repl, ok := subs[e.Tag]; ok && e.Space == "" {
			e.Tag = repl
			count++
		}
		for _, ch := range e.ChildElements() {
			walk(ch)
		}
	}
	walk(d.doc.Root())
	return count
}
