package publication_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"epc/config"
	"epc/publication"
	"epc/xhtml"
)

const pipelineCSS = `@namespace epub url("http://www.idpf.org/2007/ops");

abbr {
  font-style: normal;
}

li:first-child {
  margin: 1em 2em;
}

p[epub|type~="z3998:salutation"] {
  font-variant: small-caps;
}

p::before {
  content: "";
}
`

const pipelineChapter = `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<body epub:type="bodymatter">
	<section epub:type="chapter">
		<p epub:type="z3998:salutation">Dear reader,</p>
		<p>In <abbr>A.D.</abbr> 1867 it began.</p>
		<ul>
			<li>one</li>
			<li>two</li>
		</ul>
	</section>
</body>
</html>
`

const pipelineTOC = `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<body>
	<nav epub:type="toc">
		<ol>
			<li><a href="text/chapter-1.xhtml">Chapter 1</a></li>
			<li><a href="text/chapter-2.xhtml">Chapter 2</a></li>
		</ol>
	</nav>
</body>
</html>
`

func testCompatConfig() *config.CompatConfig {
	return &config.CompatConfig{
		ElementSubstitutions: map[string]string{"abbr": "span"},
		ShorthandProperties:  []string{"margin"},
		FirstChildClass:      "first-child",
		Workers:              2,
	}
}

func runPipeline(t *testing.T, root string) *publication.Layout {
	t.Helper()
	lay, err := publication.Resolve(root, testPubConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := publication.NewPipeline(testCompatConfig(), nil, zap.NewNop())
	if err := p.Run(context.Background(), lay, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return lay
}

func TestPipelineRun(t *testing.T) {
	root := writeTree(t, map[string]string{
		"css/local.css":        pipelineCSS,
		"text/chapter-1.xhtml": pipelineChapter,
		"toc.xhtml":            pipelineTOC,
	})
	lay := runPipeline(t, root)

	sheet, err := os.ReadFile(lay.LocalCSS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := string(sheet)

	for _, want := range []string{
		"span {",
		"li:first-child, li.first-child {",
		"margin-top: 1em;",
		"margin-right: 2em;",
		"margin-bottom: 1em;",
		"margin-left: 2em;",
		"p.epub-type-z3998-salutation {",
		"p::before {",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected stylesheet to contain %q, got:\n%s", want, text)
		}
	}
	if strings.Contains(text, "margin: 1em 2em;") {
		t.Fatalf("expected shorthand to be expanded, got:\n%s", text)
	}
	if strings.Contains(text, "abbr {") {
		t.Fatalf("expected element substitution in selectors, got:\n%s", text)
	}

	chapter := readDoc(t, lay.Documents()[0])
	if e := chapter.Root().FindElement("//abbr"); e != nil {
		t.Fatal("expected abbr elements to be renamed")
	}
	span := chapter.Root().FindElement("//span")
	if span == nil || span.Text() != "A.D." {
		t.Fatal("expected renamed span to keep its text")
	}

	sal := chapter.Root().FindElement("//p[@class='epub-type-z3998-salutation']")
	if sal == nil {
		t.Fatal("expected salutation paragraph to gain the vocabulary class")
	}

	items := chapter.Root().FindElements("//li")
	if len(items) != 2 {
		t.Fatalf("expected 2 list items, got %d", len(items))
	}
	if got := items[0].SelectAttrValue("class", ""); got != "first-child" {
		t.Fatalf("expected first item to gain class, got %q", got)
	}
	if got := items[1].SelectAttrValue("class", ""); got != "" {
		t.Fatalf("expected second item untouched, got %q", got)
	}

	toc := readDoc(t, lay.TOCPath)
	for _, li := range toc.Root().FindElements("//li") {
		if got := li.SelectAttrValue("class", ""); got != "" {
			t.Fatalf("expected toc items to skip first-child injection, got %q", got)
		}
	}
}

func TestPipelineIdempotent(t *testing.T) {
	root := writeTree(t, map[string]string{
		"css/local.css":        pipelineCSS,
		"text/chapter-1.xhtml": pipelineChapter,
		"toc.xhtml":            pipelineTOC,
	})
	lay := runPipeline(t, root)

	first := snapshot(t, lay)
	runPipeline(t, root)
	second := snapshot(t, lay)

	for path, content := range first {
		if second[path] != content {
			t.Fatalf("expected %s to be unchanged by a second run", path)
		}
	}
}

func TestPipelineUntouchedContentPreserved(t *testing.T) {
	root := writeTree(t, map[string]string{
		"css/local.css":        pipelineCSS,
		"text/chapter-1.xhtml": pipelineChapter,
		"toc.xhtml":            pipelineTOC,
	})
	lay := runPipeline(t, root)

	data, err := os.ReadFile(lay.Documents()[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// text and attributes no rewrite targeted stay byte for byte
	for _, want := range []string{
		"<p>In <span>A.D.</span> 1867 it began.</p>",
		"Dear reader,",
		`epub:type="bodymatter"`,
		"\t\t<ul>\n",
	} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("expected document to contain %q, got:\n%s", want, data)
		}
	}
}

func TestPipelineMalformedSelector(t *testing.T) {
	root := writeTree(t, map[string]string{
		"css/local.css":        "..broken {\n  color: red;\n}\n",
		"text/chapter-1.xhtml": pipelineChapter,
		"toc.xhtml":            pipelineTOC,
	})
	lay, err := publication.Resolve(root, testPubConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	docBefore, err := os.ReadFile(lay.Documents()[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := publication.NewPipeline(testCompatConfig(), nil, nil)
	err = p.Run(context.Background(), lay, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "..broken") {
		t.Fatalf("expected error to carry selector text, got %v", err)
	}

	docAfter, err := os.ReadFile(lay.Documents()[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(docBefore) != string(docAfter) {
		t.Fatal("expected documents untouched after stylesheet failure")
	}
}

func TestPipelineBadDocumentStops(t *testing.T) {
	root := writeTree(t, map[string]string{
		"css/local.css":        pipelineCSS,
		"text/chapter-1.xhtml": "<html><body><p>unbalanced</body></html>",
		"toc.xhtml":            pipelineTOC,
	})
	lay, err := publication.Resolve(root, testPubConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := publication.NewPipeline(testCompatConfig(), nil, nil)
	if err := p.Run(context.Background(), lay, nil); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func readDoc(t *testing.T, path string) *xhtml.Document {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc, err := xhtml.Parse(data, filepath.Base(path), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return doc
}

func snapshot(t *testing.T, lay *publication.Layout) map[string]string {
	t.Helper()
	out := make(map[string]string)
	paths := append(lay.Documents(), lay.TOCPath, lay.LocalCSS)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out[path] = string(data)
	}
	return out
}
