package publication

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/maruel/natural"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"

	"epc/css"
	"epc/selector"
	"epc/xhtml"
)

// Analyzer finds selectors of the local stylesheet that match nothing across
// the publication's documents.
type Analyzer struct {
	workers int
	log     *zap.Logger
}

// NewAnalyzer creates a usage analyzer. workers bounds the per-document
// fan-out, zero picks a sensible default.
func NewAnalyzer(workers int, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Analyzer{workers: workers, log: log.Named("analyzer")}
}

// UnusedSelectors parses the publication's local stylesheet and reports every
// selector that matches no element in any non-excluded document, in natural
// order. Selectors the matcher does not support are left out of the report.
// A malformed selector or document stops the analysis.
func (a *Analyzer) UnusedSelectors(ctx context.Context, lay *Layout, enc encoding.Encoding) ([]string, error) {
	data, err := os.ReadFile(lay.LocalCSS)
	if err != nil {
		return nil, fmt.Errorf("reading stylesheet: %w", err)
	}
	sheet, err := css.NewParser(a.log).Parse(data, lay.LocalCSS)
	if err != nil {
		return nil, err
	}

	ns := sheetNamespaces(sheet)
	selectors := sheet.Selectors()

	compiled := make([]*selector.Selector, 0, len(selectors))
	for _, sel := range selectors {
		c, err := selector.Compile(sel, ns)
		if err != nil {
			if selector.IsUnsupported(err) {
				a.log.Debug("Skipping unsupported selector", zap.String("selector", sel), zap.Error(err))
				continue
			}
			return nil, err
		}
		compiled = append(compiled, c)
	}

	docs := lay.AnalysisDocuments()
	used := make([]map[string]bool, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, path := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found, err := a.matchDocument(path, compiled, enc)
			if err != nil {
				return err
			}
			used[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]bool)
	for _, found := range used {
		for sel := range found {
			merged[sel] = true
		}
	}

	var unused []string
	for _, c := range compiled {
		if !merged[c.Text()] {
			unused = append(unused, c.Text())
		}
	}
	sort.Sort(natural.StringSlice(unused))

	a.log.Debug("Usage analysis done",
		zap.String("stylesheet", lay.LocalCSS),
		zap.Int("selectors", len(compiled)),
		zap.Int("documents", len(docs)),
		zap.Int("unused", len(unused)))
	return unused, nil
}

// matchDocument reports which of the compiled selectors match at least one
// element of the document at path.
func (a *Analyzer) matchDocument(path string, compiled []*selector.Selector, enc encoding.Encoding) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	doc, err := xhtml.Parse(data, filepath.Base(path), enc)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool)
	root := doc.Root()
	for _, c := range compiled {
		if len(c.MatchAll(root)) > 0 {
			found[c.Text()] = true
		}
	}
	a.log.Debug("Matched document", zap.String("document", doc.Name), zap.Int("selectors_matched", len(found)))
	return found, nil
}

// sheetNamespaces merges prefix bindings declared by the stylesheet over the
// publication's fixed vocabulary bindings. Stylesheet declarations win.
func sheetNamespaces(sheet *css.Stylesheet) map[string]string {
	ns := xhtml.Namespaces()
	for prefix, uri := range sheet.Namespaces {
		ns[prefix] = uri
	}
	return ns
}
