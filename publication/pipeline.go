package publication

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"

	"epc/config"
	"epc/css"
	"epc/selector"
	"epc/utils/debug"
	"epc/xhtml"
)

// Pipeline rewrites a publication's stylesheets and documents for constrained
// rendering environments, keeping both sides consistent.
type Pipeline struct {
	compat  *config.CompatConfig
	rpt     *config.Report
	log     *zap.Logger
	workers int
	seq     int
}

// NewPipeline creates a compatibility pipeline. rpt may be nil when no debug
// report was requested.
func NewPipeline(compat *config.CompatConfig, rpt *config.Report, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	workers := compat.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{compat: compat, rpt: rpt, log: log.Named("pipeline"), workers: workers}
}

// rewritePlan is the outcome of one stylesheet rewrite: the selector set was
// frozen before any replacement, and injections carry the original selectors
// to match documents with.
type rewritePlan struct {
	source     string
	rewrites   []*selector.Rewrite
	injections []selector.Injection
}

// Run processes every stylesheet of the publication in order. For each one
// the stylesheet is rewritten and written out first, then all documents are
// re-parsed from disk, mutated and written. Any failure stops the
// publication.
func (p *Pipeline) Run(ctx context.Context, lay *Layout, enc encoding.Encoding) error {
	for _, path := range lay.Stylesheets() {
		plan, err := p.rewriteStylesheet(lay, path)
		if err != nil {
			return err
		}
		if err := p.applyToDocuments(ctx, lay, plan, enc); err != nil {
			return err
		}
	}
	return nil
}

// rewriteStylesheet parses the stylesheet at path, expands deprecated
// shorthands, renames substituted element types in declaration values,
// rewrites the frozen selector set and writes the result back. The file is
// only touched when its content actually changed.
func (p *Pipeline) rewriteStylesheet(lay *Layout, path string) (*rewritePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stylesheet: %w", err)
	}
	sheet, err := css.NewParser(p.log).Parse(data, path)
	if err != nil {
		return nil, err
	}

	selectors := sheet.Selectors()
	expanded := sheet.ExpandShorthands(p.compat.ShorthandProperties)
	renamed := sheet.RenameValueIdents(p.compat.ElementSubstitutions)

	ns := sheetNamespaces(sheet)
	rules := selector.Rules{
		FirstChildClass: p.compat.FirstChildClass,
		Elements:        p.compat.ElementSubstitutions,
	}

	plan := &rewritePlan{source: path}
	repl := make(map[string][]string)
	seen := make(map[string]bool)
	for _, sel := range selectors {
		rw, err := rules.Rewrite(sel, ns)
		if err != nil {
			if selector.IsUnsupported(err) {
				p.log.Debug("Skipping unsupported selector", zap.String("selector", sel), zap.Error(err))
				continue
			}
			return nil, err
		}
		plan.rewrites = append(plan.rewrites, rw)
		if rw.Changed() {
			repl[rw.Original] = rw.Group
		}
		for _, inj := range rw.Injections {
			key := inj.Selector.Text() + "\x00" + inj.Class
			if seen[key] {
				continue
			}
			seen[key] = true
			plan.injections = append(plan.injections, inj)
		}
	}
	groups := sheet.ReplaceSelectors(repl)

	var buf bytes.Buffer
	if _, err := sheet.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serializing stylesheet %s: %w", path, err)
	}
	written := !bytes.Equal(buf.Bytes(), data)
	if written {
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return nil, fmt.Errorf("writing stylesheet: %w", err)
		}
	}

	p.log.Info("Rewrote stylesheet",
		zap.String("stylesheet", path),
		zap.Int("selectors", len(selectors)),
		zap.Int("groups_changed", groups),
		zap.Int("shorthands_expanded", expanded),
		zap.Int("values_renamed", renamed),
		zap.Int("injections", len(plan.injections)),
		zap.Bool("written", written))

	p.storePlan(lay, plan)
	return plan, nil
}

// applyToDocuments re-parses every document of the publication, applies the
// plan's class injections and element substitutions and writes changed
// documents back. The table of contents never receives first-child classes.
func (p *Pipeline) applyToDocuments(ctx context.Context, lay *Layout, plan *rewritePlan, enc encoding.Encoding) error {
	docs := append(lay.Documents(), lay.TOCPath)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, path := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return p.mutateDocument(path, lay.IsTOC(path), plan, enc)
		})
	}
	return g.Wait()
}

func (p *Pipeline) mutateDocument(path string, toc bool, plan *rewritePlan, enc encoding.Encoding) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	doc, err := xhtml.Parse(data, filepath.Base(path), enc)
	if err != nil {
		return err
	}

	root := doc.Root()
	added := 0
	for _, inj := range plan.injections {
		if inj.FirstChild && toc {
			continue
		}
		for _, e := range inj.Selector.MatchAll(root) {
			if xhtml.AddClass(e, inj.Class) {
				added++
			}
		}
	}
	renamed := doc.RenameElements(p.compat.ElementSubstitutions)

	out, err := doc.Bytes()
	if err != nil {
		return err
	}
	written := !bytes.Equal(out, data)
	if written {
		if err := os.WriteFile(path, out, 0644); err != nil {
			return fmt.Errorf("writing document: %w", err)
		}
	}

	p.log.Debug("Processed document",
		zap.String("document", doc.Name),
		zap.Int("classes_added", added),
		zap.Int("elements_renamed", renamed),
		zap.Bool("written", written))
	return nil
}

// storePlan dumps the rewrite plan and a copy of the rewritten stylesheet
// into the debug report.
func (p *Pipeline) storePlan(lay *Layout, plan *rewritePlan) {
	if p.rpt == nil {
		return
	}
	p.seq++
	base := fmt.Sprintf("compat/%02d-%s-%s", p.seq, filepath.Base(lay.Root), filepath.Base(plan.source))

	tw := debug.NewTreeWriter()
	tw.TextBlock(0, "stylesheet", plan.source)
	for _, rw := range plan.rewrites {
		if !rw.Changed() && len(rw.Injections) == 0 {
			continue
		}
		tw.TextBlock(1, "selector", rw.Original)
		tw.List(2, "member", rw.Group)
		for _, inj := range rw.Injections {
			tw.Line(2, "inject %q matching %q", inj.Class, inj.Selector.Text())
		}
	}
	p.rpt.StoreData(base+".plan", []byte(tw.String()))
	if err := p.rpt.StoreCopy(base+".out", plan.source); err != nil {
		p.log.Warn("Unable to store rewritten stylesheet in report", zap.String("stylesheet", plan.source), zap.Error(err))
	}
}
