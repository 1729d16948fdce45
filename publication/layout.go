// Package publication ties the pieces together over a single publication
// source tree: layout resolution, selector usage analysis and the
// compatibility rewriting pipeline.
package publication

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maruel/natural"

	"epc/config"
)

// Layout is a resolved publication source tree. All paths are absolute.
type Layout struct {
	Root     string
	CSSDir   string
	TextDir  string
	TOCPath  string
	LocalCSS string

	stylesheets []string
	documents   []string
	excluded    map[string]bool
}

// Resolve validates the publication tree under root against the configured
// conventional layout and enumerates its stylesheets and documents. Any
// missing piece is an error for the whole publication.
func Resolve(root string, cfg *config.PublicationConfig) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving publication root %q: %w", root, err)
	}
	if err := statDir(abs); err != nil {
		return nil, fmt.Errorf("publication root: %w", err)
	}

	l := &Layout{
		Root:     abs,
		CSSDir:   filepath.Join(abs, filepath.FromSlash(cfg.CSSDir)),
		TextDir:  filepath.Join(abs, filepath.FromSlash(cfg.TextDir)),
		TOCPath:  filepath.Join(abs, filepath.FromSlash(cfg.TOCPath)),
		excluded: make(map[string]bool, len(cfg.ExcludedFiles)),
	}
	l.LocalCSS = filepath.Join(l.CSSDir, cfg.LocalStylesheet)
	for _, name := range cfg.ExcludedFiles {
		l.excluded[name] = true
	}

	if err := statDir(l.CSSDir); err != nil {
		return nil, fmt.Errorf("stylesheet directory: %w", err)
	}
	if err := statDir(l.TextDir); err != nil {
		return nil, fmt.Errorf("text directory: %w", err)
	}
	if err := statFile(l.TOCPath); err != nil {
		return nil, fmt.Errorf("table of contents: %w", err)
	}
	if err := statFile(l.LocalCSS); err != nil {
		return nil, fmt.Errorf("local stylesheet: %w", err)
	}

	if l.stylesheets, err = listDir(l.CSSDir, ".css"); err != nil {
		return nil, err
	}
	if l.documents, err = listDir(l.TextDir, ".xhtml"); err != nil {
		return nil, err
	}
	return l, nil
}

// Stylesheets returns every stylesheet of the publication in natural order.
func (l *Layout) Stylesheets() []string {
	return append([]string(nil), l.stylesheets...)
}

// Documents returns every text document of the publication in natural order.
// The table of contents lives outside the text directory and is not listed.
func (l *Layout) Documents() []string {
	return append([]string(nil), l.documents...)
}

// AnalysisDocuments returns the documents consulted for selector usage:
// excluded boilerplate files are dropped, everything else is searched.
func (l *Layout) AnalysisDocuments() []string {
	out := make([]string, 0, len(l.documents))
	for _, path := range l.documents {
		if l.excluded[filepath.Base(path)] {
			continue
		}
		out = append(out, path)
	}
	return out
}

// IsTOC reports whether path is the table of contents document.
func (l *Layout) IsTOC(path string) bool {
	return filepath.Clean(path) == l.TOCPath
}

func statDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

func statFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}

func listDir(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Sort(natural.StringSlice(out))
	return out, nil
}
