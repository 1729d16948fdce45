// Package debug renders indented tree dumps for inclusion in debug reports.
package debug

import (
	"fmt"
	"strconv"
	"strings"
)

const shift = "  "

// TreeWriter accumulates lines at nesting depths. The zero value is ready to
// use.
type TreeWriter struct {
	b strings.Builder
}

func NewTreeWriter() *TreeWriter {
	return &TreeWriter{}
}

func (tw *TreeWriter) String() string {
	return tw.b.String()
}

// Line appends a formatted line at the given depth.
func (tw *TreeWriter) Line(depth int, format string, args ...any) {
	tw.indent(depth)
	fmt.Fprintf(&tw.b, format, args...)
	tw.b.WriteByte('\n')
}

// TextBlock appends a labeled value, quoted so that whitespace and empty
// strings survive a round trip through the report.
func (tw *TreeWriter) TextBlock(depth int, label, value string) {
	tw.indent(depth)
	tw.b.WriteString(label)
	tw.b.WriteString(": ")
	tw.b.WriteString(strconv.Quote(value))
	tw.b.WriteByte('\n')
}

// List appends one labeled value per line, all at the same depth.
func (tw *TreeWriter) List(depth int, label string, values []string) {
	for _, v := range values {
		tw.TextBlock(depth, label, v)
	}
}

func (tw *TreeWriter) indent(depth int) {
	for range depth {
		tw.b.WriteString(shift)
	}
}
