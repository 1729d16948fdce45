// Package archive builds a Walk abstraction on top of "archive/zip" for
// inspecting packed publications.
package archive

import (
	"archive/zip"
	"fmt"
	"strings"
)

// WalkFunc is called for each file entry visited by Walk. index is the
// ordinal of the entry among visited files, starting at zero; container
// checks rely on it to see what was packed first. If an error is returned,
// processing stops.
type WalkFunc func(archive string, index int, file *zip.File) error

// Walk visits the file entries of the archive whose names start with prefix,
// in central directory order, calling walkFn for each. Directory entries are
// skipped. An entry whose path could escape the archive root fails the walk
// outright.
func Walk(archive, prefix string, walkFn WalkFunc) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	index := 0
	for _, f := range r.File {
		if !isSafePath(f.Name) {
			return fmt.Errorf("zip entry %q: path escapes archive root", f.Name)
		}
		if f.FileInfo().IsDir() || !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		if err := walkFn(archive, index, f); err != nil {
			return err
		}
		index++
	}
	return nil
}

// isSafePath rejects absolute entry names and names with ".." components.
func isSafePath(name string) bool {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	for part := range strings.SplitSeq(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
