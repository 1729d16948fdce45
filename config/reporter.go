package config

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"epc/misc"
)

type ReporterConfig struct {
	Destination string `yaml:"destination" sanitize:"path_clean,assure_dir_exists_for_file" validate:"required,filepath"`
}

// Prepare opens the report destination. When the configured path cannot be
// created the report goes to a temporary file instead so a debug run never
// fails because of it.
func (conf *ReporterConfig) Prepare() (*Report, error) {
	r := &Report{}

	f, err := os.Create(conf.Destination)
	if err != nil {
		f, err = os.CreateTemp("", misc.GetAppName()+"-report.*.zip")
	}
	if err != nil {
		return nil, fmt.Errorf("unable to create report: %w", err)
	}
	r.file = f
	return r, nil
}

// item is a single future archive entry, either a path to pick up during
// Close or a byte payload captured earlier.
type item struct {
	source   string
	resolved string
	when     time.Time
	payload  []byte
}

// Report accumulates material for a debug archive. All methods are safe on a
// nil receiver, which is how the "no report requested" case is expressed.
// NOTE: not safe for concurrent use.
type Report struct {
	entries map[string]item
	file    *os.File
}

func (r *Report) put(name string, it item) {
	if r.entries == nil {
		r.entries = make(map[string]item)
	}
	r.entries[name] = it
}

// Close writes out the archive with everything stored so far.
func (r *Report) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	defer r.file.Close()
	return r.finalize()
}

// Name returns the location of the report archive, empty when no report has
// been requested.
func (r *Report) Name() string {
	if r == nil || r.file == nil {
		return ""
	}
	if abs, err := filepath.Abs(r.file.Name()); err == nil {
		return abs
	}
	return r.file.Name()
}

// Store records a file or directory to be picked up when the report is
// closed. Storing a different path under a name already taken is a
// programming error.
func (r *Report) Store(name, path string) {
	if r == nil {
		return
	}
	if old, ok := r.entries[name]; ok {
		if old.source != path {
			panic(fmt.Sprintf("report entry %q already holds %s, refusing %s", name, old.source, path))
		}
		return
	}

	it := item{source: path, resolved: path}
	if abs, err := filepath.Abs(path); err == nil {
		it.resolved = abs
	}
	r.put(name, it)
}

// StoreData records a byte payload under the given name. Names must be
// unique.
func (r *Report) StoreData(name string, data []byte) {
	if r == nil {
		return
	}
	if _, ok := r.entries[name]; ok {
		panic(fmt.Sprintf("report entry %q already holds data", name))
	}
	r.put(name, item{when: time.Now(), payload: data})
}

// StoreCopy snapshots a file or directory right away, so later changes to the
// original do not leak into the report. A name already taken gets a timestamp
// suffix, storing the same name repeatedly is fine.
func (r *Report) StoreCopy(name, path string) error {
	if r == nil {
		return nil
	}

	it := item{source: path, when: time.Now()}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	it.resolved = abs

	if _, ok := r.entries[name]; ok {
		name = fmt.Sprintf("%s-%d", name, it.when.UnixNano())
	}

	dir, err := os.MkdirTemp("", misc.GetAppName()+"-report-")
	if err != nil {
		return err
	}
	where, err := snapshot(dir, abs)
	if err != nil {
		return err
	}
	it.resolved = where

	r.put(name, it)
	return nil
}

// snapshot copies a file or a directory tree under dir preserving
// modification times and returns the location of the copy.
func snapshot(dir, src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	switch {
	case info.Mode().IsRegular():
		return copyFile(dir, src, info.ModTime())
	case info.IsDir():
		err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			fi, err := d.Info()
			if err != nil || !fi.Mode().IsRegular() {
				// links, sockets and the like do not belong in a report
				return err
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			_, err = copyFile(filepath.Dir(filepath.Join(dir, rel)), path, fi.ModTime())
			return err
		})
		return dir, err
	default:
		// nothing to copy but keep the reference
		return src, nil
	}
}

func copyFile(dir, src string, modTime time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	if err := os.Chtimes(dst, modTime, modTime); err != nil {
		return "", err
	}
	return dst, nil
}

// finalize writes the manifest followed by every entry, in manifest order.
func (r *Report) finalize() error {
	zw := zip.NewWriter(r.file)
	defer zw.Close()

	now := time.Now()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)

	var manifest strings.Builder
	for _, name := range names {
		it := r.entries[name]
		when := it.when
		if when.IsZero() {
			when = now
		}
		if it.payload != nil {
			fmt.Fprintf(&manifest, "%s\t%s\t%d bytes\n", when.UTC().Format(time.RFC3339), name, len(it.payload))
		} else {
			fmt.Fprintf(&manifest, "%s\t%s\t%s -> %s\n", when.UTC().Format(time.RFC3339), name, it.source, it.resolved)
		}
	}
	if err := addFile(zw, "MANIFEST", now, strings.NewReader(manifest.String())); err != nil {
		return err
	}

	for _, name := range names {
		it := r.entries[name]
		if it.payload != nil {
			if err := addFile(zw, name, it.when, bytes.NewReader(it.payload)); err != nil {
				return err
			}
			continue
		}

		// entries whose backing path vanished are silently dropped, the
		// manifest still names them
		info, err := os.Stat(it.resolved)
		if err != nil {
			continue
		}
		switch {
		case info.Mode().IsRegular():
			f, err := os.Open(it.resolved)
			if err != nil {
				return err
			}
			err = addFile(zw, name, info.ModTime(), f)
			f.Close()
			if err != nil {
				return err
			}
		case info.IsDir():
			if err := addTree(zw, name, it.resolved); err != nil {
				return err
			}
		}
	}
	return nil
}

func addFile(zw *zip.Writer, name string, when time.Time, src io.Reader) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: when})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

func addTree(zw *zip.Writer, name, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil || !fi.Mode().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return addFile(zw, filepath.ToSlash(filepath.Join(name, rel)), fi.ModTime(), f)
	})
}
