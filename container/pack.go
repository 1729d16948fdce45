// Package container builds and checks the distributable archive of a
// publication.
package container

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/beevik/etree"
	sprig "github.com/go-task/slim-sprig/v3"
	fixzip "github.com/hidez8891/zip"
	"github.com/maruel/natural"
	"go.uber.org/zap"

	"epc/config"
	"epc/misc"
)

const (
	mimetypeContent = "application/epub+zip"
	mimetypeName    = "mimetype"
	containerName   = "META-INF/container.xml"
)

// templateValues holds the variables available to the output name template.
type templateValues struct {
	Context string
	Name    string
}

// OutputName expands the configured output name template for the publication
// at root.
func OutputName(field string, root string) (string, error) {
	name := config.OutputNameTemplateFieldName

	tmpl, err := template.New(string(name)).Funcs(sprig.FuncMap()).Parse(field)
	if err != nil {
		return "", fmt.Errorf("unable to parse template field %s: %w", name, err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	values := &templateValues{
		Context: string(name),
		Name:    filepath.Base(abs),
	}

	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, values); err != nil {
		return "", err
	}
	out := buf.String()
	if out == "" || out == filepath.Ext(out) {
		return "", fmt.Errorf("output name template %q produced empty name", field)
	}
	return config.CleanFileName(out), nil
}

// Build packs the publication tree under srcDir into a container at
// outputPath. The mimetype entry goes first and uncompressed, everything else
// is deflated; mimetype and META-INF/container.xml are generated when the
// source lacks them. With cfg.FixZip the result is copied once more through a
// writer that strips zip data descriptors which some readers cannot handle.
func Build(srcDir, outputPath string, cfg *config.ContainerConfig, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("container")
	log.Info("Packing publication", zap.String("source", srcDir), zap.String("output", outputPath))

	files, err := collectFiles(srcDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("nothing to pack under %s", srcDir)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp("", misc.GetAppName()+"-pack-*.zip")
	if err != nil {
		return fmt.Errorf("unable to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	defer tmp.Close()

	zw := zip.NewWriter(tmp)
	defer zw.Close()

	if err := writeMimetype(zw, srcDir, files); err != nil {
		return fmt.Errorf("unable to write mimetype: %w", err)
	}
	if !contains(files, containerName) {
		if err := writeContainerXML(zw, files, log); err != nil {
			return fmt.Errorf("unable to write container: %w", err)
		}
	}
	for _, rel := range files {
		if rel == mimetypeName {
			continue
		}
		if err := writeFile(zw, srcDir, rel); err != nil {
			return fmt.Errorf("unable to write %s: %w", rel, err)
		}
	}

	// make sure buffers are flushed before copying
	if err := zw.Close(); err != nil {
		return fmt.Errorf("unable to close output archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to finalize output file: %w", err)
	}

	if cfg.FixZip {
		return copyZipWithoutDataDescriptors(tmpName, outputPath)
	}
	return copyFile(tmpName, outputPath)
}

// collectFiles lists regular files under dir as slash separated relative
// paths in natural order.
func collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	sort.Sort(natural.StringSlice(files))
	return files, nil
}

// writeMimetype writes the mandatory first entry, uncompressed. A mimetype
// file present in the source must carry the expected content exactly.
func writeMimetype(zw *zip.Writer, srcDir string, files []string) error {
	if contains(files, mimetypeName) {
		data, err := os.ReadFile(filepath.Join(srcDir, mimetypeName))
		if err != nil {
			return err
		}
		if string(data) != mimetypeContent {
			return fmt.Errorf("unexpected mimetype content %q", data)
		}
	}

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   mimetypeName,
		Method: zip.Store,
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, mimetypeContent)
	return err
}

func writeContainerXML(zw *zip.Writer, files []string, log *zap.Logger) error {
	opf := findOPF(files)
	if opf == "" {
		opf = "content.opf"
		log.Warn("No package document found, container will point to a default", zap.String("rootfile", opf))
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	container := doc.CreateElement("container")
	container.CreateAttr("version", "1.0")
	container.CreateAttr("xmlns", "urn:oasis:names:tc:opendocument:xmlns:container")

	rootfiles := container.CreateElement("rootfiles")
	rootfile := rootfiles.CreateElement("rootfile")
	rootfile.CreateAttr("full-path", opf)
	rootfile.CreateAttr("media-type", "application/oebps-package+xml")

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return err
	}

	w, err := zw.Create(containerName)
	if err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func findOPF(files []string) string {
	for _, rel := range files {
		if strings.EqualFold(path.Ext(rel), ".opf") {
			return rel
		}
	}
	return ""
}

func writeFile(zw *zip.Writer, srcDir, rel string) error {
	in, err := os.Open(filepath.Join(srcDir, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.Create(rel)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

func contains(files []string, name string) bool {
	for _, f := range files {
		if f == name {
			return true
		}
	}
	return false
}

func copyZipWithoutDataDescriptors(from, to string) error {

	out, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("unable to create target file (%s): %w", to, err)
	}
	defer out.Close()

	r, err := fixzip.OpenReader(from)
	if err != nil {
		return fmt.Errorf("unable to read archive file (%s): %w", from, err)
	}
	defer r.Close()

	w := fixzip.NewWriter(out)
	defer w.Close()

	for _, file := range r.File {
		// unset data descriptor flag.
		file.Flags &= ^fixzip.FlagDataDescriptor

		// copy zip entry
		if err := w.CopyFile(file); err != nil {
			return fmt.Errorf("unable to write target file (%s): %w", to, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {

	sourceFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destinationFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer destinationFile.Close()

	if _, err = io.Copy(destinationFile, sourceFile); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}

	if err = destinationFile.Close(); err != nil {
		return fmt.Errorf("failed to close destination file: %w", err)
	}
	return nil
}
