package container

import (
	"archive/zip"
	"fmt"
	"io"

	"go.uber.org/zap"

	"epc/archive"
)

// general purpose bit 3 of the zip entry flags
const flagDataDescriptor = 0x8

// Verify checks the structural requirements picky readers rely on: the
// mimetype entry first, uncompressed and with the exact expected content, a
// container descriptor present, and no unsafe entry paths. Data descriptor
// usage is not an error but is worth knowing about.
func Verify(path string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("container")

	var (
		entries      int
		descriptors  int
		sawContainer bool
	)
	err := archive.Walk(path, "", func(arc string, idx int, f *zip.File) error {
		entries++
		if idx == 0 {
			if f.Name != mimetypeName {
				return fmt.Errorf("first entry is %q, expected %q", f.Name, mimetypeName)
			}
			if f.Method != zip.Store {
				return fmt.Errorf("mimetype entry must not be compressed")
			}
			r, err := f.Open()
			if err != nil {
				return err
			}
			defer r.Close()
			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			if string(data) != mimetypeContent {
				return fmt.Errorf("unexpected mimetype content %q", data)
			}
			return nil
		}
		if f.Name == mimetypeName {
			return fmt.Errorf("duplicate %q entry", mimetypeName)
		}
		if f.Name == containerName {
			sawContainer = true
		}
		if f.Flags&flagDataDescriptor != 0 {
			descriptors++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("verifying %s: %w", path, err)
	}
	if entries == 0 {
		return fmt.Errorf("verifying %s: empty container", path)
	}
	if !sawContainer {
		return fmt.Errorf("verifying %s: missing %s", path, containerName)
	}
	if descriptors > 0 {
		log.Debug("Container entries use data descriptors", zap.String("container", path), zap.Int("entries", descriptors))
	}
	return nil
}
