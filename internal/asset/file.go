// Package asset provides resolved, validated references to on-disk asset
// sources together with the copy, hash and integrity helpers pipelines use to
// place them into the staging directory.
package asset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	skifferrors "github.com/conneroisu/skiff/internal/errors"
)

// File is a read-only view of a source path that existed when it was
// constructed.
type File struct {
	// Path is absolute and cleaned.
	Path string
	// Name is the base name, e.g. "style.scss".
	Name string
	// Stem is Name without its extension.
	Stem string
	// Ext includes the leading dot, empty when there is none.
	Ext string

	dir bool
}

// Resolve returns the absolute path of href. Relative hrefs resolve against
// manifestDir, never the working directory.
func Resolve(manifestDir, href string) string {
	if filepath.IsAbs(href) {
		return filepath.Clean(href)
	}

	return filepath.Join(manifestDir, filepath.FromSlash(href))
}

// NewFile resolves href and validates that it names a regular file.
func NewFile(manifestDir, href string) (*File, error) {
	f, err := stat(manifestDir, href)
	if err != nil {
		return nil, err
	}
	if f.dir {
		return nil, skifferrors.NewConstructionError(skifferrors.ErrCodeInvalidAttribute,
			"expected a file but found a directory").WithPath(f.Path)
	}

	return f, nil
}

// NewDir resolves href and validates that it names a directory.
func NewDir(manifestDir, href string) (*File, error) {
	f, err := stat(manifestDir, href)
	if err != nil {
		return nil, err
	}
	if !f.dir {
		return nil, skifferrors.NewConstructionError(skifferrors.ErrCodeInvalidAttribute,
			"expected a directory but found a file").WithPath(f.Path)
	}

	return f, nil
}

// NewPath accepts either a file or a directory.
func NewPath(manifestDir, href string) (*File, error) {
	return stat(manifestDir, href)
}

func stat(manifestDir, href string) (*File, error) {
	if strings.TrimSpace(href) == "" {
		return nil, skifferrors.NewConstructionError(skifferrors.ErrCodeMissingAttribute, "empty asset path")
	}

	path := Resolve(manifestDir, href)
	info, err := os.Stat(path)
	if err != nil {
		return nil, skifferrors.ErrFileNotFound("", path, err)
	}

	name := filepath.Base(path)
	ext := filepath.Ext(name)

	return &File{
		Path: path,
		Name: name,
		Stem: strings.TrimSuffix(name, ext),
		Ext:  ext,
		dir:  info.IsDir(),
	}, nil
}

// IsDir reports whether the file is a directory.
func (f *File) IsDir() bool { return f.dir }

// Read returns the file contents.
func (f *File) Read() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}

	return data, nil
}

// CopyTo copies the file into dir under name and returns the written path.
func (f *File) CopyTo(dir, name string) (string, error) {
	dst := filepath.Join(dir, name)
	if err := copyFile(f.Path, dst); err != nil {
		return "", err
	}

	return dst, nil
}

// OutputName returns the staged file name, "stem-<hash>.ext" when hashing.
func (f *File) OutputName(hashing bool) (string, error) {
	if !hashing {
		return f.Name, nil
	}
	sum, err := f.Hash()
	if err != nil {
		return "", err
	}

	return f.Stem + "-" + sum + f.Ext, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	return out.Close()
}

// CopyDir recursively copies src into dst and returns the copied file paths
// relative to dst, in walk order.
func CopyDir(src, dst string) ([]string, error) {
	var copied []string

	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		copied = append(copied, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to copy directory %s: %w", src, err)
	}

	return copied, nil
}
