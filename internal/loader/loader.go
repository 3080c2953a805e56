// Package loader resolves `use` paths to source text. The compiler treats it
// as an opaque collaborator so hosts can substitute in-memory sources.
package loader

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Loader fetches source text by path.
type Loader interface {
	Load(path string) (string, error)
}

// FileLoader reads sources from the file system.
type FileLoader struct{}

func (FileLoader) Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "cannot open imported file %s", path)
	}
	return string(data), nil
}

// MapLoader serves sources from memory, keyed by resolved path. Used by the
// embed API and tests.
type MapLoader map[string]string

func (m MapLoader) Load(path string) (string, error) {
	src, ok := m[path]
	if !ok {
		return "", errors.Errorf("cannot open imported file %s", path)
	}
	return src, nil
}

// Resolve joins a use path with the directory of the including file.
func Resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(baseDir, path))
}
