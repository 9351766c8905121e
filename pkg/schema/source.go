package schema

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aretw0/docsync/pkg/core"
)

// Source resolves schema identifiers to loaded schemas. A missing schema is
// not an error: Load returns a Schema of KindNone.
type Source interface {
	Load(id string) (Schema, error)
}

// DirSource loads schemas from a directory. For an id it looks for
// "<id>.json" first, then "<id>.yaml" and "<id>.yml".
type DirSource struct {
	Dir   string
	cache sync.Map // id -> Schema
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

var candidates = []string{".json", ".yaml", ".yml"}

// Load implements Source. Results, including misses, are cached until
// Invalidate is called.
func (s *DirSource) Load(id string) (Schema, error) {
	if cached, ok := s.cache.Load(id); ok {
		return cached.(Schema), nil
	}

	path, err := s.locate(id)
	if errors.Is(err, core.ErrNotFound) {
		miss := Schema{ID: id, Kind: KindNone}
		s.cache.Store(id, miss)
		return miss, nil
	}
	if err != nil {
		return Schema{}, err
	}

	loaded, err := LoadFile(path)
	if err != nil {
		return Schema{}, err
	}
	s.cache.Store(id, loaded)
	return loaded, nil
}

// Invalidate drops the cached schema of id, or every entry when id is empty.
func (s *DirSource) Invalidate(id string) {
	if id == "" {
		s.cache.Clear()
		return
	}
	s.cache.Delete(id)
}

// Raw returns the schema file content for id and its extension.
func (s *DirSource) Raw(id string) ([]byte, string, error) {
	path, err := s.locate(id)
	if err != nil {
		return nil, "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", &core.StorageError{Op: "read", Path: path, Err: err}
	}
	return raw, filepath.Ext(path), nil
}

func (s *DirSource) locate(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return "", core.ErrInvalidPath
	}
	for _, ext := range candidates {
		path := filepath.Join(s.Dir, id+ext)
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", &core.StorageError{Op: "stat", Path: path, Err: err}
		}
	}
	return "", core.ErrNotFound
}
