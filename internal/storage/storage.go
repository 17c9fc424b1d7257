// Package storage resolves template names to compiled artifacts.
//
// A Store memoizes one artifact per template name for its lifetime, so a
// template is loaded and compiled at most once per engine instance. When a
// cache directory is configured, compiled programs are persisted to
// <dir>/<sha1(name)> and reused on later loads as long as the artifact is
// not older than its source. Without a cache directory the compiled program
// lives only in memory.
//
// The disk check-then-write sequence has a race window when several
// processes compile the same template concurrently. Writers go through a
// rename of a unique temporary file, so the outcome is last-writer-wins with
// every surviving artifact complete and valid.
package storage

import (
	"crypto/sha1"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/velumhq/velum/internal/errors"
	"github.com/velumhq/velum/internal/program"
)

// Loader resolves a template name to its source bytes and modification time.
type Loader interface {
	Source(name string) ([]byte, time.Time, error)
}

// FSLoader loads template sources from a directory root.
type FSLoader struct {
	root string
}

// NewFSLoader creates a loader rooted at dir.
func NewFSLoader(dir string) *FSLoader {
	return &FSLoader{root: dir}
}

// Source reads the named template file under the loader's root. A missing
// file is reported as a MissingTemplateError.
func (l *FSLoader) Source(name string) ([]byte, time.Time, error) {
	path := filepath.Join(l.root, filepath.FromSlash(name))
	info, err := os.Stat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, &errors.MissingTemplateError{Name: name, Err: err}
		}
		return nil, time.Time{}, fmt.Errorf("stat template %q: %w", name, err)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading template %q: %w", name, err)
	}
	return src, info.ModTime(), nil
}

// MapLoader serves template sources from memory, keyed by name. It is mainly
// useful in tests and for embedded templates.
type MapLoader struct {
	mu      sync.RWMutex
	sources map[string]mapSource
}

type mapSource struct {
	src []byte
	mod time.Time
}

// NewMapLoader creates an empty in-memory loader.
func NewMapLoader() *MapLoader {
	return &MapLoader{sources: make(map[string]mapSource)}
}

// Set stores a template source under name, stamping it with the current time.
func (l *MapLoader) Set(name, src string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[name] = mapSource{src: []byte(src), mod: time.Now()}
}

// Source returns the stored source for name.
func (l *MapLoader) Source(name string) ([]byte, time.Time, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sources[name]
	if !ok {
		return nil, time.Time{}, &errors.MissingTemplateError{Name: name}
	}
	return s.src, s.mod, nil
}

// CompileFunc turns template source into a compiled program.
type CompileFunc func(name string, src []byte) (*program.Program, error)

// Artifact is the resolved compiled form of a template.
type Artifact struct {
	// Name is the template name the artifact was loaded under.
	Name string
	// Key is the cache key, the hex sha1 of the name.
	Key string
	// Program is the compiled template.
	Program *program.Program
	// Path is the on-disk artifact location, empty for in-memory artifacts.
	Path string
}

// Store loads, compiles and memoizes template artifacts.
type Store struct {
	mu        sync.RWMutex
	loader    Loader
	cacheDir  string
	artifacts map[string]*Artifact
}

// NewStore creates a store over the given loader. cacheDir may be empty, in
// which case compiled programs are held in memory only.
func NewStore(loader Loader, cacheDir string) *Store {
	return &Store{
		loader:    loader,
		cacheDir:  cacheDir,
		artifacts: make(map[string]*Artifact),
	}
}

// CacheKey derives the on-disk cache key for a template name.
func CacheKey(name string) string {
	sum := sha1.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}

// Load resolves name to an artifact, compiling with compile when the cache
// cannot serve it. Results are memoized for the store's lifetime; a memoized
// artifact is returned without touching source or cache again.
func (s *Store) Load(name string, compile CompileFunc) (*Artifact, error) {
	s.mu.RLock()
	art, ok := s.artifacts[name]
	s.mu.RUnlock()
	if ok {
		return art, nil
	}

	art, err := s.resolve(name, compile)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// A concurrent loader may have won the race; keep the first result so
	// callers within one store lifetime observe a single artifact.
	if prior, ok := s.artifacts[name]; ok {
		art = prior
	} else {
		s.artifacts[name] = art
	}
	s.mu.Unlock()
	return art, nil
}

// Invalidate drops the memoized artifact for name, forcing the next Load to
// consult source and cache again. Used by the file watcher.
func (s *Store) Invalidate(name string) {
	s.mu.Lock()
	delete(s.artifacts, name)
	s.mu.Unlock()
}

// resolve produces an artifact from the disk cache or by compiling source.
func (s *Store) resolve(name string, compile CompileFunc) (*Artifact, error) {
	src, srcMod, err := s.loader.Source(name)
	if err != nil {
		return nil, err
	}

	art := &Artifact{Name: name, Key: CacheKey(name)}
	if s.cacheDir == "" {
		prog, err := compile(name, src)
		if err != nil {
			return nil, err
		}
		art.Program = prog
		return art, nil
	}

	art.Path = filepath.Join(s.cacheDir, art.Key)
	if info, err := os.Stat(art.Path); err == nil && !info.ModTime().Before(srcMod) {
		data, err := os.ReadFile(art.Path)
		if err == nil {
			if prog, err := program.Unmarshal(data); err == nil {
				art.Program = prog
				return art, nil
			}
		}
		// A corrupt or unreadable artifact falls through to recompilation.
	}

	prog, err := compile(name, src)
	if err != nil {
		return nil, err
	}
	art.Program = prog
	if err := s.writeArtifact(art); err != nil {
		return nil, err
	}
	return art, nil
}

// writeArtifact persists the compiled program via a unique temp file and
// rename, so concurrent writers never leave a torn artifact behind.
func (s *Store) writeArtifact(art *Artifact) error {
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	data, err := art.Program.Marshal()
	if err != nil {
		return fmt.Errorf("encoding artifact for %q: %w", art.Name, err)
	}
	tmp, err := os.CreateTemp(s.cacheDir, art.Key+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing artifact for %q: %w", art.Name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing artifact for %q: %w", art.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing artifact for %q: %w", art.Name, err)
	}
	if err := os.Rename(tmp.Name(), art.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing artifact for %q: %w", art.Name, err)
	}
	return nil
}
