package storage

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/velumhq/velum/internal/errors"
	"github.com/velumhq/velum/internal/program"
)

// countingCompile returns a CompileFunc that records invocations and
// produces a one-node program carrying the source text.
func countingCompile(calls *atomic.Int32) CompileFunc {
	return func(name string, src []byte) (*program.Program, error) {
		calls.Add(1)
		return &program.Program{Nodes: []program.Node{
			{Op: program.OpText, Text: string(src)},
		}}, nil
	}
}

func TestCacheKeyIsHexSHA1(t *testing.T) {
	key := CacheKey("pages/home.vel")
	assert.Len(t, key, 40)
	assert.NotEqual(t, key, CacheKey("pages/about.vel"))
	// Same name, same key.
	assert.Equal(t, key, CacheKey("pages/home.vel"))
}

func TestLoadMemoizesInMemory(t *testing.T) {
	loader := NewMapLoader()
	loader.Set("t.vel", "hello")
	store := NewStore(loader, "")

	var calls atomic.Int32
	compile := countingCompile(&calls)

	first, err := store.Load("t.vel", compile)
	require.NoError(t, err)
	second, err := store.Load("t.vel", compile)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, first.Path)
}

func TestLoadMissingTemplate(t *testing.T) {
	store := NewStore(NewMapLoader(), "")

	_, err := store.Load("ghost.vel", countingCompile(new(atomic.Int32)))
	require.Error(t, err)

	var miss *verrors.MissingTemplateError
	require.ErrorAs(t, err, &miss)
	assert.Equal(t, "ghost.vel", miss.Name)
}

func TestLoadWritesDiskArtifact(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	loader := NewMapLoader()
	loader.Set("t.vel", "hello")
	store := NewStore(loader, cacheDir)

	art, err := store.Load("t.vel", countingCompile(new(atomic.Int32)))
	require.NoError(t, err)

	wantPath := filepath.Join(cacheDir, CacheKey("t.vel"))
	assert.Equal(t, wantPath, art.Path)

	data, err := os.ReadFile(wantPath)
	require.NoError(t, err)

	prog, err := program.Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, prog.Nodes, 1)
	assert.Equal(t, "hello", prog.Nodes[0].Text)
}

func TestFreshArtifactSkipsCompile(t *testing.T) {
	cacheDir := t.TempDir()
	loader := NewMapLoader()
	loader.Set("t.vel", "hello")

	var calls atomic.Int32
	compile := countingCompile(&calls)

	first := NewStore(loader, cacheDir)
	_, err := first.Load("t.vel", compile)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	// A second store over the same cache reuses the artifact without
	// compiling again.
	second := NewStore(loader, cacheDir)
	art, err := second.Load("t.vel", compile)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "hello", art.Program.Nodes[0].Text)
}

func TestStaleArtifactRecompiled(t *testing.T) {
	cacheDir := t.TempDir()
	loader := NewMapLoader()
	loader.Set("t.vel", "old")

	var calls atomic.Int32
	compile := countingCompile(&calls)

	store := NewStore(loader, cacheDir)
	_, err := store.Load("t.vel", compile)
	require.NoError(t, err)

	// Backdate the artifact so the updated source is newer.
	artPath := filepath.Join(cacheDir, CacheKey("t.vel"))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(artPath, past, past))
	loader.Set("t.vel", "new")

	fresh := NewStore(loader, cacheDir)
	art, err := fresh.Load("t.vel", compile)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "new", art.Program.Nodes[0].Text)
}

func TestCorruptArtifactRecompiled(t *testing.T) {
	cacheDir := t.TempDir()
	loader := NewMapLoader()
	loader.Set("t.vel", "hello")

	artPath := filepath.Join(cacheDir, CacheKey("t.vel"))
	require.NoError(t, os.WriteFile(artPath, []byte("not json"), 0o644))
	// Make the garbage artifact newer than the source so only its content
	// forces the recompile.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(artPath, future, future))

	var calls atomic.Int32
	store := NewStore(loader, cacheDir)
	art, err := store.Load("t.vel", countingCompile(&calls))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "hello", art.Program.Nodes[0].Text)
}

func TestCompileErrorWritesNoArtifact(t *testing.T) {
	cacheDir := t.TempDir()
	loader := NewMapLoader()
	loader.Set("t.vel", "{% bogus %}")

	store := NewStore(loader, cacheDir)
	_, err := store.Load("t.vel", func(name string, src []byte) (*program.Program, error) {
		return nil, &verrors.CompileError{Template: name, Line: 1, Col: 1, Msg: "unknown directive"}
	})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(cacheDir, CacheKey("t.vel")))
	assert.True(t, os.IsNotExist(statErr))
}

func TestInvalidateForcesReload(t *testing.T) {
	loader := NewMapLoader()
	loader.Set("t.vel", "one")
	store := NewStore(loader, "")

	var calls atomic.Int32
	compile := countingCompile(&calls)

	_, err := store.Load("t.vel", compile)
	require.NoError(t, err)

	loader.Set("t.vel", "two")
	store.Invalidate("t.vel")

	art, err := store.Load("t.vel", compile)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "two", art.Program.Nodes[0].Text)
}

func TestConcurrentLoadSingleArtifact(t *testing.T) {
	loader := NewMapLoader()
	loader.Set("t.vel", "hello")
	store := NewStore(loader, t.TempDir())

	const workers = 8
	var wg sync.WaitGroup
	arts := make([]*Artifact, workers)

	var calls atomic.Int32
	compile := countingCompile(&calls)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			art, err := store.Load("t.vel", compile)
			if err == nil {
				arts[i] = art
			}
		}(i)
	}
	wg.Wait()

	// Concurrent loaders may each compile, but every caller observes the
	// same memoized artifact and the surviving disk file is valid.
	for i := 1; i < workers; i++ {
		assert.Same(t, arts[0], arts[i])
	}
	data, err := os.ReadFile(arts[0].Path)
	require.NoError(t, err)
	_, err = program.Unmarshal(data)
	assert.NoError(t, err)
}

func TestFSLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pages"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pages", "home.vel"), []byte("hi"), 0o644))

	loader := NewFSLoader(dir)

	src, mod, err := loader.Source("pages/home.vel")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(src))
	assert.False(t, mod.IsZero())

	_, _, err = loader.Source("pages/ghost.vel")
	var miss *verrors.MissingTemplateError
	require.ErrorAs(t, err, &miss)
}
