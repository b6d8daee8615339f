package coderesolve

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"internal/extractor/extractor.go":   {Data: []byte("package extractor")},
		"internal/resolver/resolver.go":     {Data: []byte("package resolver")},
		"internal/graph/writer.go":          {Data: []byte("package graph")},
		"internal/graph/writer_test.go":     {Data: []byte("package graph")},
		"docs/design.md":                    {Data: []byte("# design")},
		"node_modules/left-pad/index.js":    {Data: []byte("module.exports")},
		".git/HEAD":                         {Data: []byte("ref: refs/heads/main")},
	}
}

func TestBuildIndexesFilesAndSkipsIgnoredDirs(t *testing.T) {
	r := New()
	n, err := r.Build(testFS())
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, ok := r.Resolve("node_modules/left-pad/index.js")
	require.False(t, ok, "files under ignored directories must not be indexed")
}

func TestResolveExactPathMatch(t *testing.T) {
	r := New()
	_, err := r.Build(testFS())
	require.NoError(t, err)

	got, ok := r.Resolve("internal/extractor/extractor.go")
	require.True(t, ok)
	require.Equal(t, MethodExact, got.Method)
	require.Equal(t, 1.0, got.Confidence)
	require.Equal(t, "go", got.Language)
}

func TestResolveExactSuffixMatch(t *testing.T) {
	r := New()
	_, err := r.Build(testFS())
	require.NoError(t, err)

	got, ok := r.Resolve("extractor/extractor.go")
	require.True(t, ok)
	require.Equal(t, MethodExact, got.Method)
	require.Equal(t, "internal/extractor/extractor.go", got.Path)
}

func TestResolveUniqueStemMatch(t *testing.T) {
	r := New()
	_, err := r.Build(testFS())
	require.NoError(t, err)

	got, ok := r.Resolve("extractor")
	require.True(t, ok)
	require.Equal(t, MethodStem, got.Method)
	require.Equal(t, 0.95, got.Confidence)
	require.Equal(t, "internal/extractor/extractor.go", got.Path)
}

func TestResolveAmbiguousStemPicksShortestPath(t *testing.T) {
	fsys := testFS()
	fsys["pkg/writer/writer.go"] = &fstest.MapFile{Data: []byte("package writer")}
	r := New()
	_, err := r.Build(fsys)
	require.NoError(t, err)

	got, ok := r.Resolve("writer")
	require.True(t, ok)
	require.Equal(t, MethodStemAmbiguous, got.Method)
	require.Equal(t, 0.80, got.Confidence)
	require.Equal(t, "pkg/writer/writer.go", got.Path)
}

func TestResolveFuzzyStemMatch(t *testing.T) {
	r := New()
	_, err := r.Build(testFS())
	require.NoError(t, err)

	got, ok := r.Resolve("extracter")
	require.True(t, ok)
	require.Equal(t, MethodFuzzy, got.Method)
	require.Equal(t, "internal/extractor/extractor.go", got.Path)
	require.GreaterOrEqual(t, got.Confidence, fuzzyThreshold)
}

func TestResolveDirectorySubstringMatch(t *testing.T) {
	r := New()
	_, err := r.Build(testFS())
	require.NoError(t, err)

	_, ok := r.Resolve("zzz-nonexistent")
	require.False(t, ok, "no substring overlap should fail to resolve")

	got, ok := r.Resolve("docs")
	require.True(t, ok)
	require.Equal(t, MethodDirectory, got.Method)
	require.Equal(t, 0.60, got.Confidence)
	require.Equal(t, "docs/design.md", got.Path)
}

func TestResolveEmptyMentionFails(t *testing.T) {
	r := New()
	_, err := r.Build(testFS())
	require.NoError(t, err)

	_, ok := r.Resolve("   ")
	require.False(t, ok)
}

func TestResolveUnindexedResolverFails(t *testing.T) {
	r := New()
	_, ok := r.Resolve("anything")
	require.False(t, ok)
}
