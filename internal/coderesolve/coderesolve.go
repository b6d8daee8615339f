// Package coderesolve resolves a natural-language file mention in decision
// text ("the extractor", "services layer") against a real repository index,
// producing lower-confidence AFFECTS edges that complement the tool-call
// ground-truth path (confidence 1.0) already handled by internal/graph's
// writeCodeEntities step.
//
// Grounded on original_source/apps/api/services/code_resolver.py's
// CodeResolver: build a stem index once, then cascade exact path match ->
// unique-stem match -> ambiguous-stem match (shortest path wins) ->
// fuzzy-stem match -> directory substring match. The package registry
// lookup half of the original (PyPI/npm/crates.io canonicalization) is not
// carried over — spec.md §4.3's Entity Resolver already owns technology
// canonicalization via model.GetCanonicalName, and code_resolver.py's
// registry client is a separate technology-entity concern, not a file-
// mention one.
package coderesolve

import (
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

// fuzzyThreshold mirrors the original's TYPE_RESOLUTION_THRESHOLDS["file"]["fuzzy"]
// (0.95) — file AFFECTS edges are high-precision since a wrong file means a
// wrong edge, unlike entity resolution's looser technology/concept thresholds.
const fuzzyThreshold = 0.95

// ResolutionMethod records which cascade stage resolved a mention.
type ResolutionMethod string

const (
	MethodExact         ResolutionMethod = "exact"
	MethodStem          ResolutionMethod = "stem"
	MethodStemAmbiguous ResolutionMethod = "stem_ambiguous"
	MethodFuzzy         ResolutionMethod = "fuzzy"
	MethodDirectory     ResolutionMethod = "directory"
)

// Confidence by resolution method, per the original's _make_entity call sites.
const (
	confidenceExact     = 1.0
	confidenceStem      = 0.95
	confidenceAmbiguous = 0.80
	confidenceDirectory = 0.60
)

// ResolvedFile is one resolved file mention.
type ResolvedFile struct {
	Path       string
	Stem       string
	Language   string
	Confidence float64
	Method     ResolutionMethod
}

var extLanguage = map[string]string{
	".py": "python", ".ts": "typescript", ".tsx": "typescript",
	".js": "javascript", ".jsx": "javascript", ".mjs": "javascript",
	".rs": "rust", ".go": "go", ".java": "java", ".kt": "kotlin",
	".cs": "csharp", ".cpp": "cpp", ".c": "c", ".rb": "ruby",
	".php": "php", ".swift": "swift", ".scala": "scala",
	".sh": "shell", ".bash": "shell", ".zsh": "shell",
	".sql": "sql", ".toml": "toml", ".yaml": "yaml", ".yml": "yaml",
	".json": "json", ".md": "markdown", ".mdx": "markdown",
}

func detectLanguage(p string) string {
	lang, ok := extLanguage[strings.ToLower(path.Ext(p))]
	if !ok {
		return "unknown"
	}
	return lang
}

// ignoredDirs mirrors the original's fallback-walk ignore set (used here
// unconditionally since Go has no git-ls-files shortcut to prefer first).
var ignoredDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true,
	".venv": true, "dist": true, "build": true, "vendor": true,
}

// Resolver indexes a repository's file paths once and resolves
// natural-language mentions against that index. Safe for concurrent use
// after Build.
type Resolver struct {
	mu         sync.RWMutex
	allPaths   []string
	uniqueStem map[string]string   // stem -> path, only when exactly one file has that stem
	multiStem  map[string][]string // stem -> paths, when more than one file shares it
}

// New returns an unindexed Resolver; call Build before Resolve.
func New() *Resolver {
	return &Resolver{}
}

// Build walks repoFS (typically os.DirFS(repoRoot)) and indexes every
// regular file not under an ignored directory. Returns the number of files
// indexed.
func (r *Resolver) Build(repoFS fs.FS) (int, error) {
	var allPaths []string
	err := fs.WalkDir(repoFS, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		for _, part := range strings.Split(p, "/") {
			if ignoredDirs[part] {
				return nil
			}
		}
		allPaths = append(allPaths, p)
		return nil
	})
	if err != nil {
		return 0, err
	}

	stemCounts := make(map[string]int, len(allPaths))
	for _, p := range allPaths {
		stemCounts[stemOf(p)]++
	}

	uniqueStem := make(map[string]string)
	multiStem := make(map[string][]string)
	for _, p := range allPaths {
		stem := stemOf(p)
		if stemCounts[stem] == 1 {
			uniqueStem[stem] = p
		} else {
			multiStem[stem] = append(multiStem[stem], p)
		}
	}

	r.mu.Lock()
	r.allPaths = allPaths
	r.uniqueStem = uniqueStem
	r.multiStem = multiStem
	r.mu.Unlock()
	return len(allPaths), nil
}

func stemOf(p string) string {
	base := path.Base(p)
	ext := path.Ext(base)
	return strings.ToLower(strings.TrimSuffix(base, ext))
}

// Resolve runs the resolution cascade for one free-text mention. ok is
// false if the index is empty or nothing matched.
func (r *Resolver) Resolve(mention string) (ResolvedFile, bool) {
	mention = strings.TrimSpace(mention)
	if mention == "" {
		return ResolvedFile{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// 1. Exact relative path match (or the mention as a path suffix).
	for _, p := range r.allPaths {
		if p == mention || strings.HasSuffix(p, "/"+mention) {
			return r.makeResolved(p, confidenceExact, MethodExact), true
		}
	}

	// 2. Unique-stem match.
	stem := stemOf(mention)
	if p, ok := r.uniqueStem[stem]; ok {
		return r.makeResolved(p, confidenceStem, MethodStem), true
	}

	// 3. Ambiguous-stem match: shortest path is assumed the "main" file.
	if paths, ok := r.multiStem[stem]; ok && len(paths) > 0 {
		best := paths[0]
		for _, p := range paths[1:] {
			if len(p) < len(best) {
				best = p
			}
		}
		return r.makeResolved(best, confidenceAmbiguous, MethodStemAmbiguous), true
	}

	// 4. Fuzzy stem match.
	if match, score, ok := r.fuzzyStem(stem); ok {
		return r.makeResolved(match, score, MethodFuzzy), true
	}

	// 5. Directory/substring match: shortest matching path wins.
	mentionLower := strings.ToLower(mention)
	var best string
	for _, p := range r.allPaths {
		if !strings.Contains(strings.ToLower(p), mentionLower) {
			continue
		}
		if best == "" || len(p) < len(best) {
			best = p
		}
	}
	if best != "" {
		return r.makeResolved(best, confidenceDirectory, MethodDirectory), true
	}

	return ResolvedFile{}, false
}

func (r *Resolver) fuzzyStem(stem string) (string, float64, bool) {
	var bestStem string
	bestScore := 0.0
	for candidate := range r.uniqueStem {
		score := matchr.JaroWinkler(stem, candidate, true)
		if score >= fuzzyThreshold && score > bestScore {
			bestScore = score
			bestStem = candidate
		}
	}
	if bestStem == "" {
		return "", 0, false
	}
	return r.uniqueStem[bestStem], bestScore, true
}

func (r *Resolver) makeResolved(p string, confidence float64, method ResolutionMethod) ResolvedFile {
	return ResolvedFile{Path: p, Stem: stemOf(p), Language: detectLanguage(p), Confidence: confidence, Method: method}
}
