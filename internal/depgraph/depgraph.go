// Package depgraph implements component G, the Dependency Graph Builder:
// forward/reverse file-to-file adjacency derived from imports and call
// targets, built in two passes over the sorted source tree (spec.md §4.2).
package depgraph

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"cogrouter/internal/persistence/databases"
)

const relDependsOn = "DEPENDS_ON"

// SourceFile is one file's raw content plus the metadata needed to resolve
// its imports and identify its exported method names.
type SourceFile struct {
	Path    string
	Content string
}

// Graph is component G's in-memory representation: forward[file] is the set
// of files f depends on; reverse is its transpose. Construction is one-shot;
// changes require a rebuild (spec.md §4.2).
type Graph struct {
	Forward map[string]map[string]struct{}
	Reverse map[string]map[string]struct{}
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{Forward: make(map[string]map[string]struct{}), Reverse: make(map[string]map[string]struct{})}
}

var (
	importRe = regexp.MustCompile(`(?m)^\s*import\s+([A-Za-z0-9_.]+)`)
	callRe   = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
)

// Build runs both passes over files (already sorted by caller, or sorted
// here defensively) and returns the resulting Graph. projectNamespace is the
// fully-qualified prefix that identifies an import as project-internal
// (spec.md §4.2a); imports outside it are ignored.
func Build(files []SourceFile, projectNamespace string) *Graph {
	sorted := make([]SourceFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	// Pass 1: methodName -> set<file> that declares it.
	methodOwners := make(map[string]map[string]struct{})
	for _, f := range sorted {
		for _, m := range declaredMethodNames(f.Content) {
			if methodOwners[m] == nil {
				methodOwners[m] = make(map[string]struct{})
			}
			methodOwners[m][f.Path] = struct{}{}
		}
	}

	g := New()
	for _, f := range sorted {
		deps := make(map[string]struct{})

		// Pass 2a: imports whose FQN begins with the project namespace.
		for _, m := range importRe.FindAllStringSubmatch(f.Content, -1) {
			imp := m[1]
			if projectNamespace != "" && !strings.HasPrefix(imp, projectNamespace) {
				continue
			}
			parts := strings.Split(imp, ".")
			simple := parts[len(parts)-1]
			target := simple + filepath.Ext(f.Path)
			if target != filepath.Base(f.Path) {
				deps[target] = struct{}{}
			}
		}

		// Pass 2b: call-expression names resolved against pass 1's owners.
		for _, m := range callRe.FindAllStringSubmatch(f.Content, -1) {
			name := m[1]
			for owner := range methodOwners[name] {
				if owner != f.Path {
					deps[filepath.Base(owner)] = struct{}{}
				}
			}
		}

		delete(deps, filepath.Base(f.Path))
		g.Forward[f.Path] = deps
		for dep := range deps {
			if g.Reverse[dep] == nil {
				g.Reverse[dep] = make(map[string]struct{})
			}
			g.Reverse[dep][f.Path] = struct{}{}
		}
		if g.Reverse[f.Path] == nil {
			g.Reverse[f.Path] = make(map[string]struct{})
		}
		if g.Forward[f.Path] == nil {
			g.Forward[f.Path] = make(map[string]struct{})
		}
	}
	return g
}

// declaredMethodNames extracts a loose approximation of method/function
// names declared in source text, enough to drive pass-1 ownership without
// a full per-language parser (source files are arbitrary languages here).
var declRe = regexp.MustCompile(`(?m)\b(?:func|def|public|private|protected)\s+[\w<>\[\],\s]*?([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

func declaredMethodNames(content string) []string {
	matches := declRe.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// ForwardDeps returns file's forward dependency set as a sorted slice.
func (g *Graph) ForwardDeps(file string) []string { return sortedKeys(g.Forward[file]) }

// ReverseDeps returns file's reverse dependency set (files that depend on it).
func (g *Graph) ReverseDeps(file string) []string { return sortedKeys(g.Reverse[file]) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Persist writes every node and forward edge to a GraphDB, for deployments
// that configure a Postgres-backed graph store instead of relying on the
// in-memory Graph alone (SPEC_FULL.md §4). Upserts are idempotent so
// Persist may be called again after an incremental rebuild.
func (g *Graph) Persist(ctx context.Context, db databases.GraphDB) error {
	if db == nil {
		return nil
	}
	for file := range g.Forward {
		if err := db.UpsertNode(ctx, file, []string{"File"}, nil); err != nil {
			return err
		}
	}
	for file, deps := range g.Forward {
		for dep := range deps {
			if err := db.UpsertEdge(ctx, file, relDependsOn, dep, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
