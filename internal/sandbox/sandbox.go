// Package sandbox holds the path-containment and binary-allowlist checks
// shared by every tool that touches the filesystem or a subprocess
// (internal/tools/fs, cli, imagetool, web, codeevolve):
// a tool-call argument never escapes the project's base directory, and a
// shell command is never one of the names ExecConfig.BlockBinaries names.
package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

type baseDirKey struct{}

// WithBaseDir attaches the active project's base directory to ctx.
func WithBaseDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, baseDirKey{}, dir)
}

// BaseDirFromContext retrieves the base directory attached by WithBaseDir.
func BaseDirFromContext(ctx context.Context) (string, bool) {
	dir, ok := ctx.Value(baseDirKey{}).(string)
	return dir, ok
}

// ResolveBaseDir returns the base directory from ctx if one was attached
// with WithBaseDir, falling back to fallback (a tool's configured workdir).
func ResolveBaseDir(ctx context.Context, fallback string) string {
	if dir, ok := BaseDirFromContext(ctx); ok && strings.TrimSpace(dir) != "" {
		return dir
	}
	return fallback
}

// SanitizeArg resolves arg against base and returns it as a path relative to
// base, rejecting anything that would escape base via ".." segments,
// symlink-free absolute paths outside base, or a root ("/", "C:\").
func SanitizeArg(base, arg string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("sandbox: empty base directory")
	}
	if strings.TrimSpace(arg) == "" {
		return "", fmt.Errorf("sandbox: empty path argument")
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("sandbox: resolve base: %w", err)
	}
	var absTarget string
	if filepath.IsAbs(arg) {
		absTarget = filepath.Clean(arg)
	} else {
		absTarget = filepath.Clean(filepath.Join(absBase, arg))
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil {
		return "", fmt.Errorf("sandbox: resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("sandbox: path %q escapes base directory", arg)
	}
	return filepath.ToSlash(rel), nil
}

// IsBinaryBlocked reports whether command names (or is a path to) one of the
// entries in blocked, matched case-insensitively against the final path
// element so "/usr/bin/rm" is blocked by an entry of "rm".
func IsBinaryBlocked(command string, blocked []string) bool {
	name := strings.ToLower(filepath.Base(strings.TrimSpace(command)))
	if name == "" {
		return true
	}
	for _, b := range blocked {
		if strings.ToLower(strings.TrimSpace(b)) == name {
			return true
		}
	}
	return false
}
