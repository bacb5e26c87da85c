// Package assetpath maps between repository asset paths and files on disk.
// Asset paths are slash-separated and absolute, e.g. /content/dam/a/b.pdf.
package assetpath

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Clean returns the canonical form of an asset path: absolute, no trailing
// slash, no dot elements.
func Clean(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

// Join appends slash-separated elements to root.
func Join(root string, elem ...string) string {
	return Clean(path.Join(append([]string{root}, elem...)...))
}

// IsDescendant reports whether p lies strictly below root.
func IsDescendant(root, p string) bool {
	root, p = Clean(root), Clean(p)
	if p == root {
		return false
	}
	if root == "/" {
		return true
	}
	return strings.HasPrefix(p, root+"/")
}

// FromFile returns the asset path of filePath when the directory mountDir is
// mounted at contentRoot.
func FromFile(mountDir, contentRoot, filePath string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(mountDir), filepath.Clean(filePath))
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", filePath, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not inside %s", filePath, mountDir)
	}
	return Join(contentRoot, filepath.ToSlash(rel)), nil
}

// ToFile is the inverse of FromFile. Asset paths outside contentRoot,
// including ones that escape it with "..", are rejected.
func ToFile(mountDir, contentRoot, assetPath string) (string, error) {
	p := Clean(assetPath)
	if !IsDescendant(contentRoot, p) {
		return "", fmt.Errorf("asset path %s is outside %s", assetPath, contentRoot)
	}
	rel := strings.TrimPrefix(p, strings.TrimSuffix(Clean(contentRoot), "/")+"/")
	return filepath.Join(mountDir, filepath.FromSlash(rel)), nil
}
