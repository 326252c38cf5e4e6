package tftp

import (
	"os"
	"path/filepath"
	"strings"
)

// translateFilename resolves a client-requested TFTP path against
// serverRoot, grounded on original_source/tftptransfer.cpp's
// TranslateFilename. Returns "" if the request must be refused.
//
// The substring check on ".." is deliberate and not path-component-aware
// (spec.md §4.4, §8): it rejects "../foo" and "foo/../bar", while
// "foo..bar/x" is allowed since only "/.." and "../" match, matching the
// reference implementation's behavior. A request that is exactly ".." is
// also rejected, since neither substring catches it.
func translateFilename(serverRoot, requested string) string {
	normalized := strings.ReplaceAll(requested, "\\", "/")

	if normalized == ".." || strings.Contains(normalized, "/..") || strings.Contains(normalized, "../") {
		return ""
	}

	var resolved string
	if strings.HasPrefix(normalized, "/") {
		resolved = serverRoot + normalized
	} else {
		resolved = serverRoot + "/" + normalized
	}
	return resolved
}

// resolveServedFile translates requested against serverRoot and confirms
// the result both stays within serverRoot after symlink resolution and is
// world-readable. Returns the real path to open, or "" if the request
// must be refused (spec.md §4.4: "Implementations MUST additionally
// refuse to open paths that escape server_root via symlinks").
func resolveServedFile(serverRoot, requested string) (path string, worldReadable bool) {
	candidate := translateFilename(serverRoot, requested)
	if candidate == "" {
		return "", false
	}

	root, err := filepath.EvalSymlinks(serverRoot)
	if err != nil {
		return "", false
	}

	real, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", false
	}

	rel, err := filepath.Rel(root, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}

	info, err := os.Stat(real)
	if err != nil || info.IsDir() {
		return "", false
	}

	return real, isWorldReadable(info)
}

// isWorldReadable reports whether the file's "other" permission bits grant
// read access (spec.md §4.4: "the file must be world-readable").
func isWorldReadable(info os.FileInfo) bool {
	return info.Mode().Perm()&0o004 != 0
}
