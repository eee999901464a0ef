// Package pathutil converts absolute paths to paths relative to a
// root directory, for the error/status output cmd/lcicfg prints to a
// terminal.
package pathutil

import (
	"path/filepath"
	"strings"
)

// ToRelative converts an absolute path to relative based on a root
// directory. Falls back to the original path if conversion fails, the
// path is already relative, or it falls outside rootDir.
//
// Examples:
//   - ToRelative("/home/user/project/src/main.conf", "/home/user/project") → "src/main.conf"
//   - ToRelative("/other/location/file.conf", "/home/user/project") → "/other/location/file.conf"
//   - ToRelative("src/main.conf", "/home/user/project") → "src/main.conf"
func ToRelative(absPath, rootDir string) string {
	if absPath == "" || rootDir == "" {
		return absPath
	}
	if !filepath.IsAbs(absPath) {
		return absPath
	}

	absPath = filepath.Clean(absPath)
	rootDir = filepath.Clean(rootDir)

	relPath, err := filepath.Rel(rootDir, absPath)
	if err != nil {
		return absPath
	}
	if strings.HasPrefix(relPath, "..") {
		return absPath
	}
	return relPath
}
