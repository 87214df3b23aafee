package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetPathInfo resolves a firmware path given on the command line to an
// absolute path and the directory that holds it. The file must exist.
func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	// Convert to absolute path (resolves ../../ and cleans the path)
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return "", "", err
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("%s is a directory", fullPath)
	}

	// Get the directory containing the file
	parentDir = filepath.Dir(fullPath)

	return fullPath, parentDir, nil
}

// SnapshotPath returns the default hibernation path for a firmware file:
// the same name with a .zip extension, next to it.
func SnapshotPath(scriptPath string) string {
	ext := filepath.Ext(scriptPath)
	return scriptPath[:len(scriptPath)-len(ext)] + ".zip"
}
