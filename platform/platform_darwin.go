//go:build darwin

package platform

import (
	"os"
	"os/exec"
	"path/filepath"
)

func getDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Library", "Application Support", AppDisplayName)
}

func getCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Library", "Caches", AppName)
}

func sharedLibExtension() string {
	return ".dylib"
}

func openFile(path string) error {
	return exec.Command("open", path).Start()
}
