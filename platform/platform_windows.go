//go:build windows

package platform

import (
	"os"
	"os/exec"
	"path/filepath"
)

func getDataDir() string {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		return filepath.Join(home, "."+AppName)
	}
	return filepath.Join(appData, AppDisplayName)
}

// Cache and data share a directory on Windows.
func getCacheDir() string {
	return getDataDir()
}

func sharedLibExtension() string {
	return ".dll"
}

// The empty argument after start is the window title.
func openFile(path string) error {
	return exec.Command("cmd", "/c", "start", "", path).Start()
}
