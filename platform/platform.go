// Package platform provides per-OS directory paths, the shared library
// extension used to locate onnxruntime, and opening files with the default
// application.
package platform

// AppName is the directory name used for data and cache on Linux and macOS.
const AppName = "autostereo"

// AppDisplayName is the directory name used on Windows and under macOS
// Application Support.
const AppDisplayName = "Autostereo"

// GetDataDir returns the application data directory, home of config.json and
// the job database.
// Windows: %APPDATA%\Autostereo
// Linux: $XDG_DATA_HOME/autostereo or ~/.local/share/autostereo
// macOS: ~/Library/Application Support/Autostereo
func GetDataDir() string {
	return getDataDir()
}

// GetCacheDir returns the directory models and the onnxruntime library are
// looked up in by default.
// Windows: %APPDATA%\Autostereo
// Linux: $XDG_CACHE_HOME/autostereo or ~/.cache/autostereo
func GetCacheDir() string {
	return getCacheDir()
}

// SharedLibExtension returns the shared library extension for the current platform.
func SharedLibExtension() string {
	return sharedLibExtension()
}

// OpenFile opens a file with the default application.
func OpenFile(path string) error {
	return openFile(path)
}
