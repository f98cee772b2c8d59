//go:build linux

package platform

import (
	"path/filepath"
	"testing"
)

func TestDirsFollowXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	t.Setenv("XDG_CACHE_HOME", "/xdg/cache")

	if got, want := GetDataDir(), filepath.Join("/xdg/data", AppName); got != want {
		t.Errorf("GetDataDir() = %q; want %q", got, want)
	}
	if got, want := GetCacheDir(), filepath.Join("/xdg/cache", AppName); got != want {
		t.Errorf("GetCacheDir() = %q; want %q", got, want)
	}
}

func TestDirsFallBackToHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("HOME", "/home/tester")

	if got, want := GetDataDir(), "/home/tester/.local/share/autostereo"; got != want {
		t.Errorf("GetDataDir() = %q; want %q", got, want)
	}
	if got, want := GetCacheDir(), "/home/tester/.cache/autostereo"; got != want {
		t.Errorf("GetCacheDir() = %q; want %q", got, want)
	}
	if SharedLibExtension() != ".so" {
		t.Errorf("SharedLibExtension() = %q; want .so", SharedLibExtension())
	}
}
