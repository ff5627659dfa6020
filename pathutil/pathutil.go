// Package pathutil normalizes the raw directory strings shells report
// into the absolute paths used as status-cache keys.
package pathutil

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// rootPrefixes are the filesystem roots a remote absolute path may
// legitimately start with. Some shells emit home-relative prompts
// without a tilde ("/proj" meaning "$HOME/proj"); an absolute path
// outside this list is treated as home-relative.
var rootPrefixes = []string{
	"/home", "/usr", "/var", "/etc", "/opt", "/tmp", "/root",
	"/bin", "/sbin", "/lib", "/srv", "/mnt", "/media",
	"/proc", "/sys", "/dev", "/run", "/boot",
	"/Users", "/Applications", "/System", "/Library", "/Volumes", "/private",
}

// ResolveLocal expands a leading tilde against the local home directory
// and makes the path absolute.
func ResolveLocal(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty path")
	}
	if raw == "~" || strings.HasPrefix(raw, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		raw = filepath.Join(home, strings.TrimPrefix(raw, "~"))
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", raw, err)
	}
	return filepath.Clean(abs), nil
}

// ResolveRemote normalizes a raw directory reported by a remote shell
// against the session's home directory. Tilde paths expand against
// home; absolute paths that do not start under a known filesystem root
// are prefixed with home.
func ResolveRemote(raw, home string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty path")
	}
	home = strings.TrimSuffix(home, "/")
	switch {
	case raw == "~":
		if home == "" {
			return "", fmt.Errorf("no home directory for %q", raw)
		}
		return home, nil
	case strings.HasPrefix(raw, "~/"):
		if home == "" {
			return "", fmt.Errorf("no home directory for %q", raw)
		}
		return path.Clean(home + "/" + strings.TrimPrefix(raw, "~/")), nil
	case strings.HasPrefix(raw, "/"):
		if hasRootPrefix(raw) || home == "" {
			return path.Clean(raw), nil
		}
		return path.Clean(home + raw), nil
	default:
		// Relative without tilde: anchor at home.
		if home == "" {
			return "", fmt.Errorf("relative path %q with no home directory", raw)
		}
		return path.Clean(home + "/" + raw), nil
	}
}

func hasRootPrefix(p string) bool {
	if p == "/" {
		return true
	}
	for _, prefix := range rootPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

// FromOSC7 extracts the directory from an OSC 7 working-directory
// report ("file://host/path"). Returns the input unchanged when it is
// not a file URL.
func FromOSC7(s string) string {
	if !strings.HasPrefix(s, "file://") {
		return s
	}
	rest := s[len("file://"):]
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[i:]
	}
	return "/"
}
