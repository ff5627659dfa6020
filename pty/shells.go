package pty

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type ShellInfo struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// AvailableShells lists installed shells from /etc/shells plus a few
// common install locations not always registered there.
func AvailableShells() []ShellInfo {
	seen := make(map[string]bool)
	var shells []ShellInfo

	add := func(path string) {
		if seen[path] {
			return
		}
		if _, err := os.Stat(path); err != nil {
			return
		}
		seen[path] = true
		name := filepath.Base(path)
		shells = append(shells, ShellInfo{
			Path: path,
			Name: friendlyShellName(name) + " (" + path + ")",
		})
	}

	if contents, err := os.ReadFile("/etc/shells"); err == nil {
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			add(line)
		}
	}

	for _, extra := range []string{
		"/usr/local/bin/fish",
		"/opt/homebrew/bin/fish",
		"/usr/bin/fish",
		"/usr/local/bin/nu",
		"/opt/homebrew/bin/nu",
	} {
		add(extra)
	}

	sort.Slice(shells, func(i, j int) bool { return shells[i].Name < shells[j].Name })
	return shells
}

func friendlyShellName(shell string) string {
	switch shell {
	case "bash":
		return "Bash"
	case "zsh":
		return "Zsh"
	case "fish":
		return "Fish"
	case "sh":
		return "Sh"
	case "dash":
		return "Dash"
	case "ksh":
		return "Ksh"
	case "tcsh":
		return "Tcsh"
	case "csh":
		return "Csh"
	case "pwsh":
		return "PowerShell"
	case "nu":
		return "Nushell"
	default:
		return shell
	}
}
