package gitsvc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// LocalService runs git directly against the local filesystem.
type LocalService struct {
	gitPath string
}

func NewLocalService() *LocalService {
	return &LocalService{gitPath: "git"}
}

func (s *LocalService) Status(ctx context.Context, dir string) (Status, error) {
	out, err := s.run(ctx, dir, "status", "--porcelain=v2", "--branch")
	if err != nil {
		return Status{}, err
	}
	return ParsePorcelainStatus(out), nil
}

func (s *LocalService) Changes(ctx context.Context, dir string) ([]Change, error) {
	out, err := s.run(ctx, dir, "status", "--porcelain=v2")
	if err != nil {
		return nil, err
	}
	return ParsePorcelainChanges(out), nil
}

func (s *LocalService) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.gitPath, append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "not a git repository") {
			return nil, ErrNotRepo
		}
		return nil, wrapRunErr(strings.Join(args, " "), fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String())))
	}
	return stdout.Bytes(), nil
}

// ParsePorcelainStatus extracts branch, ahead/behind and staged/unstaged
// counts from `git status --porcelain=v2 --branch` output.
func ParsePorcelainStatus(out []byte) Status {
	st := Status{Branch: "-"}
	for _, line := range strings.Split(string(out), "\n") {
		switch {
		case strings.HasPrefix(line, "# branch.head "):
			head := strings.TrimPrefix(line, "# branch.head ")
			if head == "(detached)" {
				head = "DETACHED"
			}
			st.Branch = head
		case strings.HasPrefix(line, "# branch.ab "):
			fields := strings.Fields(strings.TrimPrefix(line, "# branch.ab "))
			for _, f := range fields {
				if n, err := strconv.Atoi(strings.TrimPrefix(f, "+")); err == nil && strings.HasPrefix(f, "+") {
					st.Ahead = n
				}
				if n, err := strconv.Atoi(strings.TrimPrefix(f, "-")); err == nil && strings.HasPrefix(f, "-") {
					st.Behind = n
				}
			}
		default:
			staged, unstaged := countEntry(line)
			st.Staged += staged
			st.Unstaged += unstaged
		}
	}
	return st
}

// ParsePorcelainChanges converts porcelain v2 entries into changed-file
// records. A file with both index and worktree changes yields one
// record, flagged staged.
func ParsePorcelainChanges(out []byte) []Change {
	var changes []Change
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch line[0] {
		case '1', '2':
			if len(fields) < 2 || len(fields[1]) != 2 {
				continue
			}
			x, y := string(fields[1][0]), string(fields[1][1])
			path := fields[len(fields)-1]
			changes = append(changes, Change{Path: path, X: x, Y: y, Staged: x != "."})
		case '?':
			if len(fields) < 2 {
				continue
			}
			changes = append(changes, Change{Path: fields[1], X: "?", Y: "?", Staged: false})
		}
	}
	return changes
}

// countEntry returns the staged/unstaged contribution of one porcelain
// entry line. Untracked files count as unstaged.
func countEntry(line string) (staged, unstaged int) {
	if line == "" {
		return 0, 0
	}
	switch line[0] {
	case '?':
		return 0, 1
	case '1', '2':
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[1]) != 2 {
			return 0, 0
		}
		if fields[1][0] != '.' {
			staged = 1
		}
		if fields[1][1] != '.' {
			unstaged = 1
		}
		return staged, unstaged
	case 'u':
		return 0, 1
	}
	return 0, 0
}
