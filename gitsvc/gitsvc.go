// Package gitsvc queries repository status for the directory a pane is
// in. Local directories shell out to git; remote directories run the
// helper agent over the session's exec channel and decode its JSON.
package gitsvc

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotRepo marks a directory confirmed not to be inside a git
// repository. Callers treat it as a normal outcome, not a failure.
var ErrNotRepo = errors.New("not a git repository")

type Status struct {
	Branch   string `json:"branch"`
	Ahead    int    `json:"ahead"`
	Behind   int    `json:"behind"`
	Staged   int    `json:"staged"`
	Unstaged int    `json:"unstaged"`
}

type Change struct {
	Path   string `json:"path"`
	X      string `json:"x"`
	Y      string `json:"y"`
	Staged bool   `json:"staged"`
}

// Service answers status and changed-file queries for absolute paths.
type Service interface {
	Status(ctx context.Context, dir string) (Status, error)
	Changes(ctx context.Context, dir string) ([]Change, error)
}

// CommandRunner executes a command line in some shell context and
// returns its combined stdout. Remote sessions implement this over an
// SSH exec channel.
type CommandRunner interface {
	Run(ctx context.Context, command string) ([]byte, error)
}

func wrapRunErr(op string, err error) error {
	return fmt.Errorf("git %s: %w", op, err)
}
