package gitsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// HelperBinary is the agent installed alongside remote shells. Its
// git-status and git-changes subcommands print JSON on stdout.
const HelperBinary = "termmux-agent"

// RemoteService queries repository state through the helper agent on
// the far side of a session's exec channel.
type RemoteService struct {
	runner CommandRunner
}

func NewRemoteService(runner CommandRunner) *RemoteService {
	return &RemoteService{runner: runner}
}

func (s *RemoteService) Status(ctx context.Context, dir string) (Status, error) {
	out, err := s.runner.Run(ctx, fmt.Sprintf("%s git-status %s", HelperBinary, shellQuote(dir)))
	if err != nil {
		return Status{}, wrapRunErr("status", err)
	}
	var st Status
	if err := json.Unmarshal(jsonBody(out), &st); err != nil {
		return Status{}, wrapRunErr("status", err)
	}
	// The helper reports non-repositories as branch "-" with zero
	// counts rather than failing.
	if st.Branch == "-" && st.Ahead == 0 && st.Behind == 0 && st.Staged == 0 && st.Unstaged == 0 {
		return Status{}, ErrNotRepo
	}
	return st, nil
}

func (s *RemoteService) Changes(ctx context.Context, dir string) ([]Change, error) {
	out, err := s.runner.Run(ctx, fmt.Sprintf("%s git-changes %s", HelperBinary, shellQuote(dir)))
	if err != nil {
		return nil, wrapRunErr("changes", err)
	}
	var changes []Change
	if err := json.Unmarshal(jsonBody(out), &changes); err != nil {
		return nil, wrapRunErr("changes", err)
	}
	return changes, nil
}

// jsonBody trims shell noise (motd lines, trailing prompt bytes) around
// the helper's JSON payload.
func jsonBody(out []byte) []byte {
	s := string(out)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return out
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return out
	}
	return []byte(s[start : end+1])
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
