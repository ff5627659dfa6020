package gitsvc

import (
	"context"
	"errors"
	"testing"
)

const porcelainSample = `# branch.oid 4f2a9c1
# branch.head main
# branch.upstream origin/main
# branch.ab +2 -1
1 .M N... 100644 100644 100644 aaa bbb cmd/main.go
1 M. N... 100644 100644 100644 aaa bbb store/store.go
1 MM N... 100644 100644 100644 aaa bbb layout/layout.go
? notes.txt
`

func TestParsePorcelainStatus(t *testing.T) {
	st := ParsePorcelainStatus([]byte(porcelainSample))

	if st.Branch != "main" {
		t.Errorf("expected branch main, got %q", st.Branch)
	}
	if st.Ahead != 2 || st.Behind != 1 {
		t.Errorf("expected ahead 2 behind 1, got +%d -%d", st.Ahead, st.Behind)
	}
	// store/store.go and layout/layout.go have index changes.
	if st.Staged != 2 {
		t.Errorf("expected 2 staged, got %d", st.Staged)
	}
	// cmd/main.go, layout/layout.go and the untracked file.
	if st.Unstaged != 3 {
		t.Errorf("expected 3 unstaged, got %d", st.Unstaged)
	}
}

func TestParsePorcelainStatus_Detached(t *testing.T) {
	st := ParsePorcelainStatus([]byte("# branch.oid abc\n# branch.head (detached)\n"))
	if st.Branch != "DETACHED" {
		t.Errorf("expected DETACHED, got %q", st.Branch)
	}
}

func TestParsePorcelainChanges(t *testing.T) {
	changes := ParsePorcelainChanges([]byte(porcelainSample))

	if len(changes) != 4 {
		t.Fatalf("expected 4 changes, got %d", len(changes))
	}
	if changes[0].Path != "cmd/main.go" || changes[0].Staged {
		t.Errorf("unexpected first change: %+v", changes[0])
	}
	if changes[1].Path != "store/store.go" || !changes[1].Staged {
		t.Errorf("unexpected second change: %+v", changes[1])
	}
	if changes[3].X != "?" {
		t.Errorf("expected untracked marker, got %+v", changes[3])
	}
}

type fakeRunner struct {
	out []byte
	err error
}

func (f *fakeRunner) Run(ctx context.Context, command string) ([]byte, error) {
	return f.out, f.err
}

func TestRemoteService_Status(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{"branch":"main","ahead":1,"behind":0,"staged":2,"unstaged":3}`)}
	svc := NewRemoteService(runner)

	st, err := svc.Status(context.Background(), "/home/alice/proj")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Branch != "main" || st.Ahead != 1 || st.Staged != 2 || st.Unstaged != 3 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestRemoteService_Status_NotRepo(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{"branch":"-","ahead":0,"behind":0,"staged":0,"unstaged":0}`)}
	svc := NewRemoteService(runner)

	if _, err := svc.Status(context.Background(), "/tmp"); !errors.Is(err, ErrNotRepo) {
		t.Errorf("expected ErrNotRepo, got %v", err)
	}
}

func TestRemoteService_Status_ShellNoise(t *testing.T) {
	runner := &fakeRunner{out: []byte("Welcome to devbox!\n{\"branch\":\"dev\",\"ahead\":0,\"behind\":0,\"staged\":0,\"unstaged\":1}\n$ ")}
	svc := NewRemoteService(runner)

	st, err := svc.Status(context.Background(), "/home/alice/proj")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Branch != "dev" {
		t.Errorf("expected branch dev, got %q", st.Branch)
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("/home/a b/it's"); got != `'/home/a b/it'\''s'` {
		t.Errorf("unexpected quoting: %s", got)
	}
}
