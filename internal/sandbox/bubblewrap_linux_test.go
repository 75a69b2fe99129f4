//go:build linux

package sandbox

import (
	"strings"
	"testing"
)

func TestBubblewrapProvider_BuildArgsIncludesNamespaceFlags(t *testing.T) {
	p := &bubblewrapProvider{
		cfg:       newDefaultBubblewrapConfig(),
		workspace: map[string]string{"/home/user/work": "/workspace/work"},
	}

	args := p.buildArgs("/home/user/work/sub")
	joined := strings.Join(args, " ")

	for _, want := range []string{"--unshare-all", "--die-with-parent", "--new-session", "--tmpfs /tmp", "--proc /proc"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected args to contain %q, got %q", want, joined)
		}
	}
	if !strings.Contains(joined, "--bind /home/user/work /workspace/work") {
		t.Fatalf("expected a read-write bind for the allowed directory, got %q", joined)
	}
	if !strings.Contains(joined, "--chdir /workspace/work/sub") {
		t.Fatalf("expected cwd translated under the bind, got %q", joined)
	}
}

func TestBubblewrapProvider_TranslateCwdOutsideWorkspace(t *testing.T) {
	p := &bubblewrapProvider{workspace: map[string]string{"/home/user/work": "/workspace/work"}}

	if got := p.translateCwd("/etc"); got != "/workspace" {
		t.Fatalf("expected fallback to /workspace, got %q", got)
	}
}
