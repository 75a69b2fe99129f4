//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/basket/sandboxcore/internal/config"
)

// bubblewrapProvider wraps every execute* call in a fresh `bwrap` subprocess
// per the CLI-wrapper pattern: no persistent sandbox state beyond the
// resolved binary path and the bind-mount layout fixed at Initialize.
type bubblewrapProvider struct {
	baseSession

	bwrapPath string
	cfg       *bubblewrapConfig
	timeout   time.Duration

	// workspace maps a host directory to its bind path inside the sandbox.
	workspace map[string]string
}

func newBubblewrapProvider(cfg config.SandboxConfig, timeout time.Duration) (*bubblewrapProvider, error) {
	bwrapPath, err := exec.LookPath("bwrap")
	if err != nil {
		return nil, &OSError{Kind: KindLinuxBubblewrap, Op: "lookup bwrap", Err: err}
	}
	return &bubblewrapProvider{
		bwrapPath: bwrapPath,
		cfg:       newDefaultBubblewrapConfig(),
		timeout:   timeout,
	}, nil
}

func (p *bubblewrapProvider) Kind() Kind { return KindLinuxBubblewrap }

func (p *bubblewrapProvider) IsInitialized() bool { return p.isInitialized() }

func (p *bubblewrapProvider) Initialize(ctx context.Context, allowedDirs []string) error {
	if !p.beginInit() {
		return nil
	}
	workspace := make(map[string]string, len(allowedDirs))
	for _, dir := range allowedDirs {
		clean := filepath.Clean(dir)
		workspace[clean] = path.Join("/workspace", filepath.Base(clean))
	}
	p.workspace = workspace
	p.markReady(allowedDirs)
	return nil
}

func (p *bubblewrapProvider) Execute(ctx context.Context, exe string, args []string, cwd string) (CommandResult, error) {
	return p.run(ctx, append([]string{exe}, args...), cwd)
}

func (p *bubblewrapProvider) ExecuteShell(ctx context.Context, cmd string, cwd string) (CommandResult, error) {
	return p.run(ctx, []string{"/bin/sh", "-c", cmd}, cwd)
}

func (p *bubblewrapProvider) run(ctx context.Context, target []string, cwd string) (CommandResult, error) {
	if err := p.requireReady(KindLinuxBubblewrap, "execute"); err != nil {
		return CommandResult{}, err
	}

	p.execMu.Lock()
	defer p.execMu.Unlock()

	args := p.buildArgs(cwd)
	args = append(args, "--")
	args = append(args, target...)

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, p.bwrapPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return TimedOut(), nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return CommandResult{ExitCode: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
		return CommandResult{}, &OSError{Kind: KindLinuxBubblewrap, Op: "run bwrap", Err: err}
	}
	return CommandResult{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// buildArgs assembles the bwrap flags common to every invocation: read-only
// system binds, fresh /tmp and /run, proc, unshared namespaces, and a
// read-write bind per allowed directory. cwd is rewritten to its
// sandbox-side path when it falls under an allowed directory.
func (p *bubblewrapProvider) buildArgs(cwd string) []string {
	var args []string

	for _, sysPath := range p.cfg.existingSystemPaths() {
		args = append(args, "--ro-bind", sysPath, sysPath)
	}
	for _, dev := range p.cfg.existingDevices() {
		args = append(args, "--dev-bind", dev, dev)
	}
	args = append(args,
		"--tmpfs", "/tmp",
		"--tmpfs", "/run",
		"--proc", "/proc",
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
	)

	for host, mapped := range p.workspace {
		args = append(args, "--bind", host, mapped)
	}

	args = append(args, "--chdir", p.translateCwd(cwd))
	return args
}

func (p *bubblewrapProvider) translateCwd(cwd string) string {
	if cwd == "" {
		return "/workspace"
	}
	clean := filepath.Clean(cwd)
	for host, mapped := range p.workspace {
		if clean == host {
			return mapped
		}
		prefix := host + string(filepath.Separator)
		if strings.HasPrefix(clean, prefix) {
			return path.Join(mapped, strings.TrimPrefix(clean, prefix))
		}
	}
	return "/workspace"
}

func (p *bubblewrapProvider) Dispose(ctx context.Context) error {
	p.markDisposed()
	return nil
}
