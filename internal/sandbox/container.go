package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/basket/sandboxcore/internal/config"
)

// containerProvider is the cross-platform backend. A long-lived container
// is created once at Initialize and kept running with a no-op foreground
// command; each Execute/ExecuteShell runs inside it via exec, and Dispose
// stops and removes it.
type containerProvider struct {
	baseSession

	cli     *client.Client
	image   string
	timeout time.Duration

	containerID string
	// workspace maps a host directory to its bind-mounted path inside the
	// container, "/workspace/<basename(H)>".
	workspace map[string]string
}

func newContainerProvider(cfg config.SandboxConfig, timeout time.Duration) (*containerProvider, error) {
	image := cfg.ContainerImage
	if image == "" {
		image = "alpine:3.20"
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &OSError{Kind: KindContainer, Op: "new client", Err: err}
	}
	return &containerProvider{cli: cli, image: image, timeout: timeout}, nil
}

func (p *containerProvider) Kind() Kind { return KindContainer }

func (p *containerProvider) IsInitialized() bool { return p.isInitialized() }

func (p *containerProvider) Initialize(ctx context.Context, allowedDirs []string) error {
	if !p.beginInit() {
		return nil
	}

	binds := make([]string, 0, len(allowedDirs))
	workspace := make(map[string]string, len(allowedDirs))
	for _, dir := range allowedDirs {
		clean := filepath.Clean(dir)
		containerPath := path.Join("/workspace", filepath.Base(clean))
		binds = append(binds, fmt.Sprintf("%s:%s", clean, containerPath))
		workspace[clean] = containerPath
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:      p.image,
		Cmd:        []string{"sh", "-c", "tail -f /dev/null"},
		WorkingDir: "/workspace",
		Tty:        false,
	}, &container.HostConfig{
		Binds:       binds,
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		AutoRemove:  false,
		NetworkMode: container.NetworkMode("bridge"),
	}, nil, nil, "")
	if err != nil {
		return &OSError{Kind: KindContainer, Op: "create container", Err: err}
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_, _ = p.cli.ContainerWait(ctx, resp.ID, container.WaitConditionRemoved)
		return &OSError{Kind: KindContainer, Op: "start container", Err: err}
	}

	p.containerID = resp.ID
	p.workspace = workspace
	p.markReady(allowedDirs)
	return nil
}

func (p *containerProvider) Execute(ctx context.Context, exe string, args []string, cwd string) (CommandResult, error) {
	cmd := append([]string{exe}, args...)
	return p.execIn(ctx, cmd, cwd)
}

func (p *containerProvider) ExecuteShell(ctx context.Context, cmd string, cwd string) (CommandResult, error) {
	return p.execIn(ctx, []string{"sh", "-c", cmd}, cwd)
}

func (p *containerProvider) execIn(ctx context.Context, cmd []string, cwd string) (CommandResult, error) {
	if err := p.requireReady(KindContainer, "execute"); err != nil {
		return CommandResult{}, err
	}

	p.execMu.Lock()
	defer p.execMu.Unlock()

	workDir := p.translateCwd(cwd)

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	created, err := p.cli.ContainerExecCreate(execCtx, p.containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return CommandResult{}, &OSError{Kind: KindContainer, Op: "exec create", Err: err}
	}

	attached, err := p.cli.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return CommandResult{}, &OSError{Kind: KindContainer, Op: "exec attach", Err: err}
	}
	defer attached.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attached.Reader)
		done <- copyErr
	}()

	select {
	case <-execCtx.Done():
		p.killExec(created.ID)
		<-done
		return TimedOut(), nil
	case copyErr := <-done:
		if copyErr != nil {
			return CommandResult{}, &OSError{Kind: KindContainer, Op: "exec drain", Err: copyErr}
		}
	}

	inspect, err := p.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return CommandResult{}, &OSError{Kind: KindContainer, Op: "exec inspect", Err: err}
	}

	return CommandResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
	}, nil
}

// killExec sends SIGKILL to the timed-out exec's process group from inside
// the container. The long-lived container itself is never killed: other
// sessions or a future exec in the same container must survive this one
// timing out. Best-effort — if the exec already exited or inspection fails
// there is nothing left to kill.
func (p *containerProvider) killExec(execID string) {
	inspect, err := p.cli.ContainerExecInspect(context.Background(), execID)
	if err != nil || inspect.Pid == 0 {
		return
	}

	killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	killCmd := []string{"kill", "-9", "-" + strconv.Itoa(inspect.Pid)}
	created, err := p.cli.ContainerExecCreate(killCtx, p.containerID, container.ExecOptions{Cmd: killCmd})
	if err != nil {
		return
	}
	_ = p.cli.ContainerExecStart(killCtx, created.ID, container.ExecStartOptions{})
}

// translateCwd rewrites a host-side working directory to its container-side
// bind path when it falls under one of the allowed directories.
func (p *containerProvider) translateCwd(cwd string) string {
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

func (p *containerProvider) Dispose(ctx context.Context) error {
	p.mu.Lock()
	if p.state == stateDisposed {
		p.mu.Unlock()
		return nil
	}
	id := p.containerID
	p.mu.Unlock()

	var firstErr error
	if id != "" {
		timeoutSec := 5
		if err := p.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeoutSec}); err != nil {
			firstErr = &OSError{Kind: KindContainer, Op: "stop container", Err: err}
		}
		if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && firstErr == nil {
			firstErr = &OSError{Kind: KindContainer, Op: "remove container", Err: err}
		}
	}
	if err := p.cli.Close(); err != nil && firstErr == nil {
		firstErr = &OSError{Kind: KindContainer, Op: "close client", Err: err}
	}

	p.markDisposed()
	return firstErr
}
