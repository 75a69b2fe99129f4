//go:build !linux

package sandbox

import (
	"context"
	"time"

	"github.com/basket/sandboxcore/internal/config"
)

type bubblewrapProvider struct {
	baseSession
}

func newBubblewrapProvider(cfg config.SandboxConfig, timeout time.Duration) (*bubblewrapProvider, error) {
	return nil, ErrPlatformMismatch
}

func (p *bubblewrapProvider) Kind() Kind { return KindLinuxBubblewrap }

func (p *bubblewrapProvider) IsInitialized() bool { return false }

func (p *bubblewrapProvider) Initialize(ctx context.Context, allowedDirs []string) error {
	return ErrPlatformMismatch
}

func (p *bubblewrapProvider) Execute(ctx context.Context, exe string, args []string, cwd string) (CommandResult, error) {
	return CommandResult{}, ErrPlatformMismatch
}

func (p *bubblewrapProvider) ExecuteShell(ctx context.Context, cmd string, cwd string) (CommandResult, error) {
	return CommandResult{}, ErrPlatformMismatch
}

func (p *bubblewrapProvider) Dispose(ctx context.Context) error {
	return ErrPlatformMismatch
}
