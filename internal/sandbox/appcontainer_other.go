//go:build !windows

package sandbox

import (
	"context"
	"time"

	"github.com/basket/sandboxcore/internal/config"
)

type appContainerProvider struct {
	baseSession
}

func newAppContainerProvider(cfg config.SandboxConfig, timeout time.Duration) (*appContainerProvider, error) {
	return nil, ErrPlatformMismatch
}

func (p *appContainerProvider) Kind() Kind { return KindWinAppContainer }

func (p *appContainerProvider) IsInitialized() bool { return false }

func (p *appContainerProvider) Initialize(ctx context.Context, allowedDirs []string) error {
	return ErrPlatformMismatch
}

func (p *appContainerProvider) Execute(ctx context.Context, exe string, args []string, cwd string) (CommandResult, error) {
	return CommandResult{}, ErrPlatformMismatch
}

func (p *appContainerProvider) ExecuteShell(ctx context.Context, cmd string, cwd string) (CommandResult, error) {
	return CommandResult{}, ErrPlatformMismatch
}

func (p *appContainerProvider) Dispose(ctx context.Context) error {
	return ErrPlatformMismatch
}
