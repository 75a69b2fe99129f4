package sandbox

import (
	"fmt"
	"runtime"
	"time"

	"github.com/basket/sandboxcore/internal/config"
)

// Factory is the only construction path for a Provider: it resolves the
// configured Kind against the host platform and fails fast on mismatch.
type Factory struct {
	cfg config.SandboxConfig
	cmd config.CommandConfig
}

func NewFactory(cfg config.SandboxConfig, cmd config.CommandConfig) *Factory {
	return &Factory{cfg: cfg, cmd: cmd}
}

// New builds the Provider selected by configuration.
func (f *Factory) New() (Provider, error) {
	kind, err := ParseKind(f.cfg.Kind)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(f.cmd.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch kind {
	case KindWinAppContainer:
		if runtime.GOOS != "windows" {
			return nil, fmt.Errorf("%w: AppContainer requires windows, running on %s", ErrPlatformMismatch, runtime.GOOS)
		}
		return newAppContainerProvider(f.cfg, timeout)
	case KindLinuxBubblewrap:
		if runtime.GOOS != "linux" {
			return nil, fmt.Errorf("%w: Bubblewrap requires linux, running on %s", ErrPlatformMismatch, runtime.GOOS)
		}
		return newBubblewrapProvider(f.cfg, timeout)
	case KindContainer:
		return newContainerProvider(f.cfg, timeout)
	default:
		return nil, fmt.Errorf("unhandled sandbox kind %v", kind)
	}
}
