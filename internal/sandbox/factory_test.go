package sandbox

import (
	"errors"
	"runtime"
	"testing"

	"github.com/basket/sandboxcore/internal/config"
)

func TestFactory_RejectsUnknownKind(t *testing.T) {
	f := NewFactory(config.SandboxConfig{Kind: "Nonsense"}, config.CommandConfig{})
	if _, err := f.New(); err == nil {
		t.Fatalf("expected error for unknown sandbox kind")
	}
}

func TestFactory_PlatformMismatch(t *testing.T) {
	f := NewFactory(config.SandboxConfig{Kind: "AppContainer"}, config.CommandConfig{})
	_, err := f.New()
	if runtime.GOOS == "windows" {
		t.Skip("AppContainer is valid on windows")
	}
	if !errors.Is(err, ErrPlatformMismatch) {
		t.Fatalf("expected ErrPlatformMismatch on non-windows, got %v", err)
	}
}

func TestFactory_BubblewrapOnNonLinux(t *testing.T) {
	f := NewFactory(config.SandboxConfig{Kind: "Bubblewrap"}, config.CommandConfig{})
	_, err := f.New()
	if runtime.GOOS == "linux" {
		t.Skip("Bubblewrap is valid on linux")
	}
	if !errors.Is(err, ErrPlatformMismatch) {
		t.Fatalf("expected ErrPlatformMismatch on non-linux, got %v", err)
	}
}
