package sandbox

import "os"

// bubblewrapConfig holds the fixed portion of the bwrap argument vector:
// the read-only system paths, device nodes, and proc mounts every session
// needs regardless of its configured allowed directories.
type bubblewrapConfig struct {
	essentialSystemPaths []string
	essentialDevices     []string
}

func newDefaultBubblewrapConfig() *bubblewrapConfig {
	return &bubblewrapConfig{
		essentialSystemPaths: []string{"/usr", "/lib", "/lib64", "/bin", "/sbin", "/etc"},
		essentialDevices:     []string{"/dev/null", "/dev/zero", "/dev/random", "/dev/urandom"},
	}
}

func (c *bubblewrapConfig) existingSystemPaths() []string {
	return existingPaths(c.essentialSystemPaths)
}

func (c *bubblewrapConfig) existingDevices() []string {
	return existingPaths(c.essentialDevices)
}

func existingPaths(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}
