//go:build !windows

package sandbox

// ACLManager is a no-op off Windows: only the WinAppContainer backend
// needs directory ACEs granted to a capability SID.
type ACLManager struct{}

func NewACLManager(sid any) *ACLManager { return &ACLManager{} }

func (m *ACLManager) GrantDirectories(dirs []string) error { return nil }
