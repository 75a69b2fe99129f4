// Package policy resolves filesystem, network, and execute permissions for a
// sandboxed agent process and enforces them via a trio of validators.
package policy

import "fmt"

// Access is the filesystem permission level granted to a scope.
type Access int

const (
	AccessDeny Access = iota
	AccessReadOnly
	AccessReadWrite
	AccessFullControl
)

func (a Access) String() string {
	switch a {
	case AccessDeny:
		return "deny"
	case AccessReadOnly:
		return "read_only"
	case AccessReadWrite:
		return "read_write"
	case AccessFullControl:
		return "full_control"
	default:
		return "unknown"
	}
}

func ParseAccess(s string) (Access, error) {
	switch s {
	case "Deny", "deny":
		return AccessDeny, nil
	case "ReadOnly", "read_only", "readonly":
		return AccessReadOnly, nil
	case "ReadWrite", "read_write", "readwrite":
		return AccessReadWrite, nil
	case "FullControl", "full_control", "fullcontrol":
		return AccessFullControl, nil
	default:
		return AccessDeny, fmt.Errorf("unknown access level %q", s)
	}
}

// Tri is a tri-state permission: explicit allow, explicit deny, or inherit
// from the nearest ancestor policy.
type Tri int

const (
	TriInherit Tri = iota
	TriAllow
	TriDeny
)

func ParseTri(s string) (Tri, error) {
	switch s {
	case "", "Inherit", "inherit":
		return TriInherit, nil
	case "Allow", "allow":
		return TriAllow, nil
	case "Deny", "deny":
		return TriDeny, nil
	default:
		return TriInherit, fmt.Errorf("unknown tri-state value %q", s)
	}
}

// FolderPolicy is a single declarative access rule scoped to a path, or to
// "*" for the global default.
type FolderPolicy struct {
	Path               string   `yaml:"path"`
	Access             string   `yaml:"access"`
	Network            string   `yaml:"network"`
	Execute            string   `yaml:"execute"`
	AllowedExtensions  []string `yaml:"allowed_extensions"`
	DeniedExtensions   []string `yaml:"denied_extensions"`
	MaxFileSizeMB      int      `yaml:"max_file_size_mb"`
	EnableAudit        bool     `yaml:"enable_audit"`
}

// EffectivePolicy is the fully materialized, non-Inherit permission set for
// a concrete path.
type EffectivePolicy struct {
	Access            Access
	NetworkAllowed    bool
	ExecuteAllowed    bool
	AllowedExtensions []string
	DeniedExtensions  []string
	MaxFileSizeMB     int
	EnableAudit       bool
}

// FileAccessCheckResult is the outcome of check_file_access.
type FileAccessCheckResult struct {
	Allowed bool
	Reason  string
}

// ValidationResult is returned by every validator.
type ValidationResult struct {
	Allowed bool
	Reason  string
}

func Allow() ValidationResult { return ValidationResult{Allowed: true} }

func Deny(reason string) ValidationResult { return ValidationResult{Allowed: false, Reason: reason} }
