//go:build windows

package sandbox

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// ACLManager grants an AppContainer SID the access control entries it
// needs on mounted directories. Grants are idempotent and never revoked:
// removal is racy with concurrent sessions sharing the same profile name,
// so dispose leaves them in place.
type ACLManager struct {
	sid *windows.SID
}

func NewACLManager(sid *windows.SID) *ACLManager {
	return &ACLManager{sid: sid}
}

// GrantDirectories applies a GRANT_ACCESS entry for m.sid on each dir's
// DACL, with read/write/execute rights inherited by subcontainers and
// subobjects.
func (m *ACLManager) GrantDirectories(dirs []string) error {
	for _, dir := range dirs {
		if err := m.grant(dir); err != nil {
			return fmt.Errorf("grant acl on %s: %w", dir, err)
		}
	}
	return nil
}

func (m *ACLManager) grant(dir string) error {
	trustee := windows.TrusteeValueFromSID(m.sid)
	ea := []windows.EXPLICIT_ACCESS{
		{
			AccessPermissions: windows.GENERIC_READ | windows.GENERIC_WRITE | windows.GENERIC_EXECUTE,
			AccessMode:        windows.GRANT_ACCESS,
			Inheritance:       windows.SUB_CONTAINERS_AND_OBJECTS_INHERIT,
			Trustee: windows.TRUSTEE{
				TrusteeForm:  windows.TRUSTEE_IS_SID,
				TrusteeType:  windows.TRUSTEE_IS_WELL_KNOWN_GROUP,
				TrusteeValue: trustee,
			},
		},
	}

	existingDACL, err := windows.GetNamedSecurityInfo(dir, windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION)
	if err != nil {
		return fmt.Errorf("get named security info: %w", err)
	}

	currentDACL, _, err := existingDACL.DACL()
	if err != nil {
		return fmt.Errorf("read current dacl: %w", err)
	}

	newDACL, err := windows.ACLFromEntries(ea, currentDACL)
	if err != nil {
		return fmt.Errorf("set entries in acl: %w", err)
	}

	return windows.SetNamedSecurityInfo(dir, windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION, nil, nil, newDACL, nil)
}
