package policy_test

import (
	"testing"

	"github.com/basket/sandboxcore/internal/policy"
)

func TestEffective_PrecedenceScenario(t *testing.T) {
	e := policy.NewFolderPolicyEngine()
	if err := e.AddPolicies([]policy.FolderPolicy{
		{Path: "/", Access: "ReadOnly"},
		{Path: "/work", Access: "ReadWrite"},
		{Path: "/work/secret", Access: "Deny"},
	}); err != nil {
		t.Fatalf("add policies: %v", err)
	}

	if got := e.Effective("/work/secret/file.txt").Access; got != policy.AccessDeny {
		t.Fatalf("expected Deny, got %v", got)
	}
	if got := e.Effective("/work/a.txt").Access; got != policy.AccessReadWrite {
		t.Fatalf("expected ReadWrite, got %v", got)
	}
	if got := e.Effective("/etc/hosts").Access; got != policy.AccessReadOnly {
		t.Fatalf("expected ReadOnly, got %v", got)
	}
}

func TestEffective_DeterministicAcrossRepeatedQueries(t *testing.T) {
	e := policy.NewFolderPolicyEngine()
	_ = e.AddPolicy(policy.FolderPolicy{Path: "/work", Access: "ReadWrite"})

	first := e.Effective("/work/a.txt")
	for i := 0; i < 5; i++ {
		if got := e.Effective("/work/a.txt"); got != first {
			t.Fatalf("effective() not stable across repeated queries: %+v vs %+v", first, got)
		}
	}
}

func TestEffective_MonotonicityOfDeny(t *testing.T) {
	e := policy.NewFolderPolicyEngine()
	_ = e.AddPolicies([]policy.FolderPolicy{
		{Path: "/work", Access: "Deny"},
	})
	if got := e.Effective("/work/nested/file.txt").Access; got != policy.AccessDeny {
		t.Fatalf("ancestor Deny must propagate to descendants without an override, got %v", got)
	}

	_ = e.AddPolicy(policy.FolderPolicy{Path: "/work/nested", Access: "ReadWrite"})
	if got := e.Effective("/work/nested/file.txt").Access; got != policy.AccessReadWrite {
		t.Fatalf("more specific policy must override ancestor Deny, got %v", got)
	}
}

func TestEffective_InheritTransparency(t *testing.T) {
	withInherit := policy.NewFolderPolicyEngine()
	_ = withInherit.AddPolicies([]policy.FolderPolicy{
		{Path: "/work", Access: "ReadWrite", Network: "Allow"},
		{Path: "/work/child", Access: "ReadWrite", Network: "Inherit"},
	})

	omitted := policy.NewFolderPolicyEngine()
	_ = omitted.AddPolicy(policy.FolderPolicy{Path: "/work", Access: "ReadWrite", Network: "Allow"})

	a := withInherit.Effective("/work/child/file.txt")
	b := omitted.Effective("/work/child/file.txt")
	if a.NetworkAllowed != b.NetworkAllowed {
		t.Fatalf("Inherit must behave identically to omitting the policy level: %v vs %v", a.NetworkAllowed, b.NetworkAllowed)
	}
}

func TestAddPolicy_DuplicateReplacement(t *testing.T) {
	e := policy.NewFolderPolicyEngine()
	_ = e.AddPolicy(policy.FolderPolicy{Path: "/work", Access: "ReadWrite"})
	_ = e.AddPolicy(policy.FolderPolicy{Path: "/work", Access: "Deny"})

	if got := e.Effective("/work/a.txt").Access; got != policy.AccessDeny {
		t.Fatalf("second add_policy for same path must replace the first, got %v", got)
	}
}

func TestCheckFileAccess_ExtensionFilter(t *testing.T) {
	e := policy.NewFolderPolicyEngine()
	_ = e.AddPolicy(policy.FolderPolicy{
		Path:             "/drop",
		Access:           "ReadWrite",
		DeniedExtensions: []string{"exe", "dll"},
	})

	if r := e.CheckFileAccessWithSize("/drop/malware.exe", true, 10); r.Allowed {
		t.Fatalf("expected denial for denylisted extension")
	}
	if r := e.CheckFileAccessWithSize("/drop/notes.md", true, 10); !r.Allowed {
		t.Fatalf("expected allow for non-denylisted extension, got reason %q", r.Reason)
	}
}

func TestCheckFileAccess_MaxSizeTighterWins(t *testing.T) {
	e := policy.NewFolderPolicyEngine()
	_ = e.AddPolicies([]policy.FolderPolicy{
		{Path: "/work", Access: "ReadWrite", MaxFileSizeMB: 10},
		{Path: "/work/small", Access: "ReadWrite", MaxFileSizeMB: 1},
	})

	oneMB := int64(1024 * 1024)
	if r := e.CheckFileAccessWithSize("/work/small/a.bin", true, 2*oneMB); r.Allowed {
		t.Fatalf("expected denial above the tighter 1MB ceiling")
	}
	if r := e.CheckFileAccessWithSize("/work/other.bin", true, 5*oneMB); !r.Allowed {
		t.Fatalf("expected allow under the looser 10MB ceiling, got reason %q", r.Reason)
	}
}

func TestCheckFileAccess_ReadOnlyDeniesWrite(t *testing.T) {
	e := policy.NewFolderPolicyEngine()
	_ = e.AddPolicy(policy.FolderPolicy{Path: "/etc", Access: "ReadOnly"})

	if r := e.CheckFileAccess("/etc/hosts", false); !r.Allowed {
		t.Fatalf("expected read to be allowed under ReadOnly, got reason %q", r.Reason)
	}
	if r := e.CheckFileAccess("/etc/hosts", true); r.Allowed {
		t.Fatalf("expected write to be denied under ReadOnly")
	}
}
