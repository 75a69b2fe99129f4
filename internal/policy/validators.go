package policy

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Mode is the filesystem operation a PathValidator is asked to gate.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeDelete
)

// AuditSink receives one record per validator decision when the resolved
// policy for the path has EnableAudit set.
type AuditSink func(decision, capability, reason, subject string)

// PathValidator canonicalizes an operation path, rejects anything that
// escapes every declared sandbox root, and forwards the remaining decision
// to the policy engine's CheckFileAccess. It is the only validator that
// enforces file size limits at rest, ahead of reads.
type PathValidator struct {
	Engine   *FolderPolicyEngine
	RootDirs []string // allowed_directories for the active sandbox session
	OnAudit  AuditSink
}

func (v *PathValidator) audit(decision, reason, subject string) {
	if v.OnAudit != nil {
		v.OnAudit(decision, "path."+subject, reason, subject)
	}
}

// Validate canonicalizes path, checks it falls under one of the declared
// sandbox roots (when any are declared), then consults the policy engine.
func (v *PathValidator) Validate(path string, mode Mode) ValidationResult {
	abs, err := filepath.Abs(path)
	if err != nil {
		return v.reject(path, "path '"+path+"' could not be resolved")
	}
	clean := filepath.Clean(abs)

	if len(v.RootDirs) > 0 && !withinAnyRoot(clean, v.RootDirs) {
		return v.reject(path, "path '"+path+"' outside allowed directories")
	}

	write := mode == ModeWrite || mode == ModeDelete
	check := v.Engine.CheckFileAccess(clean, write)
	if !check.Allowed {
		return v.reject(path, check.Reason)
	}

	v.audit("allow", "allowed", path)
	return Allow()
}

func (v *PathValidator) reject(path, reason string) ValidationResult {
	v.audit("deny", reason, path)
	return Deny(reason)
}

func withinAnyRoot(path string, roots []string) bool {
	for _, root := range roots {
		r := filepath.Clean(root)
		if foldCase(path) == foldCase(r) {
			return true
		}
		sep := string(filepath.Separator)
		prefix := r
		if !strings.HasSuffix(prefix, sep) {
			prefix += sep
		}
		if strings.HasPrefix(foldCase(path), foldCase(prefix)) {
			return true
		}
	}
	return false
}

// CommandMode selects how CommandValidator interprets its token set.
type CommandMode int

const (
	CommandWhitelist CommandMode = iota
	CommandBlacklist
)

// shellMetacharacters are rejected outright unless the configured
// interpreter is known to treat them as inert (the core spawns vetted
// interpreters; /bin/sh -c reaches all of these).
var shellMetacharacters = regexp.MustCompile("[;&|`$(){}<>\\n]")

// CommandValidator enforces an allow/deny token set on the first
// whitespace-delimited word of a command.
type CommandValidator struct {
	Mode    CommandMode
	Allowed []string
	Denied  []string
	OnAudit AuditSink
}

func (v *CommandValidator) audit(decision, reason, subject string) {
	if v.OnAudit != nil {
		v.OnAudit(decision, "command", reason, subject)
	}
}

// Validate tokenizes cmd and checks it against the configured mode's token
// set, then rejects any shell metacharacter the target interpreter cannot
// be trusted to leave inert.
func (v *CommandValidator) Validate(cmd string) ValidationResult {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		v.audit("deny", "empty command", cmd)
		return Deny("empty command")
	}

	if shellMetacharacters.MatchString(trimmed) {
		reason := "command contains disallowed shell metacharacters"
		v.audit("deny", reason, cmd)
		return Deny(reason)
	}

	token := firstToken(trimmed)
	lower := strings.ToLower(token)

	switch v.Mode {
	case CommandWhitelist:
		for _, allowed := range v.Allowed {
			if strings.ToLower(allowed) == lower {
				v.audit("allow", "allowed", cmd)
				return Allow()
			}
		}
		reason := "command '" + token + "' not in allowlist"
		v.audit("deny", reason, cmd)
		return Deny(reason)
	case CommandBlacklist:
		for _, denied := range v.Denied {
			if strings.ToLower(denied) == lower {
				reason := "command '" + token + "' is blocked"
				v.audit("deny", reason, cmd)
				return Deny(reason)
			}
		}
		v.audit("allow", "not blocked", cmd)
		return Allow()
	default:
		v.audit("deny", "unknown command mode", cmd)
		return Deny("unknown command mode")
	}
}

func firstToken(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// UrlValidator rejects non-http(s) schemes and tests the host against
// allowed/denied domain patterns, deny winning on overlap.
type UrlValidator struct {
	AllowedDomains []string
	DeniedDomains  []string
	OnAudit        AuditSink
}

func (v *UrlValidator) audit(decision, reason, subject string) {
	if v.OnAudit != nil {
		v.OnAudit(decision, "url", reason, subject)
	}
}

// Validate parses raw and checks scheme then host against the configured
// domain patterns.
func (v *UrlValidator) Validate(raw string) ValidationResult {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		reason := "url '" + raw + "' could not be parsed"
		v.audit("deny", reason, raw)
		return Deny(reason)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		reason := "scheme '" + u.Scheme + "' is not permitted"
		v.audit("deny", reason, raw)
		return Deny(reason)
	}

	host := strings.ToLower(u.Hostname())

	if domainMatches(host, v.DeniedDomains) {
		reason := "host '" + host + "' is denied"
		v.audit("deny", reason, raw)
		return Deny(reason)
	}

	if len(v.AllowedDomains) == 0 || domainMatches(host, v.AllowedDomains) {
		v.audit("allow", "allowed", raw)
		return Allow()
	}

	reason := "host '" + host + "' is not in the allowlist"
	v.audit("deny", reason, raw)
	return Deny(reason)
}

func domainMatches(host string, patterns []string) bool {
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if pattern == "*" {
			return true
		}
		if strings.HasPrefix(pattern, "*.") {
			suffix := pattern[1:] // ".example.com"
			if host == pattern[2:] || strings.HasSuffix(host, suffix) {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}
