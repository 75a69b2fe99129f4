package policy

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// declared is a normalized, parsed FolderPolicy plus its insertion sequence,
// used to break specificity ties in favor of the most recently declared rule.
type declared struct {
	path       string // normalized
	access     Access
	network    Tri
	execute    Tri
	allowedExt map[string]struct{}
	deniedExt  map[string]struct{}
	maxSizeMB  int
	audit      bool
	seq        int
}

// FolderPolicyEngine resolves a concrete path against the declared policy set
// and the global default, with deterministic ancestor-to-descendant
// inheritance and a results cache invalidated on every mutation.
type FolderPolicyEngine struct {
	mu       sync.RWMutex
	global   declared
	policies []declared
	nextSeq  int

	cacheMu sync.Mutex
	cache   map[string]EffectivePolicy
}

// NewFolderPolicyEngine returns an engine seeded only with the global
// default (deny everything, inherit network/execute).
func NewFolderPolicyEngine() *FolderPolicyEngine {
	return &FolderPolicyEngine{
		global: declared{
			path:    "*",
			access:  AccessDeny,
			network: TriDeny,
			execute: TriDeny,
		},
		cache: make(map[string]EffectivePolicy),
	}
}

// SetGlobalDefault replaces the seed policy consulted when no declared
// policy matches a path.
func (e *FolderPolicyEngine) SetGlobalDefault(p FolderPolicy) error {
	d, err := parsePolicy(p, 0)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.global = d
	e.mu.Unlock()
	e.invalidate()
	return nil
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "*" {
		return "*"
	}
	clean := filepath.Clean(p)
	clean = strings.TrimRight(clean, string(filepath.Separator))
	if clean == "" {
		clean = string(filepath.Separator)
	}
	return clean
}

func foldCase(s string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(s)
	}
	return s
}

func parsePolicy(p FolderPolicy, seq int) (declared, error) {
	access, err := ParseAccess(orDefault(p.Access, "Deny"))
	if err != nil {
		return declared{}, err
	}
	network, err := ParseTri(p.Network)
	if err != nil {
		return declared{}, err
	}
	execute, err := ParseTri(p.Execute)
	if err != nil {
		return declared{}, err
	}
	d := declared{
		path:       normalizePath(p.Path),
		access:     access,
		network:    network,
		execute:    execute,
		allowedExt: toExtSet(p.AllowedExtensions),
		deniedExt:  toExtSet(p.DeniedExtensions),
		maxSizeMB:  p.MaxFileSizeMB,
		audit:      p.EnableAudit,
		seq:        seq,
	}
	return d, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func toExtSet(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out[e] = struct{}{}
		}
	}
	return out
}

// AddPolicy normalizes p.Path, replaces any prior entry with the same
// normalized path, appends, and invalidates the cache.
func (e *FolderPolicyEngine) AddPolicy(p FolderPolicy) error {
	if normalizePath(p.Path) == "*" {
		return e.SetGlobalDefault(p)
	}
	d, err := parsePolicy(p, 0)
	if err != nil {
		return err
	}

	e.mu.Lock()
	d.seq = e.nextSeq
	e.nextSeq++
	filtered := e.policies[:0:0]
	for _, existing := range e.policies {
		if existing.path != d.path {
			filtered = append(filtered, existing)
		}
	}
	filtered = append(filtered, d)
	sort.SliceStable(filtered, func(i, j int) bool {
		return len(filtered[i].path) > len(filtered[j].path)
	})
	e.policies = filtered
	e.mu.Unlock()

	e.invalidate()
	return nil
}

// AddPolicies is a convenience wrapper over AddPolicy.
func (e *FolderPolicyEngine) AddPolicies(list []FolderPolicy) error {
	for _, p := range list {
		if err := e.AddPolicy(p); err != nil {
			return err
		}
	}
	return nil
}

func (e *FolderPolicyEngine) invalidate() {
	e.cacheMu.Lock()
	e.cache = make(map[string]EffectivePolicy)
	e.cacheMu.Unlock()
}

// isAncestorOrEqual reports whether declaredPath (already normalized) is a
// prefix of, or equal to, path under OS-native separator semantics.
func isAncestorOrEqual(declaredPath, path string) bool {
	if declaredPath == "*" {
		return true
	}
	dp := foldCase(declaredPath)
	p := foldCase(path)
	if dp == p {
		return true
	}
	sep := string(filepath.Separator)
	prefix := dp
	if !strings.HasSuffix(prefix, sep) {
		prefix += sep
	}
	return strings.HasPrefix(p, prefix)
}

// Effective returns the cached, or freshly computed, EffectivePolicy for path.
func (e *FolderPolicyEngine) Effective(path string) EffectivePolicy {
	norm := normalizePath(path)

	e.cacheMu.Lock()
	if ep, ok := e.cache[norm]; ok {
		e.cacheMu.Unlock()
		return ep
	}
	e.cacheMu.Unlock()

	ep := e.computeEffective(norm)

	e.cacheMu.Lock()
	e.cache[norm] = ep
	e.cacheMu.Unlock()

	return ep
}

// computeEffective seeds from the global default then replays matching
// declared policies in ancestor-to-descendant order, most-specific (or, at
// equal specificity, most-recently-declared) last.
func (e *FolderPolicyEngine) computeEffective(path string) EffectivePolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ep := EffectivePolicy{
		Access:            e.global.access,
		NetworkAllowed:    e.global.network == TriAllow,
		ExecuteAllowed:    e.global.execute == TriAllow,
		AllowedExtensions: extSetToSlice(e.global.allowedExt),
		DeniedExtensions:  extSetToSlice(e.global.deniedExt),
		MaxFileSizeMB:     e.global.maxSizeMB,
		EnableAudit:       e.global.audit,
	}

	var matches []declared
	for _, d := range e.policies {
		if isAncestorOrEqual(d.path, path) {
			matches = append(matches, d)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if len(matches[i].path) != len(matches[j].path) {
			return len(matches[i].path) < len(matches[j].path)
		}
		return matches[i].seq < matches[j].seq
	})

	for _, d := range matches {
		ep.Access = d.access
		if d.network != TriInherit {
			ep.NetworkAllowed = d.network == TriAllow
		}
		if d.execute != TriInherit {
			ep.ExecuteAllowed = d.execute == TriAllow
		}
		if len(d.allowedExt) > 0 {
			ep.AllowedExtensions = extSetToSlice(d.allowedExt)
		}
		if len(d.deniedExt) > 0 {
			ep.DeniedExtensions = extSetToSlice(d.deniedExt)
		}
		if d.maxSizeMB > 0 && (ep.MaxFileSizeMB == 0 || d.maxSizeMB < ep.MaxFileSizeMB) {
			ep.MaxFileSizeMB = d.maxSizeMB
		}
		if d.audit {
			ep.EnableAudit = true
		}
	}

	return ep
}

func extSetToSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// IsNetworkAllowed is a shortcut over Effective.
func (e *FolderPolicyEngine) IsNetworkAllowed(path string) bool {
	return e.Effective(path).NetworkAllowed
}

// IsExecuteAllowed is a shortcut over Effective.
func (e *FolderPolicyEngine) IsExecuteAllowed(path string) bool {
	return e.Effective(path).ExecuteAllowed
}

// CheckFileAccess combines access level, extension lists, and the size
// ceiling into one ordered decision: Deny > denylist hit > allowlist miss >
// ReadOnly+write > size-exceeded > Allow.
func (e *FolderPolicyEngine) CheckFileAccess(path string, write bool) FileAccessCheckResult {
	return e.checkFileAccess(path, write, statSize(path))
}

// CheckFileAccessWithSize is CheckFileAccess for a write whose content size
// is already known to the caller (the file may not exist yet).
func (e *FolderPolicyEngine) CheckFileAccessWithSize(path string, write bool, sizeBytes int64) FileAccessCheckResult {
	return e.checkFileAccess(path, write, sizeBytes)
}

func statSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (e *FolderPolicyEngine) checkFileAccess(path string, write bool, sizeBytes int64) FileAccessCheckResult {
	ep := e.Effective(path)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	if ep.Access == AccessDeny {
		return FileAccessCheckResult{Allowed: false, Reason: "path '" + path + "' denied by policy"}
	}

	if ext != "" && len(ep.DeniedExtensions) > 0 {
		for _, d := range ep.DeniedExtensions {
			if d == ext {
				return FileAccessCheckResult{Allowed: false, Reason: "extension '." + ext + "' is denied"}
			}
		}
	}

	if len(ep.AllowedExtensions) > 0 {
		allowed := false
		for _, a := range ep.AllowedExtensions {
			if a == ext {
				allowed = true
				break
			}
		}
		if !allowed {
			return FileAccessCheckResult{Allowed: false, Reason: "extension '." + ext + "' is not in the allowlist"}
		}
	}

	if write && ep.Access == AccessReadOnly {
		return FileAccessCheckResult{Allowed: false, Reason: "path '" + path + "' is read-only"}
	}

	if write && ep.MaxFileSizeMB > 0 {
		limit := int64(ep.MaxFileSizeMB) * 1024 * 1024
		if sizeBytes > limit {
			return FileAccessCheckResult{Allowed: false, Reason: "file exceeds max_file_size_mb limit"}
		}
	}

	return FileAccessCheckResult{Allowed: true}
}
