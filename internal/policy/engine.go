package policy

import (
	"context"
	"strings"

	"github.com/org/credvault/pkg/models"
	"github.com/org/credvault/pkg/vaulterr"
)

// PolicyGetter is the minimal interface the Engine needs from storage.
type PolicyGetter interface {
	GetPolicy(ctx context.Context, name string) (*models.Policy, error)
}

// Engine evaluates access policies for a given token and operation.
//
// Evaluation is fail-closed: with no matching rule the request is denied.
// Among matching rules the one with the longest literal prefix wins; at
// that specificity, deny overrides any grant regardless of which policy
// declared it.
type Engine struct {
	store PolicyGetter
}

// NewEngine creates a policy Engine backed by the given storage.
func NewEngine(store PolicyGetter) *Engine {
	return &Engine{store: store}
}

type matchedRule struct {
	prefixLen int
	rule      models.PathRule
}

// Authorize returns nil if the token's policies grant the capability on
// reqPath, or a PermissionDenied error otherwise.
func (e *Engine) Authorize(ctx context.Context, policies []string, capability, reqPath string) error {
	matches := e.collect(ctx, policies, reqPath)
	if len(matches) == 0 {
		return vaulterr.PermissionDenied("no policy grants %s on %s", capability, reqPath)
	}

	best := 0
	for _, m := range matches {
		if m.prefixLen > best {
			best = m.prefixLen
		}
	}

	allowed := false
	for _, m := range matches {
		if m.prefixLen != best {
			continue
		}
		if m.rule.IsDeny() {
			return vaulterr.PermissionDenied("access denied on %s", reqPath)
		}
		if m.rule.HasCapability(capability) {
			allowed = true
		}
	}
	if !allowed {
		return vaulterr.PermissionDenied("no policy grants %s on %s", capability, reqPath)
	}
	return nil
}

// IsAllowed is the boolean form of Authorize.
func (e *Engine) IsAllowed(ctx context.Context, policies []string, capability, reqPath string) bool {
	return e.Authorize(ctx, policies, capability, reqPath) == nil
}

// DeniedParameters returns the union of denied payload keys across every
// rule matching reqPath.
func (e *Engine) DeniedParameters(ctx context.Context, policies []string, reqPath string) map[string]bool {
	denied := map[string]bool{}
	for _, m := range e.collect(ctx, policies, reqPath) {
		for _, param := range m.rule.DeniedParameters {
			denied[param] = true
		}
	}
	return denied
}

// collect gathers all rules across the token's policies whose pattern
// matches reqPath, tagged with the pattern's literal prefix length.
func (e *Engine) collect(ctx context.Context, policies []string, reqPath string) []matchedRule {
	var matches []matchedRule
	for _, policyName := range policies {
		pol, err := e.store.GetPolicy(ctx, policyName)
		if err != nil || pol == nil {
			continue
		}
		for pattern, rule := range pol.Rules {
			if ok, prefixLen := matchPath(pattern, reqPath); ok {
				matches = append(matches, matchedRule{prefixLen: prefixLen, rule: rule})
			}
		}
	}
	return matches
}

// matchPath matches reqPath against a pattern that is either exact or
// glob-suffixed with '*' (matching any remainder, across segments).
// Returns whether it matches and the length of the pattern's literal
// prefix, used for most-specific-wins selection. An exact match is always
// more specific than a glob of the same prefix.
func matchPath(pattern, reqPath string) (bool, int) {
	pattern = strings.TrimPrefix(pattern, "/")
	reqPath = strings.TrimPrefix(reqPath, "/")

	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(reqPath, prefix) {
			return true, len(prefix)
		}
		return false, 0
	}
	if pattern == reqPath {
		// +1 ranks an exact rule above a glob with the same literal prefix.
		return true, len(pattern) + 1
	}
	return false, 0
}

// GetEffectiveCapabilities returns all capabilities granted on a path by
// the winning rules, or ["deny"] if the path is denied.
func (e *Engine) GetEffectiveCapabilities(ctx context.Context, policies []string, reqPath string) []string {
	matches := e.collect(ctx, policies, reqPath)
	if len(matches) == 0 {
		return []string{models.CapDeny}
	}
	best := 0
	for _, m := range matches {
		if m.prefixLen > best {
			best = m.prefixLen
		}
	}
	capSet := map[string]bool{}
	for _, m := range matches {
		if m.prefixLen != best {
			continue
		}
		if m.rule.IsDeny() {
			return []string{models.CapDeny}
		}
		for _, c := range m.rule.Capabilities {
			capSet[c] = true
		}
	}
	caps := make([]string, 0, len(capSet))
	for c := range capSet {
		caps = append(caps, c)
	}
	return caps
}
