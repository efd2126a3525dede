package policy

import (
	"context"
	"testing"

	"github.com/org/credvault/pkg/models"
)

// mockPolicyStore is a minimal in-memory PolicyGetter for testing.
type mockPolicyStore struct {
	policies map[string]*models.Policy
}

func newMockStore(pols ...*models.Policy) *mockPolicyStore {
	m := &mockPolicyStore{policies: map[string]*models.Policy{}}
	for _, p := range pols {
		m.policies[p.Name] = p
	}
	return m
}

func (m *mockPolicyStore) GetPolicy(_ context.Context, name string) (*models.Policy, error) {
	if p, ok := m.policies[name]; ok {
		return p, nil
	}
	return nil, nil
}

func TestPolicyExactMatch(t *testing.T) {
	pol := &models.Policy{
		Name: "test",
		Rules: map[string]models.PathRule{
			"secret/data/myapp": {Capabilities: []string{"read"}},
		},
	}
	eng := NewEngine(newMockStore(pol))
	ctx := context.Background()

	if !eng.IsAllowed(ctx, []string{"test"}, "read", "secret/data/myapp") {
		t.Error("expected read to be allowed on exact match")
	}
	if eng.IsAllowed(ctx, []string{"test"}, "update", "secret/data/myapp") {
		t.Error("expected update to be denied")
	}
}

func TestPolicyGlobMatchesAnyRemainder(t *testing.T) {
	pol := &models.Policy{
		Name: "test",
		Rules: map[string]models.PathRule{
			"secret/data/*": {Capabilities: []string{"read", "update"}},
		},
	}
	eng := NewEngine(newMockStore(pol))
	ctx := context.Background()

	cases := []struct {
		path    string
		allowed bool
	}{
		{"secret/data/myapp", true},
		{"secret/data/myapp/db", true}, // glob crosses segments
		{"secret/metadata/myapp", false},
		{"database/creds/readonly", false},
	}
	for _, tc := range cases {
		got := eng.IsAllowed(ctx, []string{"test"}, "read", tc.path)
		if got != tc.allowed {
			t.Errorf("path=%q: expected allowed=%v got %v", tc.path, tc.allowed, got)
		}
	}
}

func TestPolicyFailClosed(t *testing.T) {
	eng := NewEngine(newMockStore())
	if eng.IsAllowed(context.Background(), []string{"absent"}, "read", "secret/data/x") {
		t.Error("no matching rule must deny")
	}
}

func TestPolicyDenyOverridesBroaderAllow(t *testing.T) {
	// A specific deny must win over a broader allow regardless of
	// declaration order or which policy carries it.
	allow := &models.Policy{
		Name: "allow",
		Rules: map[string]models.PathRule{
			"secret/data/*": {Capabilities: []string{"read", "update"}},
		},
	}
	deny := &models.Policy{
		Name: "deny",
		Rules: map[string]models.PathRule{
			"secret/data/prod/*": {Capabilities: []string{"deny"}},
		},
	}
	eng := NewEngine(newMockStore(allow, deny))
	ctx := context.Background()
	pols := []string{"allow", "deny"}

	if eng.IsAllowed(ctx, pols, "read", "secret/data/prod/db") {
		t.Error("specific deny must override broader allow")
	}
	if !eng.IsAllowed(ctx, pols, "read", "secret/data/staging/db") {
		t.Error("paths outside the deny pattern stay allowed")
	}
}

func TestPolicyMostSpecificWins(t *testing.T) {
	pol := &models.Policy{
		Name: "test",
		Rules: map[string]models.PathRule{
			"secret/*":           {Capabilities: []string{"read"}},
			"secret/data/prod/*": {Capabilities: []string{"read", "update", "delete"}},
		},
	}
	eng := NewEngine(newMockStore(pol))
	ctx := context.Background()

	if !eng.IsAllowed(ctx, []string{"test"}, "delete", "secret/data/prod/db") {
		t.Error("longest-prefix rule should grant delete")
	}
	if eng.IsAllowed(ctx, []string{"test"}, "delete", "secret/data/staging/db") {
		t.Error("broad rule should not grant delete")
	}
}

func TestPolicyExactBeatsGlobOfSamePrefix(t *testing.T) {
	pol := &models.Policy{
		Name: "test",
		Rules: map[string]models.PathRule{
			"secret/data/app":  {Capabilities: []string{"deny"}},
			"secret/data/app*": {Capabilities: []string{"read"}},
		},
	}
	eng := NewEngine(newMockStore(pol))
	if eng.IsAllowed(context.Background(), []string{"test"}, "read", "secret/data/app") {
		t.Error("exact deny must beat glob allow with the same prefix")
	}
}

func TestPolicySudoNotImpliedByUpdate(t *testing.T) {
	pol := &models.Policy{
		Name: "test",
		Rules: map[string]models.PathRule{
			"database/config/*": {Capabilities: []string{"update"}},
		},
	}
	eng := NewEngine(newMockStore(pol))
	ctx := context.Background()

	if !eng.IsAllowed(ctx, []string{"test"}, "update", "database/config/pg") {
		t.Error("update should be allowed")
	}
	if eng.IsAllowed(ctx, []string{"test"}, "sudo", "database/config/pg") {
		t.Error("sudo must not be implied by update")
	}
}

func TestRootPolicy(t *testing.T) {
	root := &models.Policy{
		Name: "root",
		Rules: map[string]models.PathRule{
			"*": {Capabilities: []string{"create", "read", "update", "delete", "list", "sudo"}},
		},
	}
	eng := NewEngine(newMockStore(root))
	ctx := context.Background()

	for _, cap := range []string{"create", "read", "update", "delete", "list", "sudo"} {
		if !eng.IsAllowed(ctx, []string{"root"}, cap, "anything/here") {
			t.Errorf("root policy should allow %q on any path", cap)
		}
	}
}

func TestMultiplePolicies(t *testing.T) {
	readPol := &models.Policy{
		Name:  "reader",
		Rules: map[string]models.PathRule{"secret/data/*": {Capabilities: []string{"read"}}},
	}
	writePol := &models.Policy{
		Name:  "writer",
		Rules: map[string]models.PathRule{"secret/data/myapp": {Capabilities: []string{"update"}}},
	}
	eng := NewEngine(newMockStore(readPol, writePol))
	ctx := context.Background()

	if !eng.IsAllowed(ctx, []string{"reader", "writer"}, "update", "secret/data/myapp") {
		t.Error("update should be allowed via writer policy")
	}
	if !eng.IsAllowed(ctx, []string{"reader", "writer"}, "read", "secret/data/other") {
		t.Error("read should be allowed via reader policy")
	}
	if eng.IsAllowed(ctx, []string{"reader"}, "update", "secret/data/myapp") {
		t.Error("update should not be allowed with only reader policy")
	}
}

func TestDeniedParameters(t *testing.T) {
	pol := &models.Policy{
		Name: "test",
		Rules: map[string]models.PathRule{
			"secret/data/*": {
				Capabilities:     []string{"create", "update"},
				DeniedParameters: []string{"root_password"},
			},
		},
	}
	eng := NewEngine(newMockStore(pol))
	denied := eng.DeniedParameters(context.Background(), []string{"test"}, "secret/data/app")
	if !denied["root_password"] {
		t.Error("root_password should be denied")
	}
	if denied["user"] {
		t.Error("user should not be denied")
	}
}
