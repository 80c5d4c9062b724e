package hostpolicy

import "testing"

func TestPolicyBlocked(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		p := New([]string{"Example.org"})
		if !p.Blocked("example.org") {
			t.Fatalf("expected example.org to be blocked")
		}
		if !p.Blocked("example.org.") {
			t.Fatalf("expected trailing-dot host to be blocked")
		}
		if p.Blocked("sub.example.org") {
			t.Fatalf("did not expect subdomains to match exact entry")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		p := New([]string{"*.internal", ".local", "  "})
		cases := []struct {
			host    string
			blocked bool
		}{
			{"api.internal", true},
			{"deep.svc.internal", true},
			{"internal", true},
			{"printer.local", true},
			{"example.com", false},
			{"notinternal", false},
		}
		for _, tc := range cases {
			if got := p.Blocked(tc.host); got != tc.blocked {
				t.Fatalf("host %q blocked=%v, want %v", tc.host, got, tc.blocked)
			}
		}
	})

	t.Run("nil policy", func(t *testing.T) {
		var p *Policy
		if p.Blocked("anything") {
			t.Fatalf("nil policy should never block")
		}
		if !p.AllowURL("http://anything") {
			t.Fatalf("nil policy should allow every url")
		}
	})
}

func TestPolicyAllowURL(t *testing.T) {
	p := New([]string{"localhost", "*.internal"})
	cases := map[string]bool{
		"https://example.com/page":      true,
		"http://localhost:8080/admin":   false,
		"https://metadata.internal/x":   false,
		"https://internal.example.com/": true,
	}
	for raw, want := range cases {
		if got := p.AllowURL(raw); got != want {
			t.Fatalf("AllowURL(%q)=%v, want %v", raw, got, want)
		}
	}
}
