package logs

import "testing"

func TestResolve(t *testing.T) {
	r := NewResolver(map[string]string{
		"http":        "web",
		"http.access": "access",
		"queue.":      "jobs",
	})

	tests := []struct {
		channel string
		want    string
	}{
		{"http.access", "access"},
		{"http.access.slow", "access"},
		{"http.server", "web"},
		{"queue.mail", "jobs"},
		{"queue", "queue"},
		{"db.pool", "db"},
		{"plain", "plain"},
		{"", DefaultSource},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			if got := r.Resolve(tt.channel); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.channel, got, tt.want)
			}
		})
	}
}

func TestResolverSetOverrides(t *testing.T) {
	r := NewResolver(nil)
	r.Set("foo.", "bar")
	if got := r.Resolve("foo.baz"); got != "bar" {
		t.Fatalf("Resolve(foo.baz) = %q, want bar", got)
	}
	r.Set("foo.", "qux")
	if got := r.Resolve("foo.baz"); got != "qux" {
		t.Fatalf("after override Resolve(foo.baz) = %q, want qux", got)
	}
	r.Remove("foo.")
	if got := r.Resolve("foo.baz"); got != "foo" {
		t.Fatalf("after remove Resolve(foo.baz) = %q, want foo", got)
	}
}

func TestRulesIsCopy(t *testing.T) {
	r := NewResolver(map[string]string{"a": "b"})
	rules := r.Rules()
	rules["a"] = "changed"
	if got := r.Resolve("a"); got != "b" {
		t.Errorf("mutating Rules() leaked into resolver: %q", got)
	}
}
