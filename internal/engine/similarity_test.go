package engine

import "testing"

func TestKeySimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"db-layout", "db-layout", 1.0, 1.0},
		{"DB-Layout", "db-layout", 1.0, 1.0},
		{"db-layout", "db-layouts", 0.9, 1.0},
		{"auth", "auth-flow-details", 0.8, 1.0}, // containment floor
		{"db-layout", "release-notes", 0.0, 0.4},
		{"", "anything", 0.0, 0.0},
	}
	for _, tc := range cases {
		got := keySimilarity(tc.a, tc.b)
		if got < tc.min || got > tc.max {
			t.Errorf("keySimilarity(%q, %q) = %.2f, want in [%.2f, %.2f]",
				tc.a, tc.b, got, tc.min, tc.max)
		}
	}

	// Symmetric.
	if keySimilarity("abc", "abd") != keySimilarity("abd", "abc") {
		t.Error("similarity is not symmetric")
	}
}

func TestEditDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
	}
	for _, tc := range cases {
		if got := editDistance(tc.a, tc.b); got != tc.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
