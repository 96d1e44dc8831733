package cache

import "testing"

func TestNormalize_Idempotent(t *testing.T) {
	queries := []string{
		"How does quantum computing work?",
		"  PLEASE tell me   about black holes!!  ",
		"what is the meaning of life",
		"",
		"a an the",
	}
	for _, q := range queries {
		once := Normalize(q)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", q, once, twice)
		}
	}
}

func TestNormalize_StoplistAsymmetry(t *testing.T) {
	// Structural filler goes, interrogatives stay.
	got := Normalize("Please, could you tell me how does quantum computing work?")
	want := "how quantum computing work"
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestKey_Determinism(t *testing.T) {
	if Key("Hello World", "answer") != Key("  hello   world  ", "answer") {
		t.Error("keys for equivalent queries must match")
	}
	if Key("quantum", "answer") == Key("quantum", "suggest") {
		t.Error("task prefix must partition the key space")
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "quantum computing basics", "quantum computing basics", 1},
		{"disjoint", "quantum physics", "banana recipe", 0},
		{"both empty after normalization", "", "", 1},
		{"stoplist only", "the a an", "please", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b); got != tt.want {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSimilarity_Bounds(t *testing.T) {
	pairs := [][2]string{
		{"quantum computing", "quantum physics"},
		{"how do birds fly", "why do birds sing"},
		{"x", "x y z"},
	}
	for _, p := range pairs {
		got := Similarity(p[0], p[1])
		if got < 0 || got > 1 {
			t.Errorf("Similarity(%q, %q) = %v out of [0,1]", p[0], p[1], got)
		}
	}
}
