// Package textx contains tests for the text utilities.
package textx

import "testing"

func TestSanitizeText(t *testing.T) {
	in := "he\x00llo\nwo\x7frld\t!"
	got := SanitizeText(in)
	if got != "hello\nworld\t!" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestNormalizeForHash(t *testing.T) {
	cases := []struct{ in, want string }{
		{"hello   world", "hello world"},
		{"  hello\n\tworld  ", "hello world"},
		{"he\x00llo world", "hello world"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeForHash(tc.in); got != tc.want {
			t.Fatalf("NormalizeForHash(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 4); got != "abcd..." {
		t.Fatalf("unexpected: %q", got)
	}
	if got := Truncate("abc", 4); got != "abc" {
		t.Fatalf("short strings must pass through, got %q", got)
	}
	if got := Truncate("abc", 0); got != "abc" {
		t.Fatalf("max<=0 must pass through, got %q", got)
	}
}
