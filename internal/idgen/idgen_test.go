package idgen

import (
	"regexp"
	"testing"
)

func TestNewToken_Shape(t *testing.T) {
	pattern := regexp.MustCompile(`^ses_[a-zA-Z0-9]{24}$`)
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken() error on iteration %d: %v", i, err)
		}
		if !pattern.MatchString(tok) {
			t.Fatalf("NewToken() = %q, does not match %s", tok, pattern)
		}
	}
}

func TestNewToken_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %q after %d iterations", tok, i)
		}
		seen[tok] = struct{}{}
	}
}
