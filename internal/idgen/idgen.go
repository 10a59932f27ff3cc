// Package idgen generates opaque session tokens backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// TokenPrefix is prepended to every session token.
const TokenPrefix = "ses_"

// Alphabet is the character set of the random portion.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// TokenLength is the number of random characters in a token.
const TokenLength = 24

// NewToken returns a new session token.
func NewToken() (string, error) {
	id, err := nanoid.Generate(Alphabet, TokenLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return TokenPrefix + id, nil
}
