package auth

import "crypto/subtle"

// TokenAuth validates bearer tokens against a static list.
type TokenAuth struct {
	tokens [][]byte
}

// NewTokenAuth creates a TokenAuth from the configured tokens. Empty
// entries are ignored.
func NewTokenAuth(tokens []string) *TokenAuth {
	a := &TokenAuth{}
	for _, t := range tokens {
		if t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// ValidateToken reports whether token matches a configured token. Every
// candidate is compared in constant time.
func (a *TokenAuth) ValidateToken(token string) bool {
	if token == "" {
		return false
	}
	got := []byte(token)
	ok := 0
	for _, want := range a.tokens {
		ok |= subtle.ConstantTimeCompare(got, want)
	}
	return ok == 1
}
