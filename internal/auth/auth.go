// Package auth gates mutating requests behind operator tokens.
//
// It makes no decision about which routes are protected.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates a presented token.
type Validator interface {
	Validate(token string) error
}

// Open admits every token. Used when no operator token is configured.
type Open struct{}

func (Open) Validate(string) error {
	return nil
}

// Tokens accepts any one of a fixed set of operator tokens.
// An empty set denies everything.
type Tokens []string

func (ts Tokens) Validate(token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	ok := 0
	for _, want := range ts {
		if want == "" {
			continue
		}
		ok |= subtle.ConstantTimeCompare([]byte(want), []byte(token))
	}
	if ok != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ForTokens returns Open when no tokens are configured, otherwise Tokens.
func ForTokens(tokens []string) Validator {
	clean := make(Tokens, 0, len(tokens))
	for _, token := range tokens {
		if token = strings.TrimSpace(token); token != "" {
			clean = append(clean, token)
		}
	}
	if len(clean) == 0 {
		return Open{}
	}
	return clean
}
