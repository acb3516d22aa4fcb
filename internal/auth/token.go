// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// TokenBytes is the entropy of generated tokens: 32 bytes = 64 hex chars.
const TokenBytes = 32

// TokenGenerator produces unguessable identifiers for sessions and resets.
type TokenGenerator interface {
	NewToken() string
}

// RandomTokenGenerator draws tokens from crypto/rand.
type RandomTokenGenerator struct{}

// NewRandomTokenGenerator creates a RandomTokenGenerator.
func NewRandomTokenGenerator() *RandomTokenGenerator {
	return &RandomTokenGenerator{}
}

// NewToken returns a fresh hex-encoded random token.
func (RandomTokenGenerator) NewToken() string {
	b := make([]byte, TokenBytes)
	// crypto/rand.Read never returns an error; an unavailable entropy source
	// crashes the program.
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// HashToken computes the SHA-256 hex digest under which a token is stored.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

var _ TokenGenerator = RandomTokenGenerator{}
