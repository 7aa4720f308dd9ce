package thandshake

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMalformed     = errors.New("malformed claim")
	ErrBadSignature  = errors.New("claim signature does not verify")
	ErrExpired       = errors.New("claim expired")
	ErrWrongAudience = errors.New("claim addressed to another instance")
	ErrReplayed      = errors.New("claim already used")
)

// UnknownServerError is returned when a claim names
// a server whose key is not known.
type UnknownServerError struct {
	Server string
}

func (e UnknownServerError) Error() string {
	return "no key for server " + e.Server
}

// KeyResolver finds the public key of a peer instance.
type KeyResolver interface {
	PublicKey(server string) (ed25519.PublicKey, bool)
}

// StaticKeys is a fixed map of server names to keys.
type StaticKeys map[string]ed25519.PublicKey

func (k StaticKeys) PublicKey(server string) (ed25519.PublicKey, bool) {
	pk, ok := k[server]
	return pk, ok
}

// Verifier checks claims presented to the local instance.
// It is safe for concurrent use.
type Verifier struct {
	local string
	keys  KeyResolver
	now   func() time.Time

	mu   sync.Mutex
	seen map[uuid.UUID]time.Time
}

// NewVerifier returns a Verifier accepting claims addressed to local.
// A nil now defaults to time.Now.
func NewVerifier(local string, keys KeyResolver, now func() time.Time) *Verifier {
	if keys == nil {
		panic(errors.New("BUG: NewVerifier requires a KeyResolver"))
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		local: local,
		keys:  keys,
		now:   now,
		seen:  make(map[uuid.UUID]time.Time),
	}
}

// Verify checks the signature, audience and expiry of token,
// and that its nonce has not been presented before.
func (v *Verifier) Verify(token string) (Claim, error) {
	c, payload, sig, err := parseToken(token)
	if err != nil {
		return Claim{}, err
	}

	pk, ok := v.keys.PublicKey(c.Server)
	if !ok {
		return Claim{}, UnknownServerError{Server: c.Server}
	}
	if !ed25519.Verify(pk, payload, sig) {
		return Claim{}, ErrBadSignature
	}

	if c.Audience != v.local {
		return Claim{}, fmt.Errorf("%w: %q", ErrWrongAudience, c.Audience)
	}

	now := v.now()
	if !now.Before(c.Expires) {
		return Claim{}, ErrExpired
	}

	if !v.remember(c.Nonce, c.Expires, now) {
		return Claim{}, ErrReplayed
	}

	return c, nil
}

// remember records nonce until expires,
// reporting false if it was already recorded.
// Expired entries are pruned on the way.
func (v *Verifier) remember(nonce uuid.UUID, expires, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	for n, exp := range v.seen {
		if !now.Before(exp) {
			delete(v.seen, n)
		}
	}

	if _, ok := v.seen[nonce]; ok {
		return false
	}
	v.seen[nonce] = expires
	return true
}
