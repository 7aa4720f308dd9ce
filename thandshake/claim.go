// Package thandshake authenticates peer instances to each other
// and produces the sockets that peer actors run on.
//
// An instance proves its name with a [Claim]:
// a short-lived statement signed with the instance's ed25519 key,
// addressed to one audience instance.
// Tokens are the base64url JSON payload and signature, joined by a dot.
package thandshake

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gordian-engine/tessera/tplayer"
)

// DefaultClaimTTL is how long an issued claim stays valid.
const DefaultClaimTTL = time.Minute

// Claim is the signed statement an instance presents to a peer.
type Claim struct {
	// Instance making the claim.
	Server string `json:"server"`

	// Instance the claim is addressed to.
	// A peer rejects claims addressed to anyone else.
	Audience string `json:"audience"`

	// Capability names the presenting instance supports.
	Capabilities []string `json:"capabilities"`

	// Unique per claim, for replay detection.
	Nonce uuid.UUID `json:"nonce"`

	Expires time.Time `json:"expires"`
}

// CapabilitySet returns the known capabilities in c.
// Names this build does not know are ignored,
// as only capabilities both sides support are ever used.
func (c Claim) CapabilitySet() tplayer.Capabilities {
	caps, _ := tplayer.ParseCapabilities(c.Capabilities)
	return caps
}

// Issuer signs claims on behalf of the local instance.
type Issuer struct {
	local string
	key   ed25519.PrivateKey
	caps  []string
	ttl   time.Duration
	now   func() time.Time
}

// IssuerConfig is the configuration for [NewIssuer].
type IssuerConfig struct {
	Local        string
	Key          ed25519.PrivateKey
	Capabilities tplayer.Capabilities

	// Defaults to DefaultClaimTTL.
	TTL time.Duration

	// Defaults to time.Now.
	Now func() time.Time
}

func NewIssuer(cfg IssuerConfig) *Issuer {
	if cfg.Local == "" {
		panic(errors.New("BUG: IssuerConfig.Local must not be empty"))
	}
	if len(cfg.Key) != ed25519.PrivateKeySize {
		panic(fmt.Errorf("BUG: IssuerConfig.Key has invalid size %d", len(cfg.Key)))
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultClaimTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Issuer{
		local: cfg.Local,
		key:   cfg.Key,
		caps:  cfg.Capabilities.Names(),
		ttl:   cfg.TTL,
		now:   cfg.Now,
	}
}

// Local returns the name of the issuing instance.
func (i *Issuer) Local() string {
	return i.local
}

// Issue returns a fresh token addressed to audience.
func (i *Issuer) Issue(audience string) (string, error) {
	return Sign(i.key, Claim{
		Server:       i.local,
		Audience:     audience,
		Capabilities: i.caps,
		Nonce:        uuid.New(),
		Expires:      i.now().Add(i.ttl),
	})
}

// Sign encodes c and signs it with key.
func Sign(key ed25519.PrivateKey, c Claim) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode claim: %w", err)
	}
	sig := ed25519.Sign(key, payload)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(sig), nil
}

// parseToken splits and decodes a token without verifying it.
func parseToken(token string) (c Claim, payload, sig []byte, err error) {
	p, s, ok := strings.Cut(token, ".")
	if !ok {
		return Claim{}, nil, nil, fmt.Errorf("%w: missing signature", ErrMalformed)
	}

	enc := base64.RawURLEncoding
	payload, err = enc.DecodeString(p)
	if err != nil {
		return Claim{}, nil, nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	sig, err = enc.DecodeString(s)
	if err != nil {
		return Claim{}, nil, nil, fmt.Errorf("%w: signature: %v", ErrMalformed, err)
	}

	if err := json.Unmarshal(payload, &c); err != nil {
		return Claim{}, nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return c, payload, sig, nil
}
