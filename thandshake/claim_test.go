package thandshake_test

import (
	"crypto/ed25519"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gordian-engine/tessera/thandshake"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/stretchr/testify/require"
)

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func mustKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, priv
}

func TestVerifier_acceptsIssuedClaim(t *testing.T) {
	t.Parallel()

	clk := newClock()
	pub, priv := mustKey(t)

	iss := thandshake.NewIssuer(thandshake.IssuerConfig{
		Local:        "alpha.example",
		Key:          priv,
		Capabilities: tplayer.MustParseCapabilities("base", "avatar"),
		Now:          clk.Now,
	})
	v := thandshake.NewVerifier(
		"beta.example", thandshake.StaticKeys{"alpha.example": pub}, clk.Now,
	)

	token, err := iss.Issue("beta.example")
	require.NoError(t, err)

	c, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "alpha.example", c.Server)
	require.Equal(t, "beta.example", c.Audience)
	require.True(t, clk.Now().Add(thandshake.DefaultClaimTTL).Equal(c.Expires))
	require.True(t, c.CapabilitySet().Equal(tplayer.MustParseCapabilities("base", "avatar")))
}

func TestVerifier_rejections(t *testing.T) {
	t.Parallel()

	clk := newClock()
	pub, priv := mustKey(t)
	_, otherPriv := mustKey(t)

	keys := thandshake.StaticKeys{"alpha.example": pub}

	valid := func() thandshake.Claim {
		return thandshake.Claim{
			Server:   "alpha.example",
			Audience: "beta.example",
			Nonce:    uuid.New(),
			Expires:  clk.Now().Add(time.Minute),
		}
	}

	t.Run("expired", func(t *testing.T) {
		t.Parallel()

		v := thandshake.NewVerifier("beta.example", keys, clk.Now)
		c := valid()
		c.Expires = clk.Now()
		token, err := thandshake.Sign(priv, c)
		require.NoError(t, err)

		_, err = v.Verify(token)
		require.ErrorIs(t, err, thandshake.ErrExpired)
	})

	t.Run("wrong audience", func(t *testing.T) {
		t.Parallel()

		v := thandshake.NewVerifier("gamma.example", keys, clk.Now)
		token, err := thandshake.Sign(priv, valid())
		require.NoError(t, err)

		_, err = v.Verify(token)
		require.ErrorIs(t, err, thandshake.ErrWrongAudience)
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()

		v := thandshake.NewVerifier("beta.example", keys, clk.Now)
		token, err := thandshake.Sign(otherPriv, valid())
		require.NoError(t, err)

		_, err = v.Verify(token)
		require.ErrorIs(t, err, thandshake.ErrBadSignature)
	})

	t.Run("unknown server", func(t *testing.T) {
		t.Parallel()

		v := thandshake.NewVerifier("beta.example", keys, clk.Now)
		c := valid()
		c.Server = "mallory.example"
		token, err := thandshake.Sign(priv, c)
		require.NoError(t, err)

		_, err = v.Verify(token)
		require.ErrorAs(t, err, new(thandshake.UnknownServerError))
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()

		v := thandshake.NewVerifier("beta.example", keys, clk.Now)
		for _, token := range []string{
			"",
			"no-dot",
			"!!!.abc",
			"e30.!!!",
		} {
			_, err := v.Verify(token)
			require.ErrorIs(t, err, thandshake.ErrMalformed, "token %q", token)
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()

		v := thandshake.NewVerifier("beta.example", keys, clk.Now)
		token, err := thandshake.Sign(priv, valid())
		require.NoError(t, err)

		// Re-sign a different claim, then graft the old signature on.
		c := valid()
		c.Capabilities = []string{"base", "guest-hosting"}
		other, err := thandshake.Sign(priv, c)
		require.NoError(t, err)

		payload, _, _ := strings.Cut(other, ".")
		_, sig, _ := strings.Cut(token, ".")
		_, err = v.Verify(payload + "." + sig)
		require.ErrorIs(t, err, thandshake.ErrBadSignature)
	})
}

func TestVerifier_replay(t *testing.T) {
	t.Parallel()

	clk := newClock()
	pub, priv := mustKey(t)

	iss := thandshake.NewIssuer(thandshake.IssuerConfig{
		Local: "alpha.example",
		Key:   priv,
		TTL:   10 * time.Second,
		Now:   clk.Now,
	})
	v := thandshake.NewVerifier(
		"beta.example", thandshake.StaticKeys{"alpha.example": pub}, clk.Now,
	)

	token, err := iss.Issue("beta.example")
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.ErrorIs(t, err, thandshake.ErrReplayed)

	// A fresh claim with a new nonce is fine.
	token2, err := iss.Issue("beta.example")
	require.NoError(t, err)
	_, err = v.Verify(token2)
	require.NoError(t, err)

	// Once expired, the old token is rejected for expiry rather than replay.
	clk.Advance(10 * time.Second)
	_, err = v.Verify(token)
	require.ErrorIs(t, err, thandshake.ErrExpired)
}

func TestClaim_capabilitySetIgnoresUnknownNames(t *testing.T) {
	t.Parallel()

	c := thandshake.Claim{Capabilities: []string{"base", "teleport", "emote"}}
	require.True(t, c.CapabilitySet().Equal(tplayer.MustParseCapabilities("base", "emote")))
}
