package tplayer_test

import (
	"testing"

	"github.com/gordian-engine/tessera/tplayer"
	"github.com/stretchr/testify/require"
)

func TestID_QualifyLocalize(t *testing.T) {
	t.Parallel()

	alice := tplayer.Local("alice")
	require.True(t, alice.IsLocal())

	q := alice.Qualify("a.example")
	require.Equal(t, tplayer.Remote("a.example", "alice"), q)
	require.False(t, q.IsLocal())

	// Qualifying an already remote id is a no-op.
	require.Equal(t, q, q.Qualify("b.example"))

	require.Equal(t, alice, q.Localize("a.example"))
	require.Equal(t, q, q.Localize("b.example"))
}

func TestParseID(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in   string
		want tplayer.ID
		err  bool
	}{
		{in: "alice", want: tplayer.Local("alice")},
		{in: "alice@a.example", want: tplayer.Remote("a.example", "alice")},
		{in: "", err: true},
		{in: "@a.example", err: true},
		{in: "alice@", err: true},
	} {
		got, err := tplayer.ParseID(tc.in)
		if tc.err {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
		require.Equal(t, tc.in, got.String())
	}
}

func TestTarget_IsOn(t *testing.T) {
	t.Parallel()

	require.True(t, tplayer.RealmTarget("b.example", "r1").IsOn("b.example"))
	require.False(t, tplayer.RealmTarget("b.example", "r1").IsOn("a.example"))
	require.True(t, tplayer.HostTarget("b.example", "bob").IsOn("b.example"))
	require.False(t, tplayer.HomeTarget().IsOn(""))
	require.False(t, tplayer.NoTarget().IsOn(""))

	require.Equal(t,
		tplayer.RealmTarget("", "r1"),
		tplayer.RealmTarget("a.example", "r1").Localize("a.example"),
	)
	require.Equal(t,
		tplayer.RealmTarget("a.example", "r1"),
		tplayer.RealmTarget("", "r1").Qualify("a.example"),
	)
	require.Equal(t, tplayer.HomeTarget(), tplayer.HomeTarget().Qualify("a.example"))
}
