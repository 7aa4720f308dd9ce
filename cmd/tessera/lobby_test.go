package main

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/tessera/internal/ttest"
	"github.com/gordian-engine/tessera/tdest"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/tpubsub"
	"github.com/gordian-engine/tessera/twire"
	"github.com/stretchr/testify/require"
)

func newTestLobby(t *testing.T) *lobby {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	l := newLobby(ctx, ttest.NewLogger(t), []realmConfig{
		{ID: "plaza", Name: "The Plaza"},
		{ID: "garden", Owner: "alice"},
	})
	t.Cleanup(l.Wait)
	t.Cleanup(cancel)
	return l
}

func guest(p tplayer.ID) tdest.Guest {
	return tdest.Guest{
		Player:       p,
		Capabilities: tplayer.AllCapabilities(),
		Avatar:       tplayer.Avatar("plain"),
		Avatars:      tpubsub.NewStream[tplayer.Avatar](),
	}
}

func TestLobby_chat(t *testing.T) {
	t.Parallel()

	l := newTestLobby(t)
	ctx := context.Background()

	alice, err := l.Attach(ctx, guest(tplayer.Local("alice")), tplayer.RealmTarget("", "plaza"))
	require.NoError(t, err)
	defer alice.Leave()
	require.Equal(t, tplayer.LocationChange{Payload: []byte("The Plaza")}, ttest.ReceiveSoon(t, alice.Events))

	bob, err := l.Attach(ctx, guest(tplayer.Remote("beta.example", "bob")), tplayer.RealmTarget("", "plaza"))
	require.NoError(t, err)
	defer bob.Leave()
	_ = ttest.ReceiveSoon(t, bob.Events)

	ttest.SendSoon(t, bob.Requests, tplayer.Request(tplayer.LocationMessageSend{Body: "hi"}))

	for _, d := range []tdest.Destination{alice, bob} {
		ev := ttest.ReceiveSoon(t, d.Events)
		posted, ok := ev.(tplayer.LocationMessagePosted)
		require.True(t, ok, "got %T", ev)
		require.Equal(t, tplayer.Remote("beta.example", "bob"), posted.Message.Sender)
		require.Equal(t, "hi", posted.Message.Body)
	}

	ttest.SendSoon(t, alice.Requests, tplayer.Request(tplayer.LocationMessagesGet{
		From: time.Now().Add(-time.Minute),
		To:   time.Now().Add(time.Minute),
	}))
	ev := ttest.ReceiveSoon(t, alice.Events)
	history, ok := ev.(tplayer.LocationMessages)
	require.True(t, ok, "got %T", ev)
	require.Len(t, history.Messages, 1)
	require.Equal(t, "hi", history.Messages[0].Body)

	ttest.SendSoon(t, alice.Requests, tplayer.Request(tplayer.RealmRequest{Payload: []byte("ping")}))
	require.Equal(t, tplayer.RealmResponse{Payload: []byte("ping")}, ttest.ReceiveSoon(t, alice.Events))
}

func TestLobby_homesAreSeparate(t *testing.T) {
	t.Parallel()

	l := newTestLobby(t)
	ctx := context.Background()

	alice, err := l.Attach(ctx, guest(tplayer.Local("alice")), tplayer.HomeTarget())
	require.NoError(t, err)
	defer alice.Leave()
	require.Equal(t, tplayer.LocationChange{Payload: []byte("alice's home")}, ttest.ReceiveSoon(t, alice.Events))

	carol, err := l.Attach(ctx, guest(tplayer.Local("carol")), tplayer.HomeTarget())
	require.NoError(t, err)
	defer carol.Leave()
	_ = ttest.ReceiveSoon(t, carol.Events)

	ttest.SendSoon(t, alice.Requests, tplayer.Request(tplayer.LocationMessageSend{Body: "alone"}))
	_ = ttest.ReceiveSoon(t, alice.Events)
	ttest.NotSending(t, carol.Events)

	// Visitors have no home here.
	_, err = l.Attach(ctx, guest(tplayer.Remote("beta.example", "bob")), tplayer.HomeTarget())
	require.Error(t, err)
}

func TestLobby_unknownRealm(t *testing.T) {
	t.Parallel()

	l := newTestLobby(t)

	_, err := l.Attach(context.Background(), guest(tplayer.Local("alice")), tplayer.RealmTarget("", "vault"))
	require.ErrorIs(t, err, errUnknownRealm)
}

func TestLobby_presence(t *testing.T) {
	t.Parallel()

	l := newTestLobby(t)
	ctx := context.Background()

	ok, err := l.ConsensualEmote(ctx, tplayer.Remote("beta.example", "bob"), "alice", "wave")
	require.NoError(t, err)
	require.False(t, ok)

	alice, err := l.Attach(ctx, guest(tplayer.Local("alice")), tplayer.RealmTarget("", "garden"))
	require.NoError(t, err)

	ok, err = l.ConsensualEmote(ctx, tplayer.Remote("beta.example", "bob"), "alice", "wave")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Follow(ctx, tplayer.Remote("beta.example", "bob"), "alice")
	require.NoError(t, err)
	require.True(t, ok)

	alice.Leave()
	require.Eventually(t, func() bool {
		ok, _ := l.Follow(ctx, tplayer.Remote("beta.example", "bob"), "alice")
		return !ok
	}, ttest.ScheduleDuration, 5*time.Millisecond)
}

func TestLobby_realms(t *testing.T) {
	t.Parallel()

	l := newTestLobby(t)
	ctx := context.Background()

	public, err := l.Realms(ctx, twire.RealmSource{Kind: twire.RealmsPublic})
	require.NoError(t, err)
	require.Equal(t, []twire.RealmEntry{
		{ID: "plaza", Name: "The Plaza"},
		{ID: "garden"},
	}, public)

	personal, err := l.Realms(ctx, twire.RealmSource{
		Kind:   twire.RealmsPersonal,
		Player: tplayer.Local("alice"),
	})
	require.NoError(t, err)
	require.Equal(t, []twire.RealmEntry{{ID: "garden"}}, personal)

	// A remote alice is a different player.
	personal, err = l.Realms(ctx, twire.RealmSource{
		Kind:   twire.RealmsPersonal,
		Player: tplayer.Remote("beta.example", "alice"),
	})
	require.NoError(t, err)
	require.Empty(t, personal)

	bookmarks, err := l.Realms(ctx, twire.RealmSource{Kind: twire.RealmsBookmarks})
	require.NoError(t, err)
	require.Empty(t, bookmarks)
}

func TestLobby_whoFollowsAvatars(t *testing.T) {
	t.Parallel()

	l := newTestLobby(t)
	ctx := context.Background()

	g := guest(tplayer.Local("alice"))
	alice, err := l.Attach(ctx, g, tplayer.RealmTarget("", "plaza"))
	require.NoError(t, err)
	defer alice.Leave()
	_ = ttest.ReceiveSoon(t, alice.Events)

	bob, err := l.Attach(ctx, guest(tplayer.Remote("beta.example", "bob")), tplayer.RealmTarget("", "plaza"))
	require.NoError(t, err)
	defer bob.Leave()
	_ = ttest.ReceiveSoon(t, bob.Events)

	tail := g.Avatars.Publish(tplayer.Avatar("red"))
	_ = tail.Publish(tplayer.Avatar("blue"))

	want := "alice blue\nbob@beta.example plain"
	require.Eventually(t, func() bool {
		alice.Requests <- tplayer.RealmRequest{Payload: []byte("who")}
		resp, ok := (<-alice.Events).(tplayer.RealmResponse)
		return ok && string(resp.Payload) == want
	}, ttest.ScheduleDuration, 5*time.Millisecond)
}
