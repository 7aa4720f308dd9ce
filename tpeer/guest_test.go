package tpeer_test

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/tessera/internal/ttest"
	"github.com/gordian-engine/tessera/tconn/tconntest"
	"github.com/gordian-engine/tessera/tpeer"
	"github.com/gordian-engine/tessera/tpeer/tpeertest"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/twire"
	"github.com/stretchr/testify/require"
)

func bobArrives(t *testing.T, f *tpeertest.Fixture, remote *tconntest.Socket, realm string) {
	t.Helper()

	tconntest.WriteMessage(t, remote, twire.VisitorSend{
		Capabilities: []string{"base", "avatar"},
		Player:       f.RemotePlayer("bob"),
		Target:       tplayer.RealmTarget(f.Local, realm),
		Avatar:       tplayer.Avatar("red"),
	})
}

func TestActor_guestAdmission(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())
	bob := f.RemotePlayer("bob")

	bobArrives(t, f, remote, "garden")

	att := ttest.ReceiveSoon(t, f.Directory.Attachments)
	require.Equal(t, bob, att.Guest.Player)
	require.Equal(t, tplayer.RealmTarget("", "garden"), att.Target)
	require.Equal(t, tplayer.Avatar("red"), att.Guest.Avatar)
	require.True(t, att.Guest.Capabilities.Equal(tplayer.MustParseCapabilities("base", "avatar")))

	require.Eventually(t, func() bool {
		s := f.Snapshot(t, ctx)
		return len(s.FromPeer) == 1 && len(s.Arriving) == 0
	}, time.Second, 10*time.Millisecond)

	// Destination output goes to the origin.
	ttest.SendSoon(t, att.Endpoint.Events, tplayer.Event(tplayer.LocationChange{Payload: []byte("plaza")}))
	require.Equal(t, twire.LocationChange{Player: bob, Response: []byte("plaza")}, tconntest.ReadMessage(t, remote))

	ttest.SendSoon(t, att.Endpoint.Events, tplayer.Event(tplayer.EmoteRequested{
		ID: 9, Emote: "wave", Sender: tplayer.Local("carol"),
	}))
	require.Equal(t, twire.ConsensualEmoteRequestFromLocation{
		ID:        9,
		Emote:     "wave",
		Sender:    f.LocalPlayer("carol"),
		Recipient: bob,
	}, tconntest.ReadMessage(t, remote))

	ttest.SendSoon(t, att.Endpoint.Avatars, tplayer.Avatar("gold"))
	require.Equal(t, twire.AvatarSet{Player: bob, Avatar: tplayer.Avatar("gold")}, tconntest.ReadMessage(t, remote))

	// Origin traffic goes to the destination.
	tconntest.WriteMessage(t, remote, twire.RealmRequest{Player: bob, Payload: []byte("dig")})
	require.Equal(t, tplayer.RealmRequest{Payload: []byte("dig")}, ttest.ReceiveSoon(t, att.Endpoint.Requests))

	tconntest.WriteMessage(t, remote, twire.ConsensualEmoteResponse{ID: 9, Player: bob, OK: true})
	require.Equal(t, tplayer.AnswerEmote{ID: 9, Accept: true}, ttest.ReceiveSoon(t, att.Endpoint.Requests))

	// Player avatar changes are published on the guest's stream.
	tconntest.WriteMessage(t, remote, twire.AvatarSet{Player: bob, Avatar: tplayer.Avatar("blue")})
	s := att.Guest.Avatars
	ttest.ClosedSoon(t, s.Ready)
	require.Equal(t, tplayer.Avatar("blue"), s.Val)

	// Origin yank leaves the destination.
	tconntest.WriteMessage(t, remote, twire.VisitorYank{Player: bob})
	ttest.ClosedSoon(t, att.Endpoint.Left)
	require.Empty(t, f.Snapshot(t, ctx).FromPeer)
	tconntest.NoMessage(t, remote)
}

func TestActor_guestDeniedUnknownCapability(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	tconntest.WriteMessage(t, remote, twire.VisitorSend{
		Capabilities: []string{"base", "teleport"},
		Player:       f.RemotePlayer("bob"),
		Target:       tplayer.RealmTarget(f.Local, "garden"),
	})

	require.Equal(t, twire.VisitorRelease{
		Player: f.RemotePlayer("bob"),
		Target: tplayer.NoTarget(),
	}, tconntest.ReadMessage(t, remote))
	ttest.NotSending(t, f.Directory.Attachments)
}

func TestActor_guestDeniedUnofferedCapability(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{
		Capabilities: tplayer.MustParseCapabilities("base"),
	})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	// Known, but not supported by this instance.
	bobArrives(t, f, remote, "garden")

	require.Equal(t, twire.VisitorRelease{
		Player: f.RemotePlayer("bob"),
		Target: tplayer.NoTarget(),
	}, tconntest.ReadMessage(t, remote))
}

func TestActor_guestDeniedByDirectory(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())
	f.Directory.Deny(tpeertest.ErrDenied)

	bobArrives(t, f, remote, "garden")

	// Indistinguishable from a capability refusal.
	require.Equal(t, twire.VisitorRelease{
		Player: f.RemotePlayer("bob"),
		Target: tplayer.NoTarget(),
	}, tconntest.ReadMessage(t, remote))

	s := f.Snapshot(t, ctx)
	require.Empty(t, s.FromPeer)
	require.Empty(t, s.Arriving)
}

func TestActor_guestDeniedForeignTarget(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	tconntest.WriteMessage(t, remote, twire.VisitorSend{
		Capabilities: []string{"base"},
		Player:       f.RemotePlayer("bob"),
		Target:       tplayer.RealmTarget("third.example", "garden"),
	})

	require.Equal(t, twire.VisitorRelease{
		Player: f.RemotePlayer("bob"),
		Target: tplayer.NoTarget(),
	}, tconntest.ReadMessage(t, remote))
}

func TestActor_yankCancelsPendingAdmission(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())
	release := f.Directory.HoldAdmissions()
	defer release()

	bobArrives(t, f, remote, "garden")
	require.Eventually(t, func() bool {
		return len(f.Snapshot(t, ctx).Arriving) == 1
	}, time.Second, 10*time.Millisecond)

	tconntest.WriteMessage(t, remote, twire.VisitorYank{Player: f.RemotePlayer("bob")})
	require.Eventually(t, func() bool {
		return len(f.Snapshot(t, ctx).Arriving) == 0
	}, time.Second, 10*time.Millisecond)

	release()

	// No attachment, and no release sent for the cancelled admission.
	ttest.NotSending(t, f.Directory.Attachments)
	time.Sleep(20 * time.Millisecond)
	tconntest.NoMessage(t, remote)
	require.Empty(t, f.Snapshot(t, ctx).FromPeer)
}

func TestActor_guestRelocationReattaches(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	bobArrives(t, f, remote, "garden")
	first := ttest.ReceiveSoon(t, f.Directory.Attachments)

	bobArrives(t, f, remote, "pond")
	second := ttest.ReceiveSoon(t, f.Directory.Attachments)
	require.Equal(t, tplayer.RealmTarget("", "pond"), second.Target)

	ttest.ClosedSoon(t, first.Endpoint.Left)
	ttest.NotSending(t, second.Endpoint.Left)

	// The origin saw no teardown.
	tconntest.NoMessage(t, remote)
	require.Equal(t, []string{"bob"}, f.Snapshot(t, ctx).FromPeer)

	// The new destination is the live one.
	ttest.SendSoon(t, second.Endpoint.Events, tplayer.Event(tplayer.LocationChange{Payload: []byte("pond")}))
	require.Equal(
		t,
		twire.LocationChange{Player: f.RemotePlayer("bob"), Response: []byte("pond")},
		tconntest.ReadMessage(t, remote),
	)
}

func TestActor_destinationMoveWithinInstance(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	bobArrives(t, f, remote, "garden")
	first := ttest.ReceiveSoon(t, f.Directory.Attachments)

	ttest.SendSoon(t, first.Endpoint.Events, tplayer.Event(tplayer.Move{Target: tplayer.HostTarget("", "carol")}))

	second := ttest.ReceiveSoon(t, f.Directory.Attachments)
	require.Equal(t, tplayer.HostTarget("", "carol"), second.Target)
	require.Equal(t, first.Guest.Avatars, second.Guest.Avatars)
	ttest.ClosedSoon(t, first.Endpoint.Left)
	tconntest.NoMessage(t, remote)
}

func TestActor_destinationMoveElsewhereReleases(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	bobArrives(t, f, remote, "garden")
	att := ttest.ReceiveSoon(t, f.Directory.Attachments)

	target := tplayer.RealmTarget("third.example", "lake")
	ttest.SendSoon(t, att.Endpoint.Events, tplayer.Event(tplayer.Move{Target: target}))

	require.Equal(t, twire.VisitorRelease{
		Player: f.RemotePlayer("bob"),
		Target: target,
	}, tconntest.ReadMessage(t, remote))
	ttest.ClosedSoon(t, att.Endpoint.Left)
	require.Empty(t, f.Snapshot(t, ctx).FromPeer)
}

func TestActor_destinationEjectYanks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	bobArrives(t, f, remote, "garden")
	att := ttest.ReceiveSoon(t, f.Directory.Attachments)

	close(att.Endpoint.Events)

	require.Equal(t, twire.VisitorYank{Player: f.RemotePlayer("bob")}, tconntest.ReadMessage(t, remote))
	require.Eventually(t, func() bool {
		return len(f.Snapshot(t, ctx).FromPeer) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestActor_spoofedPrincipalDropped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	tconntest.WriteMessage(t, remote, twire.VisitorSend{
		Capabilities: []string{"base"},
		Player:       tplayer.Remote("evil.example", "mallory"),
		Target:       tplayer.RealmTarget(f.Local, "garden"),
	})
	tconntest.WriteMessage(t, remote, twire.DirectMessage{
		ID:        1,
		Sender:    tplayer.Remote("evil.example", "mallory"),
		Recipient: f.LocalPlayer("carol"),
		Body:      "hi",
	})

	// Spoofed correlated requests are still answered, as failures.
	require.Equal(t, twire.DirectMessageResponse{
		ID:     1,
		Status: twire.DirectMessageForbidden,
	}, tconntest.ReadMessage(t, remote))

	ttest.NotSending(t, f.Directory.Attachments)
	require.Empty(t, f.Snapshot(t, ctx).Arriving)
}

func TestActor_inboundDirectMessages(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{
		Players: []tpeer.PlayerRecord{
			{Name: "carol"},
			{Name: "dave", Blocked: []tplayer.ID{tplayer.Remote("example.org", "bob")}},
		},
	})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())
	bob := f.RemotePlayer("bob")

	tconntest.WriteMessage(t, remote, twire.DirectMessage{
		ID: 1, Sender: bob, Recipient: f.LocalPlayer("carol"), Body: "hello",
	})
	require.Equal(t, twire.DirectMessageResponse{ID: 1, Status: twire.DirectMessageDelivered}, tconntest.ReadMessage(t, remote))

	n := ttest.ReceiveSoon(t, f.Directory.Notifications)
	require.Equal(t, "carol", n.Name)
	dmr := n.Event.(tplayer.DirectMessageReceived)
	require.Equal(t, bob, dmr.Sender)
	require.Equal(t, "hello", dmr.Body)

	stored, err := f.Store.ReadDirectMessages(ctx, "carol", time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, bob, stored[0].Sender)

	tconntest.WriteMessage(t, remote, twire.DirectMessage{
		ID: 2, Sender: bob, Recipient: f.LocalPlayer("dave"), Body: "hello",
	})
	require.Equal(t, twire.DirectMessageResponse{ID: 2, Status: twire.DirectMessageForbidden}, tconntest.ReadMessage(t, remote))

	tconntest.WriteMessage(t, remote, twire.DirectMessage{
		ID: 3, Sender: bob, Recipient: f.LocalPlayer("nobody"), Body: "hello",
	})
	require.Equal(t, twire.DirectMessageResponse{ID: 3, Status: twire.DirectMessageUnknownRecipient}, tconntest.ReadMessage(t, remote))

	// Recipient on a third instance.
	tconntest.WriteMessage(t, remote, twire.DirectMessage{
		ID: 4, Sender: bob, Recipient: tplayer.Remote("third.example", "erin"), Body: "hello",
	})
	require.Equal(t, twire.DirectMessageResponse{ID: 4, Status: twire.DirectMessageUnknownRecipient}, tconntest.ReadMessage(t, remote))
}

func TestActor_inboundQueries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())
	bob := f.RemotePlayer("bob")

	f.Directory.SetOnline("carol", twire.PlayerOnline)
	tconntest.WriteMessage(t, remote, twire.OnlineStatusRequest{ID: 3, Requester: bob, Target: f.LocalPlayer("carol")})
	require.Equal(t, twire.OnlineStatusResponse{ID: 3, State: twire.PlayerOnline}, tconntest.ReadMessage(t, remote))

	f.Directory.SetAnswers(true, false)
	tconntest.WriteMessage(t, remote, twire.ConsensualEmoteRequestInitiate{
		ID: 4, Emote: "wave", Sender: bob, Recipient: f.LocalPlayer("carol"),
	})
	require.Equal(t, twire.ConsensualEmoteResponse{ID: 4, OK: true}, tconntest.ReadMessage(t, remote))

	tconntest.WriteMessage(t, remote, twire.FollowRequestInitiate{
		ID: 5, Source: bob, Target: f.LocalPlayer("carol"),
	})
	require.Equal(t, twire.FollowResponse{ID: 5, OK: false}, tconntest.ReadMessage(t, remote))

	f.Directory.SetRealms([]twire.RealmEntry{{ID: "r1", Name: "Garden"}})
	tconntest.WriteMessage(t, remote, twire.RealmsList{ID: 6, Source: twire.RealmSource{Kind: twire.RealmsPublic}})
	require.Equal(t, twire.RealmsAvailable{
		ID:      6,
		Entries: []twire.RealmEntry{{ID: "r1", Name: "Garden", Server: f.Local}},
	}, tconntest.ReadMessage(t, remote))
}
