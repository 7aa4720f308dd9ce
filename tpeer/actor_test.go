package tpeer_test

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/gordian-engine/tessera/internal/ttest"
	"github.com/gordian-engine/tessera/tconn"
	"github.com/gordian-engine/tessera/tconn/tconntest"
	"github.com/gordian-engine/tessera/tfanout"
	"github.com/gordian-engine/tessera/tpeer"
	"github.com/gordian-engine/tessera/tpeer/tpeertest"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/twire"
	"github.com/stretchr/testify/require"
)

func TestActor_directMessageScenario(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{Remote: "example.org"})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	type result struct {
		Status twire.DirectMessageStatus
		Err    error
	}

	recipients := []string{"A", "B", "C"}
	results := make([]chan result, len(recipients))
	sent := make([]twire.DirectMessage, len(recipients))

	for i, r := range recipients {
		results[i] = make(chan result, 1)
		go func() {
			s, err := f.Actor.DirectMessage(ctx, tplayer.Local("sender"), r, "hi "+r)
			results[i] <- result{Status: s, Err: err}
		}()

		// Waiting for each wire message fixes the submission order.
		m := tconntest.ReadMessage(t, remote)
		require.IsType(t, twire.DirectMessage{}, m)
		dm := m.(twire.DirectMessage)
		require.Equal(t, tplayer.Remote("example.org", r), dm.Recipient)
		require.Equal(t, f.LocalPlayer("sender"), dm.Sender)
		require.Equal(t, "hi "+r, dm.Body)
		sent[i] = dm
	}

	require.NotEqual(t, sent[0].ID, sent[1].ID)
	require.NotEqual(t, sent[0].ID, sent[2].ID)
	require.NotEqual(t, sent[1].ID, sent[2].ID)

	require.Equal(t, 3, f.Snapshot(t, ctx).Tables.DirectMessages)

	statuses := []twire.DirectMessageStatus{
		twire.DirectMessageDelivered,
		twire.DirectMessageUnknownRecipient,
		twire.DirectMessageForbidden,
	}

	// Answer in reverse order; each answer resolves only its own caller.
	for i := len(sent) - 1; i >= 0; i-- {
		tconntest.WriteMessage(t, remote, twire.DirectMessageResponse{
			ID:     sent[i].ID,
			Status: statuses[i],
		})

		r := ttest.ReceiveSoon(t, results[i])
		require.NoError(t, r.Err)
		require.Equal(t, statuses[i], r.Status)

		for j := range i {
			ttest.NotSending(t, results[j])
		}
	}

	require.Zero(t, f.Snapshot(t, ctx).Tables.DirectMessages)
}

func TestActor_checkOnlineCorrelation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	const k = 8
	states := make(map[string]twire.PlayerState, k)
	type result struct {
		Target string
		State  twire.PlayerState
		Err    error
	}
	results := make(chan result, k)

	for i := range k {
		target := string(rune('a' + i))
		states[target] = twire.PlayerState(i%2 + 1)
		go func() {
			s, err := f.Actor.CheckOnline(ctx, tplayer.Local("requester"), target)
			results <- result{Target: target, State: s, Err: err}
		}()
	}

	reqs := make([]twire.OnlineStatusRequest, k)
	ids := make(map[uint32]bool, k)
	for i := range k {
		m := tconntest.ReadMessage(t, remote)
		req := m.(twire.OnlineStatusRequest)
		require.Equal(t, f.LocalPlayer("requester"), req.Requester)
		require.False(t, ids[req.ID], "duplicate id %d", req.ID)
		ids[req.ID] = true
		reqs[i] = req
	}

	for _, i := range rand.Perm(k) {
		tconntest.WriteMessage(t, remote, twire.OnlineStatusResponse{
			ID:    reqs[i].ID,
			State: states[reqs[i].Target.Name],
		})
	}

	for range k {
		r := ttest.ReceiveSoon(t, results)
		require.NoError(t, r.Err)
		require.Equal(t, states[r.Target], r.State, "wrong state for %s", r.Target)
	}
}

func TestActor_unknownCorrelationIDIgnored(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	tconntest.WriteMessage(t, remote, twire.OnlineStatusResponse{ID: 999, State: twire.PlayerOnline})
	tconntest.WriteMessage(t, remote, twire.DirectMessageResponse{ID: 998})
	tconntest.WriteMessage(t, remote, twire.RealmsAvailable{ID: 997})

	// The actor is still serving requests.
	res := make(chan twire.PlayerState, 1)
	go func() {
		s, _ := f.Actor.CheckOnline(ctx, tplayer.Local("requester"), "target")
		res <- s
	}()

	req := tconntest.ReadMessage(t, remote).(twire.OnlineStatusRequest)
	tconntest.WriteMessage(t, remote, twire.OnlineStatusResponse{ID: req.ID, State: twire.PlayerOffline})
	require.Equal(t, twire.PlayerOffline, ttest.ReceiveSoon(t, res))
}

func TestActor_queuesBeforeFirstConnect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	require.Equal(t, tconn.StateDead, f.Snapshot(t, ctx).State)

	res := make(chan twire.PlayerState, 1)
	go func() {
		s, _ := f.Actor.CheckOnline(ctx, tplayer.Local("requester"), "target")
		res <- s
	}()

	require.Eventually(t, func() bool {
		return f.Snapshot(t, ctx).QueueLen == 1
	}, time.Second, 10*time.Millisecond)

	remote := f.Connect(t, ctx, tplayer.AllCapabilities())
	req := tconntest.ReadMessage(t, remote).(twire.OnlineStatusRequest)
	require.Equal(t, tplayer.Remote(f.Remote, "target"), req.Target)

	tconntest.WriteMessage(t, remote, twire.OnlineStatusResponse{ID: req.ID, State: twire.PlayerOnline})
	require.Equal(t, twire.PlayerOnline, ttest.ReceiveSoon(t, res))

	s := f.Snapshot(t, ctx)
	require.Equal(t, tconn.StateOnline, s.State)
	require.True(t, s.RemoteCapabilitiesKnown)
}

func TestActor_reconnectClosesSupersededSocket(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	first := f.Connect(t, ctx, tplayer.AllCapabilities())
	second := f.Connect(t, ctx, tplayer.MustParseCapabilities("base"))

	require.True(t, first.IsClosed())
	require.False(t, second.IsClosed())

	s := f.Snapshot(t, ctx)
	require.True(t, s.RemoteCapabilities.Equal(tplayer.MustParseCapabilities("base")))
}

func TestActor_quitStopsPendingCallers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	errs := make(chan error, 1)
	go func() {
		_, err := f.Actor.CheckOnline(ctx, tplayer.Local("requester"), "target")
		errs <- err
	}()
	_ = tconntest.ReadMessage(t, remote)

	f.Actor.Quit()

	require.ErrorIs(t, ttest.ReceiveSoon(t, errs), tpeer.ErrActorStopped)
	require.Equal(t, f.Remote, ttest.ReceiveSoon(t, f.Stopped))
	require.True(t, remote.IsClosed())

	_, err := f.Actor.Snapshot(ctx)
	require.ErrorIs(t, err, tpeer.ErrActorStopped)
}

func TestActor_contextCancellationStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	cancel()

	require.Equal(t, f.Remote, ttest.ReceiveSoon(t, f.Stopped))
	ttest.ClosedSoon(t, f.Actor.Done())
}

func TestActor_initiateConnection(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	require.NoError(t, f.Actor.InitiateConnection(ctx))
	require.Equal(t, f.Remote, ttest.ReceiveSoon(t, f.Handshaker.Calls))
}

func TestActor_listRealms(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	sink := tfanout.NewSingle[[]twire.RealmEntry]()
	require.NoError(t, f.Actor.ListRealms(ctx, twire.RealmSource{
		Kind:   twire.RealmsBookmarks,
		Player: tplayer.Local("alice"),
	}, sink))

	req := tconntest.ReadMessage(t, remote).(twire.RealmsList)
	require.Equal(t, twire.RealmsBookmarks, req.Source.Kind)
	require.Equal(t, f.LocalPlayer("alice"), req.Source.Player)

	entries := []twire.RealmEntry{{ID: "r1", Name: "Garden", Server: f.Remote}}
	tconntest.WriteMessage(t, remote, twire.RealmsAvailable{ID: req.ID, Entries: entries})
	require.Equal(t, entries, ttest.ReceiveSoon(t, sink.Result()))
}

func TestActor_emoteAndFollowInitiate(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	emoted := make(chan bool, 1)
	go func() {
		ok, _ := f.Actor.ConsensualEmote(ctx, tplayer.Local("alice"), "bob", "wave")
		emoted <- ok
	}()
	er := tconntest.ReadMessage(t, remote).(twire.ConsensualEmoteRequestInitiate)
	require.Equal(t, "wave", er.Emote)
	require.Equal(t, f.RemotePlayer("bob"), er.Recipient)
	tconntest.WriteMessage(t, remote, twire.ConsensualEmoteResponse{ID: er.ID, OK: true})
	require.True(t, ttest.ReceiveSoon(t, emoted))

	followed := make(chan bool, 1)
	go func() {
		ok, _ := f.Actor.Follow(ctx, tplayer.Local("alice"), "bob")
		followed <- ok
	}()
	fr := tconntest.ReadMessage(t, remote).(twire.FollowRequestInitiate)
	require.Equal(t, f.LocalPlayer("alice"), fr.Source)
	tconntest.WriteMessage(t, remote, twire.FollowResponse{ID: fr.ID, OK: false})
	require.False(t, ttest.ReceiveSoon(t, followed))
}

func TestActor_assets(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	require.NoError(t, f.Assets.Push(ctx, map[string][]byte{"have": []byte("data")}))
	_ = ttest.ReceiveSoon(t, f.Assets.Pushed)

	requested, err := f.Actor.PullAssets(ctx, []string{"have", "want"})
	require.NoError(t, err)
	require.Equal(t, []string{"want"}, requested)
	require.Equal(t, twire.AssetsPull{Names: []string{"want"}}, tconntest.ReadMessage(t, remote))

	// Nothing missing, nothing sent.
	requested, err = f.Actor.PullAssets(ctx, []string{"have"})
	require.NoError(t, err)
	require.Empty(t, requested)

	tconntest.WriteMessage(t, remote, twire.AssetsPush{Assets: map[string][]byte{"want": []byte("w")}})
	require.Equal(t, map[string][]byte{"want": []byte("w")}, ttest.ReceiveSoon(t, f.Assets.Pushed))

	tconntest.WriteMessage(t, remote, twire.AssetsPull{Names: []string{"have", "unknown"}})
	require.Equal(
		t,
		twire.AssetsPush{Assets: map[string][]byte{"have": []byte("data")}},
		tconntest.ReadMessage(t, remote),
	)

	require.NoError(t, f.Actor.PushAssets(ctx, map[string][]byte{"x": []byte("y")}))
	require.Equal(
		t,
		twire.AssetsPush{Assets: map[string][]byte{"x": []byte("y")}},
		tconntest.ReadMessage(t, remote),
	)
}

func TestActor_largeAssetPullIsSplit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := tpeertest.NewFixture(t, ctx, tpeertest.FixtureConfig{})
	remote := f.Connect(t, ctx, tplayer.AllCapabilities())

	big := ttest.RandomDataForTest(t, 5<<20)
	stored := map[string][]byte{
		"a": big, "b": big, "c": big,
		"too-big": make([]byte, twire.MaxAssetsPushContent+1),
	}
	require.NoError(t, f.Assets.Push(ctx, stored))
	_ = ttest.ReceiveSoon(t, f.Assets.Pushed)

	tconntest.WriteMessage(t, remote, twire.AssetsPull{Names: []string{"a", "b", "c", "too-big"}})

	got := make(map[string][]byte)
	for range 2 {
		m := tconntest.ReadMessage(t, remote).(twire.AssetsPush)
		for name, content := range m.Assets {
			got[name] = content
		}
	}
	require.Equal(t, map[string][]byte{"a": big, "b": big, "c": big}, got)

	snap, err := f.Actor.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, tconn.StateOnline, snap.State)
	require.False(t, remote.IsClosed())
}
