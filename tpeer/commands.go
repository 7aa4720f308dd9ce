package tpeer

import (
	"context"
	"fmt"
	"slices"

	"github.com/gordian-engine/tessera/tconn"
	"github.com/gordian-engine/tessera/tfanout"
	"github.com/gordian-engine/tessera/tplayer"
	"github.com/gordian-engine/tessera/twire"
)

type connectRequest struct {
	Socket       tconn.Socket
	Capabilities tplayer.Capabilities
	Resp         chan struct{}
}

type onlineRequest struct {
	Requester tplayer.ID
	Target    string
	Resp      chan twire.PlayerState
}

type directMessageRequest struct {
	Sender    tplayer.ID
	Recipient string
	Body      string
	Resp      chan twire.DirectMessageStatus
}

type realmsRequest struct {
	Source twire.RealmSource
	Sink   tfanout.Sink[[]twire.RealmEntry]
	Resp   chan struct{}
}

type emoteRequest struct {
	Sender    tplayer.ID
	Recipient string
	Emote     string
	Resp      chan bool
}

type followRequest struct {
	Source tplayer.ID
	Target string
	Resp   chan bool
}

type pullAssetsRequest struct {
	Names []string
	Resp  chan []string
}

type pushAssetsRequest struct {
	Assets map[string][]byte
	Resp   chan struct{}
}

// Snapshot is a diagnostic view of an actor's state.
type Snapshot struct {
	Remote string

	State    tconn.State
	QueueLen int

	RemoteCapabilities      tplayer.Capabilities
	RemoteCapabilitiesKnown bool

	Tables TableSizes

	// Last correlation id minted.
	LastID uint32

	// Sorted player names.
	OnPeer   []string
	FromPeer []string
	Arriving []string
}

// submit is the first phase of every public method:
// handing req to the main loop.
func submit[R any](ctx context.Context, a *Actor, ch chan<- R, req R, what string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf(
			"context canceled while making %s request: %w",
			what, context.Cause(ctx),
		)
	case <-a.done:
		return ErrActorStopped
	case ch <- req:
		return nil
	}
}

// await is the second phase: waiting for the main loop,
// or a continuation it registered, to answer.
func await[T any](ctx context.Context, a *Actor, resp <-chan T, what string) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf(
			"context canceled while awaiting %s response: %w",
			what, context.Cause(ctx),
		)
	case <-a.done:
		// The answer may have raced with shutdown.
		select {
		case v := <-resp:
			return v, nil
		default:
			return zero, ErrActorStopped
		}
	case v := <-resp:
		return v, nil
	}
}

// Connect installs a socket to the remote,
// produced by a completed handshake in either direction.
// caps are the capabilities the remote advertised in that handshake.
//
// Messages queued while the connection was down are flushed to s first.
// A previously installed socket is closed.
func (a *Actor) Connect(ctx context.Context, s tconn.Socket, caps tplayer.Capabilities) error {
	req := connectRequest{
		Socket:       s,
		Capabilities: caps,
		Resp:         make(chan struct{}, 1),
	}
	if err := submit(ctx, a, a.connectRequests, req, "connect"); err != nil {
		return err
	}
	_, err := await(ctx, a, req.Resp, "connect")
	return err
}

// InitiateConnection starts an outbound handshake in the background.
// It returns once the actor has accepted the request,
// without waiting for the handshake or the resulting Connect.
func (a *Actor) InitiateConnection(ctx context.Context) error {
	return submit(ctx, a, a.initiateRequests, struct{}{}, "initiate connection")
}

// CheckOnline asks the remote whether its player named target is online,
// on behalf of the local player requester.
//
// If the connection is down the request is queued;
// if it is never answered, CheckOnline blocks until ctx is done.
func (a *Actor) CheckOnline(ctx context.Context, requester tplayer.ID, target string) (twire.PlayerState, error) {
	req := onlineRequest{
		Requester: requester,
		Target:    target,
		Resp:      make(chan twire.PlayerState, 1),
	}
	if err := submit(ctx, a, a.onlineRequests, req, "online status"); err != nil {
		return twire.PlayerUnknown, err
	}
	return await(ctx, a, req.Resp, "online status")
}

// DirectMessage sends body from the local player sender
// to the remote player named recipient.
func (a *Actor) DirectMessage(
	ctx context.Context, sender tplayer.ID, recipient, body string,
) (twire.DirectMessageStatus, error) {
	req := directMessageRequest{
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		Resp:      make(chan twire.DirectMessageStatus, 1),
	}
	if err := submit(ctx, a, a.directMessageReqs, req, "direct message"); err != nil {
		return twire.DirectMessageInternalError, err
	}
	return await(ctx, a, req.Resp, "direct message")
}

// ListRealms asks the remote for realms matching source.
// The reply, if any, is delivered to sink from the actor's main loop.
// ListRealms returns once the request is sent or queued.
func (a *Actor) ListRealms(
	ctx context.Context, source twire.RealmSource, sink tfanout.Sink[[]twire.RealmEntry],
) error {
	req := realmsRequest{
		Source: source,
		Sink:   sink,
		Resp:   make(chan struct{}, 1),
	}
	if err := submit(ctx, a, a.realmsRequests, req, "list realms"); err != nil {
		return err
	}
	_, err := await(ctx, a, req.Resp, "list realms")
	return err
}

// ConsensualEmote asks the remote player named recipient
// to take part in emote with the local player sender.
func (a *Actor) ConsensualEmote(
	ctx context.Context, sender tplayer.ID, recipient, emote string,
) (bool, error) {
	req := emoteRequest{
		Sender:    sender,
		Recipient: recipient,
		Emote:     emote,
		Resp:      make(chan bool, 1),
	}
	if err := submit(ctx, a, a.emoteRequests, req, "consensual emote"); err != nil {
		return false, err
	}
	return await(ctx, a, req.Resp, "consensual emote")
}

// Follow asks the remote player named target
// whether the local player source may follow them.
func (a *Actor) Follow(ctx context.Context, source tplayer.ID, target string) (bool, error) {
	req := followRequest{
		Source: source,
		Target: target,
		Resp:   make(chan bool, 1),
	}
	if err := submit(ctx, a, a.followRequests, req, "follow"); err != nil {
		return false, err
	}
	return await(ctx, a, req.Resp, "follow")
}

// PullAssets asks the remote for whichever of names are missing locally.
// It returns the names that were requested.
// The contents arrive later and are stored through the AssetManager.
func (a *Actor) PullAssets(ctx context.Context, names []string) ([]string, error) {
	req := pullAssetsRequest{
		Names: names,
		Resp:  make(chan []string, 1),
	}
	if err := submit(ctx, a, a.pullAssetsRequests, req, "pull assets"); err != nil {
		return nil, err
	}
	return await(ctx, a, req.Resp, "pull assets")
}

// PushAssets sends assets to the remote.
func (a *Actor) PushAssets(ctx context.Context, assets map[string][]byte) error {
	req := pushAssetsRequest{
		Assets: assets,
		Resp:   make(chan struct{}, 1),
	}
	if err := submit(ctx, a, a.pushAssetsRequests, req, "push assets"); err != nil {
		return err
	}
	_, err := await(ctx, a, req.Resp, "push assets")
	return err
}

// Snapshot returns a diagnostic view of the actor.
func (a *Actor) Snapshot(ctx context.Context) (Snapshot, error) {
	ch := make(chan Snapshot, 1)
	if err := submit(ctx, a, a.snapshotRequests, ch, "snapshot"); err != nil {
		return Snapshot{}, err
	}
	return await(ctx, a, ch, "snapshot")
}

func (a *Actor) handleConnect(req connectRequest) {
	if old := a.conn.Establish(req.Socket); old != nil {
		a.log.Info("Replacing existing connection")
		if err := old.Close(); err != nil {
			a.log.Debug("Error closing superseded socket", "err", err)
		}
	}

	a.remoteCaps = req.Capabilities
	a.remoteCapsKnown = true

	a.log.Info("Connected", "remote_capabilities", req.Capabilities)

	// Assume the response channel is buffered.
	req.Resp <- struct{}{}
}

func (a *Actor) handleInitiate(ctx context.Context) {
	if a.handshaker == nil {
		a.log.Warn("Cannot initiate connection without a handshaker")
		return
	}

	a.spawn(ctx, "initiate handshake", func(ctx context.Context) func() {
		if err := a.handshaker.Initiate(ctx, a.remote); err != nil {
			a.log.Info("Outbound handshake failed", "err", err)
		}
		return nil
	})
}

func (a *Actor) handleOnlineRequest(req onlineRequest) {
	id := a.mintID()
	a.tables.online.add(id, func(s twire.PlayerState) {
		req.Resp <- s
	})
	a.conn.Send(twire.OnlineStatusRequest{
		ID:        id,
		Requester: req.Requester.Qualify(a.local),
		Target:    tplayer.Remote(a.remote, req.Target),
	})
}

func (a *Actor) handleDirectMessageRequest(req directMessageRequest) {
	id := a.mintID()
	a.tables.directMessages.add(id, func(s twire.DirectMessageStatus) {
		req.Resp <- s
	})
	a.conn.Send(twire.DirectMessage{
		ID:        id,
		Sender:    req.Sender.Qualify(a.local),
		Recipient: tplayer.Remote(a.remote, req.Recipient),
		Body:      req.Body,
	})
}

func (a *Actor) handleRealmsRequest(req realmsRequest) {
	id := a.mintID()
	a.tables.realms.add(id, req.Sink.Deliver)

	src := req.Source
	if src.Player != (tplayer.ID{}) {
		src.Player = src.Player.Qualify(a.local)
	}
	a.conn.Send(twire.RealmsList{ID: id, Source: src})

	req.Resp <- struct{}{}
}

func (a *Actor) handleEmoteRequest(req emoteRequest) {
	id := a.mintID()
	a.tables.emotes.add(id, func(ok bool) {
		req.Resp <- ok
	})
	a.conn.Send(twire.ConsensualEmoteRequestInitiate{
		ID:        id,
		Emote:     req.Emote,
		Sender:    req.Sender.Qualify(a.local),
		Recipient: tplayer.Remote(a.remote, req.Recipient),
	})
}

func (a *Actor) handleFollowRequest(req followRequest) {
	id := a.mintID()
	a.tables.follows.add(id, func(ok bool) {
		req.Resp <- ok
	})
	a.conn.Send(twire.FollowRequestInitiate{
		ID:     id,
		Source: req.Source.Qualify(a.local),
		Target: tplayer.Remote(a.remote, req.Target),
	})
}

func (a *Actor) handlePullAssets(req pullAssetsRequest) {
	var missing []string
	if a.assets != nil {
		for _, n := range req.Names {
			if a.assets.Missing(n) {
				missing = append(missing, n)
			}
		}
	}

	if len(missing) > 0 {
		a.conn.Send(twire.AssetsPull{Names: missing})
	}

	req.Resp <- missing
}

func (a *Actor) handlePushAssets(req pushAssetsRequest) {
	a.sendAssets(req.Assets)
	req.Resp <- struct{}{}
}

// sendAssets sends assets in as many AssetsPush messages as needed
// to keep each one within the frame size limit.
func (a *Actor) sendAssets(assets map[string][]byte) {
	batches, oversize := twire.BatchAssets(assets)
	if len(oversize) > 0 {
		a.log.Warn("Not sending assets too large for a single message", "names", oversize)
	}
	for _, b := range batches {
		a.conn.Send(b)
	}
}

func (a *Actor) snapshot() Snapshot {
	return Snapshot{
		Remote: a.remote,

		State:    a.conn.State(),
		QueueLen: a.conn.QueueLen(),

		RemoteCapabilities:      a.remoteCaps,
		RemoteCapabilitiesKnown: a.remoteCapsKnown,

		Tables: a.tables.sizes(),
		LastID: a.nextID,

		OnPeer:   sortedKeys(a.onPeer),
		FromPeer: sortedKeys(a.fromPeer),
		Arriving: sortedKeys(a.arriving),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
