package twire

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang/snappy"
	"github.com/gordian-engine/tessera/tplayer"
)

// UnknownTagError is returned from [Decode]
// when the first byte is not a known [Tag].
type UnknownTagError struct {
	Tag Tag
}

func (e UnknownTagError) Error() string {
	return fmt.Sprintf("unknown message tag %d", e.Tag)
}

// DecodeError wraps a failure to decode the body of a known message type.
type DecodeError struct {
	Tag Tag
	Err error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("failed to decode message with tag %d: %v", e.Tag, e.Err)
}

func (e DecodeError) Unwrap() error {
	return e.Err
}

// Encode returns the tag byte of m followed by its body.
func Encode(m Message) []byte {
	e := encoder{buf: make([]byte, 1, 64)}
	e.buf[0] = byte(m.Tag())
	m.encodeBody(&e)
	return e.buf
}

// Decode parses a message previously produced by [Encode].
//
// An unrecognized tag returns an [UnknownTagError];
// a malformed body, including trailing bytes, returns a [DecodeError].
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, errors.New("cannot decode empty message")
	}

	tag := Tag(b[0])
	d := decoder{buf: b[1:]}

	var m Message
	switch tag {
	case AssetsPullTag:
		m = decodeAssetsPull(&d)
	case AssetsPushTag:
		m = decodeAssetsPush(&d)
	case AvatarSetTag:
		m = AvatarSet{Player: d.player(), Avatar: d.bytes()}
	case ConsensualEmoteRequestInitiateTag:
		m = ConsensualEmoteRequestInitiate{
			ID: d.uint32(), Emote: d.string(), Sender: d.player(), Recipient: d.player(),
		}
	case ConsensualEmoteRequestFromLocationTag:
		m = ConsensualEmoteRequestFromLocation{
			ID: d.uint32(), Emote: d.string(), Sender: d.player(), Recipient: d.player(),
		}
	case ConsensualEmoteResponseTag:
		m = ConsensualEmoteResponse{ID: d.uint32(), Player: d.player(), OK: d.bool()}
	case DirectMessageTag:
		m = DirectMessage{
			ID: d.uint32(), Sender: d.player(), Recipient: d.player(), Body: d.string(),
		}
	case DirectMessageResponseTag:
		m = DirectMessageResponse{ID: d.uint32(), Status: DirectMessageStatus(d.byte())}
	case FollowRequestInitiateTag:
		m = FollowRequestInitiate{ID: d.uint32(), Source: d.player(), Target: d.player()}
	case FollowRequestFromLocationTag:
		m = FollowRequestFromLocation{ID: d.uint32(), Source: d.player(), Target: d.player()}
	case FollowResponseTag:
		m = FollowResponse{ID: d.uint32(), Player: d.player(), OK: d.bool()}
	case GuestRequestTag:
		m = GuestRequest{Player: d.player(), Payload: d.bytes()}
	case GuestResponseTag:
		m = GuestResponse{Player: d.player(), Payload: d.bytes()}
	case LocationChangeTag:
		m = LocationChange{Player: d.player(), Response: d.bytes()}
	case LocationMessagePostedTag:
		m = LocationMessagePosted{Player: d.player(), Message: d.locationMessage()}
	case LocationMessageSendTag:
		m = LocationMessageSend{Player: d.player(), Body: d.string()}
	case LocationMessagesGetTag:
		m = LocationMessagesGet{Player: d.player(), From: d.time(), To: d.time()}
	case LocationMessagesTag:
		m = decodeLocationMessages(&d)
	case OnlineStatusRequestTag:
		m = OnlineStatusRequest{ID: d.uint32(), Requester: d.player(), Target: d.player()}
	case OnlineStatusResponseTag:
		m = OnlineStatusResponse{ID: d.uint32(), State: PlayerState(d.byte())}
	case RealmRequestTag:
		m = RealmRequest{Player: d.player(), Payload: d.bytes()}
	case RealmResponseTag:
		m = RealmResponse{Player: d.player(), Payload: d.bytes()}
	case RealmsListTag:
		m = RealmsList{
			ID:     d.uint32(),
			Source: RealmSource{Kind: RealmSourceKind(d.byte()), Player: d.player()},
		}
	case RealmsAvailableTag:
		m = decodeRealmsAvailable(&d)
	case VisitorReleaseTag:
		m = VisitorRelease{Player: d.player(), Target: d.target()}
	case VisitorSendTag:
		m = VisitorSend{
			Capabilities: d.strings(), Player: d.player(), Target: d.target(), Avatar: d.bytes(),
		}
	case VisitorYankTag:
		m = VisitorYank{Player: d.player()}
	default:
		return nil, UnknownTagError{Tag: tag}
	}

	if d.err == nil && len(d.buf) > 0 {
		d.err = fmt.Errorf("%d trailing bytes", len(d.buf))
	}
	if d.err != nil {
		return nil, DecodeError{Tag: tag, Err: d.err}
	}
	return m, nil
}

func (m AssetsPull) encodeBody(e *encoder) {
	e.strings(m.Names)
}

func decodeAssetsPull(d *decoder) AssetsPull {
	return AssetsPull{Names: d.strings()}
}

// Asset contents are snappy-compressed individually,
// and names are written in sorted order so the encoding is deterministic.
func (m AssetsPush) encodeBody(e *encoder) {
	names := make([]string, 0, len(m.Assets))
	for name := range m.Assets {
		names = append(names, name)
	}
	slices.Sort(names)

	e.uvarint(uint64(len(names)))
	for _, name := range names {
		e.string(name)
		e.bytes(snappy.Encode(nil, m.Assets[name]))
	}
}

func decodeAssetsPush(d *decoder) AssetsPush {
	// Each entry is at least two length bytes.
	n := d.length(2)
	out := AssetsPush{Assets: make(map[string][]byte, n)}
	total := 0
	for range n {
		name := d.string()
		compressed := d.bytes()
		if d.err != nil {
			return out
		}

		// snappy.Decode allocates the claimed length before validating,
		// so the claim is checked first.
		sz, err := snappy.DecodedLen(compressed)
		if err != nil {
			d.fail(fmt.Errorf("failed to read length of asset %q: %w", name, err))
			return out
		}
		total += sz
		if total > MaxAssetsPushContent {
			d.fail(fmt.Errorf(
				"asset contents exceed %d bytes at asset %q", MaxAssetsPushContent, name,
			))
			return out
		}

		content, err := snappy.Decode(nil, compressed)
		if err != nil {
			d.fail(fmt.Errorf("failed to decompress asset %q: %w", name, err))
			return out
		}
		out.Assets[name] = content
	}
	return out
}

func (m AvatarSet) encodeBody(e *encoder) {
	e.player(m.Player)
	e.bytes(m.Avatar)
}

func (m ConsensualEmoteRequestInitiate) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.string(m.Emote)
	e.player(m.Sender)
	e.player(m.Recipient)
}

func (m ConsensualEmoteRequestFromLocation) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.string(m.Emote)
	e.player(m.Sender)
	e.player(m.Recipient)
}

func (m ConsensualEmoteResponse) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.player(m.Player)
	e.bool(m.OK)
}

func (m DirectMessage) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.player(m.Sender)
	e.player(m.Recipient)
	e.string(m.Body)
}

func (m DirectMessageResponse) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.byte(byte(m.Status))
}

func (m FollowRequestInitiate) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.player(m.Source)
	e.player(m.Target)
}

func (m FollowRequestFromLocation) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.player(m.Source)
	e.player(m.Target)
}

func (m FollowResponse) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.player(m.Player)
	e.bool(m.OK)
}

func (m GuestRequest) encodeBody(e *encoder) {
	e.player(m.Player)
	e.bytes(m.Payload)
}

func (m GuestResponse) encodeBody(e *encoder) {
	e.player(m.Player)
	e.bytes(m.Payload)
}

func (m LocationChange) encodeBody(e *encoder) {
	e.player(m.Player)
	e.bytes(m.Response)
}

func (m LocationMessagePosted) encodeBody(e *encoder) {
	e.player(m.Player)
	e.locationMessage(m.Message)
}

func (m LocationMessageSend) encodeBody(e *encoder) {
	e.player(m.Player)
	e.string(m.Body)
}

func (m LocationMessagesGet) encodeBody(e *encoder) {
	e.player(m.Player)
	e.time(m.From)
	e.time(m.To)
}

func (m LocationMessages) encodeBody(e *encoder) {
	e.player(m.Player)
	e.uvarint(uint64(len(m.Messages)))
	for _, lm := range m.Messages {
		e.locationMessage(lm)
	}
}

func decodeLocationMessages(d *decoder) LocationMessages {
	out := LocationMessages{Player: d.player()}
	// Sender server and name, body, 8-byte timestamp.
	n := d.length(11)
	if n > 0 {
		out.Messages = make([]tplayer.LocationMessage, n)
		for i := range out.Messages {
			out.Messages[i] = d.locationMessage()
		}
	}
	return out
}

func (m OnlineStatusRequest) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.player(m.Requester)
	e.player(m.Target)
}

func (m OnlineStatusResponse) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.byte(byte(m.State))
}

func (m RealmRequest) encodeBody(e *encoder) {
	e.player(m.Player)
	e.bytes(m.Payload)
}

func (m RealmResponse) encodeBody(e *encoder) {
	e.player(m.Player)
	e.bytes(m.Payload)
}

func (m RealmsList) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.byte(byte(m.Source.Kind))
	e.player(m.Source.Player)
}

func (m RealmsAvailable) encodeBody(e *encoder) {
	e.uint32(m.ID)
	e.uvarint(uint64(len(m.Entries)))
	for _, r := range m.Entries {
		e.string(r.ID)
		e.string(r.Name)
		e.string(r.Server)
	}
}

func decodeRealmsAvailable(d *decoder) RealmsAvailable {
	out := RealmsAvailable{ID: d.uint32()}
	n := d.length(3)
	if n > 0 {
		out.Entries = make([]RealmEntry, n)
		for i := range out.Entries {
			out.Entries[i] = RealmEntry{ID: d.string(), Name: d.string(), Server: d.string()}
		}
	}
	return out
}

func (m VisitorRelease) encodeBody(e *encoder) {
	e.player(m.Player)
	e.target(m.Target)
}

func (m VisitorSend) encodeBody(e *encoder) {
	e.strings(m.Capabilities)
	e.player(m.Player)
	e.target(m.Target)
	e.bytes(m.Avatar)
}

func (m VisitorYank) encodeBody(e *encoder) {
	e.player(m.Player)
}
