package twire

import (
	"fmt"
	"time"

	"github.com/gordian-engine/tessera/tplayer"
)

// Tag is the single byte header identifying a message type.
type Tag uint8

const (
	// Keep zero reserved.
	// Not using iota here, to avoid possibility of values changing across the wire.

	AssetsPullTag                         Tag = 1
	AssetsPushTag                         Tag = 2
	AvatarSetTag                          Tag = 3
	ConsensualEmoteRequestInitiateTag     Tag = 4
	ConsensualEmoteRequestFromLocationTag Tag = 5
	ConsensualEmoteResponseTag            Tag = 6
	DirectMessageTag                      Tag = 7
	DirectMessageResponseTag              Tag = 8
	FollowRequestInitiateTag              Tag = 9
	FollowRequestFromLocationTag          Tag = 10
	FollowResponseTag                     Tag = 11
	GuestRequestTag                       Tag = 12
	GuestResponseTag                      Tag = 13
	LocationChangeTag                     Tag = 14
	LocationMessagePostedTag              Tag = 15
	LocationMessageSendTag                Tag = 16
	LocationMessagesGetTag                Tag = 17
	LocationMessagesTag                   Tag = 18
	OnlineStatusRequestTag                Tag = 19
	OnlineStatusResponseTag               Tag = 20
	RealmRequestTag                       Tag = 21
	RealmResponseTag                      Tag = 22
	RealmsListTag                         Tag = 23
	RealmsAvailableTag                    Tag = 24
	VisitorReleaseTag                     Tag = 25
	VisitorSendTag                        Tag = 26
	VisitorYankTag                        Tag = 27

	// maxTag must be updated whenever a tag is added.
	maxTag = VisitorYankTag
)

func (t Tag) String() string {
	switch t {
	case AssetsPullTag:
		return "AssetsPull"
	case AssetsPushTag:
		return "AssetsPush"
	case AvatarSetTag:
		return "AvatarSet"
	case ConsensualEmoteRequestInitiateTag:
		return "ConsensualEmoteRequestInitiate"
	case ConsensualEmoteRequestFromLocationTag:
		return "ConsensualEmoteRequestFromLocation"
	case ConsensualEmoteResponseTag:
		return "ConsensualEmoteResponse"
	case DirectMessageTag:
		return "DirectMessage"
	case DirectMessageResponseTag:
		return "DirectMessageResponse"
	case FollowRequestInitiateTag:
		return "FollowRequestInitiate"
	case FollowRequestFromLocationTag:
		return "FollowRequestFromLocation"
	case FollowResponseTag:
		return "FollowResponse"
	case GuestRequestTag:
		return "GuestRequest"
	case GuestResponseTag:
		return "GuestResponse"
	case LocationChangeTag:
		return "LocationChange"
	case LocationMessagePostedTag:
		return "LocationMessagePosted"
	case LocationMessageSendTag:
		return "LocationMessageSend"
	case LocationMessagesGetTag:
		return "LocationMessagesGet"
	case LocationMessagesTag:
		return "LocationMessages"
	case OnlineStatusRequestTag:
		return "OnlineStatusRequest"
	case OnlineStatusResponseTag:
		return "OnlineStatusResponse"
	case RealmRequestTag:
		return "RealmRequest"
	case RealmResponseTag:
		return "RealmResponse"
	case RealmsListTag:
		return "RealmsList"
	case RealmsAvailableTag:
		return "RealmsAvailable"
	case VisitorReleaseTag:
		return "VisitorRelease"
	case VisitorSendTag:
		return "VisitorSend"
	case VisitorYankTag:
		return "VisitorYank"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Tags returns every valid tag in ascending order.
func Tags() []Tag {
	out := make([]Tag, 0, maxTag)
	for t := Tag(1); t <= maxTag; t++ {
		out = append(out, t)
	}
	return out
}

// Message is one wire message.
//
// The set of implementations is closed to this package;
// [Decode] and every consumer switch over the concrete types.
type Message interface {
	Tag() Tag

	encodeBody(e *encoder)
}

// PlayerState is the answer to an online status query.
type PlayerState uint8

const (
	// The player does not exist or is hidden from the requester.
	PlayerUnknown PlayerState = 0

	PlayerOffline PlayerState = 1
	PlayerOnline  PlayerState = 2
)

func (s PlayerState) String() string {
	switch s {
	case PlayerUnknown:
		return "unknown"
	case PlayerOffline:
		return "offline"
	case PlayerOnline:
		return "online"
	default:
		return "invalid"
	}
}

// DirectMessageStatus is the result of delivering a direct message.
type DirectMessageStatus uint8

const (
	// Zero so that a lost or garbled status reads as failure.
	DirectMessageInternalError DirectMessageStatus = 0

	DirectMessageDelivered        DirectMessageStatus = 1
	DirectMessageUnknownRecipient DirectMessageStatus = 2
	DirectMessageForbidden        DirectMessageStatus = 3
)

func (s DirectMessageStatus) String() string {
	switch s {
	case DirectMessageInternalError:
		return "internal error"
	case DirectMessageDelivered:
		return "delivered"
	case DirectMessageUnknownRecipient:
		return "unknown recipient"
	case DirectMessageForbidden:
		return "forbidden"
	default:
		return "invalid"
	}
}

// RealmSourceKind selects which realms a [RealmsList] asks for.
type RealmSourceKind uint8

const (
	// Realms the remote instance lists publicly.
	RealmsPublic RealmSourceKind = 1

	// Realms owned by RealmSource.Player.
	RealmsPersonal RealmSourceKind = 2

	// Realms on the remote instance that RealmSource.Player bookmarked.
	RealmsBookmarks RealmSourceKind = 3
)

// RealmSource is the query in a [RealmsList].
type RealmSource struct {
	Kind RealmSourceKind

	// Unset for RealmsPublic.
	Player tplayer.ID
}

// RealmEntry is one realm in a [RealmsAvailable] reply.
type RealmEntry struct {
	ID     string
	Name   string
	Server string
}

// AssetsPull asks the peer for the named assets.
type AssetsPull struct {
	Names []string
}

// AssetsPush delivers asset contents, keyed by name.
type AssetsPush struct {
	Assets map[string][]byte
}

// AvatarSet replaces the avatar of a player
// who is visiting one side and hosted by the other.
type AvatarSet struct {
	Player tplayer.ID
	Avatar tplayer.Avatar
}

// ConsensualEmoteRequestInitiate asks Recipient,
// who is authenticated by the receiving instance,
// to take part in an emote with Sender.
// Answered by [ConsensualEmoteResponse] with a zero Player.
type ConsensualEmoteRequestInitiate struct {
	ID        uint32
	Emote     string
	Sender    tplayer.ID
	Recipient tplayer.ID
}

// ConsensualEmoteRequestFromLocation is sent by a host
// to the origin of a visiting Recipient,
// when someone in the visitor's current location requests an emote.
// Answered by [ConsensualEmoteResponse] naming Recipient as Player.
type ConsensualEmoteRequestFromLocation struct {
	ID        uint32
	Emote     string
	Sender    tplayer.ID
	Recipient tplayer.ID
}

// ConsensualEmoteResponse answers either emote request.
type ConsensualEmoteResponse struct {
	ID     uint32
	Player tplayer.ID
	OK     bool
}

// DirectMessage delivers a private message to Recipient.
type DirectMessage struct {
	ID        uint32
	Sender    tplayer.ID
	Recipient tplayer.ID
	Body      string
}

// DirectMessageResponse answers [DirectMessage].
type DirectMessageResponse struct {
	ID     uint32
	Status DirectMessageStatus
}

// FollowRequestInitiate asks Target whether Source may follow them.
type FollowRequestInitiate struct {
	ID     uint32
	Source tplayer.ID
	Target tplayer.ID
}

// FollowRequestFromLocation is the location-scoped variant,
// sent by a host to the origin of a visiting Target.
type FollowRequestFromLocation struct {
	ID     uint32
	Source tplayer.ID
	Target tplayer.ID
}

// FollowResponse answers either follow request.
// Player is zero for answers to [FollowRequestInitiate].
type FollowResponse struct {
	ID     uint32
	Player tplayer.ID
	OK     bool
}

// GuestRequest is a visitor's request to a hosted destination.
type GuestRequest struct {
	Player  tplayer.ID
	Payload []byte
}

// GuestResponse is a hosted destination's output for a visitor.
type GuestResponse struct {
	Player  tplayer.ID
	Payload []byte
}

// LocationChange carries the destination's description
// of the location a visitor entered.
type LocationChange struct {
	Player   tplayer.ID
	Response []byte
}

// LocationMessagePosted relays a chat message in a visitor's location.
type LocationMessagePosted struct {
	Player  tplayer.ID
	Message tplayer.LocationMessage
}

// LocationMessageSend posts a chat message on behalf of a visitor.
type LocationMessageSend struct {
	Player tplayer.ID
	Body   string
}

// LocationMessagesGet asks for chat history on behalf of a visitor.
type LocationMessagesGet struct {
	Player   tplayer.ID
	From, To time.Time
}

// LocationMessages answers [LocationMessagesGet].
type LocationMessages struct {
	Player   tplayer.ID
	Messages []tplayer.LocationMessage
}

// OnlineStatusRequest asks whether Target is online, on behalf of Requester.
type OnlineStatusRequest struct {
	ID        uint32
	Requester tplayer.ID
	Target    tplayer.ID
}

// OnlineStatusResponse answers [OnlineStatusRequest].
type OnlineStatusResponse struct {
	ID    uint32
	State PlayerState
}

// RealmRequest is a visitor's request to a realm destination.
type RealmRequest struct {
	Player  tplayer.ID
	Payload []byte
}

// RealmResponse is a realm destination's output for a visitor.
type RealmResponse struct {
	Player  tplayer.ID
	Payload []byte
}

// RealmsList asks for the realms matching Source.
type RealmsList struct {
	ID     uint32
	Source RealmSource
}

// RealmsAvailable answers [RealmsList].
type RealmsAvailable struct {
	ID      uint32
	Entries []RealmEntry
}

// VisitorRelease is sent by a host to a visitor's origin:
// the visitor leaves the host for Target.
// A Target of kind [tplayer.TargetNone] refuses a [VisitorSend].
type VisitorRelease struct {
	Player tplayer.ID
	Target tplayer.Target
}

// VisitorSend hands a player to the receiving instance.
type VisitorSend struct {
	Capabilities []string
	Player       tplayer.ID
	Target       tplayer.Target
	Avatar       tplayer.Avatar
}

// VisitorYank unilaterally ends a visit, from either side.
type VisitorYank struct {
	Player tplayer.ID
}

func (AssetsPull) Tag() Tag                         { return AssetsPullTag }
func (AssetsPush) Tag() Tag                         { return AssetsPushTag }
func (AvatarSet) Tag() Tag                          { return AvatarSetTag }
func (ConsensualEmoteRequestInitiate) Tag() Tag     { return ConsensualEmoteRequestInitiateTag }
func (ConsensualEmoteRequestFromLocation) Tag() Tag { return ConsensualEmoteRequestFromLocationTag }
func (ConsensualEmoteResponse) Tag() Tag            { return ConsensualEmoteResponseTag }
func (DirectMessage) Tag() Tag                      { return DirectMessageTag }
func (DirectMessageResponse) Tag() Tag              { return DirectMessageResponseTag }
func (FollowRequestInitiate) Tag() Tag              { return FollowRequestInitiateTag }
func (FollowRequestFromLocation) Tag() Tag          { return FollowRequestFromLocationTag }
func (FollowResponse) Tag() Tag                     { return FollowResponseTag }
func (GuestRequest) Tag() Tag                       { return GuestRequestTag }
func (GuestResponse) Tag() Tag                      { return GuestResponseTag }
func (LocationChange) Tag() Tag                     { return LocationChangeTag }
func (LocationMessagePosted) Tag() Tag              { return LocationMessagePostedTag }
func (LocationMessageSend) Tag() Tag                { return LocationMessageSendTag }
func (LocationMessagesGet) Tag() Tag                { return LocationMessagesGetTag }
func (LocationMessages) Tag() Tag                   { return LocationMessagesTag }
func (OnlineStatusRequest) Tag() Tag                { return OnlineStatusRequestTag }
func (OnlineStatusResponse) Tag() Tag               { return OnlineStatusResponseTag }
func (RealmRequest) Tag() Tag                       { return RealmRequestTag }
func (RealmResponse) Tag() Tag                      { return RealmResponseTag }
func (RealmsList) Tag() Tag                         { return RealmsListTag }
func (RealmsAvailable) Tag() Tag                    { return RealmsAvailableTag }
func (VisitorRelease) Tag() Tag                     { return VisitorReleaseTag }
func (VisitorSend) Tag() Tag                        { return VisitorSendTag }
func (VisitorYank) Tag() Tag                        { return VisitorYankTag }
