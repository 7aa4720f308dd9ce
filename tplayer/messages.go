package tplayer

import (
	"slices"
	"time"
)

// Avatar is an opaque description of a player's appearance.
// Only the client and destinations interpret it.
type Avatar []byte

// Clone returns a copy of a that does not share memory with a.
func (a Avatar) Clone() Avatar {
	return slices.Clone(a)
}

// Request is a message from a player's client towards the world.
//
// The set of implementations is closed;
// consumers switch over the concrete types.
type Request interface {
	isRequest()
}

// RealmRequest carries an opaque payload for a realm destination.
type RealmRequest struct {
	Payload []byte
}

// GuestRequest carries an opaque payload for a hosted (guest) destination.
type GuestRequest struct {
	Payload []byte
}

// LocationMessageSend posts a chat message in the player's current location.
type LocationMessageSend struct {
	Body string
}

// LocationMessagesGet asks for the chat history of the current location
// between From and To.
type LocationMessagesGet struct {
	From, To time.Time
}

// ChangeAvatar replaces the player's avatar.
type ChangeAvatar struct {
	Avatar Avatar
}

// AnswerEmote answers an [EmoteRequested] event.
type AnswerEmote struct {
	ID     uint32
	Accept bool
}

// AnswerFollow answers a [FollowRequested] event.
type AnswerFollow struct {
	ID     uint32
	Accept bool
}

// GoTo asks to leave the current location for Target.
type GoTo struct {
	Target Target
}

func (RealmRequest) isRequest()        {}
func (GuestRequest) isRequest()        {}
func (LocationMessageSend) isRequest() {}
func (LocationMessagesGet) isRequest() {}
func (ChangeAvatar) isRequest()        {}
func (AnswerEmote) isRequest()         {}
func (AnswerFollow) isRequest()        {}
func (GoTo) isRequest()                {}

// Event is a message from the world towards a player's client.
//
// The set of implementations is closed;
// consumers switch over the concrete types.
type Event interface {
	isEvent()
}

// RealmResponse carries an opaque payload from a realm destination.
type RealmResponse struct {
	Payload []byte
}

// GuestResponse carries an opaque payload from a hosted destination.
type GuestResponse struct {
	Payload []byte
}

// LocationChange is the destination's description of the location
// the player has just entered.
type LocationChange struct {
	Payload []byte
}

// LocationMessage is one chat message in a location.
type LocationMessage struct {
	Sender    ID
	Body      string
	Timestamp time.Time
}

// LocationMessagePosted announces a new chat message in the current location.
type LocationMessagePosted struct {
	Message LocationMessage
}

// LocationMessages answers [LocationMessagesGet].
type LocationMessages struct {
	Messages []LocationMessage
}

// EmoteRequested asks the player whether to take part in a consensual emote.
// The answer is an [AnswerEmote] with the same ID.
type EmoteRequested struct {
	ID     uint32
	Emote  string
	Sender ID
}

// FollowRequested asks the player whether Source may follow them.
// The answer is an [AnswerFollow] with the same ID.
type FollowRequested struct {
	ID     uint32
	Source ID
}

// DirectMessageReceived notifies an online player of a new direct message.
type DirectMessageReceived struct {
	Sender    ID
	Body      string
	Timestamp time.Time
}

// Released tells the client it is leaving its current location for Target.
// A Target of kind [TargetNone] means a requested hand-off was refused.
type Released struct {
	Target Target
}

// Move is emitted by a destination that wants to relocate the player.
// It is consumed by whoever owns the session, not by the client.
type Move struct {
	Target Target
}

func (RealmResponse) isEvent()         {}
func (GuestResponse) isEvent()         {}
func (LocationChange) isEvent()        {}
func (LocationMessagePosted) isEvent() {}
func (LocationMessages) isEvent()      {}
func (EmoteRequested) isEvent()        {}
func (FollowRequested) isEvent()       {}
func (DirectMessageReceived) isEvent() {}
func (Released) isEvent()              {}
func (Move) isEvent()                  {}
