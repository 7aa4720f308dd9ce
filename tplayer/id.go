package tplayer

import (
	"errors"
	"strings"
)

// ID identifies a player.
//
// A player authenticated by this instance is local,
// which is represented by an empty Server.
// A player authenticated elsewhere carries the name of that instance.
type ID struct {
	Server string
	Name   string
}

// Local returns the ID of a player authenticated by this instance.
func Local(name string) ID {
	return ID{Name: name}
}

// Remote returns the ID of a player authenticated by the given server.
func Remote(server, name string) ID {
	return ID{Server: server, Name: name}
}

// IsLocal reports whether id belongs to this instance.
func (id ID) IsLocal() bool {
	return id.Server == ""
}

// Qualify returns id with the server filled in,
// so that it can be sent to another instance.
func (id ID) Qualify(local string) ID {
	if id.Server == "" {
		id.Server = local
	}
	return id
}

// Localize is the inverse of [ID.Qualify]:
// an id naming the local server becomes a local id.
func (id ID) Localize(local string) ID {
	if id.Server == local {
		id.Server = ""
	}
	return id
}

// String formats id as name or name@server.
func (id ID) String() string {
	if id.Server == "" {
		return id.Name
	}
	return id.Name + "@" + id.Server
}

// ParseID parses the output of [ID.String].
func ParseID(s string) (ID, error) {
	name, server, found := strings.Cut(s, "@")
	if name == "" {
		return ID{}, errors.New("player id has empty name")
	}
	if found && server == "" {
		return ID{}, errors.New("player id has empty server")
	}
	return ID{Server: server, Name: name}, nil
}
