package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordian-engine/tessera/tpeer"
	"github.com/gordian-engine/tessera/tplayer"
)

// maxInbox bounds the direct messages kept per recipient.
const maxInbox = 500

// memStore is a [tpeer.Store] holding the configured players.
// Direct messages live only as long as the process.
type memStore struct {
	mu      sync.Mutex
	players map[string]tpeer.PlayerRecord
	inboxes map[string][]tpeer.DirectMessageRecord
}

var _ tpeer.Store = (*memStore)(nil)

func newMemStore(players []playerConfig) (*memStore, error) {
	s := &memStore{
		players: make(map[string]tpeer.PlayerRecord, len(players)),
		inboxes: make(map[string][]tpeer.DirectMessageRecord),
	}
	for _, p := range players {
		rec := tpeer.PlayerRecord{Name: p.Name}
		for _, b := range p.Blocked {
			id, err := tplayer.ParseID(b)
			if err != nil {
				return nil, fmt.Errorf("player %s: blocked %q: %w", p.Name, b, err)
			}
			rec.Blocked = append(rec.Blocked, id)
		}
		s.players[p.Name] = rec
	}
	return s, nil
}

func (s *memStore) LoadPlayer(_ context.Context, name string) (tpeer.PlayerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.players[name]
	if !ok {
		return tpeer.PlayerRecord{}, tpeer.ErrUnknownPlayer
	}
	return rec, nil
}

func (s *memStore) WriteDirectMessage(_ context.Context, rec tpeer.DirectMessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[rec.Recipient]; !ok {
		return tpeer.ErrUnknownPlayer
	}

	inbox := append(s.inboxes[rec.Recipient], rec)
	if over := len(inbox) - maxInbox; over > 0 {
		inbox = inbox[over:]
	}
	s.inboxes[rec.Recipient] = inbox
	return nil
}

func (s *memStore) ReadDirectMessages(
	_ context.Context, recipient string, since time.Time,
) ([]tpeer.DirectMessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []tpeer.DirectMessageRecord
	for _, m := range s.inboxes[recipient] {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}
