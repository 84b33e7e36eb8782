package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/models"
)

type markerKey struct {
	userID     int64
	channelKey string
}

// MemoryStore is an in-process Store. Rows are stored by value and copied on
// the way in and out, so readers never see a half-applied update.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	messages map[int64]models.Message
	byKey    map[string][]int64
	markers  map[markerKey]models.ReadMarker

	// FailInsert, when set, is consulted before every insert. Tests use it to
	// inject storage failures for a single channel.
	FailInsert func(m models.Message) error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[int64]models.Message),
		byKey:    make(map[string][]int64),
		markers:  make(map[markerKey]models.ReadMarker),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(_ context.Context, m models.Message) (models.Message, error) {
	if s.FailInsert != nil {
		if err := s.FailInsert(m); err != nil {
			return models.Message{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := m.Channel.Key()
	if m.ClientRef != "" {
		for _, id := range s.byKey[key] {
			existing := s.messages[id]
			if existing.AuthorID == m.AuthorID && existing.ClientRef == m.ClientRef {
				return models.Message{}, chaterr.Validation("duplicate client reference")
			}
		}
	}
	s.nextID++
	m.ID = s.nextID
	m.Room = m.Channel.RoomName()
	m = m.Clone()
	s.messages[m.ID] = m
	s.byKey[key] = append(s.byKey[key], m.ID)
	return m.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return models.Message{}, chaterr.NotFound("message %d not found", id)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) FindByClientRef(_ context.Context, channelKey string, authorID int64, ref string) (models.Message, bool, error) {
	if ref == "" {
		return models.Message{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byKey[channelKey] {
		m := s.messages[id]
		if m.AuthorID == authorID && m.ClientRef == ref {
			return m.Clone(), true, nil
		}
	}
	return models.Message{}, false, nil
}

func (s *MemoryStore) List(_ context.Context, q ListQuery) ([]models.Message, error) {
	s.mu.RLock()
	var out []models.Message
	for _, id := range s.byKey[q.ChannelKey] {
		m := s.messages[id]
		if m.HiddenFor(q.ViewerID) || !q.After.After(m) {
			continue
		}
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.messages[m.ID]
	if !ok {
		return chaterr.NotFound("message %d not found", m.ID)
	}
	existing.Body = m.Body
	existing.Kind = m.Kind
	existing.Attachment = m.Attachment
	existing.Edited = m.Edited
	existing.EditedAt = m.EditedAt
	existing.Deleted = m.Deleted
	s.messages[m.ID] = existing.Clone()
	return nil
}

func (s *MemoryStore) MaxID(_ context.Context, channelKey string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for _, id := range s.byKey[channelKey] {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, channelKey string, afterID, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range s.byKey[channelKey] {
		m := s.messages[id]
		if id > afterID && m.AuthorID != userID && m.Deleted != models.DeletedForEveryone {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DirectChannels(_ context.Context, userID int64) ([]models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var channels []models.Channel
	for key, ids := range s.byKey {
		if len(ids) == 0 {
			continue
		}
		ch := s.messages[ids[0]].Channel
		if ch.Kind == models.KindDirect && ch.Includes(userID) && key == ch.Key() {
			channels = append(channels, ch)
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].ScopeID != channels[j].ScopeID {
			return channels[i].ScopeID < channels[j].ScopeID
		}
		return channels[i].PeerID < channels[j].PeerID
	})
	return channels, nil
}

func (s *MemoryStore) GetMarker(_ context.Context, userID int64, channelKey string) (models.ReadMarker, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	marker, ok := s.markers[markerKey{userID, channelKey}]
	if !ok {
		return models.ReadMarker{UserID: userID, ChannelKey: channelKey}, false, nil
	}
	return marker, true, nil
}

func (s *MemoryStore) AdvanceMarker(_ context.Context, marker models.ReadMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := markerKey{marker.UserID, marker.ChannelKey}
	if existing, ok := s.markers[k]; ok && existing.LastReadID > marker.LastReadID {
		marker.LastReadID = existing.LastReadID
	}
	s.markers[k] = marker
	return nil
}
