// Package reconciler keeps one viewer's local copy of the chat in step with
// the server. Local sends are shown at once and later swapped for the stored
// message; realtime signals and a periodic poll both trigger refetches, and
// both are idempotent so neither needs to suppress the other.
package reconciler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
)

const (
	DefaultPollInterval = 3 * time.Second

	fetchPageSize = 200
)

// ErrNoChannel is returned by Send when no channel has been opened.
var ErrNoChannel = chaterr.Validation("no channel is open")

// Backend is the server API the session talks to.
type Backend interface {
	ListMessages(ctx context.Context, ch models.Channel, cursor string, limit int) (models.Page, error)
	SendMessage(ctx context.Context, ch models.Channel, draft models.Draft) (models.Message, error)
	MarkRead(ctx context.Context, ch models.Channel) (models.ReadMarker, error)
	UnreadCounts(ctx context.Context) ([]models.UnreadCount, error)
}

// Subscriber opens a signal stream for one room. The channel is closed when
// the stream drops or ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, room string) (<-chan models.Signal, error)
}

// Entry is one row of the local timeline. TempID is set while the row is a
// provisional local send.
type Entry struct {
	Message models.Message
	TempID  string
}

// Provisional reports whether the server has not confirmed this entry yet.
func (e Entry) Provisional() bool { return e.TempID != "" }

// RestoredDraft is a send that failed and went back to the composer.
type RestoredDraft struct {
	TempID  string
	Channel models.Channel
	Draft   models.Draft
	Err     error
}

type pendingSend struct {
	tempID  string
	channel models.Channel
	draft   models.Draft
	sentAt  int64
}

// Session is the reconciler of one viewer.
type Session struct {
	UserID       int64
	Backend      Backend
	Subscriber   Subscriber
	PollInterval time.Duration
	Log          *logger.Logger
	// NewTempID generates provisional ids, which double as client references.
	NewTempID func() string

	mu        sync.Mutex
	open      *models.Channel
	confirmed []models.Message
	pending   []pendingSend
	restored  []RestoredDraft
	counts    map[string]int
	opened    map[string]bool
	lastRead  int64

	// sendGen counts messages confirmed by Send; late records the generation
	// at which each was confirmed so a snapshot fetched earlier keeps it.
	sendGen uint64
	late    map[int64]uint64

	fetchMu sync.Mutex
	changed chan struct{}
}

// NewSession creates a session for userID.
func NewSession(userID int64, backend Backend, subscriber Subscriber, log *logger.Logger) *Session {
	return &Session{
		UserID:       userID,
		Backend:      backend,
		Subscriber:   subscriber,
		PollInterval: DefaultPollInterval,
		Log:          log,
		NewTempID:    uuid.NewString,
		counts:       make(map[string]int),
		opened:       make(map[string]bool),
		late:         make(map[int64]uint64),
		changed:      make(chan struct{}, 1),
	}
}

// Open is the explicit user action of entering a channel: it loads the whole
// history, marks the channel read and moves the live subscription to it.
// When the first load fails the previously open channel stays open.
func (s *Session) Open(ctx context.Context, ch models.Channel) error {
	if err := ch.Validate(); err != nil {
		return chaterr.Validation("%v", err)
	}

	s.mu.Lock()
	prev := viewState{open: s.open, confirmed: s.confirmed, lastRead: s.lastRead, late: s.late}
	same := s.open != nil && *s.open == ch
	if !same {
		open := ch
		s.open = &open
		s.confirmed = nil
		s.lastRead = 0
		s.late = make(map[int64]uint64)
	}
	s.mu.Unlock()

	if err := s.refreshOpen(ctx); err != nil {
		if !same {
			s.mu.Lock()
			if s.open != nil && *s.open == ch {
				s.open, s.confirmed, s.lastRead, s.late = prev.open, prev.confirmed, prev.lastRead, prev.late
			}
			s.mu.Unlock()
		}
		return err
	}

	s.mu.Lock()
	s.opened[ch.RoomName()] = true
	s.mu.Unlock()
	if !same {
		s.notifyChanged()
	}
	return s.RefreshCounts(ctx)
}

// viewState is the per-channel part of a session, kept to undo a failed Open.
type viewState struct {
	open      *models.Channel
	confirmed []models.Message
	lastRead  int64
	late      map[int64]uint64
}

// Close leaves the open channel. Its subscription is dropped; counts keep
// being polled.
func (s *Session) Close() {
	s.mu.Lock()
	s.open = nil
	s.confirmed = nil
	s.lastRead = 0
	s.late = make(map[int64]uint64)
	s.mu.Unlock()
	s.notifyChanged()
}

// OpenChannel returns the channel being viewed.
func (s *Session) OpenChannel() (models.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return models.Channel{}, false
	}
	return *s.open, true
}

// Opened reports whether the user explicitly opened room during this session.
func (s *Session) Opened(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened[room]
}

// Send shows draft at once as a provisional entry and submits it. On success
// the provisional entry is replaced by the stored message exactly once; on
// failure it is removed and the draft is restored.
func (s *Session) Send(ctx context.Context, draft models.Draft) (string, error) {
	s.mu.Lock()
	if s.open == nil {
		s.mu.Unlock()
		return "", ErrNoChannel
	}
	ch := *s.open
	s.mu.Unlock()

	tempID := s.NewTempID()
	return tempID, s.submit(ctx, pendingSend{tempID: tempID, channel: ch, draft: draft})
}

// Retry resubmits a restored draft under its original temporary id, so a
// send that reached the server before failing is not stored twice.
func (s *Session) Retry(ctx context.Context, tempID string) error {
	s.mu.Lock()
	idx := -1
	for i, r := range s.restored {
		if r.TempID == tempID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return chaterr.NotFound("no restored draft %s", tempID)
	}
	r := s.restored[idx]
	s.restored = append(s.restored[:idx], s.restored[idx+1:]...)
	s.mu.Unlock()

	return s.submit(ctx, pendingSend{tempID: tempID, channel: r.Channel, draft: r.Draft})
}

func (s *Session) submit(ctx context.Context, p pendingSend) error {
	p.draft.ClientRef = p.tempID
	p.sentAt = time.Now().UnixMilli()

	s.mu.Lock()
	s.pending = append(s.pending, p)
	s.mu.Unlock()

	msg, err := s.Backend.SendMessage(ctx, p.channel, p.draft)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPending(p.tempID)
	if err != nil {
		draft := p.draft
		draft.ClientRef = ""
		s.restored = append(s.restored, RestoredDraft{TempID: p.tempID, Channel: p.channel, Draft: draft, Err: err})
		s.Log.Warn("Send failed, draft restored", "room", p.channel.RoomName(), "temp_id", p.tempID, "error", err)
		return err
	}
	if s.open != nil && *s.open == p.channel {
		s.sendGen++
		s.late[msg.ID] = s.sendGen
		s.merge([]models.Message{msg}, false, 0)
	}
	return nil
}

func (s *Session) dropPending(tempID string) {
	for i, p := range s.pending {
		if p.tempID == tempID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// RestoredDrafts returns failed sends waiting for the user, oldest first.
func (s *Session) RestoredDrafts() []RestoredDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RestoredDraft, len(s.restored))
	copy(out, s.restored)
	return out
}

// Messages returns the open channel's timeline: stored messages in order,
// then provisional sends in the order they were made.
func (s *Session) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return nil
	}

	refs := make(map[string]bool)
	entries := make([]Entry, 0, len(s.confirmed)+len(s.pending))
	for _, m := range s.confirmed {
		if m.ClientRef != "" {
			refs[m.ClientRef] = true
		}
		entries = append(entries, Entry{Message: m})
	}
	for _, p := range s.pending {
		// a refetch may have delivered the stored copy first
		if p.channel != *s.open || refs[p.tempID] {
			continue
		}
		entries = append(entries, Entry{
			TempID: p.tempID,
			Message: models.Message{
				Channel:    p.channel,
				Room:       p.channel.RoomName(),
				AuthorID:   s.UserID,
				Body:       p.draft.Body,
				Attachment: p.draft.Attachment,
				CreatedAt:  p.sentAt,
				Deleted:    models.DeletedNone,
				ClientRef:  p.tempID,
			},
		})
	}
	return entries
}

// Counts returns the latest unread count per room.
func (s *Session) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// HandleSignal reacts to a realtime signal received on room. Signals are
// hints: the session always refetches instead of trusting them.
func (s *Session) HandleSignal(ctx context.Context, room string, sig models.Signal) error {
	if _, ok := models.ParseRoom(room); !ok {
		s.Log.Debug("Dropping signal for unknown room", "room", room)
		return nil
	}
	if sig.Type != models.SignalActivity || sig.SenderID == s.UserID {
		return nil
	}

	s.mu.Lock()
	isOpen := s.open != nil && s.open.RoomName() == room
	s.mu.Unlock()

	if isOpen {
		if err := s.refreshOpen(ctx); err != nil {
			return err
		}
	}
	return s.RefreshCounts(ctx)
}

// Poll refreshes the open channel and every count. It is the fallback for
// lost signals and runs alongside the subscription.
func (s *Session) Poll(ctx context.Context) error {
	var errs []error
	if _, ok := s.OpenChannel(); ok {
		errs = append(errs, s.refreshOpen(ctx))
	}
	errs = append(errs, s.RefreshCounts(ctx))
	return errors.Join(errs...)
}

// RefreshCounts recomputes every unread count from the server.
func (s *Session) RefreshCounts(ctx context.Context) error {
	counts, err := s.Backend.UnreadCounts(ctx)
	if err != nil {
		return err
	}
	fresh := make(map[string]int, len(counts))
	for _, c := range counts {
		fresh[c.Room] = c.Count
	}
	s.mu.Lock()
	s.counts = fresh
	s.mu.Unlock()
	return nil
}

// refreshOpen refetches the whole open channel and marks it read when
// something new from others arrived.
func (s *Session) refreshOpen(ctx context.Context) error {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.mu.Lock()
	if s.open == nil {
		s.mu.Unlock()
		return nil
	}
	ch, since := *s.open, s.sendGen
	s.mu.Unlock()

	msgs, err := s.fetchAll(ctx, ch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.open == nil || *s.open != ch {
		s.mu.Unlock()
		return nil
	}
	s.merge(msgs, true, since)
	var newest int64
	for _, m := range s.confirmed {
		if m.ID > newest {
			newest = m.ID
		}
	}
	needsMark := s.lastRead == 0 || (newest > 0 && newest > s.lastRead)
	s.mu.Unlock()

	if !needsMark {
		return nil
	}
	marker, err := s.Backend.MarkRead(ctx, ch)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if marker.LastReadID > s.lastRead {
		s.lastRead = marker.LastReadID
	}
	if s.lastRead == 0 {
		// empty channel; remember that it was marked
		s.lastRead = -1
	}
	s.counts[ch.RoomName()] = 0
	s.mu.Unlock()
	return nil
}

func (s *Session) fetchAll(ctx context.Context, ch models.Channel) ([]models.Message, error) {
	var (
		all    []models.Message
		cursor string
	)
	for {
		page, err := s.Backend.ListMessages(ctx, ch, cursor, fetchPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Messages...)
		if !page.HasMore || page.NextCursor == cursor {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// merge folds msgs into the confirmed timeline. A full snapshot replaces it:
// the only rows kept beyond the snapshot are sends confirmed after generation
// since, which the snapshot may predate.
func (s *Session) merge(msgs []models.Message, snapshot bool, since uint64) {
	byID := make(map[int64]models.Message, len(s.confirmed)+len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	for _, m := range s.confirmed {
		if _, ok := byID[m.ID]; ok {
			continue
		}
		if snapshot && s.late[m.ID] <= since {
			continue
		}
		byID[m.ID] = m
	}
	if snapshot {
		for id, gen := range s.late {
			if gen <= since {
				delete(s.late, id)
			}
		}
	}

	merged := make([]models.Message, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt < merged[j].CreatedAt
		}
		return merged[i].ID < merged[j].ID
	})
	s.confirmed = merged
	s.dropDelivered()
}

// dropDelivered forgets restored drafts of the open channel that the server
// stored after all, e.g. when the send response was lost.
func (s *Session) dropDelivered() {
	if s.open == nil || len(s.restored) == 0 {
		return
	}
	refs := make(map[string]bool)
	for _, m := range s.confirmed {
		if m.ClientRef != "" {
			refs[m.ClientRef] = true
		}
	}
	kept := s.restored[:0]
	for _, r := range s.restored {
		if r.Channel == *s.open && refs[r.TempID] {
			s.Log.Debug("Restored draft was delivered", "room", r.Channel.RoomName(), "temp_id", r.TempID)
			continue
		}
		kept = append(kept, r)
	}
	s.restored = kept
}

func (s *Session) notifyChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Run keeps the session live until ctx ends: it holds a subscription to the
// open room, resubscribing after drops, and polls every PollInterval.
func (s *Session) Run(ctx context.Context) error {
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// the subscription below already follows the current room
		select {
		case <-s.changed:
		default:
		}
		room := ""
		if ch, ok := s.OpenChannel(); ok {
			room = ch.RoomName()
		}

		subCtx, cancel := context.WithCancel(ctx)
		var signals <-chan models.Signal
		if room != "" && s.Subscriber != nil {
			var err error
			signals, err = s.Subscriber.Subscribe(subCtx, room)
			if err != nil {
				s.Log.Warn("Subscription failed, polling", "room", room, "error", err)
				signals = nil
			}
		}

		resubscribe := s.listen(ctx, room, signals, ticker.C)
		cancel()
		if !resubscribe {
			return ctx.Err()
		}
	}
}

// listen serves one subscription. It returns false when ctx ends and true
// when the subscription must be rebuilt.
func (s *Session) listen(ctx context.Context, room string, signals <-chan models.Signal, tick <-chan time.Time) bool {
	wantSub := room != "" && s.Subscriber != nil
	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.changed:
			return true
		case sig, ok := <-signals:
			if !ok {
				s.Log.Warn("Subscription dropped, polling", "room", room)
				signals = nil
				continue
			}
			if err := s.HandleSignal(ctx, room, sig); err != nil {
				s.Log.Warn("Failed to apply signal", "room", room, "error", err)
			}
		case <-tick:
			if err := s.Poll(ctx); err != nil {
				s.Log.Warn("Poll failed", "error", err)
			}
			if wantSub && signals == nil {
				return true
			}
		}
	}
}
