package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
)

const (
	sam int64 = 5
	nia int64 = 9
)

var (
	dm    = models.DirectChannel(sam, nia)
	group = models.GroupChannel(7)
)

// fakeBackend is an in-memory server for one viewer.
type fakeBackend struct {
	mu       sync.Mutex
	nextID   int64
	rooms    map[string][]models.Message
	markers  map[string]int64
	lists    int
	marks    int
	sendErr  error
	storeErr bool // store the message, then fail the call
	onSend   func()
	onList   func() // runs once, after a page was read and before it is returned
	denied   map[string]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rooms:   make(map[string][]models.Message),
		markers: make(map[string]int64),
		denied:  make(map[string]error),
	}
}

func (b *fakeBackend) deleteForAuthor(ch models.Channel, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.rooms[ch.RoomName()] {
		if m.ID == id {
			b.rooms[ch.RoomName()][i].Deleted = models.DeletedForAuthor
		}
	}
}

func (b *fakeBackend) add(ch models.Channel, author int64, body, ref string) models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := ch.RoomName()
	if ref != "" {
		for _, m := range b.rooms[room] {
			if m.AuthorID == author && m.ClientRef == ref {
				return m
			}
		}
	}
	b.nextID++
	m := models.Message{
		ID: b.nextID, Channel: ch, Room: room, AuthorID: author, Body: body,
		Kind: models.MessageText, CreatedAt: 1000 + b.nextID, Deleted: models.DeletedNone, ClientRef: ref,
	}
	b.rooms[room] = append(b.rooms[room], m)
	return m
}

func (b *fakeBackend) ListMessages(_ context.Context, ch models.Channel, cursor string, limit int) (models.Page, error) {
	b.mu.Lock()
	page, err := b.listLocked(ch, cursor, limit)
	onList := b.onList
	b.onList = nil
	b.mu.Unlock()

	if onList != nil {
		onList()
	}
	return page, err
}

func (b *fakeBackend) listLocked(ch models.Channel, cursor string, limit int) (models.Page, error) {
	b.lists++
	if err := b.denied[ch.RoomName()]; err != nil {
		return models.Page{}, err
	}
	after, _ := models.ParseCursor(cursor)
	var out []models.Message
	for _, m := range b.rooms[ch.RoomName()] {
		if after.After(m) && !m.HiddenFor(sam) {
			out = append(out, m)
		}
	}
	page := models.Page{Messages: out, NextCursor: cursor}
	if len(out) > limit {
		page.Messages = out[:limit]
		page.HasMore = true
	}
	if n := len(page.Messages); n > 0 {
		last := page.Messages[n-1]
		page.NextCursor = models.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.String()
	}
	return page, nil
}

func (b *fakeBackend) SendMessage(_ context.Context, ch models.Channel, draft models.Draft) (models.Message, error) {
	b.mu.Lock()
	sendErr, storeErr, onSend := b.sendErr, b.storeErr, b.onSend
	b.mu.Unlock()

	if sendErr != nil && !storeErr {
		return models.Message{}, sendErr
	}
	m := b.add(ch, sam, draft.Body, draft.ClientRef)
	if onSend != nil {
		onSend()
	}
	if sendErr != nil {
		return models.Message{}, sendErr
	}
	return m, nil
}

func (b *fakeBackend) MarkRead(_ context.Context, ch models.Channel) (models.ReadMarker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks++
	var max int64
	for _, m := range b.rooms[ch.RoomName()] {
		if m.ID > max {
			max = m.ID
		}
	}
	b.markers[ch.RoomName()] = max
	return models.ReadMarker{UserID: sam, ChannelKey: ch.Key(), LastReadID: max}, nil
}

func (b *fakeBackend) UnreadCounts(context.Context) ([]models.UnreadCount, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var counts []models.UnreadCount
	for room, msgs := range b.rooms {
		n := 0
		for _, m := range msgs {
			if m.ID > b.markers[room] && m.AuthorID != sam {
				n++
			}
		}
		counts = append(counts, models.UnreadCount{Room: room, Count: n})
	}
	return counts, nil
}

func (b *fakeBackend) stats() (lists, marks int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lists, b.marks
}

func (b *fakeBackend) stored(ch models.Channel) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[ch.RoomName()])
}

// fakeSubscriber hands out one signal channel per Subscribe call.
type fakeSubscriber struct {
	mu    sync.Mutex
	rooms []string
	feeds chan chan models.Signal
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{feeds: make(chan chan models.Signal, 8)}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, room string) (<-chan models.Signal, error) {
	f.mu.Lock()
	f.rooms = append(f.rooms, room)
	f.mu.Unlock()
	c := make(chan models.Signal, 4)
	f.feeds <- c
	return c, nil
}

func newSession(b *fakeBackend, sub Subscriber) *Session {
	s := NewSession(sam, b, sub, logger.NewNop())
	n := 0
	s.NewTempID = func() string {
		n++
		return fmt.Sprintf("tmp-%d", n)
	}
	return s
}

func bodies(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message.Body)
	}
	return out
}

func TestOpen_LoadsHistoryAndMarksRead(t *testing.T) {
	b := newFakeBackend()
	for i := 0; i < 250; i++ {
		b.add(group, nia, fmt.Sprintf("m%d", i), "")
	}
	b.add(dm, nia, "psst", "")
	s := newSession(b, nil)

	require.NoError(t, s.Open(context.Background(), group))

	entries := s.Messages()
	require.Len(t, entries, 250)
	assert.Equal(t, "m0", entries[0].Message.Body)
	assert.Equal(t, "m249", entries[249].Message.Body)
	assert.True(t, s.Opened("group-7"))
	assert.False(t, s.Opened("dm-5-9"))

	counts := s.Counts()
	assert.Zero(t, counts["group-7"])
	assert.Equal(t, 1, counts["dm-5-9"])

	_, marks := b.stats()
	assert.Equal(t, 1, marks)
}

func TestOpen_EmptyChannelMarkedOnce(t *testing.T) {
	b := newFakeBackend()
	s := newSession(b, nil)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx, group))
	require.NoError(t, s.Poll(ctx))
	require.NoError(t, s.Poll(ctx))

	_, marks := b.stats()
	assert.Equal(t, 1, marks)
	assert.Empty(t, s.Messages())
}

func TestSend_WithoutOpenChannel(t *testing.T) {
	s := newSession(newFakeBackend(), nil)
	_, err := s.Send(context.Background(), models.Draft{Body: "hi"})
	assert.True(t, errors.Is(err, chaterr.ErrValidation))
}

func TestSend_ProvisionalThenConfirmedOnce(t *testing.T) {
	b := newFakeBackend()
	s := newSession(b, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, dm))

	var during []Entry
	b.onSend = func() { during = s.Messages() }

	tempID, err := s.Send(ctx, models.Draft{Body: "on my way"})
	require.NoError(t, err)
	assert.Equal(t, "tmp-1", tempID)

	require.Len(t, during, 1)
	assert.True(t, during[0].Provisional())
	assert.Equal(t, "on my way", during[0].Message.Body)

	after := s.Messages()
	require.Len(t, after, 1)
	assert.False(t, after[0].Provisional())
	assert.Equal(t, "tmp-1", after[0].Message.ClientRef)
	assert.NotZero(t, after[0].Message.ID)
}

func TestSend_RefetchBeforeResponseDoesNotDuplicate(t *testing.T) {
	b := newFakeBackend()
	s := newSession(b, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, dm))

	var during []Entry
	b.onSend = func() {
		// a poll lands after the server stored the message but before the
		// send call returns
		require.NoError(t, s.Poll(ctx))
		during = s.Messages()
	}

	_, err := s.Send(ctx, models.Draft{Body: "racing"})
	require.NoError(t, err)

	require.Len(t, during, 1)
	assert.False(t, during[0].Provisional())
	assert.Equal(t, []string{"racing"}, bodies(s.Messages()))
}

func TestSend_FailureRestoresDraft(t *testing.T) {
	b := newFakeBackend()
	b.sendErr = chaterr.Transient(errors.New("connection reset"), "send failed")
	s := newSession(b, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, dm))

	tempID, err := s.Send(ctx, models.Draft{Body: "lost"})
	require.Error(t, err)

	assert.Empty(t, s.Messages())
	restored := s.RestoredDrafts()
	require.Len(t, restored, 1)
	assert.Equal(t, tempID, restored[0].TempID)
	assert.Equal(t, "lost", restored[0].Draft.Body)
	assert.Empty(t, restored[0].Draft.ClientRef)
	assert.Equal(t, dm, restored[0].Channel)
	assert.True(t, errors.Is(restored[0].Err, chaterr.ErrTransient))
}

func TestRetry_DoesNotDuplicateDeliveredSend(t *testing.T) {
	b := newFakeBackend()
	b.sendErr = chaterr.Transient(errors.New("timeout"), "send failed")
	b.storeErr = true
	s := newSession(b, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, dm))

	tempID, err := s.Send(ctx, models.Draft{Body: "maybe"})
	require.Error(t, err)
	require.Equal(t, 1, b.stored(dm))

	b.mu.Lock()
	b.sendErr = nil
	b.mu.Unlock()
	require.NoError(t, s.Retry(ctx, tempID))

	assert.Equal(t, 1, b.stored(dm))
	assert.Equal(t, []string{"maybe"}, bodies(s.Messages()))
	assert.Empty(t, s.RestoredDrafts())

	err = s.Retry(ctx, tempID)
	assert.True(t, errors.Is(err, chaterr.ErrNotFound))
}

func TestHandleSignal(t *testing.T) {
	tests := []struct {
		name      string
		room      string
		sig       models.Signal
		wantLists int
		wantBody  bool
	}{
		{"own activity is ignored", "dm-5-9", models.Signal{Type: models.SignalActivity, SenderID: sam}, 0, false},
		{"established is ignored", "dm-5-9", models.Signal{Type: models.SignalEstablished, SenderID: nia}, 0, false},
		{"unknown room is dropped", "lobby", models.Signal{Type: models.SignalActivity, SenderID: nia}, 0, false},
		{"other room refreshes counts only", "group-7", models.Signal{Type: models.SignalActivity, SenderID: nia}, 0, false},
		{"open room refetches", "dm-5-9", models.Signal{Type: models.SignalActivity, SenderID: nia}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			s := newSession(b, nil)
			ctx := context.Background()
			require.NoError(t, s.Open(ctx, dm))
			listsBefore, _ := b.stats()

			b.add(dm, nia, "new", "")
			b.add(group, nia, "elsewhere", "")
			require.NoError(t, s.HandleSignal(ctx, tt.room, tt.sig))

			lists, _ := b.stats()
			assert.Equal(t, tt.wantLists, lists-listsBefore)
			assert.Equal(t, tt.wantBody, len(s.Messages()) == 1)
		})
	}
}

func TestHandleSignal_UpdatesCountsOfClosedRooms(t *testing.T) {
	b := newFakeBackend()
	s := newSession(b, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, dm))

	b.add(group, nia, "one", "")
	b.add(group, nia, "two", "")
	require.NoError(t, s.HandleSignal(ctx, "group-7", models.Signal{Type: models.SignalActivity, SenderID: nia}))

	assert.Equal(t, 2, s.Counts()["group-7"])
	assert.False(t, s.Opened("group-7"))
}

func TestClose_StopsTimeline(t *testing.T) {
	b := newFakeBackend()
	b.add(dm, nia, "hi", "")
	s := newSession(b, nil)
	require.NoError(t, s.Open(context.Background(), dm))
	require.Len(t, s.Messages(), 1)

	s.Close()
	assert.Nil(t, s.Messages())
	_, ok := s.OpenChannel()
	assert.False(t, ok)
}

func TestRun_PollsWithoutSubscription(t *testing.T) {
	b := newFakeBackend()
	s := newSession(b, nil)
	s.PollInterval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Open(ctx, dm))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	b.add(dm, nia, "polled", "")
	assert.Eventually(t, func() bool {
		return len(s.Messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_FollowsOpenRoomAndSignals(t *testing.T) {
	b := newFakeBackend()
	sub := newFakeSubscriber()
	s := newSession(b, sub)
	s.PollInterval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Open(ctx, dm))

	go s.Run(ctx)

	feed := <-sub.feeds
	b.add(dm, nia, "pushed", "")
	feed <- models.Signal{Type: models.SignalActivity, SenderID: nia}
	assert.Eventually(t, func() bool {
		return len(s.Messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Open(ctx, group))
	<-sub.feeds

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, []string{"dm-5-9", "group-7"}, sub.rooms)
}

func TestPoll_DropsMessagesDeletedForAuthor(t *testing.T) {
	b := newFakeBackend()
	s := newSession(b, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, dm))

	_, err := s.Send(ctx, models.Draft{Body: "one"})
	require.NoError(t, err)
	_, err = s.Send(ctx, models.Draft{Body: "two"})
	require.NoError(t, err)
	entries := s.Messages()
	require.Len(t, entries, 2)

	// the newest message is gone from this viewer's listing
	b.deleteForAuthor(dm, entries[1].Message.ID)
	require.NoError(t, s.Poll(ctx))
	assert.Equal(t, []string{"one"}, bodies(s.Messages()))

	// so is the only one left, leaving an empty snapshot
	b.deleteForAuthor(dm, entries[0].Message.ID)
	require.NoError(t, s.Poll(ctx))
	assert.Empty(t, s.Messages())
}

func TestPoll_KeepsSendConfirmedDuringFetch(t *testing.T) {
	b := newFakeBackend()
	b.add(dm, nia, "hello", "")
	s := newSession(b, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, dm))

	// the send completes after the poll read its snapshot
	b.onList = func() {
		_, err := s.Send(ctx, models.Draft{Body: "reply"})
		require.NoError(t, err)
	}
	require.NoError(t, s.Poll(ctx))
	assert.Equal(t, []string{"hello", "reply"}, bodies(s.Messages()))

	require.NoError(t, s.Poll(ctx))
	assert.Equal(t, []string{"hello", "reply"}, bodies(s.Messages()))
}

func TestPoll_ForgetsRestoredDraftThatWasStored(t *testing.T) {
	b := newFakeBackend()
	b.sendErr = chaterr.Transient(errors.New("timeout"), "send failed")
	b.storeErr = true
	s := newSession(b, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, dm))

	tempID, err := s.Send(ctx, models.Draft{Body: "maybe"})
	require.Error(t, err)
	require.Len(t, s.RestoredDrafts(), 1)

	require.NoError(t, s.Poll(ctx))
	assert.Empty(t, s.RestoredDrafts())
	assert.Equal(t, []string{"maybe"}, bodies(s.Messages()))

	err = s.Retry(ctx, tempID)
	assert.True(t, errors.Is(err, chaterr.ErrNotFound))
	assert.Equal(t, 1, b.stored(dm))
}

func TestOpen_FailureKeepsPreviousChannel(t *testing.T) {
	pe := models.ProjectChannel(12, models.SubChannelProfessionalEngineer)
	b := newFakeBackend()
	b.denied[pe.RoomName()] = chaterr.Authorization("chat not available")
	b.add(dm, nia, "hi", "")
	s := newSession(b, nil)
	ctx := context.Background()

	err := s.Open(ctx, pe)
	assert.True(t, errors.Is(err, chaterr.ErrAuthorization))
	_, ok := s.OpenChannel()
	assert.False(t, ok)
	assert.False(t, s.Opened(pe.RoomName()))

	require.NoError(t, s.Open(ctx, dm))
	err = s.Open(ctx, pe)
	assert.True(t, errors.Is(err, chaterr.ErrAuthorization))

	open, ok := s.OpenChannel()
	require.True(t, ok)
	assert.Equal(t, dm, open)
	assert.False(t, s.Opened(pe.RoomName()))
	assert.Equal(t, []string{"hi"}, bodies(s.Messages()))

	// polling keeps following the channel that is still open
	listsBefore, _ := b.stats()
	require.NoError(t, s.Poll(ctx))
	lists, _ := b.stats()
	assert.Equal(t, 1, lists-listsBefore)
}
