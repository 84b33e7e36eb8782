package unreadService

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
	"github.com/nikhil/eavenchat/internal/repository"
	channelService "github.com/nikhil/eavenchat/internal/service/channels"
	messageService "github.com/nikhil/eavenchat/internal/service/messages"
	"github.com/nikhil/eavenchat/internal/testutil"
)

type fixture struct {
	unread   *UnreadService
	messages *messageService.MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()
	dir := testutil.NewDirectory()
	store := repository.NewMemoryStore()
	resolver := channelService.NewResolver(dir, log)
	clock := testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	messages := messageService.NewMessageService(store, resolver, dir, nil, log)
	messages.Now = clock.Now
	unread := NewUnreadService(store, resolver, dir, log)
	unread.Now = clock.Now
	return &fixture{unread: unread, messages: messages}
}

func (f *fixture) send(t *testing.T, user int64, ch models.Channel, body string) models.Message {
	t.Helper()
	m, err := f.messages.Append(context.Background(), user, ch, models.Draft{Body: body})
	require.NoError(t, err)
	return m
}

func (f *fixture) count(t *testing.T, user int64, ch models.Channel) int {
	t.Helper()
	n, err := f.unread.UnreadCount(context.Background(), user, ch)
	require.NoError(t, err)
	return n
}

var group = models.GroupChannel(testutil.Group)

func TestUnreadCount_OthersMessagesOnly(t *testing.T) {
	f := newFixture(t)

	f.send(t, testutil.Sam, group, "mine")
	assert.Zero(t, f.count(t, testutil.Sam, group))
	assert.Equal(t, 1, f.count(t, testutil.Nia, group))

	f.send(t, testutil.Nia, group, "reply")
	f.send(t, testutil.Admin, group, "noted")
	assert.Equal(t, 2, f.count(t, testutil.Sam, group))
	assert.Equal(t, 2, f.count(t, testutil.Nia, group))
}

func TestMarkRead_ResetsAndCountsAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, testutil.Nia, group, "one")
	f.send(t, testutil.Nia, group, "two")

	marker, err := f.unread.MarkRead(ctx, testutil.Sam, group)
	require.NoError(t, err)
	assert.Equal(t, group.Key(), marker.ChannelKey)
	assert.Zero(t, f.count(t, testutil.Sam, group))

	// marking twice is a no-op
	again, err := f.unread.MarkRead(ctx, testutil.Sam, group)
	require.NoError(t, err)
	assert.Equal(t, marker.LastReadID, again.LastReadID)

	f.send(t, testutil.Admin, group, "three")
	assert.Equal(t, 1, f.count(t, testutil.Sam, group))
}

func TestMarkRead_EmptyChannel(t *testing.T) {
	f := newFixture(t)
	marker, err := f.unread.MarkRead(context.Background(), testutil.Sam, group)
	require.NoError(t, err)
	assert.Zero(t, marker.LastReadID)
	assert.Zero(t, f.count(t, testutil.Sam, group))
}

func TestUnread_DeletedForEveryoneDoesNotCount(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, testutil.Nia, group, "oops")
	assert.Equal(t, 1, f.count(t, testutil.Sam, group))

	_, err := f.messages.Delete(context.Background(), testutil.Nia, m.ID, models.DeletedForEveryone)
	require.NoError(t, err)
	assert.Zero(t, f.count(t, testutil.Sam, group))
}

func TestUnread_NonMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.unread.UnreadCount(ctx, testutil.Outsider, group)
	assert.True(t, errors.Is(err, chaterr.ErrAuthorization))
	_, err = f.unread.MarkRead(ctx, testutil.Outsider, group)
	assert.True(t, errors.Is(err, chaterr.ErrAuthorization))
}

func TestCounts_EveryVisibleChannel(t *testing.T) {
	f := newFixture(t)
	dm := models.DirectChannel(testutil.Sam, testutil.Nia)
	team := models.ProjectChannel(testutil.Project, models.SubChannelTeam)

	f.send(t, testutil.Nia, dm, "psst")
	f.send(t, testutil.TeamLead, team, "standup")
	f.send(t, testutil.TeamLead, team, "notes")
	f.send(t, testutil.Client, models.ProjectChannel(testutil.Project, models.SubChannelClient), "hello")

	counts, err := f.unread.Counts(context.Background(), testutil.Sam)
	require.NoError(t, err)

	byRoom := make(map[string]int)
	for _, c := range counts {
		byRoom[c.Room] = c.Count
	}
	assert.Equal(t, map[string]int{
		"group-7":         0,
		"project-12-team": 2,
		"project-13-team": 0,
		"dm-5-9":          1,
	}, byRoom)
}

func TestScopeCounts_Project(t *testing.T) {
	f := newFixture(t)
	f.send(t, testutil.Client, models.ProjectChannel(testutil.Project, models.SubChannelClient), "question")
	f.send(t, testutil.Engineer, models.ProjectChannel(testutil.Project, models.SubChannelProfessionalEngineer), "stamped")

	counts, err := f.unread.ScopeCounts(context.Background(), testutil.Manager, models.KindProject, testutil.Project)
	require.NoError(t, err)
	require.Len(t, counts, 3)
	assert.Equal(t, "project-12-client", counts[0].Room)
	assert.Equal(t, 1, counts[0].Count)
	assert.Equal(t, "project-12-team", counts[1].Room)
	assert.Zero(t, counts[1].Count)
	assert.Equal(t, "project-12-professional_engineer", counts[2].Room)
	assert.Equal(t, 1, counts[2].Count)

	engineer, err := f.unread.ScopeCounts(context.Background(), testutil.Engineer, models.KindProject, testutil.Project)
	require.NoError(t, err)
	require.Len(t, engineer, 1)
	assert.Equal(t, models.SubChannelProfessionalEngineer, engineer[0].Channel.SubChannel)
	assert.Zero(t, engineer[0].Count)

	_, err = f.unread.ScopeCounts(context.Background(), testutil.Outsider, models.KindProject, testutil.Project)
	assert.True(t, errors.Is(err, chaterr.ErrAuthorization))
}

func TestScopeCounts_Direct(t *testing.T) {
	f := newFixture(t)
	f.send(t, testutil.Sam, models.DirectChannel(testutil.Sam, testutil.Nia), "hi")

	counts, err := f.unread.ScopeCounts(context.Background(), testutil.Nia, models.KindDirect, testutil.Sam)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, "dm-5-9", counts[0].Room)
	assert.Equal(t, 1, counts[0].Count)
}
