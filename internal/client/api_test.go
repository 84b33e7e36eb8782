package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/eavenchat/internal/app"
	"github.com/nikhil/eavenchat/internal/blob"
	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/config"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
	"github.com/nikhil/eavenchat/internal/reconciler"
	"github.com/nikhil/eavenchat/internal/repository"
	"github.com/nikhil/eavenchat/internal/testutil"
)

func newServer(t *testing.T) (*httptest.Server, *app.App, func(userID int64) *API) {
	t.Helper()
	cfg := &config.Config{JWTSecret: "test-secret", EditWindow: 24 * time.Hour, DeleteWindow: time.Hour, MaxAttachmentBytes: 1 << 20}
	a := app.Assemble(cfg, logger.NewNop(), app.Components{
		Store:     repository.NewMemoryStore(),
		Directory: testutil.NewDirectory(),
		Blobs:     blob.NewRouter(blob.NewMemoryStore(blob.DomainChat), blob.NewMemoryStore(blob.DomainProjects)),
	})
	srv := httptest.NewServer(a.Handler)
	t.Cleanup(func() {
		a.Hub.Close()
		srv.Close()
	})

	clientFor := func(userID int64) *API {
		tok, err := a.Services.Auth.Issue(userID, time.Hour)
		require.NoError(t, err)
		return New(srv.URL, tok, userID, logger.NewNop())
	}
	return srv, a, clientFor
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   chaterr.Kind
		msg    string
	}{
		{"kind from body", 400, `{"error":"message cannot be empty","kind":"validation"}`, chaterr.KindValidation, "message cannot be empty"},
		{"permission", 403, `{"error":"too late","kind":"permission"}`, chaterr.KindPermission, "too late"},
		{"status fallback", 404, `not json`, chaterr.KindNotFound, "Not Found"},
		{"unauthorized", 401, `{"error":"Invalid token"}`, chaterr.KindAuthorization, "Invalid token"},
		{"bad gateway", 502, ``, chaterr.KindTransient, ""},
		{"server error", 500, `{"error":"internal error","kind":"internal"}`, chaterr.KindInternal, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Body: io.NopCloser(strings.NewReader(tt.body))}
			err := decodeError(resp)
			assert.Equal(t, tt.kind, chaterr.KindOf(err))
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestChannelPath(t *testing.T) {
	api := New("http://chat.local/", "tok", 9, logger.NewNop())
	assert.Equal(t, "http://chat.local", api.BaseURL)
	assert.Equal(t, "/channels/direct/5", api.channelPath(models.DirectChannel(5, 9)))
	assert.Equal(t, "/channels/group/7", api.channelPath(models.GroupChannel(7)))
	assert.Equal(t, "/channels/project/12/team", api.channelPath(models.ProjectChannel(12, models.SubChannelTeam)))
}

func TestWebsocketURL(t *testing.T) {
	api := New("https://chat.example/api", "tok", 5, logger.NewNop())
	u, err := api.websocketURL("group-7")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example/api/ws/group-7", u)

	api = New("http://localhost:8080", "tok", 5, logger.NewNop())
	u, err = api.websocketURL("dm-5-9")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws/dm-5-9", u)
}

func TestAPI_RoundTrip(t *testing.T) {
	_, _, clientFor := newServer(t)
	sam, nia := clientFor(testutil.Sam), clientFor(testutil.Nia)
	ctx := context.Background()
	dm := models.DirectChannel(testutil.Sam, testutil.Nia)

	sent, err := sam.SendMessage(ctx, dm, models.Draft{Body: "hi", ClientRef: "ref-1"})
	require.NoError(t, err)
	again, err := sam.SendMessage(ctx, dm, models.Draft{Body: "hi", ClientRef: "ref-1"})
	require.NoError(t, err)
	assert.Equal(t, sent.ID, again.ID)

	page, err := nia.ListMessages(ctx, dm, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)

	counts, err := nia.UnreadCounts(ctx)
	require.NoError(t, err)
	assert.Contains(t, counts, models.UnreadCount{Channel: dm, Room: "dm-5-9", Count: 1})

	marker, err := nia.MarkRead(ctx, dm)
	require.NoError(t, err)
	assert.Equal(t, sent.ID, marker.LastReadID)

	text := "hi there"
	edited, err := sam.EditMessage(ctx, sent.ID, models.EditRequest{Body: &text})
	require.NoError(t, err)
	assert.Equal(t, text, edited.Body)

	_, err = nia.DeleteMessage(ctx, sent.ID, models.DeletedForEveryone)
	assert.True(t, errors.Is(err, chaterr.ErrPermission))

	_, err = clientFor(testutil.Outsider).ListMessages(ctx, models.GroupChannel(testutil.Group), "", 10)
	assert.True(t, errors.Is(err, chaterr.ErrAuthorization))
}

func TestAPI_SubscribeRejected(t *testing.T) {
	_, _, clientFor := newServer(t)
	_, err := clientFor(testutil.Outsider).Subscribe(context.Background(), "group-7")
	assert.True(t, errors.Is(err, chaterr.ErrAuthorization))
}

func TestAPI_ServerDown(t *testing.T) {
	srv, _, clientFor := newServer(t)
	api := clientFor(testutil.Sam)
	srv.Close()

	_, err := api.ListMessages(context.Background(), models.GroupChannel(testutil.Group), "", 10)
	assert.True(t, errors.Is(err, chaterr.ErrTransient))
}

func TestSession_LiveAgainstServer(t *testing.T) {
	_, a, clientFor := newServer(t)
	samAPI, niaAPI := clientFor(testutil.Sam), clientFor(testutil.Nia)
	group := models.GroupChannel(testutil.Group)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := reconciler.NewSession(testutil.Sam, samAPI, samAPI, logger.NewNop())
	session.PollInterval = time.Hour
	require.NoError(t, session.Open(ctx, group))
	go session.Run(ctx)

	_, err := session.Send(ctx, models.Draft{Body: "morning"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.Hub.Subscribers("group-7") == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err = niaAPI.SendMessage(ctx, group, models.Draft{Body: "reply"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(session.Messages()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	entries := session.Messages()
	assert.Equal(t, "morning", entries[0].Message.Body)
	assert.False(t, entries[0].Provisional())
	assert.Equal(t, "reply", entries[1].Message.Body)
	assert.Eventually(t, func() bool {
		return session.Counts()["group-7"] == 0
	}, 5*time.Second, 10*time.Millisecond)
}
