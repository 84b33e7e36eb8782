package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/eavenchat/internal/blob"
	"github.com/nikhil/eavenchat/internal/config"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
	"github.com/nikhil/eavenchat/internal/repository"
	"github.com/nikhil/eavenchat/internal/response"
	shareService "github.com/nikhil/eavenchat/internal/service/share"
	"github.com/nikhil/eavenchat/internal/testutil"
)

type testServer struct {
	*httptest.Server
	app *App
	t   *testing.T
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:          "test-secret",
		EditWindow:         24 * time.Hour,
		DeleteWindow:       time.Hour,
		MaxAttachmentBytes: 1 << 10,
	}
	a := Assemble(cfg, logger.NewNop(), Components{
		Store:     repository.NewMemoryStore(),
		Directory: testutil.NewDirectory(),
		Blobs:     blob.NewRouter(blob.NewMemoryStore(blob.DomainChat), blob.NewMemoryStore(blob.DomainProjects)),
	})
	srv := httptest.NewServer(a.Handler)
	t.Cleanup(func() {
		a.Hub.Close()
		srv.Close()
	})
	return &testServer{Server: srv, app: a, t: t}
}

func (s *testServer) token(userID int64) string {
	tok, err := s.app.Services.Auth.Issue(userID, time.Hour)
	require.NoError(s.t, err)
	return tok
}

// call sends a JSON request as userID and decodes the response into out.
func (s *testServer) call(userID int64, method, path string, in, out interface{}) int {
	s.t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		require.NoError(s.t, err)
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(s.t, err)
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+s.token(userID))
	}
	resp, err := s.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRoutes_Healthz(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.call(0, http.MethodGet, "/healthz", nil, nil))
}

func TestRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t)
	var body response.ErrorBody
	code := s.call(0, http.MethodGet, "/channels/group/7/messages", nil, &body)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Missing auth token", body.Error)

	req, err := http.NewRequest(http.MethodGet, s.URL+"/unread", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoutes_SendAndList(t *testing.T) {
	s := newTestServer(t)

	var sent models.Message
	code := s.call(testutil.Sam, http.MethodPost, "/channels/direct/9/messages", models.Draft{Body: "hello nia"}, &sent)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "dm-5-9", sent.Room)

	// the other participant names the same channel from their side
	var page models.Page
	code = s.call(testutil.Nia, http.MethodGet, "/channels/direct/5/messages?limit=10", nil, &page)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, sent.ID, page.Messages[0].ID)

	var got models.Message
	require.Equal(t, http.StatusOK, s.call(testutil.Nia, http.MethodGet, fmt.Sprintf("/messages/%d", sent.ID), nil, &got))
	assert.Equal(t, "hello nia", got.Body)
}

func TestRoutes_ErrorKinds(t *testing.T) {
	s := newTestServer(t)
	var sent models.Message
	require.Equal(t, http.StatusCreated, s.call(testutil.Sam, http.MethodPost, "/channels/group/7/messages", models.Draft{Body: "x"}, &sent))

	tests := []struct {
		name   string
		user   int64
		method string
		path   string
		body   interface{}
		code   int
		kind   string
	}{
		{"non-member", testutil.Outsider, http.MethodGet, "/channels/group/7/messages", nil, http.StatusForbidden, "authorization"},
		{"empty draft", testutil.Sam, http.MethodPost, "/channels/group/7/messages", models.Draft{}, http.StatusBadRequest, "validation"},
		{"unknown field", testutil.Sam, http.MethodPost, "/channels/group/7/messages", map[string]string{"body": "x"}, http.StatusBadRequest, "validation"},
		{"bad cursor", testutil.Sam, http.MethodGet, "/channels/group/7/messages?cursor=zz", nil, http.StatusBadRequest, "validation"},
		{"edit by other", testutil.Nia, http.MethodPost, fmt.Sprintf("/messages/%d/edit", sent.ID), map[string]string{"text": "y"}, http.StatusForbidden, "permission"},
		{"missing message", testutil.Sam, http.MethodGet, "/messages/999", nil, http.StatusNotFound, "not_found"},
		{"dm with self", testutil.Sam, http.MethodGet, "/channels/direct/5/messages", nil, http.StatusBadRequest, "validation"},
		{"hidden sub-channel", testutil.Client, http.MethodGet, "/channels/project/12/team/messages", nil, http.StatusForbidden, "authorization"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body response.ErrorBody
			code := s.call(tt.user, tt.method, tt.path, tt.body, &body)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestRoutes_EditAndDelete(t *testing.T) {
	s := newTestServer(t)
	var sent models.Message
	require.Equal(t, http.StatusCreated, s.call(testutil.Sam, http.MethodPost, "/channels/group/7/messages", models.Draft{Body: "typo"}, &sent))

	var edited models.Message
	require.Equal(t, http.StatusOK, s.call(testutil.Sam, http.MethodPost, fmt.Sprintf("/messages/%d/edit", sent.ID), map[string]string{"text": "fixed"}, &edited))
	assert.True(t, edited.Edited)
	assert.Equal(t, "fixed", edited.Body)

	var deleted models.Message
	require.Equal(t, http.StatusOK, s.call(testutil.Sam, http.MethodPost, fmt.Sprintf("/messages/%d/delete", sent.ID), models.DeleteRequest{Scope: models.DeletedForEveryone}, &deleted))
	assert.Equal(t, models.Tombstone, deleted.Body)

	var body response.ErrorBody
	code := s.call(testutil.Sam, http.MethodPost, fmt.Sprintf("/messages/%d/delete", sent.ID), models.DeleteRequest{Scope: models.DeletedForAuthor}, &body)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "permission", body.Kind)
}

func TestRoutes_UnreadAndMarkRead(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.call(testutil.Nia, http.MethodPost, "/channels/group/7/messages", models.Draft{Body: "ping"}, nil))

	var scope struct {
		Counts []models.UnreadCount `json:"counts"`
	}
	require.Equal(t, http.StatusOK, s.call(testutil.Sam, http.MethodGet, "/channels/group/7/unread", nil, &scope))
	require.Len(t, scope.Counts, 1)
	assert.Equal(t, 1, scope.Counts[0].Count)

	var marker models.ReadMarker
	require.Equal(t, http.StatusOK, s.call(testutil.Sam, http.MethodPost, "/channels/group/7/read", nil, &marker))
	assert.Equal(t, "group-7", marker.ChannelKey)

	var all struct {
		Counts []models.UnreadCount `json:"counts"`
	}
	require.Equal(t, http.StatusOK, s.call(testutil.Sam, http.MethodGet, "/unread", nil, &all))
	for _, c := range all.Counts {
		assert.Zero(t, c.Count, c.Room)
	}
}

func TestRoutes_ChannelAndSubChannels(t *testing.T) {
	s := newTestServer(t)

	var subs struct {
		SubChannels []models.SubChannelOption `json:"sub_channels"`
	}
	require.Equal(t, http.StatusOK, s.call(testutil.Engineer, http.MethodGet, "/projects/12/subchannels?preferred=team", nil, &subs))
	require.Len(t, subs.SubChannels, 1)
	assert.Equal(t, models.SubChannelProfessionalEngineer, subs.SubChannels[0].SubChannel)
	assert.False(t, subs.SubChannels[0].Opened)

	var ch struct {
		Channel models.Channel `json:"channel"`
		Room    string         `json:"room"`
	}
	require.Equal(t, http.StatusOK, s.call(testutil.Client, http.MethodGet, "/channels/project/12/client", nil, &ch))
	assert.Equal(t, "project-12-client", ch.Room)

	var profile struct {
		Name     string  `json:"name"`
		Groups   []int64 `json:"groups"`
		Projects []int64 `json:"projects"`
	}
	require.Equal(t, http.StatusOK, s.call(testutil.Sam, http.MethodGet, "/user/profile", nil, &profile))
	assert.Equal(t, "Sam Staff", profile.Name)
	assert.Equal(t, []int64{testutil.Group}, profile.Groups)
	assert.ElementsMatch(t, []int64{testutil.Project, testutil.ProjectNoPE}, profile.Projects)
}

func TestRoutes_SharePartialFailure(t *testing.T) {
	s := newTestServer(t)
	req := shareService.ShareRequest{
		Content: &models.Draft{Body: "fyi"},
		Destinations: []models.ChannelRef{
			{Kind: models.KindGroup, ScopeID: testutil.Group},
			{Kind: models.KindProject, ScopeID: testutil.Project, SubChannel: models.SubChannelClient},
		},
	}
	var resp shareService.ShareResponse
	require.Equal(t, http.StatusOK, s.call(testutil.Sam, http.MethodPost, "/share", req, &resp))
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, "authorization", resp.Results[1].ErrorKind)
}

// upload posts content as the multipart "file" part. An empty contentType
// leaves detection to the server.
func upload(t *testing.T, s *testServer, userID int64, domain, name, contentType string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	fw, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, s.URL+"/uploads?domain="+domain, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token(userID))
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestRoutes_UploadAndServe(t *testing.T) {
	s := newTestServer(t)
	pdf := []byte("%PDF-1.4 site plan")

	resp := upload(t, s, testutil.Sam, "chat", "plan.pdf", "", pdf)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var att models.Attachment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&att))
	assert.Equal(t, "application/pdf", att.MediaType)
	assert.Equal(t, int64(len(pdf)), att.Size)

	var sent models.Message
	require.Equal(t, http.StatusCreated, s.call(testutil.Sam, http.MethodPost, "/channels/direct/9/messages", models.Draft{Attachment: &att}, &sent))
	assert.Equal(t, models.MessageFile, sent.Kind)

	forged := att
	forged.Ref = "chat/" + strings.Repeat("0", 64)
	assert.Equal(t, http.StatusBadRequest, s.call(testutil.Sam, http.MethodPost, "/channels/direct/9/messages", models.Draft{Attachment: &forged}, nil))

	req, err := http.NewRequest(http.MethodGet, s.URL+"/blobs/"+att.Ref, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token(testutil.Nia))
	got, err := s.Client().Do(req)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)
	data, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, pdf, data)
	assert.Equal(t, "nosniff", got.Header.Get("X-Content-Type-Options"))
}

func TestRoutes_UploadRejects(t *testing.T) {
	s := newTestServer(t)

	big := upload(t, s, testutil.Sam, "chat", "big.pdf", "application/pdf", append([]byte("%PDF-1.4"), bytes.Repeat([]byte("a"), 2<<10)...))
	big.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, big.StatusCode)

	video := upload(t, s, testutil.Sam, "chat", "walkthrough.mp4", "video/mp4", []byte("....ftypisom"))
	video.Body.Close()
	assert.Equal(t, http.StatusBadRequest, video.StatusCode)

	domain := upload(t, s, testutil.Sam, "secrets", "a.pdf", "", []byte("%PDF-1.4"))
	domain.Body.Close()
	assert.Equal(t, http.StatusBadRequest, domain.StatusCode)
}

func wsURL(s *testServer, room, token string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/" + room + "?token=" + token
}

func TestWebSocket_SignalsActivity(t *testing.T) {
	s := newTestServer(t)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(s, "dm-5-9", s.token(testutil.Nia)), nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var established models.Signal
	require.NoError(t, conn.ReadJSON(&established))
	assert.Equal(t, models.Signal{Type: models.SignalEstablished, SenderID: testutil.Nia}, established)

	require.Equal(t, http.StatusCreated, s.call(testutil.Sam, http.MethodPost, "/channels/direct/9/messages", models.Draft{Body: "hi"}, nil))

	var activity models.Signal
	require.NoError(t, conn.ReadJSON(&activity))
	assert.Equal(t, models.Signal{Type: models.SignalActivity, SenderID: testutil.Sam}, activity)
}

func TestWebSocket_Rejects(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		room string
		user int64
		code int
	}{
		{"unknown room", "lobby", testutil.Sam, http.StatusNotFound},
		{"non-canonical room", "dm-9-5", testutil.Sam, http.StatusNotFound},
		{"not a participant", "dm-5-9", testutil.Outsider, http.StatusForbidden},
		{"hidden sub-channel", "project-12-team", testutil.Client, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(s, tt.room, s.token(tt.user)), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestOriginChecker(t *testing.T) {
	assert.Nil(t, originChecker(nil))

	check := originChecker([]string{"https://app.eaven.example"})
	req := httptest.NewRequest(http.MethodGet, "/ws/group-7", nil)
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://app.eaven.example")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
