// Package client talks to the chat server over HTTP and websocket. It is the
// production backend of reconciler.Session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
	"github.com/nikhil/eavenchat/internal/reconciler"
	"github.com/nikhil/eavenchat/internal/response"
)

var (
	_ reconciler.Backend    = (*API)(nil)
	_ reconciler.Subscriber = (*API)(nil)
)

// signalBuffer matches the server side subscriber buffer.
const signalBuffer = 16

// API is an authenticated client for one user.
type API struct {
	BaseURL string
	Token   string
	UserID  int64
	HTTP    *http.Client
	Dialer  *websocket.Dialer
	Log     *logger.Logger
}

// New creates a client for baseURL (e.g. http://localhost:8080).
func New(baseURL, token string, userID int64, log *logger.Logger) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		UserID:  userID,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Dialer:  websocket.DefaultDialer,
		Log:     log,
	}
}

// channelPath builds /channels/{kind}/{scope}[/{sub}] from the caller's side.
func (a *API) channelPath(ch models.Channel) string {
	scope := ch.ScopeID
	if ch.Kind == models.KindDirect {
		scope = ch.Other(a.UserID)
	}
	p := fmt.Sprintf("/channels/%s/%d", ch.Kind, scope)
	if ch.SubChannel != models.SubChannelNone {
		p += "/" + string(ch.SubChannel)
	}
	return p
}

func (a *API) ListMessages(ctx context.Context, ch models.Channel, cursor string, limit int) (models.Page, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := a.channelPath(ch) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page models.Page
	err := a.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

func (a *API) SendMessage(ctx context.Context, ch models.Channel, draft models.Draft) (models.Message, error) {
	var msg models.Message
	err := a.do(ctx, http.MethodPost, a.channelPath(ch)+"/messages", draft, &msg)
	return msg, err
}

func (a *API) MarkRead(ctx context.Context, ch models.Channel) (models.ReadMarker, error) {
	var marker models.ReadMarker
	err := a.do(ctx, http.MethodPost, a.channelPath(ch)+"/read", nil, &marker)
	return marker, err
}

func (a *API) UnreadCounts(ctx context.Context) ([]models.UnreadCount, error) {
	var body struct {
		Counts []models.UnreadCount `json:"counts"`
	}
	err := a.do(ctx, http.MethodGet, "/unread", nil, &body)
	return body.Counts, err
}

// EditMessage edits one of the caller's messages.
func (a *API) EditMessage(ctx context.Context, id int64, req models.EditRequest) (models.Message, error) {
	var msg models.Message
	err := a.do(ctx, http.MethodPost, fmt.Sprintf("/messages/%d/edit", id), req, &msg)
	return msg, err
}

// DeleteMessage deletes one of the caller's messages.
func (a *API) DeleteMessage(ctx context.Context, id int64, scope models.DeleteScope) (models.Message, error) {
	var msg models.Message
	err := a.do(ctx, http.MethodPost, fmt.Sprintf("/messages/%d/delete", id), models.DeleteRequest{Scope: scope}, &msg)
	return msg, err
}

// Subscribe dials /ws/{room} and streams its signals until the connection
// drops or ctx ends.
func (a *API) Subscribe(ctx context.Context, room string) (<-chan models.Signal, error) {
	wsURL, err := a.websocketURL(room)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.Token)

	conn, resp, err := a.Dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, chaterr.Transient(err, "failed to subscribe to %s", room)
	}

	out := make(chan models.Signal, signalBuffer)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var sig models.Signal
			if err := conn.ReadJSON(&sig); err != nil {
				if ctx.Err() == nil {
					a.Log.Debug("Signal stream ended", "room", room, "error", err)
				}
				return
			}
			select {
			case out <- sig:
			default:
				// the reader is behind; the next poll catches up
			}
		}
	}()
	return out, nil
}

func (a *API) websocketURL(room string) (string, error) {
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(room)
	return u.String(), nil
}

func (a *API) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return chaterr.Transient(err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return chaterr.Transient(err, "failed to decode %s %s", method, path)
	}
	return nil
}

// decodeError rebuilds the server's error kind from a failed response.
func decodeError(resp *http.Response) error {
	var body response.ErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil || body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	kind := chaterr.ParseKind(body.Kind)
	if body.Kind == "" {
		switch {
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			kind = chaterr.KindAuthorization
		case resp.StatusCode == http.StatusNotFound:
			kind = chaterr.KindNotFound
		case resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusBadGateway, resp.StatusCode == http.StatusGatewayTimeout:
			kind = chaterr.KindTransient
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			kind = chaterr.KindValidation
		}
	}
	if kind == chaterr.KindTransient {
		return chaterr.Transient(errors.New(body.Error), "server unavailable")
	}
	return chaterr.New(kind, body.Error)
}
