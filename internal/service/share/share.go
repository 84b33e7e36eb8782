package shareService

import (
	"context"

	"github.com/nikhil/eavenchat/internal/blob"
	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
	channelService "github.com/nikhil/eavenchat/internal/service/channels"
	messageService "github.com/nikhil/eavenchat/internal/service/messages"
)

const maxShareFanout = 100

// ShareRequest forwards existing messages, or shares new content, into one or
// more destination channels.
type ShareRequest struct {
	MessageIDs   []int64             `json:"message_ids,omitempty"`
	Content      *models.Draft       `json:"content,omitempty"`
	Destinations []models.ChannelRef `json:"destinations"`
}

// ShareResult reports the outcome for one source and one destination.
type ShareResult struct {
	SourceID    int64             `json:"source_id,omitempty"`
	Destination models.ChannelRef `json:"destination"`
	Room        string            `json:"room,omitempty"`
	Message     *models.Message   `json:"message,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorKind   string            `json:"error_kind,omitempty"`
}

// OK reports whether the message landed in the destination.
func (r ShareResult) OK() bool { return r.Message != nil }

// ShareService copies content into destination channels as brand new messages.
type ShareService struct {
	Messages *messageService.MessageService
	Resolver *channelService.Resolver
	Blobs    *blob.Router
	Log      *logger.Logger
}

// NewShareService wires the orchestrator.
func NewShareService(messages *messageService.MessageService, resolver *channelService.Resolver, blobs *blob.Router, log *logger.Logger) *ShareService {
	return &ShareService{Messages: messages, Resolver: resolver, Blobs: blobs, Log: log}
}

type source struct {
	id    int64
	draft models.Draft
	err   error
}

// Share performs one independent append per source and destination. A
// failure in one destination never rolls back another; every pair gets its
// own result, in request order.
func (ss *ShareService) Share(ctx context.Context, userID int64, req ShareRequest) ([]ShareResult, error) {
	if len(req.Destinations) == 0 {
		return nil, chaterr.Validation("at least one destination is required")
	}
	if (len(req.MessageIDs) == 0) == (req.Content == nil) {
		return nil, chaterr.Validation("share either message ids or content")
	}

	var sources []source
	if req.Content != nil {
		draft := *req.Content
		draft.ClientRef = ""
		sources = append(sources, source{draft: draft})
	}
	for _, id := range req.MessageIDs {
		sources = append(sources, ss.loadSource(ctx, userID, id))
	}
	if len(sources)*len(req.Destinations) > maxShareFanout {
		return nil, chaterr.Validation("cannot share more than %d messages at once", maxShareFanout)
	}

	results := make([]ShareResult, 0, len(sources)*len(req.Destinations))
	for _, src := range sources {
		for _, dest := range req.Destinations {
			results = append(results, ss.shareOne(ctx, userID, src, dest))
		}
	}

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	ss.Log.Audit("Share completed", "user_id", userID, "results", len(results), "failed", failed)
	return results, nil
}

func (ss *ShareService) loadSource(ctx context.Context, userID, messageID int64) source {
	msg, err := ss.Messages.Get(ctx, userID, messageID)
	if err != nil {
		return source{id: messageID, err: err}
	}
	if msg.Deleted == models.DeletedForEveryone {
		return source{id: messageID, err: chaterr.Validation("deleted messages cannot be shared")}
	}
	draft := models.Draft{Body: msg.Body}
	if msg.Attachment != nil {
		a := *msg.Attachment
		draft.Attachment = &a
	}
	return source{id: messageID, draft: draft}
}

func (ss *ShareService) shareOne(ctx context.Context, userID int64, src source, dest models.ChannelRef) ShareResult {
	result := ShareResult{SourceID: src.id, Destination: dest}
	if src.err != nil {
		return fail(result, src.err)
	}

	ch, err := ss.Resolver.Resolve(ctx, userID, dest)
	if err != nil {
		return fail(result, err)
	}
	result.Room = ch.RoomName()

	draft := src.draft
	if draft.Attachment != nil && ss.Blobs != nil {
		moved, err := ss.Blobs.Transfer(ctx, *draft.Attachment, ch)
		if err != nil {
			ss.Log.Error("Failed to copy attachment", "room", result.Room, "ref", draft.Attachment.Ref, "error", err)
			return fail(result, chaterr.Internal(err, "failed to copy attachment"))
		}
		draft.Attachment = &moved
	}

	msg, err := ss.Messages.Append(ctx, userID, ch, draft)
	if err != nil {
		return fail(result, err)
	}
	result.Message = &msg
	return result
}

func fail(r ShareResult, err error) ShareResult {
	kind := chaterr.KindOf(err)
	r.ErrorKind = kind.String()
	if kind == chaterr.KindInternal {
		r.Error = "internal error"
		return r
	}
	r.Error = err.Error()
	return r
}
