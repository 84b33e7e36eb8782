package messageService

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/directory"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
	"github.com/nikhil/eavenchat/internal/repository"
	channelService "github.com/nikhil/eavenchat/internal/service/channels"
	"github.com/nikhil/eavenchat/internal/service/policy"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// supportedMediaTypes is the attachment allow-list. image/* is always accepted.
var supportedMediaTypes = map[string]bool{
	"application/pdf":    true,
	"application/zip":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"text/plain": true,
	"text/csv":   true,
	"application/dxf":          true,
	"application/octet-stream": true,
}

// Publisher announces activity on a room.
type Publisher interface {
	Publish(ctx context.Context, room string, sig models.Signal) int
}

// BlobStat sizes uploaded attachments.
type BlobStat interface {
	Stat(ctx context.Context, ref string) (int64, error)
}

// MessageService is the message store: append, list, edit and delete, each
// authorized through the channel resolver.
type MessageService struct {
	Repo      repository.MessageRepository
	Resolver  *channelService.Resolver
	Dir       directory.Directory
	Publisher Publisher
	Policy    policy.Policy
	Log       *logger.Logger
	// Blobs, when set, must hold every attachment a message references.
	Blobs BlobStat

	MaxAttachmentBytes int64
	// Now is the server clock; tests replace it.
	Now func() time.Time

	locks channelLocks
}

// NewMessageService wires a message service with the default policy.
func NewMessageService(repo repository.MessageRepository, resolver *channelService.Resolver, dir directory.Directory, pub Publisher, log *logger.Logger) *MessageService {
	return &MessageService{
		Repo:               repo,
		Resolver:           resolver,
		Dir:                dir,
		Publisher:          pub,
		Policy:             policy.Default(),
		Log:                log,
		MaxAttachmentBytes: 25 << 20,
		Now:                time.Now,
	}
}

// Send resolves ref for userID and appends draft to it.
func (ms *MessageService) Send(ctx context.Context, userID int64, ref models.ChannelRef, draft models.Draft) (models.Message, error) {
	ch, err := ms.Resolver.Resolve(ctx, userID, ref)
	if err != nil {
		return models.Message{}, err
	}
	return ms.Append(ctx, userID, ch, draft)
}

// Append writes a new message to a canonical channel. Appends to the same
// channel are serialized; a repeated client reference returns the original.
func (ms *MessageService) Append(ctx context.Context, userID int64, ch models.Channel, draft models.Draft) (models.Message, error) {
	if err := ms.Resolver.Authorize(ctx, userID, ch); err != nil {
		return models.Message{}, err
	}
	kind, err := ms.validateDraft(draft)
	if err != nil {
		return models.Message{}, err
	}
	if draft.Attachment != nil {
		if err := ms.checkUploaded(ctx, *draft.Attachment); err != nil {
			return models.Message{}, err
		}
	}

	author, err := ms.Dir.User(ctx, userID)
	if err != nil {
		return models.Message{}, chaterr.Internal(err, "failed to load author")
	}

	msg := models.Message{
		Channel:  ch,
		AuthorID: userID,
		Author: models.AuthorSnapshot{
			Name:   author.DisplayName(),
			Role:   author.Role,
			Avatar: author.AvatarURL,
		},
		Body:      draft.Body,
		Kind:      kind,
		Deleted:   models.DeletedNone,
		ClientRef: draft.ClientRef,
	}
	if draft.Attachment != nil {
		a := *draft.Attachment
		msg.Attachment = &a
	}

	unlock := ms.locks.lock(ch.Key())
	saved, created, err := ms.insert(ctx, msg)
	unlock()
	if err != nil {
		ms.Log.Error("Failed to insert message", "room", ch.RoomName(), "user_id", userID, "error", err)
		return models.Message{}, chaterr.Internal(err, "failed to insert message")
	}

	if created {
		ms.Log.Info("Message sent", "message_id", saved.ID, "room", ch.RoomName(), "user_id", userID)
		ms.publish(ctx, ch, userID)
	}
	return saved, nil
}

// insert must run under the channel lock.
func (ms *MessageService) insert(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	key := msg.Channel.Key()
	if existing, ok, err := ms.Repo.FindByClientRef(ctx, key, msg.AuthorID, msg.ClientRef); err != nil {
		return models.Message{}, false, err
	} else if ok {
		return existing, false, nil
	}

	msg.CreatedAt = ms.Now().UnixMilli()
	saved, err := ms.Repo.Insert(ctx, msg)
	if err != nil && msg.ClientRef != "" {
		// another instance may have won the race on the same client reference
		if existing, ok, ferr := ms.Repo.FindByClientRef(ctx, key, msg.AuthorID, msg.ClientRef); ferr == nil && ok {
			return existing, false, nil
		}
	}
	if err != nil {
		return models.Message{}, false, err
	}
	return saved, true, nil
}

// List returns one page of the channel named by ref, oldest first.
func (ms *MessageService) List(ctx context.Context, userID int64, ref models.ChannelRef, cursor string, limit int) (models.Page, error) {
	ch, err := ms.Resolver.Resolve(ctx, userID, ref)
	if err != nil {
		return models.Page{}, err
	}
	return ms.ListChannel(ctx, userID, ch, cursor, limit)
}

// ListChannel lists a canonical channel. Messages the viewer deleted for
// themself are omitted; everyone else still sees them.
func (ms *MessageService) ListChannel(ctx context.Context, userID int64, ch models.Channel, cursor string, limit int) (models.Page, error) {
	if err := ms.Resolver.Authorize(ctx, userID, ch); err != nil {
		return models.Page{}, err
	}
	after, ok := models.ParseCursor(cursor)
	if !ok {
		return models.Page{}, chaterr.Validation("invalid cursor")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	rows, err := ms.Repo.List(ctx, repository.ListQuery{
		ChannelKey: ch.Key(),
		ViewerID:   userID,
		After:      after,
		Limit:      limit + 1,
	})
	if err != nil {
		ms.Log.Error("Failed to list messages", "room", ch.RoomName(), "error", err)
		return models.Page{}, chaterr.Internal(err, "failed to list messages")
	}

	for i := range rows {
		rows[i] = viewOf(rows[i], userID)
	}
	page := models.Page{Messages: rows}
	if len(rows) > limit {
		page.Messages = rows[:limit]
		page.HasMore = true
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	if n := len(page.Messages); n > 0 {
		last := page.Messages[n-1]
		page.NextCursor = models.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.String()
	} else {
		page.NextCursor = cursor
	}
	return page, nil
}

// Get returns one message visible to userID.
func (ms *MessageService) Get(ctx context.Context, userID, messageID int64) (models.Message, error) {
	msg, err := ms.Repo.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, ms.storageError(err, "failed to load message")
	}
	if err := ms.Resolver.Authorize(ctx, userID, msg.Channel); err != nil {
		return models.Message{}, err
	}
	if msg.HiddenFor(userID) {
		return models.Message{}, chaterr.NotFound("message %d not found", messageID)
	}
	return viewOf(msg, userID), nil
}

// viewOf presents m as viewerID sees it. A delete for the author alone is
// invisible to everyone else, and so is the author's client reference.
func viewOf(m models.Message, viewerID int64) models.Message {
	if m.AuthorID == viewerID {
		return m
	}
	if m.Deleted == models.DeletedForAuthor {
		m.Deleted = models.DeletedNone
	}
	m.ClientRef = ""
	return m
}

// Edit replaces the body and/or attachment of the author's own message
// inside the edit window.
func (ms *MessageService) Edit(ctx context.Context, userID, messageID int64, req models.EditRequest) (models.Message, error) {
	if req.Body == nil && req.Attachment == nil && !req.RemoveAttachment {
		return models.Message{}, chaterr.Validation("nothing to edit")
	}
	if req.Attachment != nil {
		if err := ms.validateAttachment(*req.Attachment); err != nil {
			return models.Message{}, err
		}
		if err := ms.checkUploaded(ctx, *req.Attachment); err != nil {
			return models.Message{}, err
		}
	}

	return ms.mutate(ctx, userID, messageID, func(msg models.Message, now time.Time) (models.Message, error) {
		if err := ms.Policy.CheckEdit(msg, userID, now); err != nil {
			return models.Message{}, err
		}
		edited := policy.ApplyEdit(msg, req, now)
		if strings.TrimSpace(edited.Body) == "" && edited.Attachment == nil {
			return models.Message{}, chaterr.Validation("message cannot be empty")
		}
		return edited, nil
	})
}

// Delete removes a message for its author only, or for everyone inside the
// delete window.
func (ms *MessageService) Delete(ctx context.Context, userID, messageID int64, scope models.DeleteScope) (models.Message, error) {
	return ms.mutate(ctx, userID, messageID, func(msg models.Message, now time.Time) (models.Message, error) {
		if err := ms.Policy.CheckDelete(msg, userID, scope, now); err != nil {
			return models.Message{}, err
		}
		return policy.ApplyDelete(msg, scope), nil
	})
}

// mutate loads, checks and rewrites a message under its channel lock so the
// window check and the write cannot interleave with another change.
func (ms *MessageService) mutate(ctx context.Context, userID, messageID int64, apply func(models.Message, time.Time) (models.Message, error)) (models.Message, error) {
	msg, err := ms.Repo.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, ms.storageError(err, "failed to load message")
	}
	if err := ms.Resolver.Authorize(ctx, userID, msg.Channel); err != nil {
		return models.Message{}, err
	}

	unlock := ms.locks.lock(msg.Channel.Key())
	msg, err = ms.Repo.Get(ctx, messageID)
	if err != nil {
		unlock()
		return models.Message{}, ms.storageError(err, "failed to load message")
	}
	updated, err := apply(msg, ms.Now())
	if err != nil {
		unlock()
		ms.Log.Warn("Message change rejected", "message_id", messageID, "user_id", userID, "error", err)
		return models.Message{}, err
	}
	if err := ms.Repo.Update(ctx, updated); err != nil {
		unlock()
		ms.Log.Error("Failed to update message", "message_id", messageID, "error", err)
		return models.Message{}, ms.storageError(err, "failed to update message")
	}
	unlock()

	if updated.Deleted == models.DeletedForEveryone {
		ms.Log.Audit("Message deleted for everyone", "message_id", messageID, "room", updated.Channel.RoomName(), "user_id", userID)
	} else {
		ms.Log.Info("Message changed", "message_id", messageID, "user_id", userID, "deleted", updated.Deleted, "edited", updated.Edited)
	}
	ms.publish(ctx, updated.Channel, userID)
	return updated, nil
}

func (ms *MessageService) publish(ctx context.Context, ch models.Channel, senderID int64) {
	if ms.Publisher == nil {
		return
	}
	ms.Publisher.Publish(ctx, ch.RoomName(), models.Signal{Type: models.SignalActivity, SenderID: senderID})
}

func (ms *MessageService) validateDraft(d models.Draft) (models.MessageKind, error) {
	if d.Empty() {
		return "", chaterr.Validation("message must contain text or an attachment")
	}
	if len(d.ClientRef) > 64 {
		return "", chaterr.Validation("client reference is too long")
	}
	if d.Attachment != nil {
		if err := ms.validateAttachment(*d.Attachment); err != nil {
			return "", err
		}
	}
	kind := policy.KindFor(d.Attachment)
	if d.Kind != "" && d.Kind != kind {
		return "", chaterr.Validation("message kind %q does not match its content", d.Kind)
	}
	return kind, nil
}

func (ms *MessageService) validateAttachment(a models.Attachment) error {
	if strings.TrimSpace(a.Name) == "" {
		return chaterr.Validation("attachment name is required")
	}
	if a.Size < 0 {
		return chaterr.Validation("attachment size cannot be negative")
	}
	if ms.MaxAttachmentBytes > 0 && a.Size > ms.MaxAttachmentBytes {
		return chaterr.Validation("attachment exceeds %d bytes", ms.MaxAttachmentBytes)
	}
	if !SupportedMediaType(a.MediaType) {
		return chaterr.Validation("unsupported media type %q", a.MediaType)
	}
	if a.Ref == "" {
		return chaterr.Validation("attachment reference is required")
	}
	return nil
}

// checkUploaded verifies that a.Ref was uploaded and that a.Size is its size.
func (ms *MessageService) checkUploaded(ctx context.Context, a models.Attachment) error {
	if ms.Blobs == nil {
		return nil
	}
	size, err := ms.Blobs.Stat(ctx, a.Ref)
	if err != nil {
		if chaterr.KindOf(err) == chaterr.KindNotFound {
			return chaterr.Validation("attachment was not uploaded")
		}
		ms.Log.Error("Failed to stat attachment", "ref", a.Ref, "error", err)
		return chaterr.Internal(err, "failed to check attachment")
	}
	if size != a.Size {
		return chaterr.Validation("attachment size does not match the upload")
	}
	return nil
}

// SupportedMediaType reports whether attachments of mediaType are accepted.
func SupportedMediaType(mediaType string) bool {
	if strings.HasPrefix(mediaType, "image/") && len(mediaType) > len("image/") {
		return true
	}
	return supportedMediaTypes[mediaType]
}

func (ms *MessageService) storageError(err error, msg string) error {
	if chaterr.KindOf(err) != chaterr.KindInternal {
		return err
	}
	return chaterr.Internal(err, "%s", msg)
}

// channelLocks serializes writes per channel key.
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]*channelLock
}

type channelLock struct {
	mu   sync.Mutex
	refs int
}

func (c *channelLocks) lock(key string) func() {
	c.mu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*channelLock)
	}
	l, ok := c.locks[key]
	if !ok {
		l = &channelLock{}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}
