// Package policy holds the time-bounded edit and delete rules for messages.
//
//	active -> edited (repeatable inside the edit window)
//	       -> deleted_for_author | deleted_for_everyone (terminal)
package policy

import (
	"strings"
	"time"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/models"
)

const (
	DefaultEditWindow   = 24 * time.Hour
	DefaultDeleteWindow = time.Hour
)

// Policy enforces who may change a message and until when.
type Policy struct {
	EditWindow   time.Duration
	DeleteWindow time.Duration
}

// Default returns the 24h edit / 1h delete-for-everyone policy.
func Default() Policy {
	return Policy{EditWindow: DefaultEditWindow, DeleteWindow: DefaultDeleteWindow}
}

func age(m models.Message, now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(m.CreatedAt))
}

// CheckEdit returns a permission error unless actorID may edit m at now.
func (p Policy) CheckEdit(m models.Message, actorID int64, now time.Time) error {
	if m.AuthorID != actorID {
		return chaterr.Permission("only the author can edit this message")
	}
	if m.Deleted != models.DeletedNone {
		return chaterr.Permission("deleted messages cannot be edited")
	}
	if age(m, now) > p.EditWindow {
		return chaterr.Permission("messages can only be edited within %s of sending", p.EditWindow)
	}
	return nil
}

// CheckDelete returns a permission error unless actorID may delete m with scope at now.
func (p Policy) CheckDelete(m models.Message, actorID int64, scope models.DeleteScope, now time.Time) error {
	switch scope {
	case models.DeletedForAuthor, models.DeletedForEveryone:
	default:
		return chaterr.Validation("unknown delete scope %q", scope)
	}
	if m.AuthorID != actorID {
		return chaterr.Permission("only the author can delete this message")
	}
	if m.Deleted != models.DeletedNone {
		return chaterr.Permission("message is already deleted")
	}
	if scope == models.DeletedForEveryone && age(m, now) > p.DeleteWindow {
		return chaterr.Permission("messages can only be deleted for everyone within %s of sending", p.DeleteWindow)
	}
	return nil
}

// ApplyEdit returns m with the edit applied. Prior content is not kept.
func ApplyEdit(m models.Message, req models.EditRequest, now time.Time) models.Message {
	m = m.Clone()
	if req.Body != nil {
		m.Body = *req.Body
	}
	switch {
	case req.RemoveAttachment:
		m.Attachment = nil
	case req.Attachment != nil:
		a := *req.Attachment
		m.Attachment = &a
	}
	m.Kind = KindFor(m.Attachment)
	m.Edited = true
	m.EditedAt = now.UnixMilli()
	return m
}

// ApplyDelete returns m marked deleted with scope. Deleting for everyone
// replaces the body with the tombstone and drops the attachment.
func ApplyDelete(m models.Message, scope models.DeleteScope) models.Message {
	m = m.Clone()
	m.Deleted = scope
	if scope == models.DeletedForEveryone {
		m.Body = models.Tombstone
		m.Attachment = nil
		m.Kind = models.MessageText
	}
	return m
}

// KindFor derives the message kind from its attachment.
func KindFor(a *models.Attachment) models.MessageKind {
	if a == nil {
		return models.MessageText
	}
	if strings.HasPrefix(a.MediaType, "image/") {
		return models.MessageImage
	}
	return models.MessageFile
}
