package models

import (
	"strconv"
	"strings"
)

// MessageKind tags the content of a message.
type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageImage MessageKind = "image"
	MessageFile  MessageKind = "file"
)

// DeleteScope records who a message has been removed for.
type DeleteScope string

const (
	DeletedNone        DeleteScope = "none"
	DeletedForAuthor   DeleteScope = "for_author"
	DeletedForEveryone DeleteScope = "for_everyone"
)

// Tombstone replaces the body of a message deleted for everyone.
const Tombstone = "This message was deleted"

// Attachment describes a blob held by the external blob store.
type Attachment struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MediaType string `json:"media_type"`
	Ref       string `json:"ref"`
	URL       string `json:"url,omitempty"`
}

// AuthorSnapshot is copied into the message at send time.
type AuthorSnapshot struct {
	Name   string `json:"name"`
	Role   string `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is one entry of a channel's history.
type Message struct {
	ID         int64          `json:"id"`
	Channel    Channel        `json:"channel"`
	Room       string         `json:"room"`
	AuthorID   int64          `json:"author_id"`
	Author     AuthorSnapshot `json:"author"`
	Body       string         `json:"body"`
	Kind       MessageKind    `json:"kind"`
	Attachment *Attachment    `json:"attachment,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	Edited     bool           `json:"edited"`
	EditedAt   int64          `json:"edited_at,omitempty"`
	Deleted    DeleteScope    `json:"deleted"`
	ClientRef  string         `json:"client_ref,omitempty"`
}

// Clone returns a deep copy so callers never share the attachment pointer.
func (m Message) Clone() Message {
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	return m
}

// HiddenFor reports whether the message is removed from userID's own listing.
func (m Message) HiddenFor(userID int64) bool {
	return m.Deleted == DeletedForAuthor && m.AuthorID == userID
}

// Draft is the client supplied content of a new message.
type Draft struct {
	Body       string      `json:"text"`
	Kind       MessageKind `json:"kind,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	ClientRef  string      `json:"client_ref,omitempty"`
}

// Empty reports a draft with neither text nor attachment.
func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Body) == "" && d.Attachment == nil
}

// EditRequest replaces the body and/or the attachment of a message.
type EditRequest struct {
	Body             *string     `json:"text,omitempty"`
	Attachment       *Attachment `json:"attachment,omitempty"`
	RemoveAttachment bool        `json:"remove_attachment,omitempty"`
}

// DeleteRequest selects the delete scope.
type DeleteRequest struct {
	Scope DeleteScope `json:"scope"`
}

// Cursor marks the position after the last returned message.
type Cursor struct {
	CreatedAt int64
	ID        int64
}

// IsZero reports the start-of-history cursor.
func (c Cursor) IsZero() bool { return c.CreatedAt == 0 && c.ID == 0 }

// String encodes the cursor as "<created_at>.<id>".
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return strconv.FormatInt(c.CreatedAt, 10) + "." + strconv.FormatInt(c.ID, 10)
}

// ParseCursor decodes a cursor produced by Cursor.String. An empty string is the zero cursor.
func ParseCursor(s string) (Cursor, bool) {
	if s == "" {
		return Cursor{}, true
	}
	ts, id, ok := strings.Cut(s, ".")
	if !ok {
		return Cursor{}, false
	}
	createdAt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || createdAt < 0 {
		return Cursor{}, false
	}
	msgID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || msgID < 0 {
		return Cursor{}, false
	}
	return Cursor{CreatedAt: createdAt, ID: msgID}, true
}

// After reports whether m sorts strictly after the cursor.
func (c Cursor) After(m Message) bool {
	if m.CreatedAt != c.CreatedAt {
		return m.CreatedAt > c.CreatedAt
	}
	return m.ID > c.ID
}

// Page is one slice of a channel listing.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}
