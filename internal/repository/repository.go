// Package repository persists messages and read markers. The chat services
// only see these interfaces; SQLStore backs them with MySQL or sqlite and
// MemoryStore keeps everything in process.
package repository

import (
	"context"

	"github.com/nikhil/eavenchat/internal/models"
)

// ListQuery selects one page of a channel, oldest first.
type ListQuery struct {
	ChannelKey string
	// ViewerID hides messages the viewer deleted for themself.
	ViewerID int64
	After    models.Cursor
	Limit    int
}

// MessageRepository is the durable append-only message log.
type MessageRepository interface {
	// Insert stores m and returns it with its assigned id.
	Insert(ctx context.Context, m models.Message) (models.Message, error)
	// Get returns chaterr NotFound when id does not exist.
	Get(ctx context.Context, id int64) (models.Message, error)
	FindByClientRef(ctx context.Context, channelKey string, authorID int64, ref string) (models.Message, bool, error)
	List(ctx context.Context, q ListQuery) ([]models.Message, error)
	// Update replaces the mutable fields of m in one write.
	Update(ctx context.Context, m models.Message) error
	MaxID(ctx context.Context, channelKey string) (int64, error)
	// CountUnread counts messages after afterID not authored by userID and not deleted for everyone.
	CountUnread(ctx context.Context, channelKey string, afterID, userID int64) (int, error)
	// DirectChannels lists every direct channel userID has history in.
	DirectChannels(ctx context.Context, userID int64) ([]models.Channel, error)
}

// MarkerRepository stores per user read markers.
type MarkerRepository interface {
	GetMarker(ctx context.Context, userID int64, channelKey string) (models.ReadMarker, bool, error)
	// AdvanceMarker creates the marker or moves it forward. It never moves it back.
	AdvanceMarker(ctx context.Context, marker models.ReadMarker) error
}

// Store bundles both repositories.
type Store interface {
	MessageRepository
	MarkerRepository
}
