package unreadService

import (
	"context"
	"time"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/directory"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
	"github.com/nikhil/eavenchat/internal/repository"
	channelService "github.com/nikhil/eavenchat/internal/service/channels"
)

// UnreadService derives unread counts from persisted read markers. Every
// count is recomputed from stored state, so polls, realtime signals and
// channel opens all converge on the same value.
type UnreadService struct {
	Repo     repository.Store
	Resolver *channelService.Resolver
	Dir      directory.Directory
	Log      *logger.Logger
	Now      func() time.Time
}

// NewUnreadService creates the tracker.
func NewUnreadService(repo repository.Store, resolver *channelService.Resolver, dir directory.Directory, log *logger.Logger) *UnreadService {
	return &UnreadService{Repo: repo, Resolver: resolver, Dir: dir, Log: log, Now: time.Now}
}

// UnreadCount returns how many messages from others arrived after the user's marker.
func (us *UnreadService) UnreadCount(ctx context.Context, userID int64, ch models.Channel) (int, error) {
	if err := us.Resolver.Authorize(ctx, userID, ch); err != nil {
		return 0, err
	}
	return us.count(ctx, userID, ch)
}

// MarkRead advances the user's marker to the newest message of the channel.
// It is idempotent and never moves the marker backward.
func (us *UnreadService) MarkRead(ctx context.Context, userID int64, ch models.Channel) (models.ReadMarker, error) {
	if err := us.Resolver.Authorize(ctx, userID, ch); err != nil {
		return models.ReadMarker{}, err
	}
	key := ch.Key()
	maxID, err := us.Repo.MaxID(ctx, key)
	if err != nil {
		us.Log.Error("Failed to read newest message id", "room", key, "error", err)
		return models.ReadMarker{}, chaterr.Internal(err, "failed to mark channel read")
	}
	marker := models.ReadMarker{
		UserID:     userID,
		ChannelKey: key,
		LastReadID: maxID,
		ReadAt:     us.Now().UnixMilli(),
	}
	if err := us.Repo.AdvanceMarker(ctx, marker); err != nil {
		us.Log.Error("Failed to advance read marker", "room", key, "user_id", userID, "error", err)
		return models.ReadMarker{}, chaterr.Internal(err, "failed to mark channel read")
	}
	stored, _, err := us.Repo.GetMarker(ctx, userID, key)
	if err != nil {
		return models.ReadMarker{}, chaterr.Internal(err, "failed to load read marker")
	}
	return stored, nil
}

// MarkReadRef resolves ref and marks it read.
func (us *UnreadService) MarkReadRef(ctx context.Context, userID int64, ref models.ChannelRef) (models.ReadMarker, error) {
	ch, err := us.Resolver.Resolve(ctx, userID, ref)
	if err != nil {
		return models.ReadMarker{}, err
	}
	return us.MarkRead(ctx, userID, ch)
}

// ScopeCounts returns the counts of one scope: every visible sub-channel of a
// project, or the single group or direct conversation.
func (us *UnreadService) ScopeCounts(ctx context.Context, userID int64, kind models.ChannelKind, scopeID int64) ([]models.UnreadCount, error) {
	if kind != models.KindProject {
		ch, err := us.Resolver.Resolve(ctx, userID, models.ChannelRef{Kind: kind, ScopeID: scopeID})
		if err != nil {
			return nil, err
		}
		n, err := us.count(ctx, userID, ch)
		if err != nil {
			return nil, err
		}
		return []models.UnreadCount{{Channel: ch, Room: ch.RoomName(), Count: n}}, nil
	}

	options, err := us.Resolver.SubChannels(ctx, userID, scopeID, models.SubChannelNone)
	if err != nil {
		return nil, err
	}
	counts := make([]models.UnreadCount, 0, len(options))
	for _, opt := range options {
		ch := models.ProjectChannel(scopeID, opt.SubChannel)
		n, err := us.count(ctx, userID, ch)
		if err != nil {
			return nil, err
		}
		counts = append(counts, models.UnreadCount{Channel: ch, Room: ch.RoomName(), Count: n})
	}
	return counts, nil
}

// Counts refreshes every channel the user can see, not only the open one.
func (us *UnreadService) Counts(ctx context.Context, userID int64) ([]models.UnreadCount, error) {
	channels, err := us.visibleChannels(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts := make([]models.UnreadCount, 0, len(channels))
	for _, ch := range channels {
		n, err := us.count(ctx, userID, ch)
		if err != nil {
			return nil, err
		}
		counts = append(counts, models.UnreadCount{Channel: ch, Room: ch.RoomName(), Count: n})
	}
	return counts, nil
}

func (us *UnreadService) visibleChannels(ctx context.Context, userID int64) ([]models.Channel, error) {
	user, err := us.Dir.User(ctx, userID)
	if err != nil {
		if chaterr.KindOf(err) == chaterr.KindNotFound {
			return nil, chaterr.Authorization("channel not available")
		}
		return nil, chaterr.Internal(err, "failed to load user")
	}

	var channels []models.Channel

	groups, err := us.Dir.GroupsOf(ctx, userID)
	if err != nil {
		return nil, chaterr.Internal(err, "failed to load groups")
	}
	for _, id := range groups {
		channels = append(channels, models.GroupChannel(id))
	}

	var projects []int64
	if user.ManagerTier() {
		projects, err = us.Dir.AllProjects(ctx)
	} else {
		projects, err = us.Dir.ProjectsOf(ctx, userID)
	}
	if err != nil {
		return nil, chaterr.Internal(err, "failed to load projects")
	}
	for _, id := range projects {
		roster, err := us.Dir.ProjectRoster(ctx, id)
		if err != nil {
			return nil, chaterr.Internal(err, "failed to load project roster")
		}
		for _, sub := range channelService.VisibleSubChannels(user, roster) {
			channels = append(channels, models.ProjectChannel(id, sub))
		}
	}

	direct, err := us.Repo.DirectChannels(ctx, userID)
	if err != nil {
		return nil, chaterr.Internal(err, "failed to load direct conversations")
	}
	return append(channels, direct...), nil
}

func (us *UnreadService) count(ctx context.Context, userID int64, ch models.Channel) (int, error) {
	key := ch.Key()
	marker, _, err := us.Repo.GetMarker(ctx, userID, key)
	if err != nil {
		us.Log.Error("Failed to load read marker", "room", key, "user_id", userID, "error", err)
		return 0, chaterr.Internal(err, "failed to load read marker")
	}
	n, err := us.Repo.CountUnread(ctx, key, marker.LastReadID, userID)
	if err != nil {
		us.Log.Error("Failed to count unread messages", "room", key, "user_id", userID, "error", err)
		return 0, chaterr.Internal(err, "failed to count unread messages")
	}
	return n, nil
}
