package channelService

import (
	"context"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/directory"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/models"
	projectmodels "github.com/nikhil/eavenchat/internal/models/projects"
	usermodels "github.com/nikhil/eavenchat/internal/models/users"
)

// notAvailable is the only text non-members ever see, whether or not the channel exists.
const notAvailable = "channel not available"

// Resolver maps channel references to canonical identities and checks
// membership. Membership is derived from the directory on every call.
type Resolver struct {
	Dir directory.Directory
	Log *logger.Logger
}

// NewResolver creates a resolver over dir.
func NewResolver(dir directory.Directory, log *logger.Logger) *Resolver {
	return &Resolver{Dir: dir, Log: log}
}

// Resolve turns a request-side reference into a channel the user may use.
// For direct channels ref.ScopeID is the other participant.
func (r *Resolver) Resolve(ctx context.Context, userID int64, ref models.ChannelRef) (models.Channel, error) {
	var ch models.Channel
	switch ref.Kind {
	case models.KindDirect:
		if ref.SubChannel != models.SubChannelNone {
			return models.Channel{}, chaterr.Validation("direct channels have no sub-channel")
		}
		if ref.ScopeID <= 0 {
			return models.Channel{}, chaterr.Validation("invalid participant id")
		}
		if ref.ScopeID == userID {
			return models.Channel{}, chaterr.Validation("cannot open a direct channel with yourself")
		}
		ch = models.DirectChannel(userID, ref.ScopeID)
	case models.KindGroup:
		if ref.SubChannel != models.SubChannelNone {
			return models.Channel{}, chaterr.Validation("group channels have no sub-channel")
		}
		ch = models.GroupChannel(ref.ScopeID)
	case models.KindProject:
		if !ref.SubChannel.Valid() {
			return models.Channel{}, chaterr.Validation("unknown project sub-channel %q", ref.SubChannel)
		}
		ch = models.ProjectChannel(ref.ScopeID, ref.SubChannel)
	default:
		return models.Channel{}, chaterr.Validation("unknown channel kind %q", ref.Kind)
	}

	if err := ch.Validate(); err != nil {
		return models.Channel{}, chaterr.Validation("%v", err)
	}
	if err := r.Authorize(ctx, userID, ch); err != nil {
		return models.Channel{}, err
	}
	return ch, nil
}

// Authorize checks that userID is a member of an already canonical channel.
func (r *Resolver) Authorize(ctx context.Context, userID int64, ch models.Channel) error {
	if err := ch.Validate(); err != nil {
		return chaterr.Authorization(notAvailable)
	}

	user, err := r.Dir.User(ctx, userID)
	if err != nil {
		return r.denyOrFail(err, userID, ch)
	}

	switch ch.Kind {
	case models.KindDirect:
		if !ch.Includes(userID) {
			return r.deny(userID, ch)
		}
		if _, err := r.Dir.User(ctx, ch.Other(userID)); err != nil {
			return r.denyOrFail(err, userID, ch)
		}
		return nil

	case models.KindGroup:
		group, err := r.Dir.Group(ctx, ch.ScopeID)
		if err != nil {
			return r.denyOrFail(err, userID, ch)
		}
		if !group.HasMember(userID) {
			return r.deny(userID, ch)
		}
		return nil

	case models.KindProject:
		roster, err := r.Dir.ProjectRoster(ctx, ch.ScopeID)
		if err != nil {
			return r.denyOrFail(err, userID, ch)
		}
		for _, sub := range VisibleSubChannels(user, roster) {
			if sub == ch.SubChannel {
				return nil
			}
		}
		return r.deny(userID, ch)
	}
	return r.deny(userID, ch)
}

// SubChannels returns the project sub-channels userID may open. The preferred
// hint only moves an option to the front; no option is ever reported opened.
func (r *Resolver) SubChannels(ctx context.Context, userID, projectID int64, preferred models.SubChannel) ([]models.SubChannelOption, error) {
	user, err := r.Dir.User(ctx, userID)
	if err != nil {
		return nil, r.denyOrFail(err, userID, models.ProjectChannel(projectID, models.SubChannelTeam))
	}
	roster, err := r.Dir.ProjectRoster(ctx, projectID)
	if err != nil {
		return nil, r.denyOrFail(err, userID, models.ProjectChannel(projectID, models.SubChannelTeam))
	}

	visible := VisibleSubChannels(user, roster)
	if len(visible) == 0 {
		r.Log.Warn("Project chat requested by non-member", "project_id", projectID, "user_id", userID)
		return nil, chaterr.Authorization(notAvailable)
	}

	options := make([]models.SubChannelOption, 0, len(visible))
	for _, sub := range visible {
		opt := models.SubChannelOption{
			SubChannel: sub,
			Room:       models.ProjectChannel(projectID, sub).RoomName(),
			Preferred:  sub == preferred,
		}
		if opt.Preferred {
			options = append([]models.SubChannelOption{opt}, options...)
			continue
		}
		options = append(options, opt)
	}
	return options, nil
}

// VisibleSubChannels applies the project visibility rules:
//
//	client                 client users and manager-tier staff
//	team                   manager-tier, team leads, assigned contributors except professional engineers
//	professional_engineer  assigned professional engineers, plus manager-tier when one is assigned
//
// A user whose only role on the project is professional engineer gets the
// professional_engineer sub-channel and nothing else.
func VisibleSubChannels(user usermodels.User, roster projectmodels.Roster) []models.SubChannel {
	roles := roster.RolesOf(user.UserID)
	isClient := roster.IsClient(user.UserID)

	managerTier := user.ManagerTier()
	isPE := false
	onTeam := false
	for _, role := range roles {
		switch role {
		case projectmodels.AssignManager:
			managerTier = true
		case projectmodels.AssignProfessionalEngineer:
			isPE = true
		case projectmodels.AssignTeamLead, projectmodels.AssignContributor, projectmodels.AssignDesigner:
			onTeam = true
		}
	}

	if isPE && !managerTier && !onTeam && !isClient {
		return []models.SubChannel{models.SubChannelProfessionalEngineer}
	}

	var visible []models.SubChannel
	if isClient || managerTier {
		visible = append(visible, models.SubChannelClient)
	}
	if managerTier || onTeam {
		visible = append(visible, models.SubChannelTeam)
	}
	if isPE || (managerTier && roster.HasProfessionalEngineer()) {
		visible = append(visible, models.SubChannelProfessionalEngineer)
	}
	return visible
}

func (r *Resolver) deny(userID int64, ch models.Channel) error {
	r.Log.Warn("Unauthorized channel access attempt", "room", ch.RoomName(), "user_id", userID)
	return chaterr.Authorization(notAvailable)
}

// denyOrFail hides missing rosters behind the same authorization error and
// passes storage failures through.
func (r *Resolver) denyOrFail(err error, userID int64, ch models.Channel) error {
	if chaterr.KindOf(err) == chaterr.KindNotFound {
		return r.deny(userID, ch)
	}
	r.Log.Error("Failed to load roster", "room", ch.RoomName(), "user_id", userID, "error", err)
	return chaterr.Internal(err, "failed to verify channel membership")
}
