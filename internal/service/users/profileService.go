package profileService

import (
	"net/http"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/directory"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/middleware"
	models "github.com/nikhil/eavenchat/internal/models/users"
	"github.com/nikhil/eavenchat/internal/response"
)

// ProfileService answers who the caller is and which scopes they belong to.
// Profiles are owned by the dashboard and read-only here.
type ProfileService struct {
	Dir directory.Directory
	Log *logger.Logger
}

// Profile is the caller's chat-facing view of themself.
type Profile struct {
	User     models.User `json:"user_details"`
	Name     string      `json:"name"`
	Groups   []int64     `json:"groups"`
	Projects []int64     `json:"projects"`
}

func NewProfileService(dir directory.Directory, log *logger.Logger) *ProfileService {
	return &ProfileService{Dir: dir, Log: log}
}

func (ps *ProfileService) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	ctx := r.Context()

	user, err := ps.Dir.User(ctx, userID)
	if err != nil {
		response.Error(w, err, ps.Log)
		return
	}
	groups, err := ps.Dir.GroupsOf(ctx, userID)
	if err != nil {
		response.Error(w, chaterr.Internal(err, "failed to load groups"), ps.Log)
		return
	}

	var projects []int64
	if user.ManagerTier() {
		projects, err = ps.Dir.AllProjects(ctx)
	} else {
		projects, err = ps.Dir.ProjectsOf(ctx, userID)
	}
	if err != nil {
		response.Error(w, chaterr.Internal(err, "failed to load projects"), ps.Log)
		return
	}

	if groups == nil {
		groups = []int64{}
	}
	if projects == nil {
		projects = []int64{}
	}
	response.WithJSON(w, http.StatusOK, Profile{
		User:     user,
		Name:     user.DisplayName(),
		Groups:   groups,
		Projects: projects,
	})
}
