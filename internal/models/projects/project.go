package projectmodels

// Assignment roles a user can hold on a project.
const (
	AssignManager              = "manager"
	AssignTeamLead             = "team_lead"
	AssignContributor          = "contributor"
	AssignDesigner             = "designer"
	AssignProfessionalEngineer = "professional_engineer"
)

// Assignment is one user's role on a project
type Assignment struct {
	ProjectID int64  `json:"project_id"`
	UserID    int64  `json:"user_id"`
	Role      string `json:"role"`
}

// Roster is everything needed to derive project sub-channel membership.
type Roster struct {
	ProjectID     int64        `json:"project_id"`
	ClientUserIDs []int64      `json:"client_user_ids"`
	Assignments   []Assignment `json:"assignments"`
}

// RolesOf returns every assignment role userID holds on the project.
func (r Roster) RolesOf(userID int64) []string {
	var roles []string
	for _, a := range r.Assignments {
		if a.UserID == userID {
			roles = append(roles, a.Role)
		}
	}
	return roles
}

// IsClient reports whether userID is the client or one of the client's team.
func (r Roster) IsClient(userID int64) bool {
	for _, id := range r.ClientUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HasProfessionalEngineer reports whether any professional engineer is assigned.
func (r Roster) HasProfessionalEngineer() bool {
	for _, a := range r.Assignments {
		if a.Role == AssignProfessionalEngineer {
			return true
		}
	}
	return false
}

// Group is a named multi-member conversation roster.
type Group struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"member_ids"`
}

// HasMember reports whether userID is on the group roster.
func (g Group) HasMember(userID int64) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
