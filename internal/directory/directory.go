// Package directory reads the dashboard's users, groups and project rosters.
// The chat core never writes these records.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nikhil/eavenchat/internal/chaterr"
	projectmodels "github.com/nikhil/eavenchat/internal/models/projects"
	models "github.com/nikhil/eavenchat/internal/models/users"
)

// Directory is the roster source consulted on every access.
type Directory interface {
	User(ctx context.Context, userID int64) (models.User, error)
	Group(ctx context.Context, groupID int64) (projectmodels.Group, error)
	GroupsOf(ctx context.Context, userID int64) ([]int64, error)
	ProjectRoster(ctx context.Context, projectID int64) (projectmodels.Roster, error)
	// ProjectsOf lists projects where userID is a client user or assignee.
	ProjectsOf(ctx context.Context, userID int64) ([]int64, error)
	// AllProjects lists every project; manager-tier users see them all.
	AllProjects(ctx context.Context) ([]int64, error)
}

// SQLDirectory reads rosters from the dashboard tables.
type SQLDirectory struct {
	DB *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{DB: db}
}

var _ Directory = (*SQLDirectory)(nil)

func (d *SQLDirectory) User(ctx context.Context, userID int64) (models.User, error) {
	var u models.User
	query := "SELECT user_id, email, first_name, last_name, role, avatar_url FROM users WHERE user_id = ?"
	err := d.DB.QueryRowContext(ctx, query, userID).Scan(&u.UserID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.AvatarURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, chaterr.NotFound("user %d not found", userID)
		}
		return models.User{}, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

func (d *SQLDirectory) Group(ctx context.Context, groupID int64) (projectmodels.Group, error) {
	g := projectmodels.Group{ID: groupID}
	err := d.DB.QueryRowContext(ctx, "SELECT name FROM chat_groups WHERE group_id = ?", groupID).Scan(&g.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return projectmodels.Group{}, chaterr.NotFound("group %d not found", groupID)
		}
		return projectmodels.Group{}, fmt.Errorf("failed to load group: %w", err)
	}
	g.MemberIDs, err = d.ids(ctx, "SELECT user_id FROM chat_group_members WHERE group_id = ? ORDER BY user_id", groupID)
	if err != nil {
		return projectmodels.Group{}, err
	}
	return g, nil
}

func (d *SQLDirectory) GroupsOf(ctx context.Context, userID int64) ([]int64, error) {
	return d.ids(ctx, "SELECT group_id FROM chat_group_members WHERE user_id = ? ORDER BY group_id", userID)
}

func (d *SQLDirectory) ProjectRoster(ctx context.Context, projectID int64) (projectmodels.Roster, error) {
	roster := projectmodels.Roster{ProjectID: projectID}
	var err error
	roster.ClientUserIDs, err = d.ids(ctx, "SELECT user_id FROM project_clients WHERE project_id = ? ORDER BY user_id", projectID)
	if err != nil {
		return roster, err
	}

	rows, err := d.DB.QueryContext(ctx,
		"SELECT user_id, role FROM project_assignments WHERE project_id = ? ORDER BY user_id, role", projectID)
	if err != nil {
		return roster, fmt.Errorf("failed to query project assignments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a := projectmodels.Assignment{ProjectID: projectID}
		if err := rows.Scan(&a.UserID, &a.Role); err != nil {
			return roster, fmt.Errorf("failed to scan project assignment: %w", err)
		}
		roster.Assignments = append(roster.Assignments, a)
	}
	if err := rows.Err(); err != nil {
		return roster, fmt.Errorf("error iterating project assignments: %w", err)
	}
	if len(roster.ClientUserIDs) == 0 && len(roster.Assignments) == 0 {
		return projectmodels.Roster{}, chaterr.NotFound("project %d not found", projectID)
	}
	return roster, nil
}

func (d *SQLDirectory) ProjectsOf(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT project_id FROM project_clients WHERE user_id = ?
		UNION
		SELECT project_id FROM project_assignments WHERE user_id = ?
		ORDER BY project_id
	`
	return d.ids(ctx, query, userID, userID)
}

func (d *SQLDirectory) AllProjects(ctx context.Context) ([]int64, error) {
	query := `
		SELECT project_id FROM project_clients
		UNION
		SELECT project_id FROM project_assignments
		ORDER BY project_id
	`
	return d.ids(ctx, query)
}

func (d *SQLDirectory) ids(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Static is an in-memory Directory, used by tests and local demos.
type Static struct {
	mu       sync.RWMutex
	users    map[int64]models.User
	groups   map[int64]projectmodels.Group
	projects map[int64]projectmodels.Roster
}

func NewStatic() *Static {
	return &Static{
		users:    make(map[int64]models.User),
		groups:   make(map[int64]projectmodels.Group),
		projects: make(map[int64]projectmodels.Roster),
	}
}

var _ Directory = (*Static)(nil)

func (s *Static) PutUser(u models.User) {
	s.mu.Lock()
	s.users[u.UserID] = u
	s.mu.Unlock()
}

func (s *Static) PutGroup(g projectmodels.Group) {
	s.mu.Lock()
	s.groups[g.ID] = g
	s.mu.Unlock()
}

func (s *Static) PutProject(r projectmodels.Roster) {
	s.mu.Lock()
	s.projects[r.ProjectID] = r
	s.mu.Unlock()
}

func (s *Static) User(_ context.Context, userID int64) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, chaterr.NotFound("user %d not found", userID)
	}
	return u, nil
}

func (s *Static) Group(_ context.Context, groupID int64) (projectmodels.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return projectmodels.Group{}, chaterr.NotFound("group %d not found", groupID)
	}
	return g, nil
}

func (s *Static) GroupsOf(_ context.Context, userID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int64
	for id, g := range s.groups {
		if g.HasMember(userID) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Static) ProjectRoster(_ context.Context, projectID int64) (projectmodels.Roster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.projects[projectID]
	if !ok {
		return projectmodels.Roster{}, chaterr.NotFound("project %d not found", projectID)
	}
	return r, nil
}

func (s *Static) ProjectsOf(_ context.Context, userID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int64
	for id, r := range s.projects {
		if r.IsClient(userID) || len(r.RolesOf(userID)) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Static) AllProjects(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
