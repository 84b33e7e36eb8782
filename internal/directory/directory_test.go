package directory

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/database"
	"github.com/nikhil/eavenchat/internal/logger"
	projectmodels "github.com/nikhil/eavenchat/internal/models/projects"
	models "github.com/nikhil/eavenchat/internal/models/users"
)

func seededDB(t *testing.T) *sql.DB {
	t.Helper()
	db, dialect, err := database.Open("sqlite3", ":memory:", logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, dialect))

	stmts := []string{
		`INSERT INTO users (user_id, email, first_name, last_name, role, avatar_url) VALUES
			(1, 'admin@example.com', 'Ada', 'Admin', 'admin', ''),
			(5, 'sam@example.com', 'Sam', 'Staff', 'staff', 'https://cdn.example/sam.png'),
			(9, 'nia@example.com', 'Nia', '', 'staff', ''),
			(20, 'client@example.com', 'Cleo', 'Client', 'client', '')`,
		`INSERT INTO chat_groups (group_id, name) VALUES (7, 'Field crew')`,
		`INSERT INTO chat_group_members (group_id, user_id) VALUES (7, 9), (7, 1), (7, 5)`,
		`INSERT INTO project_clients (project_id, user_id) VALUES (12, 20), (13, 20)`,
		`INSERT INTO project_assignments (project_id, user_id, role) VALUES
			(12, 5, 'contributor'),
			(12, 5, 'designer'),
			(12, 30, 'professional_engineer'),
			(14, 5, 'team_lead')`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func TestSQLDirectory_User(t *testing.T) {
	d := NewSQLDirectory(seededDB(t))
	ctx := context.Background()

	u, err := d.User(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, models.User{
		UserID:    5,
		Email:     "sam@example.com",
		FirstName: "Sam",
		LastName:  "Staff",
		Role:      models.RoleStaff,
		AvatarURL: "https://cdn.example/sam.png",
	}, u)

	_, err = d.User(ctx, 404)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
}

func TestSQLDirectory_Group(t *testing.T) {
	d := NewSQLDirectory(seededDB(t))
	ctx := context.Background()

	g, err := d.Group(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Field crew", g.Name)
	assert.Equal(t, []int64{1, 5, 9}, g.MemberIDs)

	_, err = d.Group(ctx, 8)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)

	groups, err := d.GroupsOf(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, groups)

	groups, err = d.GroupsOf(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestSQLDirectory_ProjectRoster(t *testing.T) {
	d := NewSQLDirectory(seededDB(t))
	ctx := context.Background()

	roster, err := d.ProjectRoster(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(12), roster.ProjectID)
	assert.Equal(t, []int64{20}, roster.ClientUserIDs)
	assert.Equal(t, []string{projectmodels.AssignContributor, projectmodels.AssignDesigner}, roster.RolesOf(5))
	assert.True(t, roster.HasProfessionalEngineer())
	assert.True(t, roster.IsClient(20))

	// clients only
	roster, err = d.ProjectRoster(ctx, 13)
	require.NoError(t, err)
	assert.Empty(t, roster.Assignments)
	assert.False(t, roster.HasProfessionalEngineer())

	_, err = d.ProjectRoster(ctx, 99)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
}

func TestSQLDirectory_Projects(t *testing.T) {
	d := NewSQLDirectory(seededDB(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		userID int64
		want   []int64
	}{
		{"assignee", 5, []int64{12, 14}},
		{"client", 20, []int64{12, 13}},
		{"engineer", 30, []int64{12}},
		{"nobody", 9, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.ProjectsOf(ctx, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	all, err := d.AllProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 13, 14}, all)
}

func TestStatic_MatchesLookups(t *testing.T) {
	s := NewStatic()
	ctx := context.Background()
	s.PutUser(models.User{UserID: 5, FirstName: "Sam", Role: models.RoleStaff})
	s.PutGroup(projectmodels.Group{ID: 3, Name: "b", MemberIDs: []int64{5}})
	s.PutGroup(projectmodels.Group{ID: 1, Name: "a", MemberIDs: []int64{5, 9}})
	s.PutProject(projectmodels.Roster{ProjectID: 12, ClientUserIDs: []int64{20}})
	s.PutProject(projectmodels.Roster{
		ProjectID:   4,
		Assignments: []projectmodels.Assignment{{ProjectID: 4, UserID: 5, Role: projectmodels.AssignContributor}},
	})

	_, err := s.User(ctx, 9)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
	_, err = s.Group(ctx, 2)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
	_, err = s.ProjectRoster(ctx, 99)
	assert.ErrorIs(t, err, chaterr.ErrNotFound)

	groups, err := s.GroupsOf(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, groups)

	projects, err := s.ProjectsOf(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, projects)

	projects, err = s.ProjectsOf(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, []int64{12}, projects)

	all, err := s.AllProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 12}, all)
}
