package testutil

import (
	"github.com/nikhil/eavenchat/internal/directory"
	projectmodels "github.com/nikhil/eavenchat/internal/models/projects"
	models "github.com/nikhil/eavenchat/internal/models/users"
)

// The standard cast used across service tests.
const (
	Admin       int64 = 1
	Manager     int64 = 2
	Sam         int64 = 5 // contributor on project 12 and 13
	Nia         int64 = 9 // staff, group member only
	Client      int64 = 20
	Designer    int64 = 21
	Engineer    int64 = 30 // professional engineer only
	TeamLead    int64 = 40
	Outsider    int64 = 99
	Group       int64 = 7
	Project     int64 = 12 // has a professional engineer
	ProjectNoPE int64 = 13
)

// NewDirectory returns a directory populated with the standard cast.
func NewDirectory() *directory.Static {
	dir := directory.NewStatic()
	for _, u := range []models.User{
		{UserID: Admin, FirstName: "Ada", LastName: "Admin", Role: models.RoleAdmin},
		{UserID: Manager, FirstName: "Max", LastName: "Manager", Role: models.RoleProjectManager},
		{UserID: Sam, FirstName: "Sam", LastName: "Staff", Role: models.RoleStaff, AvatarURL: "https://cdn.example/sam.png"},
		{UserID: Nia, FirstName: "Nia", LastName: "Staff", Role: models.RoleStaff},
		{UserID: Client, FirstName: "Cleo", LastName: "Client", Role: models.RoleClient},
		{UserID: Designer, FirstName: "Dee", LastName: "Designer", Role: models.RoleStaff},
		{UserID: Engineer, FirstName: "Pete", LastName: "Engineer", Role: models.RoleStaff},
		{UserID: TeamLead, FirstName: "Tara", LastName: "Lead", Role: models.RoleStaff},
		{UserID: Outsider, FirstName: "Oscar", LastName: "Outside", Role: models.RoleStaff},
	} {
		dir.PutUser(u)
	}

	dir.PutGroup(projectmodels.Group{ID: Group, Name: "ops", MemberIDs: []int64{Admin, Sam, Nia}})

	dir.PutProject(projectmodels.Roster{
		ProjectID:     Project,
		ClientUserIDs: []int64{Client},
		Assignments: []projectmodels.Assignment{
			{ProjectID: Project, UserID: Sam, Role: projectmodels.AssignContributor},
			{ProjectID: Project, UserID: Designer, Role: projectmodels.AssignDesigner},
			{ProjectID: Project, UserID: Engineer, Role: projectmodels.AssignProfessionalEngineer},
			{ProjectID: Project, UserID: TeamLead, Role: projectmodels.AssignTeamLead},
		},
	})
	dir.PutProject(projectmodels.Roster{
		ProjectID:     ProjectNoPE,
		ClientUserIDs: []int64{Client},
		Assignments: []projectmodels.Assignment{
			{ProjectID: ProjectNoPE, UserID: Sam, Role: projectmodels.AssignContributor},
		},
	})
	return dir
}
