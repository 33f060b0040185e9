package bdd

import (
	"github.com/chirino/spacechat/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &authSteps{s: s}
		// Roles come from the server's --roles-*-users lists; the steps only
		// pick the bearer identity.
		ctx.Step(`^I am authenticated as user "([^"]*)"$`, a.iAmAuthenticatedAs)
		ctx.Step(`^I am authenticated as admin user "([^"]*)"$`, a.iAmAuthenticatedAs)
		ctx.Step(`^I am authenticated as auditor user "([^"]*)"$`, a.iAmAuthenticatedAs)
		ctx.Step(`^user "([^"]*)" has signed in$`, a.userHasSignedIn)
	})
}

type authSteps struct {
	s *cucumber.TestScenario
}

func (a *authSteps) iAmAuthenticatedAs(userID string) error {
	if a.s.Users[userID] == nil {
		// Bearer token = user ID in testing mode.
		a.s.Users[userID] = &cucumber.TestUser{Name: userID, Subject: userID}
	}
	a.s.CurrentUser = userID
	return nil
}

// userHasSignedIn registers userID in the directory by making one
// authenticated call, then switches back to the previous user.
func (a *authSteps) userHasSignedIn(userID string) error {
	previous := a.s.CurrentUser
	if err := a.iAmAuthenticatedAs(userID); err != nil {
		return err
	}
	err := a.s.SendHTTPRequestWithJSONBody("GET", "/v1/unread", nil)
	a.s.CurrentUser = previous
	return err
}
