package bdd

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/spacechat/internal/model"
	"github.com/chirino/spacechat/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

// Steps that reach past the API to plant the damage consolidation repairs,
// and to check stored state the API does not expose.
func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		st := &storeSteps{s: s}
		ctx.Step(`^user "([^"]*)" has a stray user space named "([^"]*)"$`, st.userHasAStrayUserSpace)
		ctx.Step(`^an empty chat abandoned (\d+) minutes ago exists as \${([^}]*)}$`, st.anAbandonedChatExists)
		ctx.Step(`^user "([^"]*)" should have (\d+) active user spaces? named "([^"]*)"$`, st.userShouldHaveActiveUserSpaces)
		ctx.Step(`^the chat \${([^}]*)} should no longer exist$`, st.theChatShouldNoLongerExist)
		ctx.Step(`^the chat \${([^}]*)} should hold (\d+) messages?$`, st.theChatShouldHoldMessages)
	})
}

type storeSteps struct {
	s *cucumber.TestScenario
}

func (st *storeSteps) userHasAStrayUserSpace(owner, name string) error {
	space := &model.Space{Category: model.SpaceCategoryUser, OwnerUserID: owner, Name: name}
	return st.s.Suite.DB.Store().CreateSpace(context.Background(), space)
}

func (st *storeSteps) anAbandonedChatExists(minutes int, as string) error {
	chat := &model.Chat{CreatedAt: model.Now().Add(-time.Duration(minutes) * time.Minute)}
	if err := st.s.Suite.DB.Store().CreateChat(context.Background(), chat); err != nil {
		return err
	}
	st.s.Variables[as] = chat.ID.String()
	return nil
}

func (st *storeSteps) userShouldHaveActiveUserSpaces(owner string, count int, name string) error {
	spaces, err := st.s.Suite.DB.Store().FindUserSpaces(context.Background(), owner, name)
	if err != nil {
		return err
	}
	if len(spaces) != count {
		return fmt.Errorf("expected %d active user spaces of %s named %s, got %d", count, owner, name, len(spaces))
	}
	return nil
}

func (st *storeSteps) chatID(name string) (uuid.UUID, error) {
	raw, err := st.s.ResolveString(name)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

func (st *storeSteps) theChatShouldNoLongerExist(name string) error {
	id, err := st.chatID(name)
	if err != nil {
		return err
	}
	if _, err := st.s.Suite.DB.Store().GetChat(context.Background(), id); err == nil {
		return fmt.Errorf("chat %s still exists", id)
	}
	return nil
}

func (st *storeSteps) theChatShouldHoldMessages(name string, count int) error {
	id, err := st.chatID(name)
	if err != nil {
		return err
	}
	n, err := st.s.Suite.DB.Store().CountMessages(context.Background(), id)
	if err != nil {
		return err
	}
	if n != int64(count) {
		return fmt.Errorf("expected chat %s to hold %d messages, got %d", id, count, n)
	}
	return nil
}
