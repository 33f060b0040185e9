package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	race := &ConflictError{Message: "duplicate link", Code: CodeUniqueViolation}
	assert.True(t, IsUniqueViolation(race))
	assert.True(t, IsUniqueViolation(fmt.Errorf("create link: %w", race)))
	assert.False(t, IsUniqueViolation(&ConflictError{Message: "other"}))
	assert.False(t, IsUniqueViolation(&NotFoundError{Resource: "space", ID: "x"}))
	assert.False(t, IsUniqueViolation(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", &NotFoundError{Resource: "chat", ID: "c1"})))
	assert.False(t, IsNotFound(&ForbiddenError{}))
}

func TestUserPairIsUnordered(t *testing.T) {
	assert.Equal(t, NewUserPair("bob", "alice"), NewUserPair("alice", "bob"))
	assert.Equal(t, "alice", NewUserPair("bob", "alice").A)
}

func TestForbiddenErrorMessage(t *testing.T) {
	assert.Equal(t, "forbidden", (&ForbiddenError{}).Error())
	assert.Equal(t, "forbidden: not a participant", (&ForbiddenError{Reason: "not a participant"}).Error())
}
