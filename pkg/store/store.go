package store

import (
	"errors"

	"taleweaver/pkg/domain"
)

// ErrDuplicateEmail reports a user insert that would reuse an email
// already registered to another user.
var ErrDuplicateEmail = errors.New("duplicate email")

// Store defines persistence operations for users, storybooks, and comments.
//
// Owner-scoped story operations filter by (storyID, ownerID) and report a
// plain "not found" on any miss so callers cannot distinguish a foreign
// story from an absent one. Paginated operations expect page/limit to be
// validated by the caller and return the total match count alongside the
// requested slice.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// stories
	CreateStory(domain.StoryBook) error
	ListStoriesByOwner(ownerID string) ([]domain.StorySummary, error)
	GetStoryByOwner(ownerID, storyID string) (domain.StoryBook, bool, error)
	SetStoryVisibility(ownerID, storyID string, isPublic bool) (domain.StoryBook, bool, error)
	// DeleteStoryByOwner removes the story and all its comments.
	DeleteStoryByOwner(ownerID, storyID string) (bool, error)
	GetPublicStory(storyID string) (domain.StoryBook, bool, error)
	ListPublicStories(page, limit int) ([]domain.StorySummary, int, error)
	SearchPublicStories(query string, page, limit int) ([]domain.StorySummary, int, error)

	// comments
	AddComment(domain.Comment) error
	ListComments(storyID string, page, limit int) ([]domain.Comment, int, error)
}

// SessionStore issues and resolves session credentials.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
