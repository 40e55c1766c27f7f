package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"taleweaver/internal/story"
	"taleweaver/pkg/ai"
	"taleweaver/pkg/auth"
	"taleweaver/pkg/domain"
	"taleweaver/pkg/events"
	"taleweaver/pkg/store"
)

const (
	defaultStoriesLimit  = 12
	defaultCommentsLimit = 20
	maxPageLimit         = 50
	ownedCommentsLimit   = 50
)

// Config holds runtime dependencies for the core application.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Pipeline *story.Pipeline
	// Chat answers parenting questions; usually the same text model that
	// drafts stories.
	Chat   ai.TextGenerator
	Events events.Publisher
}

// App is the core application service tying auth, stories, comments, and
// the chat assistant together.
type App struct {
	store    store.Store
	sessions store.SessionStore
	pipeline *story.Pipeline
	chat     ai.TextGenerator
	events   events.Publisher
}

// New constructs the application. Store, Sessions, and Pipeline are
// required; Events defaults to a no-op publisher.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline required")
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &App{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		pipeline: cfg.Pipeline,
		chat:     cfg.Chat,
		events:   publisher,
	}, nil
}

// Register creates a user and opens a session for it.
func (a *App) Register(name, email, password string) (domain.User, string, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if n := utf8.RuneCountInString(name); n < 2 || n > 50 {
		return domain.User{}, "", fmt.Errorf("%w: name must be between 2 and 50 characters", ErrInvalidArgument)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, "", fmt.Errorf("%w: invalid email address", ErrInvalidArgument)
	}
	if len(password) < 6 {
		return domain.User{}, "", fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidArgument)
	}
	taken, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if taken {
		return domain.User{}, "", ErrEmailTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Plan:         domain.PlanSprout,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		// A concurrent registration can slip past the exists check; the
		// store's unique constraint is the authority.
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, "", ErrEmailTaken
		}
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("open session: %w", err)
	}
	return user, token, nil
}

// Login verifies credentials and opens a session.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("lookup user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredential
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("open session: %w", err)
	}
	return user, token, nil
}

// Authenticate resolves a bearer token to a user.
func (a *App) Authenticate(token string) (domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, ErrUnauthenticated
	}
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, ErrInvalidCredential
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

// GenerateStory runs the full pipeline and persists the assembled story.
// Progress callbacks fire as generation advances; nothing is stored when
// the text model fails.
func (a *App) GenerateStory(ctx context.Context, ownerID string, req story.Request, onProgress story.ProgressFunc) (domain.StoryBook, error) {
	if err := req.Validate(); err != nil {
		return domain.StoryBook{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	storyID := uuid.NewString()
	title, pages, err := a.pipeline.Assemble(ctx, storyID, req, onProgress)
	if err != nil {
		slog.Default().Error("story generation failed", "owner_id", ownerID, "error", err)
		return domain.StoryBook{}, fmt.Errorf("%w: %v", ErrGenerationFailure, err)
	}
	now := time.Now().UTC()
	book := domain.StoryBook{
		ID:        storyID,
		OwnerID:   ownerID,
		Title:     title,
		Pages:     pages,
		IsPublic:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateStory(book); err != nil {
		return domain.StoryBook{}, fmt.Errorf("save story: %w", err)
	}
	a.publish(ctx, events.StoryCreated, book.ID, ownerID)
	return book, nil
}

// ListMine returns the caller's stories, newest first, with comment counts.
func (a *App) ListMine(ownerID string) ([]domain.StorySummary, error) {
	summaries, err := a.store.ListStoriesByOwner(ownerID)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return summaries, nil
}

// GetOwned returns one of the caller's stories with its latest comments.
// A foreign or absent story is the same not-found.
func (a *App) GetOwned(ownerID, storyID string) (domain.StoryBook, []domain.Comment, error) {
	book, ok, err := a.store.GetStoryByOwner(ownerID, storyID)
	if err != nil {
		return domain.StoryBook{}, nil, fmt.Errorf("get story: %w", err)
	}
	if !ok {
		return domain.StoryBook{}, nil, ErrNotFound
	}
	comments, _, err := a.store.ListComments(storyID, 1, ownedCommentsLimit)
	if err != nil {
		return domain.StoryBook{}, nil, fmt.Errorf("list comments: %w", err)
	}
	return book, comments, nil
}

// SetVisibility shares or unshares one of the caller's stories.
func (a *App) SetVisibility(ctx context.Context, ownerID, storyID string, isPublic bool) (domain.StoryBook, error) {
	book, ok, err := a.store.SetStoryVisibility(ownerID, storyID, isPublic)
	if err != nil {
		return domain.StoryBook{}, fmt.Errorf("set visibility: %w", err)
	}
	if !ok {
		return domain.StoryBook{}, ErrNotFound
	}
	key := events.StoryShared
	if !isPublic {
		key = events.StoryUnshared
	}
	a.publish(ctx, key, book.ID, ownerID)
	return book, nil
}

// DeleteStory removes one of the caller's stories and its comments.
func (a *App) DeleteStory(ctx context.Context, ownerID, storyID string) error {
	deleted, err := a.store.DeleteStoryByOwner(ownerID, storyID)
	if err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	a.publish(ctx, events.StoryDeleted, storyID, ownerID)
	return nil
}

// ListPublic returns a page of the public gallery, newest first.
func (a *App) ListPublic(page, limit int) ([]domain.StorySummary, domain.Pagination, error) {
	page, limit, err := normalizePage(page, limit, defaultStoriesLimit)
	if err != nil {
		return nil, domain.Pagination{}, err
	}
	items, total, err := a.store.ListPublicStories(page, limit)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("list public stories: %w", err)
	}
	return items, domain.NewPagination(page, limit, total), nil
}

// SearchPublic searches public story titles, case-insensitive.
func (a *App) SearchPublic(query string, page, limit int) ([]domain.StorySummary, domain.Pagination, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < 2 {
		return nil, domain.Pagination{}, fmt.Errorf("%w: search query must be at least 2 characters", ErrInvalidArgument)
	}
	page, limit, err := normalizePage(page, limit, defaultStoriesLimit)
	if err != nil {
		return nil, domain.Pagination{}, err
	}
	items, total, err := a.store.SearchPublicStories(query, page, limit)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("search public stories: %w", err)
	}
	return items, domain.NewPagination(page, limit, total), nil
}

// GetPublic returns a shared story with its latest comments.
func (a *App) GetPublic(storyID string) (domain.StoryBook, []domain.Comment, error) {
	book, ok, err := a.store.GetPublicStory(storyID)
	if err != nil {
		return domain.StoryBook{}, nil, fmt.Errorf("get public story: %w", err)
	}
	if !ok {
		return domain.StoryBook{}, nil, ErrNotFound
	}
	comments, _, err := a.store.ListComments(storyID, 1, defaultCommentsLimit)
	if err != nil {
		return domain.StoryBook{}, nil, fmt.Errorf("list comments: %w", err)
	}
	return book, comments, nil
}

// AddComment appends a comment to a shared story.
func (a *App) AddComment(storyID, authorName, text string) (domain.Comment, error) {
	authorName = strings.TrimSpace(authorName)
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(authorName); n < 2 || n > 50 {
		return domain.Comment{}, fmt.Errorf("%w: name must be between 2 and 50 characters", ErrInvalidArgument)
	}
	if n := utf8.RuneCountInString(text); n < 3 || n > 500 {
		return domain.Comment{}, fmt.Errorf("%w: comment must be between 3 and 500 characters", ErrInvalidArgument)
	}
	if _, ok, err := a.store.GetPublicStory(storyID); err != nil {
		return domain.Comment{}, fmt.Errorf("get public story: %w", err)
	} else if !ok {
		return domain.Comment{}, ErrNotFound
	}
	comment := domain.Comment{
		ID:         uuid.NewString(),
		StoryID:    storyID,
		AuthorName: authorName,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.AddComment(comment); err != nil {
		return domain.Comment{}, fmt.Errorf("save comment: %w", err)
	}
	return comment, nil
}

// ListCommentsPage returns a page of a shared story's comments, newest first.
func (a *App) ListCommentsPage(storyID string, page, limit int) ([]domain.Comment, domain.Pagination, error) {
	page, limit, err := normalizePage(page, limit, defaultCommentsLimit)
	if err != nil {
		return nil, domain.Pagination{}, err
	}
	if _, ok, err := a.store.GetPublicStory(storyID); err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("get public story: %w", err)
	} else if !ok {
		return nil, domain.Pagination{}, ErrNotFound
	}
	comments, total, err := a.store.ListComments(storyID, page, limit)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("list comments: %w", err)
	}
	return comments, domain.NewPagination(page, limit, total), nil
}

// Chat answers a parenting question with the Sparkle persona.
func (a *App) Chat(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if n := utf8.RuneCountInString(query); n < 3 || n > 1000 {
		return "", fmt.Errorf("%w: query must be between 3 and 1000 characters", ErrInvalidArgument)
	}
	if a.chat == nil {
		return "", fmt.Errorf("%w: chat model not configured", ErrGenerationFailure)
	}
	reply, err := a.chat.GenerateText(ctx, story.SparklePersona, "User's question: "+query)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailure, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrGenerationFailure)
	}
	return reply, nil
}

// normalizePage applies defaults for unset values (0) and rejects
// out-of-range page/limit instead of clamping.
func normalizePage(page, limit, defaultLimit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = defaultLimit
	}
	if page < 1 || limit < 1 || limit > maxPageLimit {
		return 0, 0, fmt.Errorf("%w: page must be >= 1 and limit between 1 and %d", ErrInvalidArgument, maxPageLimit)
	}
	return page, limit, nil
}

// publish emits a lifecycle event, best effort.
func (a *App) publish(ctx context.Context, routingKey, storyID, ownerID string) {
	payload := map[string]string{
		"storyId":    storyID,
		"ownerId":    ownerID,
		"occurredAt": time.Now().UTC().Format(time.RFC3339),
	}
	if err := a.events.Publish(ctx, routingKey, payload); err != nil {
		slog.Default().Warn("event publish failed", "routing_key", routingKey, "error", err)
	}
}
