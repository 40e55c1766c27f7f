package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"taleweaver/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and local
// development without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	email    map[string]string // email -> user ID
	stories  map[string]domain.StoryBook
	comments map[string][]domain.Comment // story ID -> comments, append order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		stories:  make(map[string]domain.StoryBook),
		comments: make(map[string][]domain.Comment),
	}
}

// SaveUser stores or replaces a user record. The email must not belong
// to a different user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID, ok := m.email[u.Email]; ok && existingID != u.ID {
		return ErrDuplicateEmail
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// CreateStory persists a fully assembled storybook.
func (m *MemoryStore) CreateStory(b domain.StoryBook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stories[b.ID] = b
	return nil
}

// ListStoriesByOwner returns the owner's stories, newest first.
func (m *MemoryStore) ListStoriesByOwner(ownerID string) ([]domain.StorySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.StorySummary
	for _, b := range m.stories {
		if b.OwnerID == ownerID {
			res = append(res, m.summaryLocked(b))
		}
	}
	sortSummariesNewestFirst(res)
	return res, nil
}

// GetStoryByOwner returns a story only when owned by ownerID.
func (m *MemoryStore) GetStoryByOwner(ownerID, storyID string) (domain.StoryBook, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.stories[storyID]
	if !ok || b.OwnerID != ownerID {
		return domain.StoryBook{}, false, nil
	}
	return b, true, nil
}

// SetStoryVisibility flips isPublic for an owned story.
func (m *MemoryStore) SetStoryVisibility(ownerID, storyID string, isPublic bool) (domain.StoryBook, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.stories[storyID]
	if !ok || b.OwnerID != ownerID {
		return domain.StoryBook{}, false, nil
	}
	b.IsPublic = isPublic
	b.UpdatedAt = time.Now().UTC()
	m.stories[storyID] = b
	return b, true, nil
}

// DeleteStoryByOwner removes an owned story and its comments.
func (m *MemoryStore) DeleteStoryByOwner(ownerID, storyID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.stories[storyID]
	if !ok || b.OwnerID != ownerID {
		return false, nil
	}
	delete(m.stories, storyID)
	delete(m.comments, storyID)
	return true, nil
}

// GetPublicStory returns a story only when it is shared publicly.
func (m *MemoryStore) GetPublicStory(storyID string) (domain.StoryBook, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.stories[storyID]
	if !ok || !b.IsPublic {
		return domain.StoryBook{}, false, nil
	}
	return b, true, nil
}

// ListPublicStories returns one page of the public gallery, newest first.
func (m *MemoryStore) ListPublicStories(page, limit int) ([]domain.StorySummary, int, error) {
	return m.listPublic("", page, limit)
}

// SearchPublicStories filters the gallery by case-insensitive title match.
func (m *MemoryStore) SearchPublicStories(query string, page, limit int) ([]domain.StorySummary, int, error) {
	return m.listPublic(query, page, limit)
}

func (m *MemoryStore) listPublic(query string, page, limit int) ([]domain.StorySummary, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(query)
	var all []domain.StorySummary
	for _, b := range m.stories {
		if !b.IsPublic {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(b.Title), needle) {
			continue
		}
		all = append(all, m.summaryLocked(b))
	}
	sortSummariesNewestFirst(all)
	total := len(all)
	// Compare before multiplying so a huge page cannot overflow.
	if page-1 > total/limit {
		return []domain.StorySummary{}, total, nil
	}
	start := (page - 1) * limit
	if start >= total {
		return []domain.StorySummary{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// AddComment records a comment.
func (m *MemoryStore) AddComment(c domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[c.StoryID] = append(m.comments[c.StoryID], c)
	return nil
}

// ListComments returns one page of a story's comments, newest first.
func (m *MemoryStore) ListComments(storyID string, page, limit int) ([]domain.Comment, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.comments[storyID]
	ordered := make([]domain.Comment, len(stored))
	copy(ordered, stored)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})
	total := len(ordered)
	// Compare before multiplying so a huge page cannot overflow.
	if page-1 > total/limit {
		return []domain.Comment{}, total, nil
	}
	start := (page - 1) * limit
	if start >= total {
		return []domain.Comment{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return ordered[start:end], total, nil
}

func (m *MemoryStore) summaryLocked(b domain.StoryBook) domain.StorySummary {
	owner := domain.Owner{ID: b.OwnerID}
	if u, ok := m.users[b.OwnerID]; ok {
		owner.Name = u.Name
	}
	return domain.StorySummary{
		ID:           b.ID,
		Title:        b.Title,
		Pages:        b.Pages,
		IsPublic:     b.IsPublic,
		Owner:        owner,
		CommentCount: len(m.comments[b.ID]),
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func sortSummariesNewestFirst(items []domain.StorySummary) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
