package domain

import "time"

type SubscriptionPlan string

const (
	PlanSprout  SubscriptionPlan = "SPROUT"
	PlanDreamer SubscriptionPlan = "DREAMER"
	PlanFamily  SubscriptionPlan = "FAMILY"
)

// ValidPlan reports whether p is one of the known subscription tiers.
func ValidPlan(p SubscriptionPlan) bool {
	switch p {
	case PlanSprout, PlanDreamer, PlanFamily:
		return true
	}
	return false
}

type User struct {
	ID           string           `json:"id"`
	Email        string           `json:"email"`
	Name         string           `json:"name"`
	PasswordHash string           `json:"-"`
	Plan         SubscriptionPlan `json:"subscriptionPlan"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Owner is the public projection of a user attached to story payloads.
// Email is intentionally absent so public routes never leak it.
type Owner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StoryPage is one unit of a storybook: narrative text plus one
// illustration. Pages are immutable once assembled into a StoryBook.
type StoryPage struct {
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text"`
	ImageURL   string `json:"imageUrl"`
}

type StoryBook struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"ownerId"`
	Title     string      `json:"title"`
	Pages     []StoryPage `json:"pages"`
	IsPublic  bool        `json:"isPublic"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// StorySummary is the list-view projection of a story.
type StorySummary struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Pages        []StoryPage `json:"pages"`
	IsPublic     bool        `json:"isPublic"`
	Owner        Owner       `json:"owner"`
	CommentCount int         `json:"commentCount"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

type Comment struct {
	ID         string    `json:"id"`
	StoryID    string    `json:"storyId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Pagination describes one page of a paginated result set.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalItems  int  `json:"totalItems"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

// NewPagination computes page metadata for a total item count.
func NewPagination(page, limit, total int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalItems:  total,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
}
