package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"taleweaver/pkg/domain"
)

const migrateLockID int64 = 84518451

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &StoryBookModel{}, &CommentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM comment_models c
				WHERE NOT EXISTS (SELECT 1 FROM story_book_models s WHERE s.id = c.story_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'comment_models'
					AND constraint_name = 'comment_models_story_id_fkey'
				) THEN
					ALTER TABLE comment_models
					ADD CONSTRAINT comment_models_story_id_fkey
					FOREIGN KEY (story_id) REFERENCES story_book_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure comment foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	if err := s.db.Save(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateStory persists a fully assembled storybook.
func (s *GormStore) CreateStory(b domain.StoryBook) error {
	model, err := storyToModel(b)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// summaryRow carries a story row joined with its owner name and comment count.
type summaryRow struct {
	StoryBookModel
	OwnerName    string
	CommentCount int
}

func (s *GormStore) summaryQuery() *gorm.DB {
	return s.db.Model(&StoryBookModel{}).
		Select(`story_book_models.*,
			user_models.name AS owner_name,
			(SELECT COUNT(*) FROM comment_models WHERE comment_models.story_id = story_book_models.id) AS comment_count`).
		Joins("JOIN user_models ON user_models.id = story_book_models.owner_id")
}

// ListStoriesByOwner returns the owner's stories, newest first.
func (s *GormStore) ListStoriesByOwner(ownerID string) ([]domain.StorySummary, error) {
	var rows []summaryRow
	if err := s.summaryQuery().
		Where("story_book_models.owner_id = ?", ownerID).
		Order("story_book_models.created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return summariesFromRows(rows)
}

// GetStoryByOwner returns a story only when owned by ownerID.
func (s *GormStore) GetStoryByOwner(ownerID, storyID string) (domain.StoryBook, bool, error) {
	var model StoryBookModel
	if err := s.db.Where("id = ? AND owner_id = ?", storyID, ownerID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.StoryBook{}, false, nil
		}
		return domain.StoryBook{}, false, err
	}
	story, err := storyFromModel(model)
	if err != nil {
		return domain.StoryBook{}, false, err
	}
	return story, true, nil
}

// SetStoryVisibility flips isPublic for an owned story.
func (s *GormStore) SetStoryVisibility(ownerID, storyID string, isPublic bool) (domain.StoryBook, bool, error) {
	res := s.db.Model(&StoryBookModel{}).
		Where("id = ? AND owner_id = ?", storyID, ownerID).
		Updates(map[string]any{
			"is_public":  isPublic,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.StoryBook{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.StoryBook{}, false, nil
	}
	return s.GetStoryByOwner(ownerID, storyID)
}

// DeleteStoryByOwner removes an owned story and its comments in one
// transaction.
func (s *GormStore) DeleteStoryByOwner(ownerID, storyID string) (bool, error) {
	deleted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND owner_id = ?", storyID, ownerID).Delete(&StoryBookModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		// comments also covered by FK cascade
		return tx.Where("story_id = ?", storyID).Delete(&CommentModel{}).Error
	})
	return deleted, err
}

// GetPublicStory returns a story only when it is shared publicly.
func (s *GormStore) GetPublicStory(storyID string) (domain.StoryBook, bool, error) {
	var model StoryBookModel
	if err := s.db.Where("id = ? AND is_public = ?", storyID, true).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.StoryBook{}, false, nil
		}
		return domain.StoryBook{}, false, err
	}
	story, err := storyFromModel(model)
	if err != nil {
		return domain.StoryBook{}, false, err
	}
	return story, true, nil
}

// ListPublicStories returns one page of the public gallery, newest first.
func (s *GormStore) ListPublicStories(page, limit int) ([]domain.StorySummary, int, error) {
	return s.listPublic("", page, limit)
}

// SearchPublicStories filters the gallery by case-insensitive title match.
func (s *GormStore) SearchPublicStories(query string, page, limit int) ([]domain.StorySummary, int, error) {
	return s.listPublic(query, page, limit)
}

func (s *GormStore) listPublic(query string, page, limit int) ([]domain.StorySummary, int, error) {
	base := s.db.Model(&StoryBookModel{}).Where("is_public = ?", true)
	if query != "" {
		base = base.Where("title ILIKE ?", "%"+query+"%")
	}
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	// Compare before multiplying so a huge page cannot overflow the offset.
	if int64(page-1) > total/int64(limit) {
		return []domain.StorySummary{}, int(total), nil
	}
	q := s.summaryQuery().Where("story_book_models.is_public = ?", true)
	if query != "" {
		q = q.Where("story_book_models.title ILIKE ?", "%"+query+"%")
	}
	var rows []summaryRow
	if err := q.Order("story_book_models.created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	summaries, err := summariesFromRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return summaries, int(total), nil
}

// AddComment records a comment.
func (s *GormStore) AddComment(c domain.Comment) error {
	model := commentToModel(c)
	return s.db.Create(&model).Error
}

// ListComments returns one page of a story's comments, newest first.
func (s *GormStore) ListComments(storyID string, page, limit int) ([]domain.Comment, int, error) {
	var total int64
	if err := s.db.Model(&CommentModel{}).Where("story_id = ?", storyID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	// Compare before multiplying so a huge page cannot overflow the offset.
	if int64(page-1) > total/int64(limit) {
		return []domain.Comment{}, int(total), nil
	}
	var models []CommentModel
	if err := s.db.Where("story_id = ?", storyID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	comments := make([]domain.Comment, 0, len(models))
	for _, m := range models {
		comments = append(comments, commentFromModel(m))
	}
	return comments, int(total), nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Plan:         string(u.Plan),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	plan := domain.SubscriptionPlan(m.Plan)
	if !domain.ValidPlan(plan) {
		plan = domain.PlanSprout
	}
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		Plan:         plan,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func storyToModel(b domain.StoryBook) (StoryBookModel, error) {
	pages, err := json.Marshal(b.Pages)
	if err != nil {
		return StoryBookModel{}, fmt.Errorf("marshal pages: %w", err)
	}
	return StoryBookModel{
		ID:        b.ID,
		OwnerID:   b.OwnerID,
		Title:     b.Title,
		Pages:     pages,
		IsPublic:  b.IsPublic,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}, nil
}

func storyFromModel(m StoryBookModel) (domain.StoryBook, error) {
	var pages []domain.StoryPage
	if len(m.Pages) > 0 {
		if err := json.Unmarshal(m.Pages, &pages); err != nil {
			return domain.StoryBook{}, fmt.Errorf("unmarshal pages: %w", err)
		}
	}
	return domain.StoryBook{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Title:     m.Title,
		Pages:     pages,
		IsPublic:  m.IsPublic,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func summariesFromRows(rows []summaryRow) ([]domain.StorySummary, error) {
	res := make([]domain.StorySummary, 0, len(rows))
	for _, row := range rows {
		story, err := storyFromModel(row.StoryBookModel)
		if err != nil {
			return nil, err
		}
		res = append(res, domain.StorySummary{
			ID:           story.ID,
			Title:        story.Title,
			Pages:        story.Pages,
			IsPublic:     story.IsPublic,
			Owner:        domain.Owner{ID: row.OwnerID, Name: row.OwnerName},
			CommentCount: row.CommentCount,
			CreatedAt:    story.CreatedAt,
			UpdatedAt:    story.UpdatedAt,
		})
	}
	return res, nil
}

func commentToModel(c domain.Comment) CommentModel {
	return CommentModel{
		ID:         c.ID,
		StoryID:    c.StoryID,
		AuthorName: c.AuthorName,
		Text:       c.Text,
		CreatedAt:  c.CreatedAt,
	}
}

func commentFromModel(m CommentModel) domain.Comment {
	return domain.Comment{
		ID:         m.ID,
		StoryID:    m.StoryID,
		AuthorName: m.AuthorName,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt,
	}
}
