package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ListPosts returns forum posts newest first, optionally filtered by title or content.
func (repository *Repository) ListPosts(ctx context.Context, query string) ([]ForumPost, error) {
	statement := repository.db.WithContext(ctx).Model(&ForumPost{})
	if trimmed := strings.ToLower(strings.TrimSpace(query)); trimmed != "" {
		statement = matchAny(statement, trimmed, "title", "content")
	}
	posts := []ForumPost{}
	if err := statement.Order("created_at DESC").Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("directory.list_posts: %w", err)
	}
	return posts, nil
}

// FindThread loads a post and its comments, oldest comment first.
func (repository *Repository) FindThread(ctx context.Context, postID string) (ForumThread, error) {
	var thread ForumThread
	database := repository.db.WithContext(ctx)
	err := database.Where("id = ?", postID).Take(&thread.Post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ForumThread{}, ErrNotFound
	}
	if err != nil {
		return ForumThread{}, fmt.Errorf("directory.find_thread: %w", err)
	}
	thread.Comments = []ForumComment{}
	if err := database.Where("post_id = ?", postID).Order("created_at ASC").Find(&thread.Comments).Error; err != nil {
		return ForumThread{}, fmt.Errorf("directory.find_thread: %w", err)
	}
	return thread, nil
}

// CreatePost stores a post attributed to the author's current username.
func (repository *Repository) CreatePost(ctx context.Context, post ForumPost) (ForumPost, error) {
	post.ID = newID()
	post.AuthorUsername = repository.usernameFor(ctx, post.UserID)
	if err := repository.db.WithContext(ctx).Create(&post).Error; err != nil {
		return ForumPost{}, fmt.Errorf("directory.create_post: %w", err)
	}
	return post, nil
}

// AddComment replies to an existing post.
func (repository *Repository) AddComment(ctx context.Context, comment ForumComment) (ForumComment, error) {
	var count int64
	if err := repository.db.WithContext(ctx).Model(&ForumPost{}).Where("id = ?", comment.PostID).Count(&count).Error; err != nil {
		return ForumComment{}, fmt.Errorf("directory.add_comment: %w", err)
	}
	if count == 0 {
		return ForumComment{}, ErrNotFound
	}
	comment.ID = newID()
	comment.AuthorUsername = repository.usernameFor(ctx, comment.UserID)
	if err := repository.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return ForumComment{}, fmt.Errorf("directory.add_comment: %w", err)
	}
	return comment, nil
}

func (repository *Repository) usernameFor(ctx context.Context, userID string) string {
	profile, err := repository.FindProfile(ctx, userID)
	if err != nil {
		return ""
	}
	return profile.Username
}
