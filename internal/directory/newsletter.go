package directory

import (
	"context"
	"fmt"
	"strings"
)

// Subscribe adds email to the newsletter list.
func (repository *Repository) Subscribe(ctx context.Context, email string) (NewsletterSubscription, error) {
	subscription := NewsletterSubscription{ID: newID(), Email: strings.ToLower(strings.TrimSpace(email))}
	var count int64
	database := repository.db.WithContext(ctx)
	if err := database.Model(&NewsletterSubscription{}).Where("email = ?", subscription.Email).Count(&count).Error; err != nil {
		return NewsletterSubscription{}, fmt.Errorf("directory.subscribe: %w", err)
	}
	if count > 0 {
		return NewsletterSubscription{}, ErrAlreadySubscribed
	}
	if err := database.Create(&subscription).Error; err != nil {
		return NewsletterSubscription{}, fmt.Errorf("directory.subscribe: %w", err)
	}
	return subscription, nil
}
