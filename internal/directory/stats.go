package directory

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Stats counts the records shown on the admin dashboard.
func (repository *Repository) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	group, groupContext := errgroup.WithContext(ctx)
	counters := []struct {
		target *int64
		model  interface{}
		status string
	}{
		{&stats.Profiles, &Profile{}, ""},
		{&stats.ForumPosts, &ForumPost{}, ""},
		{&stats.Subscribers, &NewsletterSubscription{}, ""},
		{&stats.PendingEquipment, &Equipment{}, StatusPending},
		{&stats.ApprovedEquipment, &Equipment{}, StatusApproved},
		{&stats.PendingProjects, &Project{}, StatusPending},
		{&stats.ApprovedProjects, &Project{}, StatusApproved},
	}
	for _, counter := range counters {
		counter := counter
		group.Go(func() error {
			query := repository.db.WithContext(groupContext).Model(counter.model)
			if counter.status != "" {
				query = query.Where("status = ?", counter.status)
			}
			return query.Count(counter.target).Error
		})
	}
	if err := group.Wait(); err != nil {
		return Stats{}, fmt.Errorf("directory.stats: %w", err)
	}
	return stats, nil
}
