package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Decision is an admin verdict on a pending listing.
type Decision struct {
	Status     string
	Notes      string
	ReviewerID string
}

func (decision Decision) validate() error {
	if decision.Status != StatusApproved && decision.Status != StatusRejected {
		return ErrUnknownDecision
	}
	return nil
}

// SubmitEquipment stores equipment as pending review.
func (repository *Repository) SubmitEquipment(ctx context.Context, equipment Equipment) (Equipment, error) {
	equipment.ID = newID()
	equipment.Review = Review{Status: StatusPending}
	if err := repository.db.WithContext(ctx).Create(&equipment).Error; err != nil {
		return Equipment{}, fmt.Errorf("directory.submit_equipment: %w", err)
	}
	return equipment, nil
}

// SubmitProject stores a project as pending review.
func (repository *Repository) SubmitProject(ctx context.Context, project Project) (Project, error) {
	project.ID = newID()
	project.Review = Review{Status: StatusPending}
	if project.Vacancies == nil {
		project.Vacancies = []string{}
	}
	if err := repository.db.WithContext(ctx).Create(&project).Error; err != nil {
		return Project{}, fmt.Errorf("directory.submit_project: %w", err)
	}
	return project, nil
}

// ListEquipment returns approved equipment ordered by name.
func (repository *Repository) ListEquipment(ctx context.Context, filter ListingFilter) ([]Equipment, error) {
	filter = filter.normalized()
	query := repository.db.WithContext(ctx).Model(&Equipment{}).Where("status = ?", StatusApproved)
	if filter.Query != "" {
		query = matchAny(query, filter.Query, "name", "specs")
	}
	if filter.Category != "" {
		query = query.Where("type = ?", filter.Category)
	}
	if filter.Institution != "" {
		query = query.Where("institution = ?", filter.Institution)
	}
	var equipment []Equipment
	if err := query.Order("name ASC").Find(&equipment).Error; err != nil {
		return nil, fmt.Errorf("directory.list_equipment: %w", err)
	}
	return equipment, nil
}

// ListProjects returns approved projects ordered by name.
func (repository *Repository) ListProjects(ctx context.Context, filter ListingFilter) ([]Project, error) {
	filter = filter.normalized()
	query := repository.db.WithContext(ctx).Model(&Project{}).Where("status = ?", StatusApproved)
	if filter.Query != "" {
		query = matchAny(query, filter.Query, "name", "coordinator", "institution", "description")
	}
	if filter.Category != "" {
		query = query.Where("area = ?", filter.Category)
	}
	if filter.Institution != "" {
		query = query.Where("institution = ?", filter.Institution)
	}
	var projects []Project
	if err := query.Order("name ASC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("directory.list_projects: %w", err)
	}
	return projects, nil
}

// ListPending returns submissions awaiting review, oldest first.
func (repository *Repository) ListPending(ctx context.Context) (PendingListings, error) {
	pending := PendingListings{Equipment: []Equipment{}, Projects: []Project{}}
	database := repository.db.WithContext(ctx)
	if err := database.Where("status = ?", StatusPending).Order("created_at ASC").Find(&pending.Equipment).Error; err != nil {
		return PendingListings{}, fmt.Errorf("directory.list_pending: %w", err)
	}
	if err := database.Where("status = ?", StatusPending).Order("created_at ASC").Find(&pending.Projects).Error; err != nil {
		return PendingListings{}, fmt.Errorf("directory.list_pending: %w", err)
	}
	return pending, nil
}

// Review records decision on the pending listing of kind with id.
func (repository *Repository) Review(ctx context.Context, kind string, id string, decision Decision) error {
	if err := decision.validate(); err != nil {
		return err
	}
	var model interface{}
	switch kind {
	case KindEquipment:
		model = &Equipment{}
	case KindProject:
		model = &Project{}
	default:
		return ErrUnknownKind
	}
	reviewedAt := repository.now().UTC()
	return repository.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		result := transaction.Model(model).
			Where("id = ? AND status = ?", id, StatusPending).
			Updates(map[string]interface{}{
				"status":      decision.Status,
				"admin_notes": strings.TrimSpace(decision.Notes),
				"reviewed_by": decision.ReviewerID,
				"reviewed_at": reviewedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("directory.review: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}
		var count int64
		if err := transaction.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("directory.review: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrAlreadyReviewed
	})
}

// ApplyToProject records an application for an approved project.
func (repository *Repository) ApplyToProject(ctx context.Context, application ProjectApplication) (ProjectApplication, error) {
	var project Project
	err := repository.db.WithContext(ctx).
		Where("id = ? AND status = ?", application.ProjectID, StatusApproved).
		Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProjectApplication{}, ErrNotFound
	}
	if err != nil {
		return ProjectApplication{}, fmt.Errorf("directory.apply_to_project: %w", err)
	}
	application.ID = newID()
	application.Email = strings.ToLower(strings.TrimSpace(application.Email))
	if err := repository.db.WithContext(ctx).Create(&application).Error; err != nil {
		return ProjectApplication{}, fmt.Errorf("directory.apply_to_project: %w", err)
	}
	return application, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern matches query as a literal substring under ESCAPE '\'.
func likePattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

// matchAny filters statement to rows where any column contains the lowercased query.
func matchAny(statement *gorm.DB, query string, columns ...string) *gorm.DB {
	pattern := likePattern(query)
	clauses := make([]string, len(columns))
	arguments := make([]any, len(columns))
	for index, column := range columns {
		clauses[index] = "LOWER(" + column + ") LIKE ? ESCAPE '\\'"
		arguments[index] = pattern
	}
	return statement.Where(strings.Join(clauses, " OR "), arguments...)
}
