// Package directory stores profiles, listings, forum threads, and newsletter
// subscriptions, and serves them over the /api routes.
package directory

import (
	"strings"
	"time"
)

// Listing review states.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Listing kinds accepted by the admin decision route.
const (
	KindEquipment = "equipment"
	KindProject   = "projects"
)

// Profile is the public row describing a member.
type Profile struct {
	ID                string    `gorm:"column:id;primaryKey" json:"id"`
	Username          string    `gorm:"column:username;index" json:"username"`
	FullName          string    `gorm:"column:full_name" json:"full_name"`
	Institution       string    `gorm:"column:institution" json:"institution"`
	University        string    `gorm:"column:university" json:"university"`
	Role              string    `gorm:"column:role;not null" json:"role"`
	AvatarURL         string    `gorm:"column:avatar_url" json:"avatar_url"`
	Bio               string    `gorm:"column:bio" json:"bio"`
	ResearchInterests string    `gorm:"column:research_interests" json:"research_interests"`
	ORCID             string    `gorm:"column:orcid" json:"orcid"`
	LattesURL         string    `gorm:"column:lattes_url" json:"lattes_url"`
	LinkedInURL       string    `gorm:"column:linkedin_url" json:"linkedin_url"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

type credentialRecord struct {
	UserID       string    `gorm:"column:user_id;primaryKey"`
	Email        string    `gorm:"column:email;uniqueIndex;not null"`
	PasswordHash string    `gorm:"column:password_hash;not null;default:''"`
	GoogleSub    *string   `gorm:"column:google_sub;uniqueIndex"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (credentialRecord) TableName() string {
	return "credentials"
}

// Review carries the admin decision stamped on a listing.
type Review struct {
	Status     string     `gorm:"column:status;index;not null" json:"status"`
	ReviewedBy string     `gorm:"column:reviewed_by" json:"reviewed_by,omitempty"`
	AdminNotes string     `gorm:"column:admin_notes" json:"admin_notes,omitempty"`
	ReviewedAt *time.Time `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
}

// Equipment is a shared instrument offered by an institution.
type Equipment struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	Name         string    `gorm:"column:name;index;not null" json:"name"`
	Type         string    `gorm:"column:type" json:"type"`
	Institution  string    `gorm:"column:institution" json:"institution"`
	Location     string    `gorm:"column:location" json:"location"`
	Specs        string    `gorm:"column:specs" json:"specs"`
	ContactEmail string    `gorm:"column:contact_email" json:"contact_email"`
	ImageURL     string    `gorm:"column:image_url" json:"image_url"`
	SubmittedBy  string    `gorm:"column:submitted_by;index" json:"submitted_by"`
	Review       Review    `gorm:"embedded" json:"review"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Equipment) TableName() string {
	return "equipment"
}

// Project is a research project that accepts applications.
type Project struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	Name         string    `gorm:"column:name;index;not null" json:"name"`
	Coordinator  string    `gorm:"column:coordinator" json:"coordinator"`
	Institution  string    `gorm:"column:institution" json:"institution"`
	Area         string    `gorm:"column:area" json:"area"`
	ContactEmail string    `gorm:"column:contact_email" json:"contact_email"`
	Description  string    `gorm:"column:description" json:"description"`
	Vacancies    []string  `gorm:"column:vacancies;serializer:json" json:"vacancies"`
	ImageURL     string    `gorm:"column:image_url" json:"image_url"`
	SubmittedBy  string    `gorm:"column:submitted_by;index" json:"submitted_by"`
	Review       Review    `gorm:"embedded" json:"review"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// ProjectApplication is a candidate's submission to a project.
type ProjectApplication struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	ProjectID string    `gorm:"column:project_id;index;not null" json:"project_id"`
	UserID    string    `gorm:"column:user_id;index;not null" json:"user_id"`
	Name      string    `gorm:"column:name" json:"name"`
	Email     string    `gorm:"column:email" json:"email"`
	Message   string    `gorm:"column:message" json:"message"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (ProjectApplication) TableName() string {
	return "project_applications"
}

// ForumPost is a discussion thread.
type ForumPost struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	UserID         string    `gorm:"column:user_id;index;not null" json:"user_id"`
	AuthorUsername string    `gorm:"column:author_username" json:"author_username"`
	Title          string    `gorm:"column:title;not null" json:"title"`
	Content        string    `gorm:"column:content;not null" json:"content"`
	CreatedAt      time.Time `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (ForumPost) TableName() string {
	return "forum_posts"
}

// ForumComment is a reply to a ForumPost.
type ForumComment struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	PostID         string    `gorm:"column:post_id;index;not null" json:"post_id"`
	UserID         string    `gorm:"column:user_id;index;not null" json:"user_id"`
	AuthorUsername string    `gorm:"column:author_username" json:"author_username"`
	Content        string    `gorm:"column:content;not null" json:"content"`
	CreatedAt      time.Time `gorm:"column:created_at;index" json:"created_at"`
}

func (ForumComment) TableName() string {
	return "forum_comments"
}

// ForumThread is a post together with its comments, oldest first.
type ForumThread struct {
	Post     ForumPost      `json:"post"`
	Comments []ForumComment `json:"comments"`
}

// NewsletterSubscription is one subscribed address.
type NewsletterSubscription struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Email     string    `gorm:"column:email;uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (NewsletterSubscription) TableName() string {
	return "newsletter_subscriptions"
}

// ListingFilter narrows public equipment and project lists.
// Category matches equipment type or project area.
type ListingFilter struct {
	Query       string
	Category    string
	Institution string
}

func (filter ListingFilter) normalized() ListingFilter {
	return ListingFilter{
		Query:       strings.ToLower(strings.TrimSpace(filter.Query)),
		Category:    strings.TrimSpace(filter.Category),
		Institution: strings.TrimSpace(filter.Institution),
	}
}

// PendingListings groups submissions awaiting review, oldest first.
type PendingListings struct {
	Equipment []Equipment `json:"equipment"`
	Projects  []Project   `json:"projects"`
}

// Stats are the admin dashboard counters.
type Stats struct {
	Profiles          int64 `json:"profiles"`
	ForumPosts        int64 `json:"forum_posts"`
	PendingEquipment  int64 `json:"pending_equipment"`
	PendingProjects   int64 `json:"pending_projects"`
	ApprovedEquipment int64 `json:"approved_equipment"`
	ApprovedProjects  int64 `json:"approved_projects"`
	Subscribers       int64 `json:"subscribers"`
}
