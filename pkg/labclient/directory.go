package labclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Review is the moderation stamp on a listing.
type Review struct {
	Status     string     `json:"status"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	AdminNotes string     `json:"admin_notes,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// Equipment is a shared instrument listing.
type Equipment struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Institution  string    `json:"institution"`
	Location     string    `json:"location"`
	Specs        string    `json:"specs"`
	ContactEmail string    `json:"contact_email"`
	ImageURL     string    `json:"image_url"`
	SubmittedBy  string    `json:"submitted_by"`
	Review       Review    `json:"review"`
	CreatedAt    time.Time `json:"created_at"`
}

// Project is a research project listing.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Coordinator  string    `json:"coordinator"`
	Institution  string    `json:"institution"`
	Area         string    `json:"area"`
	ContactEmail string    `json:"contact_email"`
	Description  string    `json:"description"`
	Vacancies    []string  `json:"vacancies"`
	ImageURL     string    `json:"image_url"`
	SubmittedBy  string    `json:"submitted_by"`
	Review       Review    `json:"review"`
	CreatedAt    time.Time `json:"created_at"`
}

// ForumPost is a discussion thread head.
type ForumPost struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	AuthorUsername string    `json:"author_username"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ForumComment is a reply.
type ForumComment struct {
	ID             string    `json:"id"`
	PostID         string    `json:"post_id"`
	UserID         string    `json:"user_id"`
	AuthorUsername string    `json:"author_username"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ForumThread is a post and its comments, oldest first.
type ForumThread struct {
	Post     ForumPost      `json:"post"`
	Comments []ForumComment `json:"comments"`
}

// PendingListings are submissions awaiting review.
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

// ListingQuery filters equipment and project lists. Category maps to type or area.
type ListingQuery struct {
	Search      string
	Category    string
	Institution string
}

func (query ListingQuery) values(categoryParam string) url.Values {
	values := url.Values{}
	if query.Search != "" {
		values.Set("q", query.Search)
	}
	if query.Category != "" {
		values.Set(categoryParam, query.Category)
	}
	if query.Institution != "" {
		values.Set("institution", query.Institution)
	}
	return values
}

// ListEquipment returns approved equipment.
func (client *Client) ListEquipment(ctx context.Context, query ListingQuery) ([]Equipment, error) {
	var response struct {
		Equipment []Equipment `json:"equipment"`
	}
	if err := client.doJSON(ctx, http.MethodGet, "/api/equipment", query.values("type"), "", nil, &response); err != nil {
		return nil, fmt.Errorf("labclient.list_equipment: %w", err)
	}
	return response.Equipment, nil
}

// ListProjects returns approved projects.
func (client *Client) ListProjects(ctx context.Context, query ListingQuery) ([]Project, error) {
	var response struct {
		Projects []Project `json:"projects"`
	}
	if err := client.doJSON(ctx, http.MethodGet, "/api/projects", query.values("area"), "", nil, &response); err != nil {
		return nil, fmt.Errorf("labclient.list_projects: %w", err)
	}
	return response.Projects, nil
}

// ListPosts returns forum posts newest first.
func (client *Client) ListPosts(ctx context.Context, search string) ([]ForumPost, error) {
	values := url.Values{}
	if search != "" {
		values.Set("q", search)
	}
	var response struct {
		Posts []ForumPost `json:"posts"`
	}
	if err := client.doJSON(ctx, http.MethodGet, "/api/forum/posts", values, "", nil, &response); err != nil {
		return nil, fmt.Errorf("labclient.list_posts: %w", err)
	}
	return response.Posts, nil
}

// GetThread loads one post with its comments.
func (client *Client) GetThread(ctx context.Context, postID string) (ForumThread, error) {
	var thread ForumThread
	if err := client.doJSON(ctx, http.MethodGet, "/api/forum/posts/"+url.PathEscape(postID), nil, "", nil, &thread); err != nil {
		return ForumThread{}, fmt.Errorf("labclient.get_thread: %w", err)
	}
	return thread, nil
}

// CreatePost starts a forum thread as the signed-in user.
func (client *Client) CreatePost(ctx context.Context, title string, content string) (ForumPost, error) {
	accessToken, err := client.AccessToken(ctx)
	if err != nil {
		return ForumPost{}, err
	}
	var post ForumPost
	body := map[string]string{"title": title, "content": content}
	if err := client.doJSON(ctx, http.MethodPost, "/api/forum/posts", nil, accessToken, body, &post); err != nil {
		return ForumPost{}, fmt.Errorf("labclient.create_post: %w", err)
	}
	return post, nil
}

// ListPending returns submissions awaiting review. It requires an admin session.
func (client *Client) ListPending(ctx context.Context) (PendingListings, error) {
	accessToken, err := client.AccessToken(ctx)
	if err != nil {
		return PendingListings{}, err
	}
	var pending PendingListings
	if err := client.doJSON(ctx, http.MethodGet, "/api/admin/pending", nil, accessToken, nil, &pending); err != nil {
		return PendingListings{}, fmt.Errorf("labclient.list_pending: %w", err)
	}
	return pending, nil
}

// Decide approves or rejects a pending listing. kind is "equipment" or "projects".
func (client *Client) Decide(ctx context.Context, kind string, listingID string, decision string, notes string) error {
	accessToken, err := client.AccessToken(ctx)
	if err != nil {
		return err
	}
	path := "/api/admin/" + url.PathEscape(kind) + "/" + url.PathEscape(listingID) + "/decision"
	body := map[string]string{"decision": decision, "notes": notes}
	if err := client.doJSON(ctx, http.MethodPost, path, nil, accessToken, body, nil); err != nil {
		return fmt.Errorf("labclient.decide: %w", err)
	}
	return nil
}

// Stats returns the admin dashboard counters.
func (client *Client) Stats(ctx context.Context) (Stats, error) {
	accessToken, err := client.AccessToken(ctx)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	if err := client.doJSON(ctx, http.MethodGet, "/api/admin/stats", nil, accessToken, nil, &stats); err != nil {
		return Stats{}, fmt.Errorf("labclient.stats: %w", err)
	}
	return stats, nil
}

// SubscribeNewsletter adds email to the newsletter.
func (client *Client) SubscribeNewsletter(ctx context.Context, email string) error {
	if err := client.doJSON(ctx, http.MethodPost, "/api/newsletter", nil, "", map[string]string{"email": email}, nil); err != nil {
		return fmt.Errorf("labclient.subscribe_newsletter: %w", err)
	}
	return nil
}
