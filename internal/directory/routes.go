package directory

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/labcommons/pkg/sessionvalidator"
	"go.uber.org/zap"
)

type validatable interface {
	Validate() error
}

// Handlers serves the /api directory routes.
type Handlers struct {
	repository *Repository
	logger     *zap.Logger
}

// NewHandlers binds handlers to repository. A nil logger discards output.
func NewHandlers(repository *Repository, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{repository: repository, logger: logger}
}

// Mount registers the /api routes. requireSession must inject sessionvalidator claims;
// requireAdmin runs after it on the admin routes.
func (handlers *Handlers) Mount(router gin.IRouter, requireSession gin.HandlerFunc, requireAdmin gin.HandlerFunc) {
	api := router.Group("/api")
	api.GET("/profiles/:id", handlers.handleGetProfileByID)
	api.GET("/equipment", handlers.handleListEquipment)
	api.GET("/projects", handlers.handleListProjects)
	api.GET("/forum/posts", handlers.handleListPosts)
	api.GET("/forum/posts/:id", handlers.handleGetThread)
	api.POST("/newsletter", handlers.handleSubscribe)

	member := api.Group("", requireSession)
	member.GET("/profile", handlers.handleGetOwnProfile)
	member.PATCH("/profile", handlers.handlePatchProfile)
	member.POST("/equipment", handlers.handleSubmitEquipment)
	member.POST("/projects", handlers.handleSubmitProject)
	member.POST("/projects/:id/applications", handlers.handleApply)
	member.POST("/forum/posts", handlers.handleCreatePost)
	member.POST("/forum/posts/:id/comments", handlers.handleAddComment)

	admin := api.Group("/admin", requireSession, requireAdmin)
	admin.GET("/pending", handlers.handleListPending)
	admin.POST("/:kind/:id/decision", handlers.handleDecision)
	admin.GET("/stats", handlers.handleStats)
}

func (handlers *Handlers) handleGetOwnProfile(contextGin *gin.Context) {
	claims, ok := requireClaims(contextGin)
	if !ok {
		return
	}
	profile, err := handlers.repository.FindProfile(contextGin.Request.Context(), claims.GetUserID())
	if err != nil {
		handlers.respondError(contextGin, "api.profile.lookup_failed", err)
		return
	}
	contextGin.JSON(http.StatusOK, profile)
}

func (handlers *Handlers) handleGetProfileByID(contextGin *gin.Context) {
	profile, err := handlers.repository.FindProfile(contextGin.Request.Context(), contextGin.Param("id"))
	if err != nil {
		handlers.respondError(contextGin, "api.profile.lookup_failed", err)
		return
	}
	contextGin.JSON(http.StatusOK, profile)
}

func (handlers *Handlers) handlePatchProfile(contextGin *gin.Context) {
	claims, ok := requireClaims(contextGin)
	if !ok {
		return
	}
	var request profilePatchRequest
	if !bindAndValidate(contextGin, &request) {
		return
	}
	profile, err := handlers.repository.UpdateProfile(contextGin.Request.Context(), claims.GetUserID(), request.ProfilePatch)
	if err != nil {
		handlers.respondError(contextGin, "api.profile.update_failed", err)
		return
	}
	handlers.logger.Info("profile updated", zap.String("code", "api.profile.updated"), zap.String("user_id", profile.ID))
	contextGin.JSON(http.StatusOK, profile)
}

func (handlers *Handlers) handleListEquipment(contextGin *gin.Context) {
	equipment, err := handlers.repository.ListEquipment(contextGin.Request.Context(), ListingFilter{
		Query:       contextGin.Query("q"),
		Category:    contextGin.Query("type"),
		Institution: contextGin.Query("institution"),
	})
	if err != nil {
		handlers.respondError(contextGin, "api.equipment.list_failed", err)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"equipment": nonNil(equipment)})
}

func (handlers *Handlers) handleSubmitEquipment(contextGin *gin.Context) {
	claims, ok := requireClaims(contextGin)
	if !ok {
		return
	}
	var request equipmentRequest
	if !bindAndValidate(contextGin, &request) {
		return
	}
	equipment, err := handlers.repository.SubmitEquipment(contextGin.Request.Context(), request.toEquipment(claims.GetUserID()))
	if err != nil {
		handlers.respondError(contextGin, "api.equipment.submit_failed", err)
		return
	}
	handlers.logger.Info("equipment submitted", zap.String("code", "api.equipment.submitted"), zap.String("equipment_id", equipment.ID))
	contextGin.JSON(http.StatusCreated, equipment)
}

func (handlers *Handlers) handleListProjects(contextGin *gin.Context) {
	projects, err := handlers.repository.ListProjects(contextGin.Request.Context(), ListingFilter{
		Query:       contextGin.Query("q"),
		Category:    contextGin.Query("area"),
		Institution: contextGin.Query("institution"),
	})
	if err != nil {
		handlers.respondError(contextGin, "api.projects.list_failed", err)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"projects": nonNil(projects)})
}

func (handlers *Handlers) handleSubmitProject(contextGin *gin.Context) {
	claims, ok := requireClaims(contextGin)
	if !ok {
		return
	}
	var request projectRequest
	if !bindAndValidate(contextGin, &request) {
		return
	}
	project, err := handlers.repository.SubmitProject(contextGin.Request.Context(), request.toProject(claims.GetUserID()))
	if err != nil {
		handlers.respondError(contextGin, "api.projects.submit_failed", err)
		return
	}
	handlers.logger.Info("project submitted", zap.String("code", "api.projects.submitted"), zap.String("project_id", project.ID))
	contextGin.JSON(http.StatusCreated, project)
}

func (handlers *Handlers) handleApply(contextGin *gin.Context) {
	claims, ok := requireClaims(contextGin)
	if !ok {
		return
	}
	var request applicationRequest
	if !bindAndValidate(contextGin, &request) {
		return
	}
	application, err := handlers.repository.ApplyToProject(contextGin.Request.Context(), ProjectApplication{
		ProjectID: contextGin.Param("id"),
		UserID:    claims.GetUserID(),
		Name:      request.Name,
		Email:     request.Email,
		Message:   request.Message,
	})
	if err != nil {
		handlers.respondError(contextGin, "api.projects.apply_failed", err)
		return
	}
	contextGin.JSON(http.StatusCreated, application)
}

func (handlers *Handlers) handleListPending(contextGin *gin.Context) {
	pending, err := handlers.repository.ListPending(contextGin.Request.Context())
	if err != nil {
		handlers.respondError(contextGin, "api.admin.pending_failed", err)
		return
	}
	contextGin.JSON(http.StatusOK, pending)
}

func (handlers *Handlers) handleDecision(contextGin *gin.Context) {
	claims, ok := requireClaims(contextGin)
	if !ok {
		return
	}
	var request decisionRequest
	if !bindAndValidate(contextGin, &request) {
		return
	}
	kind := contextGin.Param("kind")
	listingID := contextGin.Param("id")
	err := handlers.repository.Review(contextGin.Request.Context(), kind, listingID, Decision{
		Status:     request.Decision,
		Notes:      request.Notes,
		ReviewerID: claims.GetUserID(),
	})
	if err != nil {
		handlers.respondError(contextGin, "api.admin.decision_failed", err)
		return
	}
	handlers.logger.Info("listing reviewed",
		zap.String("code", "api.admin.reviewed"),
		zap.String("kind", kind),
		zap.String("listing_id", listingID),
		zap.String("decision", request.Decision),
		zap.String("reviewer_id", claims.GetUserID()),
	)
	contextGin.JSON(http.StatusOK, gin.H{"id": listingID, "status": request.Decision})
}

func (handlers *Handlers) handleStats(contextGin *gin.Context) {
	stats, err := handlers.repository.Stats(contextGin.Request.Context())
	if err != nil {
		handlers.respondError(contextGin, "api.admin.stats_failed", err)
		return
	}
	contextGin.JSON(http.StatusOK, stats)
}

func (handlers *Handlers) handleListPosts(contextGin *gin.Context) {
	posts, err := handlers.repository.ListPosts(contextGin.Request.Context(), contextGin.Query("q"))
	if err != nil {
		handlers.respondError(contextGin, "api.forum.list_failed", err)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (handlers *Handlers) handleGetThread(contextGin *gin.Context) {
	thread, err := handlers.repository.FindThread(contextGin.Request.Context(), contextGin.Param("id"))
	if err != nil {
		handlers.respondError(contextGin, "api.forum.thread_failed", err)
		return
	}
	contextGin.JSON(http.StatusOK, thread)
}

func (handlers *Handlers) handleCreatePost(contextGin *gin.Context) {
	claims, ok := requireClaims(contextGin)
	if !ok {
		return
	}
	var request postRequest
	if !bindAndValidate(contextGin, &request) {
		return
	}
	post, err := handlers.repository.CreatePost(contextGin.Request.Context(), ForumPost{
		UserID:  claims.GetUserID(),
		Title:   request.Title,
		Content: request.Content,
	})
	if err != nil {
		handlers.respondError(contextGin, "api.forum.post_failed", err)
		return
	}
	contextGin.JSON(http.StatusCreated, post)
}

func (handlers *Handlers) handleAddComment(contextGin *gin.Context) {
	claims, ok := requireClaims(contextGin)
	if !ok {
		return
	}
	var request commentRequest
	if !bindAndValidate(contextGin, &request) {
		return
	}
	comment, err := handlers.repository.AddComment(contextGin.Request.Context(), ForumComment{
		PostID:  contextGin.Param("id"),
		UserID:  claims.GetUserID(),
		Content: request.Content,
	})
	if err != nil {
		handlers.respondError(contextGin, "api.forum.comment_failed", err)
		return
	}
	contextGin.JSON(http.StatusCreated, comment)
}

func (handlers *Handlers) handleSubscribe(contextGin *gin.Context) {
	var request newsletterRequest
	if !bindAndValidate(contextGin, &request) {
		return
	}
	subscription, err := handlers.repository.Subscribe(contextGin.Request.Context(), request.Email)
	if err != nil {
		handlers.respondError(contextGin, "api.newsletter.subscribe_failed", err)
		return
	}
	contextGin.JSON(http.StatusCreated, subscription)
}

func requireClaims(contextGin *gin.Context) (*sessionvalidator.Claims, bool) {
	claims, ok := sessionvalidator.ClaimsFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	return claims, true
}

func bindAndValidate(contextGin *gin.Context, request validatable) bool {
	if err := contextGin.ShouldBindJSON(request); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return false
	}
	if err := request.Validate(); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "validation": err})
		return false
	}
	return true
}

// respondError maps repository errors to status codes; unexpected errors are logged under code.
func (handlers *Handlers) respondError(contextGin *gin.Context, code string, err error) {
	switch {
	case errors.Is(err, ErrProfileNotFound):
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
	case errors.Is(err, ErrNotFound):
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, ErrUnknownKind):
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown_kind"})
	case errors.Is(err, ErrUnknownDecision):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown_decision"})
	case errors.Is(err, ErrAlreadyReviewed):
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "already_reviewed"})
	case errors.Is(err, ErrAlreadySubscribed):
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "already_subscribed"})
	default:
		handlers.logger.Error("directory request failed", zap.String("code", code), zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
