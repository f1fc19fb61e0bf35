package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	logger   *slog.Logger
	engine   *Engine
	metadata MetadataStore
	profiles ProfileStore
	cache    ProfileCache
	perms    Permissions
}

func newRouter(h *handlers, rps float64, burst int) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(rateLimitMiddleware(newClientLimiters(rps, burst)))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", identityMiddleware())
	{
		authed.POST("/blobs", h.createBlob)
		authed.GET("/blobs", h.queryBlobs)
		authed.GET("/blobs/:id", h.readBlob)
		authed.POST("/blobs/:id", h.updateBlob)
		authed.DELETE("/blobs/:id", h.removeBlob)
		authed.GET("/blobs/:id/content", h.readContent)
		authed.DELETE("/blobs/:id/content", h.removeContent)

		authed.PUT("/profiles/:name", h.upsertProfile)
		authed.GET("/profiles/:name", h.readProfile)
		authed.GET("/profiles", h.listProfiles)
		authed.DELETE("/profiles/:name", h.deleteProfile)
	}

	return router
}

// writeError maps engine error kinds to HTTP status codes. Unexpected
// store failures are logged and surfaced as a bare 500.
func (h *handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnprocessable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *handlers) createBlob(c *gin.Context) {
	profile := c.GetHeader("Import-Profile")
	if profile == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Import-Profile header is required"})
		return
	}
	contentType := c.GetHeader("Content-Type")
	if contentType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content-Type header is required"})
		return
	}

	id, err := h.engine.Create(c.Request.Context(), currentUser(c), CreateRequest{
		Profile:       profile,
		ContentType:   contentType,
		CorrelationID: c.GetHeader("X-Correlation-Id"),
		Cataloger:     c.GetHeader("X-Cataloger"),
		Body:          c.Request.Body,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Location", h.engine.baseURL+"/blobs/"+id)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *handlers) queryBlobs(c *gin.Context) {
	user := currentUser(c)
	if failed := ValidateQueryParams(c.Request.URL.Query(), user, h.perms); len(failed) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"invalidParameters": failed})
		return
	}

	result, err := h.engine.Query(c.Request.Context(), user, ParseQueryParams(c.Request.URL.Query()))
	if err != nil {
		h.writeError(c, err)
		return
	}

	if result.HasMore {
		c.Header("NextOffset", strconv.Itoa(result.NextOffset))
		c.Header("QueryLimitReached", "1")
	}
	c.JSON(http.StatusOK, result.Results)
}

func (h *handlers) readBlob(c *gin.Context) {
	blob, err := h.engine.Read(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, blob)
}

func (h *handlers) updateBlob(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	op, err := ParseUpdatePayload(body)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if err := h.engine.Update(c.Request.Context(), currentUser(c), c.Param("id"), op); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) removeBlob(c *gin.Context) {
	if err := h.engine.Remove(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) readContent(c *gin.Context) {
	contentType, reader, size, err := h.engine.ReadContent(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, size, contentType, reader, nil)
}

func (h *handlers) removeContent(c *gin.Context) {
	if err := h.engine.RemoveContent(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type profileBody struct {
	Groups []string `json:"groups"`
}

func (h *handlers) upsertProfile(c *gin.Context) {
	if !h.perms.HasAdmin(currentUser(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "managing profiles requires admin permission"})
		return
	}

	name := c.Param("name")
	if !profilePattern.MatchString(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile name"})
		return
	}

	var body profileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed profile body"})
		return
	}

	created, err := h.profiles.Upsert(c.Request.Context(), &Profile{Name: name, Groups: body.Groups})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.cache.Delete(c.Request.Context(), name); err != nil {
		h.logger.Warn("failed to invalidate cached profile", "profile", name, "error", err)
	}

	if created {
		c.Status(http.StatusCreated)
	} else {
		c.Status(http.StatusNoContent)
	}
}

func (h *handlers) readProfile(c *gin.Context) {
	name := c.Param("name")
	profile, err := h.profiles.FindByName(c.Request.Context(), name)
	if err != nil {
		h.writeError(c, err)
		return
	}

	user := currentUser(c)
	if !h.perms.HasAdmin(user) && !h.perms.Has(user.Groups, profile.Groups) {
		c.JSON(http.StatusForbidden, gin.H{"error": "no permission on profile " + name})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *handlers) listProfiles(c *gin.Context) {
	all, err := h.profiles.FindAll(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	user := currentUser(c)
	visible := []Profile{}
	for _, profile := range all {
		if h.perms.HasAdmin(user) || h.perms.Has(user.Groups, profile.Groups) {
			visible = append(visible, profile)
		}
	}
	c.JSON(http.StatusOK, visible)
}

func (h *handlers) deleteProfile(c *gin.Context) {
	if !h.perms.HasAdmin(currentUser(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "managing profiles requires admin permission"})
		return
	}

	name := c.Param("name")
	count, err := h.metadata.CountByProfile(c.Request.Context(), name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "profile still referenced by blobs"})
		return
	}

	if err := h.profiles.Delete(c.Request.Context(), name); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.cache.Delete(c.Request.Context(), name); err != nil {
		h.logger.Warn("failed to invalidate cached profile", "profile", name, "error", err)
	}
	c.Status(http.StatusNoContent)
}
