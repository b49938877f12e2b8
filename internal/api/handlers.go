package api

import (
	"strconv"

	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/internal/repository"
	"github.com/emberhost/panel/internal/service"
	"github.com/gin-gonic/gin"
)

// currentUserID returns the authenticated user's id, or nil when the request
// carries no user context.
func currentUserID(c *gin.Context) *uint {
	v, ok := c.Get("user_id")
	if !ok {
		return nil
	}
	id, ok := v.(uint)
	if !ok {
		return nil
	}
	return &id
}

func isAdmin(c *gin.Context) bool {
	v, ok := c.Get("is_admin")
	return ok && v == true
}

func canDeleteBackups(c *gin.Context) bool {
	v, ok := c.Get("can_delete_backups")
	return ok && v == true
}

// loadServer resolves the :server UUID parameter to a server the requester is
// allowed to manage. Non-owners get the same 404 as a missing server so the
// API does not leak which servers exist.
func loadServer(c *gin.Context, servers *repository.ServerRepository) (*models.Server, error) {
	server, err := servers.FindByUUID(c.Param("server"))
	if err != nil {
		if service.IsNotFound(err) {
			return nil, middleware.NewNotFoundError("Server")
		}
		return nil, err
	}

	userID := currentUserID(c)
	if userID == nil || (server.OwnerID != *userID && !isAdmin(c)) {
		return nil, middleware.NewNotFoundError("Server")
	}

	return server, nil
}

// uintParam parses a numeric path parameter
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}
