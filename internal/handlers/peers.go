package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/mossy-p/peercam/internal/errors"
	"github.com/mossy-p/peercam/internal/models"
	"github.com/mossy-p/peercam/internal/registry"
	"github.com/mossy-p/peercam/internal/session"
)

// GetPeer reports whether an identity is currently registered, so a viewer
// can check a typed camera id before calling (public).
func GetPeer(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("peerId")
		if !reg.IsRegistered(id) {
			abortWithError(c, apperrors.ErrUnknownPeer.WithMessage("peer %q is not registered", id))
			return
		}
		c.JSON(http.StatusOK, models.PeerLookupResponse{ID: id, Registered: true})
	}
}

// ListSessions lists open sessions (admin). ?peer=<id> restricts the list
// to the sessions that peer takes part in.
func ListSessions(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sessions []models.SessionInfo
		if peer := c.Query("peer"); peer != "" {
			sessions = coord.OpenFor(peer)
		} else {
			sessions = coord.List()
		}
		c.JSON(http.StatusOK, gin.H{
			"policy":   coord.Policy(),
			"sessions": sessions,
		})
	}
}

// GetSession returns an open or recently closed session (admin).
func GetSession(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, ok := coord.Get(c.Param("sessionId"))
		if !ok {
			abortWithError(c, apperrors.ErrUnknownSession)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// DeleteSession force-closes a session (admin). Closing twice is not an error.
func DeleteSession(coord *session.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if _, ok := coord.Get(id); !ok {
			abortWithError(c, apperrors.ErrUnknownSession)
			return
		}
		closed := coord.Close(id, models.ReasonAdmin)
		c.JSON(http.StatusOK, gin.H{"id": id, "closed": closed})
	}
}

func abortWithError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.WrapError(apperrors.ErrCodeInternal, err)
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"code":  appErr.Code,
		"error": appErr.Message,
	})
}
