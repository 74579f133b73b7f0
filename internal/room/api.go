// Exposes all of the REST APIs related to rooms in Carewire.

package room

import (
	"Carewire/internal/errors"
	"Carewire/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Registers all of the REST API handlers related to internal package room onto the gin server.
func APIHandlers(router *gin.Engine, service Service, serviceAuth gin.HandlerFunc, adminAuth gin.HandlerFunc, logger log.Logger) {
	roomGroup := router.Group("/api/room")
	{
		roomGroup.GET("/:key/members", serviceAuth, getMembers(service, logger))
		roomGroup.GET("/:key/activity", serviceAuth, getActivity(service, logger))
		roomGroup.DELETE("/:key", adminAuth, deleteRoom(service, logger))
	}
}

// getMembers returns a handler which serves the member list of a room.
func getMembers(service Service, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		members, err := service.Members(gctx.Param("key"))
		if err != nil {
			respondError(gctx, err)
			return
		}
		gctx.JSON(http.StatusOK, gin.H{
			"members":     members,
			"memberCount": len(members),
		})
	}
}

// getActivity returns a handler which serves the bounded activity log of a room.
func getActivity(service Service, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		activity, err := service.Activity(gctx.Param("key"))
		if err != nil {
			respondError(gctx, err)
			return
		}
		gctx.JSON(http.StatusOK, gin.H{"activity": activity})
	}
}

// deleteRoom returns a handler which administratively removes a room,
// notifying and detaching every member.
func deleteRoom(service Service, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		if err := service.Delete(gctx, gctx.Param("key"), "administrative delete"); err != nil {
			respondError(gctx, err)
			return
		}
		gctx.Status(http.StatusOK)
	}
}

// Helper to serialize a gateway error onto the REST response.
func respondError(gctx *gin.Context, err error) {
	gwerr, ok := err.(errors.ErrorResponse)
	if !ok {
		// Type assertion error
		gctx.JSON(http.StatusInternalServerError, errors.InternalServerError(""))
		return
	}
	gctx.JSON(gwerr.Status, gwerr)
}
