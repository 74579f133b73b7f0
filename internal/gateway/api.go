// Exposes all of the REST APIs related to the gateway in Carewire.

package gateway

import (
	"Carewire/internal/entity"
	"Carewire/internal/errors"
	"Carewire/pkg/log"
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/gin-gonic/gin"
)

// Registers all of the REST API handlers related to internal package gateway onto the gin server.
func APIHandlers(router *gin.Engine, service Service, serviceAuth gin.HandlerFunc, logger log.Logger) {
	gatewayGroup := router.Group("/api/gateway")
	{
		gatewayGroup.GET("/connect", connect(service))
		gatewayGroup.GET("/stats", serviceAuth, stats(service))
	}
	notifyGroup := router.Group("/api/notify", serviceAuth)
	{
		notifyGroup.POST("/:key", notifyRoom(service, logger))
	}
}

// connect returns a handler which upgrades the request into a live gateway session.
func connect(service Service) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		service.HandleConnection(gctx)
	}
}

// stats returns a handler which serves live gateway state for observability.
func stats(service Service) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		gctx.JSON(http.StatusOK, service.Stats(gctx))
	}
}

// notifyRoom returns a handler through which the document-processing pipeline
// delivers a lifecycle event to every session subscribed to a room.
// The payload is opaque and passed through untouched.
func notifyRoom(service Service, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		var frame entity.Frame

		// Serialize received data into Frame struct
		if binderr := gctx.BindJSON(&frame); binderr != nil {
			// Error occured during serialization
			logger.WithCtx(gctx).Error().Err(binderr).Msg("Binding error occured with Frame struct.")
			gctx.JSON(http.StatusUnprocessableEntity, errors.EventValidationFailed("", nil))
			return
		}
		if _, valerr := govalidator.ValidateStruct(frame); valerr != nil {
			verrs := valerr.(govalidator.Errors).Errors()
			gwerr := errors.GenerateValidationErrorResponse(verrs)
			gctx.JSON(gwerr.Status, gwerr)
			return
		}

		key := gctx.Param("key")
		if emiterr := service.EmitToRoom(gctx, key, frame.Event, frame.Data); emiterr != nil {
			// Error occured, might be an unknown room or emit failure
			gwerr, ok := emiterr.(errors.ErrorResponse)
			if !ok {
				// Type assertion error
				gctx.JSON(http.StatusInternalServerError, errors.InternalServerError(""))
				return
			}
			gctx.JSON(gwerr.Status, gwerr)
			return
		}
		gctx.Status(http.StatusOK)
	}
}
