// List of all REST API endpoints being used by Carewire can be found here.

package main

import (
	"Carewire/internal/gateway"
	"Carewire/internal/room"
	"Carewire/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

func Router(router *gin.Engine, gwService gateway.Service, roomService room.Service,
	serviceAuth gin.HandlerFunc, adminAuth gin.HandlerFunc, logger log.Logger) {
	// This is the route to default path
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Welcome to Carewire!")
	})
	gateway.APIHandlers(router, gwService, serviceAuth, logger)
	room.APIHandlers(router, roomService, serviceAuth, adminAuth, logger)
}
