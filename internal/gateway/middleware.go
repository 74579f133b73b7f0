// Gateway middlewares guarding the internal REST surface.
// The notify/stats endpoints are for the document-processing pipeline, the
// destructive room endpoint is for operators holding the admin key.

package gateway

import (
	"Carewire/internal/errors"
	"Carewire/pkg/log"
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// ServiceAuthMiddleware verifies the shared service key sent by the pipeline.
// Blocks the request to go further into other handlers if the key is wrong.
func ServiceAuthMiddleware(logger log.Logger, serviceKey string) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		provided := gctx.GetHeader("X-Service-Key")
		if provided == "" {
			gwerr := errors.MissingToken("Request is missing the service key header.")
			gctx.AbortWithStatusJSON(gwerr.Status, gwerr)
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(serviceKey)) != 1 {
			logger.WithCtx(gctx).Warn().Msg("Rejected internal API call with a wrong service key")
			gwerr := errors.InsufficientPermissions("")
			gctx.AbortWithStatusJSON(gwerr.Status, gwerr)
			return
		}
		gctx.Next()
	}
}

// AdminAuthMiddleware verifies the admin key against its bcrypt hash.
// Required for administrative room deletion.
func AdminAuthMiddleware(logger log.Logger, adminKeyHash string) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		provided := gctx.GetHeader("X-Admin-Key")
		if provided == "" {
			gwerr := errors.MissingToken("Request is missing the admin key header.")
			gctx.AbortWithStatusJSON(gwerr.Status, gwerr)
			return
		}
		if bcrerr := bcrypt.CompareHashAndPassword([]byte(adminKeyHash), []byte(provided)); bcrerr != nil {
			logger.WithCtx(gctx).Warn().Msg("Rejected administrative call with a wrong admin key")
			gwerr := errors.InsufficientPermissions("")
			gctx.AbortWithStatusJSON(gwerr.Status, gwerr)
			return
		}
		gctx.Next()
	}
}
