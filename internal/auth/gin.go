package auth

import (
	"fmt"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/utils"

	"github.com/gin-gonic/gin"
)

// GinMiddleware is Middleware for the gin-served payment routes.
func (v *Verifier) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := v.authenticate(c.Request, false)
		if err != nil {
			v.log.LogSecurity("AUTH_REJECTED", fmt.Sprintf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err))
			e := apperr.Unauthorized("invalid or missing token")
			c.AbortWithStatusJSON(apperr.HTTPStatus(e.Kind), utils.ErrorFrom(e))
			return
		}
		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func GinActor(c *gin.Context) (models.Actor, bool) {
	return ActorFrom(c.Request.Context())
}
