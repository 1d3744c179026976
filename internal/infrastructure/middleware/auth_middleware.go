package middleware

import (
	"strings"

	"huddle/internal/core/domain"
	"huddle/internal/core/services"
	apperrors "huddle/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ClaimsKey holds the validated *services.JoinClaims on the gin context.
const ClaimsKey = "join_claims"

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}

// RoomTokenMiddleware requires a join token. When the route has a :name
// parameter, a room-scoped token must match it. A nil token service lets
// every request through.
func RoomTokenMiddleware(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.Next()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			abortWithError(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			abortWithError(c, apperrors.NewUnauthorizedError("invalid token"))
			return
		}

		if name := c.Param("name"); name != "" && claims.Room != "" &&
			claims.Room != domain.NormalizeRoomName(name) {
			abortWithError(c, apperrors.NewUnauthorizedError("token not valid for this room"))
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func ClaimsFrom(c *gin.Context) (*services.JoinClaims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.JoinClaims)
	return claims, ok
}
