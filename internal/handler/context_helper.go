package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mentor-trust-api/internal/middleware"
	"github.com/noah-isme/mentor-trust-api/internal/models"
	"github.com/noah-isme/mentor-trust-api/pkg/middleware/requestid"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext combines the caller's claims with the request metadata
// recorded on audit entries.
func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return models.Actor{}, false
	}
	name := claims.FullName
	if name == "" {
		name = claims.Email
	}
	return models.Actor{
		ID:        claims.UserID,
		Name:      name,
		Role:      claims.Role,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: requestid.Value(c),
	}, true
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
