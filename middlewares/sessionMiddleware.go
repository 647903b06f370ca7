package middlewares

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/utils"
)

// Session is written to redis under "Session:<token>" by the auth service.
type Session struct {
	UserId     int    `json:"user_id"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	BusinessId string `json:"business_id"`
	IsAdmin    bool   `json:"is_admin"`
}

func SessionKey(token string) string {
	return "Session:" + token
}

func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		var session Session
		exists, err := config.GetRedisObject(c.Request.Context(), SessionKey(token), &session)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(withSession(c.Request.Context(), token, session))
		c.Next()
	}
}

func withSession(ctx context.Context, token string, session Session) context.Context {
	ctx = utils.SetTokenInContext(ctx, token)
	ctx = utils.SetUsernameInContext(ctx, session.Username)
	ctx = utils.SetUserIdInContext(ctx, session.UserId)
	ctx = utils.SetUserNameInContext(ctx, session.Name)
	ctx = utils.SetBusinessIdInContext(ctx, session.BusinessId)
	return utils.SetIsAdminInContext(ctx, session.IsAdmin)
}

// RequireSession rejects requests that did not resolve to a business.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context()); !ok || businessId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
