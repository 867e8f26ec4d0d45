package middleware

import (
	"github.com/gin-gonic/gin"

	"lexchat/internal/model"
	"lexchat/internal/transport/http/response"
)

// AdminChecker resolves the current admin flag of a user.
type AdminChecker interface {
	GetByID(id uint) (*model.User, error)
}

// RequireAdmin re-checks the admin flag against the store on every request.
// The flag is never trusted from the token because it can be revoked while
// a token is still live.
func RequireAdmin(users AdminChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := CurrentUserID(c)
		if !ok {
			response.Error(c, 401, response.CodeUnauthorized, "user not found in token")
			c.Abort()
			return
		}

		user, err := users.GetByID(userID)
		if err != nil {
			response.Error(c, 500, response.CodeInternalServer, "check admin status failed")
			c.Abort()
			return
		}
		if user == nil || !user.IsAdmin {
			response.Error(c, 403, response.CodeForbidden, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}
