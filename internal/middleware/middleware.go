package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

// CorrelationID tags every request with an id for tracking it for its lifetime.
func CorrelationID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		correlationID := ctx.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		ctx.Set("correlation_id", correlationID)
		ctx.Header("X-Correlation-ID", correlationID)
		ctx.Next()
	}
}

// AuthMiddleware validates the bearer token on every API route.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authKey := c.GetHeader("Authorization")
		if authKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authorization header required",
				"message": "Unauthorized",
			})
			c.Abort()
			return
		}
		parts := strings.Split(authKey, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid Authorization header",
				"message": "Unauthorized",
			})
			c.Abort()
			return
		}
		tokenString := parts[1]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid Token",
				"message": "Unauthorized",
			})
			c.Abort()
			return
		}
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			c.Set("user_id", claims["user_id"])
		}
		c.Next()
	}
}
