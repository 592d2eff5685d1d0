package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cityeye-service/internal/auth"
	"cityeye-service/internal/model"
)

const (
	claimsKey    = "tokenClaims"
	principalKey = "principal"
	authHeader   = "Authorization"
	bearerPrefix = "Bearer"
	tokenQuery   = "access_token"
)

func Auth(parser *auth.Parser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := parser.Parse(token)
		if err != nil {
			if errors.Is(err, auth.ErrSessionExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired", "sign_out": true})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		principal := model.Principal{
			UserID:     claims.UserID,
			CustomerID: claims.CustomerID,
			Role:       claims.Role,
			Token:      token,
		}

		c.Set(claimsKey, claims)
		c.Set(principalKey, principal)
		c.Next()
	}
}

// bearerToken reads the Authorization header. EventSource clients cannot set
// headers, so the event stream route also accepts the access_token query
// parameter.
func bearerToken(c *gin.Context) (string, bool) {
	raw := c.GetHeader(authHeader)
	if raw == "" {
		if token := c.Query(tokenQuery); token != "" && strings.HasSuffix(c.FullPath(), "/events") {
			return token, true
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header missing"})
		return "", false
	}

	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], bearerPrefix) || strings.TrimSpace(parts[1]) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// TokenClaims returns the claims Auth parsed for the request.
func TokenClaims(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

func MustPrincipal(c *gin.Context) (model.Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return model.Principal{}, false
	}
	principal, ok := value.(model.Principal)
	if !ok {
		return model.Principal{}, false
	}
	return principal, true
}
