package sessionkit

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextUserKey is where RequireSession stores the loaded account.
	ContextUserKey = "auth_user"
	// ContextClaimsKey is where RequireSession stores the token claims.
	ContextClaimsKey = "auth_claims"
)

// RequireSession validates the bearer access token, loads the account, and
// injects both into the request context. The verify and load steps complete
// before the handler runs.
func RequireSession(tokens *TokenService, users UserStore) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		bearerToken := extractBearerToken(contextGin.GetHeader("Authorization"))
		if bearerToken == "" {
			abortUnauthorized(contextGin, "missing bearer token")
			return
		}

		claims, parseErr := tokens.ParseAccessToken(bearerToken)
		if parseErr != nil {
			abortUnauthorized(contextGin, "invalid or expired token")
			return
		}

		user, findErr := users.FindByID(contextGin.Request.Context(), claims.UserID)
		if findErr != nil {
			abortUnauthorized(contextGin, "unknown account")
			return
		}

		contextGin.Set(ContextUserKey, user.Sanitized())
		contextGin.Set(ContextClaimsKey, claims)
		contextGin.Next()
	}
}

// RequireRole gates a route to accounts whose role appears in the allow-list.
// It must run after RequireSession.
func RequireRole(allowed ...Role) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		user, ok := CurrentUser(contextGin)
		if !ok {
			abortUnauthorized(contextGin, "missing session")
			return
		}
		if !user.Role.OneOf(allowed...) {
			contextGin.AbortWithStatusJSON(http.StatusForbidden, errorEnvelope(http.StatusForbidden, "forbidden", nil, false))
			return
		}
		contextGin.Next()
	}
}

// CurrentUser extracts the authenticated account from the request context.
func CurrentUser(contextGin *gin.Context) (User, bool) {
	value, exists := contextGin.Get(ContextUserKey)
	if !exists {
		return User{}, false
	}
	user, ok := value.(User)
	return user, ok
}

func extractBearerToken(header string) string {
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}

func abortUnauthorized(contextGin *gin.Context, message string) {
	contextGin.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope(http.StatusUnauthorized, message, nil, false))
}
