package sessionkit

import (
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
)

// MountAuthRoutes registers the authentication endpoints:
// /auth/register, /auth/login, /auth/google, /auth/logout,
// /auth/refresh-token, /auth/forgot-password, /auth/reset-password,
// and /users/status.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, service *Service, tokens *TokenService, users UserStore) {
	handlers := &routeHandlers{configuration: configuration, service: service}

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", handlers.register)
		authGroup.POST("/login", handlers.login)
		authGroup.POST("/google", handlers.googleSignIn)
		authGroup.POST("/logout", RequireSession(tokens, users), handlers.logout)
		authGroup.POST("/refresh-token", handlers.refresh)
		authGroup.POST("/forgot-password", handlers.forgotPassword)
		authGroup.POST("/reset-password", handlers.resetPassword)
	}

	// The SPA calls /users/status on load to silently restore a session;
	// it is the refresh exchange under another path.
	router.GET("/users/status", handlers.refresh)
}

// HandleMe returns the authenticated account stored by RequireSession.
func HandleMe() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		user, ok := CurrentUser(contextGin)
		if !ok {
			abortUnauthorized(contextGin, "missing session")
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"data": gin.H{"user": userPayload(user)}})
	}
}

type routeHandlers struct {
	configuration ServerConfig
	service       *Service
}

type registerRequest struct {
	Name     string `json:"name" binding:"required,max=128"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Role     string `json:"role" binding:"omitempty"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Remember bool   `json:"remember"`
}

type googleSignInRequest struct {
	IDToken string `json:"idToken" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

func (handlers *routeHandlers) register(contextGin *gin.Context) {
	var request registerRequest
	if bindErr := contextGin.ShouldBindJSON(&request); bindErr != nil {
		handlers.respondValidationError(contextGin, bindErr)
		return
	}

	user, registerErr := handlers.service.Register(contextGin.Request.Context(), RegisterInput{
		Name:     request.Name,
		Email:    request.Email,
		Password: request.Password,
		Role:     request.Role,
	})
	if registerErr != nil {
		handlers.respondServiceError(contextGin, registerErr)
		return
	}

	contextGin.JSON(http.StatusCreated, gin.H{
		"message": "registered",
		"data":    gin.H{"user": userPayload(user)},
	})
}

func (handlers *routeHandlers) login(contextGin *gin.Context) {
	var request loginRequest
	if bindErr := contextGin.ShouldBindJSON(&request); bindErr != nil {
		handlers.respondValidationError(contextGin, bindErr)
		return
	}

	result, loginErr := handlers.service.Login(contextGin.Request.Context(), request.Email, request.Password)
	if loginErr != nil {
		handlers.respondServiceError(contextGin, loginErr)
		return
	}

	handlers.writeRefreshCookie(contextGin, result.RefreshToken, result.RefreshExpiresAt, request.Remember)
	contextGin.JSON(http.StatusOK, gin.H{
		"message": "logged in",
		"data": gin.H{
			"user":        userPayload(result.User),
			"accessToken": result.AccessToken,
		},
	})
}

func (handlers *routeHandlers) googleSignIn(contextGin *gin.Context) {
	var request googleSignInRequest
	if bindErr := contextGin.ShouldBindJSON(&request); bindErr != nil {
		handlers.respondValidationError(contextGin, bindErr)
		return
	}

	result, signInErr := handlers.service.GoogleSignIn(contextGin.Request.Context(), request.IDToken)
	if signInErr != nil {
		handlers.respondServiceError(contextGin, signInErr)
		return
	}

	handlers.writeRefreshCookie(contextGin, result.RefreshToken, result.RefreshExpiresAt, true)
	contextGin.JSON(http.StatusOK, gin.H{
		"message": "logged in",
		"data": gin.H{
			"user":        userPayload(result.User),
			"accessToken": result.AccessToken,
		},
	})
}

func (handlers *routeHandlers) logout(contextGin *gin.Context) {
	user, ok := CurrentUser(contextGin)
	if !ok {
		abortUnauthorized(contextGin, "missing session")
		return
	}

	if logoutErr := handlers.service.Logout(contextGin.Request.Context(), user.ID); logoutErr != nil {
		handlers.respondServiceError(contextGin, logoutErr)
		return
	}

	handlers.clearRefreshCookie(contextGin)
	contextGin.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (handlers *routeHandlers) refresh(contextGin *gin.Context) {
	refreshCookie, cookieErr := contextGin.Request.Cookie(handlers.configuration.RefreshCookieName)
	if cookieErr != nil || refreshCookie == nil || refreshCookie.Value == "" {
		abortUnauthorized(contextGin, "missing refresh token")
		return
	}

	result, refreshErr := handlers.service.Refresh(contextGin.Request.Context(), refreshCookie.Value)
	if refreshErr != nil {
		handlers.respondServiceError(contextGin, refreshErr)
		return
	}

	contextGin.JSON(http.StatusOK, gin.H{
		"message": "session refreshed",
		"data": gin.H{
			"user":        userPayload(result.User),
			"accessToken": result.AccessToken,
		},
	})
}

func (handlers *routeHandlers) forgotPassword(contextGin *gin.Context) {
	var request forgotPasswordRequest
	if bindErr := contextGin.ShouldBindJSON(&request); bindErr != nil {
		handlers.respondValidationError(contextGin, bindErr)
		return
	}

	if forgotErr := handlers.service.ForgotPassword(contextGin.Request.Context(), request.Email); forgotErr != nil {
		handlers.respondServiceError(contextGin, forgotErr)
		return
	}

	contextGin.JSON(http.StatusOK, gin.H{"message": "reset link sent"})
}

func (handlers *routeHandlers) resetPassword(contextGin *gin.Context) {
	var request resetPasswordRequest
	if bindErr := contextGin.ShouldBindJSON(&request); bindErr != nil {
		handlers.respondValidationError(contextGin, bindErr)
		return
	}

	if resetErr := handlers.service.ResetPassword(contextGin.Request.Context(), request.Token, request.Password); resetErr != nil {
		handlers.respondServiceError(contextGin, resetErr)
		return
	}

	contextGin.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

func (handlers *routeHandlers) writeRefreshCookie(contextGin *gin.Context, refreshToken string, expiresAt time.Time, remember bool) {
	cookie := &http.Cookie{
		Name:     handlers.configuration.RefreshCookieName,
		Value:    refreshToken,
		Path:     "/",
		Domain:   handlers.configuration.CookieDomain,
		Secure:   !handlers.configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: handlers.configuration.SameSiteMode,
	}
	// Without remember the cookie lives only for the browser session; the
	// embedded expiry still bounds the token itself.
	if remember {
		cookie.Expires = expiresAt
	}
	http.SetCookie(contextGin.Writer, cookie)
}

func (handlers *routeHandlers) clearRefreshCookie(contextGin *gin.Context) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     handlers.configuration.RefreshCookieName,
		Value:    "",
		Path:     "/",
		Domain:   handlers.configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !handlers.configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: handlers.configuration.SameSiteMode,
	})
}

func (handlers *routeHandlers) respondValidationError(contextGin *gin.Context, bindErr error) {
	contextGin.JSON(http.StatusBadRequest, errorEnvelope(http.StatusBadRequest, "validation failed", []string{bindErr.Error()}, handlers.configuration.ExposeErrorStack))
}

func (handlers *routeHandlers) respondServiceError(contextGin *gin.Context, serviceErr error) {
	status := statusForError(serviceErr)
	message := messageForError(serviceErr)
	contextGin.JSON(status, errorEnvelope(status, message, nil, handlers.configuration.ExposeErrorStack))
}

func userPayload(user User) gin.H {
	payload := gin.H{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
		"role":  string(user.Role),
	}
	if !user.CreatedAt.IsZero() {
		payload["createdAt"] = user.CreatedAt.UTC()
	}
	return payload
}

// errorEnvelope is the uniform failure payload:
// {statusCode, message, error[], stack (dev-only)}.
func errorEnvelope(statusCode int, message string, details []string, includeStack bool) gin.H {
	if details == nil {
		details = []string{}
	}
	envelope := gin.H{
		"statusCode": statusCode,
		"message":    message,
		"error":      details,
	}
	if includeStack {
		envelope["stack"] = string(debug.Stack())
	}
	return envelope
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusForbidden
	case errors.Is(err, ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRoleNotAssignable), errors.Is(err, ErrGoogleSignInDisabled):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func messageForError(err error) string {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return "user not found"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, ErrEmailTaken):
		return "email already registered"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired):
		return "unauthorized"
	case errors.Is(err, ErrRoleNotAssignable):
		return "role not assignable"
	case errors.Is(err, ErrGoogleSignInDisabled):
		return "google sign-in is not configured"
	default:
		return "internal error"
	}
}
