package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/dealdesk/internal/logging"
)

const (
	// ContextKeyAuthenticated is set when the request carried a valid API key.
	ContextKeyAuthenticated = "authenticated"
	// ContextKeyKeyFingerprint holds a loggable fingerprint of the key used.
	ContextKeyKeyFingerprint = "apiKeyFingerprint"
	// ContextKeyActorID holds the acting user supplied by the adapter.
	ContextKeyActorID = "actorID"

	// HeaderActorID is the header the adapter uses to name the acting user.
	HeaderActorID = "X-Actor-ID"

	maxActorIDLength = 64
)

// Middleware validates the API key, when present, and records the acting
// user. It never rejects; use RequireAuth and RequireActor for that.
func Middleware(k *Keyring) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if k.Empty() {
			c.Set(ContextKeyAuthenticated, true)
		} else if apiKey != "" && k.Validate(apiKey) == nil {
			c.Set(ContextKeyAuthenticated, true)
			c.Set(ContextKeyKeyFingerprint, Fingerprint(apiKey))
		}

		if actor := strings.TrimSpace(c.GetHeader(HeaderActorID)); actor != "" {
			c.Set(ContextKeyActorID, actor)
			c.Request = c.Request.WithContext(logging.WithActorID(c.Request.Context(), actor))
		}

		c.Next()
	}
}

// RequireAuth rejects requests without a valid API key.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer <key>' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireActor rejects requests that do not name a well-formed acting user.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := ActorID(c); actor == "" || len(actor) > maxActorIDLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "actor_required",
				"message": HeaderActorID + " header must name the acting account",
			})
			return
		}
		c.Next()
	}
}

// ActorID returns the acting user, or "" when none was supplied.
func ActorID(c *gin.Context) string {
	return c.GetString(ContextKeyActorID)
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	return c.GetBool(ContextKeyAuthenticated)
}
