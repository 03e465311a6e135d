package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"assetflow/internal/policy"
	"assetflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenCookie = "access_token"
	actorKey    = "actor"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the session payload: who the caller is, what role they hold and, for DB users, their distributor.
type Claims struct {
	Role          string `json:"role"`
	DistributorID *uint  `json:"dist,omitempty"`
	jwt.RegisteredClaims
}

// Auth issues and verifies HS256 session tokens.
type Auth struct {
	secret        []byte
	ttl           time.Duration
	secureCookies bool
}

func NewAuth(secret string, ttl time.Duration, secureCookies bool) *Auth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), ttl: ttl, secureCookies: secureCookies}
}

func (a *Auth) IssueToken(actor policy.Actor) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:          actor.Role.String(),
		DistributorID: actor.DistributorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(actor.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken verifies a token and returns the actor it carries.
func (a *Auth) ParseToken(tokenString string) (policy.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		return policy.Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return policy.Actor{}, ErrInvalidToken
	}

	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return policy.Actor{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	role, ok := policy.ParseRole(claims.Role)
	if !ok {
		return policy.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	actor := policy.Actor{ID: uint(id), Role: role}
	if role == policy.RoleDB {
		actor.DistributorID = claims.DistributorID
	}
	return actor, nil
}

// SetTokenCookie stores the session token as an HttpOnly cookie.
func (a *Auth) SetTokenCookie(c *gin.Context, token string) {
	a.setCookie(c, token, int(a.ttl.Seconds()))
}

func (a *Auth) ClearTokenCookie(c *gin.Context) {
	a.setCookie(c, "", -1)
}

func (a *Auth) setCookie(c *gin.Context, value string, maxAge int) {
	// Cross-origin deployments need SameSite=None, which browsers only accept with Secure.
	if a.secureCookies {
		c.SetSameSite(http.SameSiteNoneMode)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
	}
	c.SetCookie(TokenCookie, value, maxAge, "/", "", a.secureCookies, true)
}

// TokenFrom reads the session token from the cookie, falling back to a Bearer header.
func TokenFrom(c *gin.Context) string {
	if token, err := c.Cookie(TokenCookie); err == nil && token != "" {
		return token
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// Authenticate rejects requests without a valid session and stores the actor on the context.
func (a *Auth) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := TokenFrom(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}

		actor, err := a.ParseToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid or expired token"))
			return
		}

		c.Set(actorKey, actor)
		c.Set("user_id", strconv.FormatUint(uint64(actor.ID), 10))
		c.Next()
	}
}

// RequireRole must run after Authenticate.
func RequireRole(allowed ...policy.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}
		for _, role := range allowed {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
	}
}

// ActorFrom returns the actor stored by Authenticate.
func ActorFrom(c *gin.Context) (policy.Actor, bool) {
	v, exists := c.Get(actorKey)
	if !exists {
		return policy.Actor{}, false
	}
	actor, ok := v.(policy.Actor)
	return actor, ok
}
