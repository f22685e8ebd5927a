package http

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"traffic-fines-service/internal/config"
)

const (
	ctxUserKey = "auth_user"
	ctxRoleKey = "auth_role"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator issues and verifies HS256 tokens for the configured users.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  map[string]config.User
	now    func() time.Time
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	users := make(map[string]config.User, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Name] = u
	}
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.TokenTTL,
		users:  users,
		now:    time.Now,
	}
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Login checks the password in constant time and returns a signed token.
func (a *Authenticator) Login(username, password string) (string, config.User, error) {
	u, ok := a.users[username]
	if !ok || subtle.ConstantTimeCompare([]byte(password), []byte(u.Password)) != 1 {
		return "", config.User{}, ErrInvalidCredentials
	}

	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", config.User{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, u, nil
}

func (a *Authenticator) parse(tokenString string) (*claims, error) {
	parsed := &claims{}
	_, err := jwt.ParseWithClaims(tokenString, parsed, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	if parsed.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return parsed, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's name and role on the context.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("missing authorization header"))
			return
		}
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("invalid authorization header"))
			return
		}

		cl, err := a.parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("invalid or expired token"))
			return
		}

		c.Set(ctxUserKey, cl.Subject)
		c.Set(ctxRoleKey, cl.Role)
		c.Next()
	}
}

// RequireRole must run after Middleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRoleKey) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse("insufficient permissions"))
			return
		}
		c.Next()
	}
}
