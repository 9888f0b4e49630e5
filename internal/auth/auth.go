// Package auth gates the dashboard behind a single configured operator
// account using bcrypt and HS256 session tokens.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// CookieName is the cookie the login endpoint sets for browser sessions.
const CookieName = "session"

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

type Config struct {
	Username string
	Password string
	// Secret signs tokens. When empty a random secret is generated, so
	// sessions do not survive a restart.
	Secret string
	TTL    time.Duration
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

type Claims struct {
	Username string `json:"username"`
	jwt.StandardClaims
}

type Authenticator struct {
	username     string
	passwordHash []byte
	key          []byte
	ttl          time.Duration
	now          func() time.Time
}

func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("auth: username and password are required")
	}
	cost := cfg.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	key := []byte(cfg.Secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Authenticator{
		username:     cfg.Username,
		passwordHash: hash,
		key:          key,
		ttl:          ttl,
		now:          time.Now,
	}, nil
}

// TTL is the lifetime of issued tokens.
func (a *Authenticator) TTL() time.Duration {
	return a.ttl
}

// Login checks the credentials and returns a signed session token.
func (a *Authenticator) Login(username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return "", ErrInvalidCredentials
	}

	now := a.now()
	claims := &Claims{
		Username: username,
		StandardClaims: jwt.StandardClaims{
			Subject:   username,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(a.ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.key)
}

// Verify parses a token and returns its claims when the signature and
// expiry are valid.
func (a *Authenticator) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type contextKey struct{}

// UsernameFromContext returns the authenticated operator set by Middleware.
func UsernameFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(contextKey{}).(string)
	return u, ok
}

// TokenFromRequest returns the bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Middleware rejects requests without a valid token. onFail writes the
// rejection; nil means a plain 401.
func (a *Authenticator) Middleware(onFail http.HandlerFunc) func(http.Handler) http.Handler {
	if onFail == nil {
		onFail = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := TokenFromRequest(r)
			if tok == "" {
				onFail(w, r)
				return
			}
			claims, err := a.Verify(tok)
			if err != nil {
				onFail(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), contextKey{}, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
