package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned by Login for a wrong username or password.
var ErrBadCredentials = errors.New("invalid username or password")

type contextKey string

const usernameKey contextKey = "username"

// Claims are the admin token claims.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator checks admin credentials and issues HS256 tokens.
type Authenticator struct {
	username string
	password string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthenticator creates an authenticator. password may be plain text
// or a bcrypt hash.
func NewAuthenticator(username, password, secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{
		username: username,
		password: password,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Login verifies the credentials and returns a signed token.
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) != 1 || !a.checkPassword(password) {
		return "", time.Time{}, ErrBadCredentials
	}

	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expires, nil
}

// Verify parses a token and returns the username it was issued to.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid or expired token")
	}
	return claims.Subject, nil
}

func (a *Authenticator) checkPassword(password string) bool {
	if isBcryptHash(a.password) {
		return bcrypt.CompareHashAndPassword([]byte(a.password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// private rejects requests without a valid bearer token.
func (a *Authenticator) private(handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeResult(w, Unauthorized("Missing authorization header"))
			return
		}

		username, err := a.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeResult(w, Unauthorized("Invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, username)
		public(handler)(w, r.WithContext(ctx))
	}
}

func usernameFrom(ctx context.Context) string {
	s, _ := ctx.Value(usernameKey).(string)
	return s
}
