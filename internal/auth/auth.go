// Package auth guards the API with a shared key.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

const (
	HeaderAPIKey = "X-Api-Key"
	QueryAPIKey  = "apikey"
)

// Validator validates an API key.
type Validator interface {
	Validate(key string) error
}

// StaticKey accepts a single shared key. An empty Key rejects everything.
type StaticKey struct {
	Key string
}

func (s StaticKey) Validate(key string) error {
	if s.Key == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Key), []byte(key)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(key string) error

func (f FuncValidator) Validate(key string) error {
	return f(key)
}

// KeyFromRequest reads the key from X-Api-Key, a bearer Authorization
// header, or the apikey query parameter used by websocket clients.
func KeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key
	}
	if authz := r.Header.Get("Authorization"); authz != "" {
		if scheme, token, ok := strings.Cut(authz, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryAPIKey))
}

// Middleware rejects requests whose key v does not accept. A nil v lets
// everything through.
func Middleware(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}
		if err := v.Validate(KeyFromRequest(c.Request)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
