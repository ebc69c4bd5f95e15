// Package auth holds the bearer credential issued by the forum auth service
// and applies it to REST requests and the live-connection handshake.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when no bearer token is available.
var ErrMissingToken = errors.New("bearer token is required")

// TokenParam is the query parameter carrying the token on the handshake.
const TokenParam = "token"

// Credential is an opaque bearer token plus the identity claims it carries.
// The claims are read without verification; the services verify the token.
type Credential struct {
	Token     string
	Username  string // "username" claim (empty if absent)
	UserID    int64  // "user_id" claim, falling back to a numeric "sub"
	Role      string // "role" claim
	ExpiresAt time.Time
}

// NewCredential builds a credential from a raw token. Tokens that are not
// JWTs are accepted as opaque strings with no identity.
func NewCredential(token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if rest, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = strings.TrimSpace(rest)
	} else if token == "Bearer" {
		token = ""
	}
	if token == "" {
		return Credential{}, ErrMissingToken
	}

	cred := Credential{Token: token}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return cred, nil
	}

	if v, ok := claims["username"].(string); ok {
		cred.Username = v
	}
	if v, ok := claims["role"].(string); ok {
		cred.Role = v
	}
	cred.UserID = numericClaim(claims["user_id"])
	if cred.UserID == 0 {
		if sub, err := claims.GetSubject(); err == nil {
			cred.UserID, _ = strconv.ParseInt(sub, 10, 64)
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		cred.ExpiresAt = exp.Time
	}

	return cred, nil
}

// LoadCredential reads the token from a literal value or, if empty, from a file.
func LoadCredential(token, tokenPath string) (Credential, error) {
	if strings.TrimSpace(token) == "" && tokenPath != "" {
		data, err := os.ReadFile(tokenPath)
		if err != nil {
			return Credential{}, fmt.Errorf("read token file: %w", err)
		}
		token = string(data)
	}
	return NewCredential(token)
}

// IsZero reports whether the credential carries no token.
func (c Credential) IsZero() bool {
	return c.Token == ""
}

// Expired reports whether the exp claim is in the past. Tokens without exp never expire.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// BearerHeader returns request headers carrying the token.
func (c Credential) BearerHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.Token)
	return h
}

// HandshakeURL returns base with the token attached as a connection parameter.
func (c Credential) HandshakeURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("websocket url must use ws or wss, got %q", u.Scheme)
	}
	q := u.Query()
	q.Set(TokenParam, c.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// String redacts the token so credentials can be logged.
func (c Credential) String() string {
	if c.Username != "" {
		return "Credential(" + c.Username + ")"
	}
	return "Credential(redacted)"
}

func numericClaim(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		id, _ := strconv.ParseInt(n, 10, 64)
		return id
	}
	return 0
}
