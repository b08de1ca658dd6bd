// Package identity resolves who is calling: an anonymous but stable client
// fingerprint kept in a cookie, and an optional user id taken from a signed
// bearer token.
package identity

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rewired-gh/metroevents/internal/logger"
)

// DefaultCookieName is the fingerprint cookie name.
const DefaultCookieName = "mm-fp"

const cookieMaxAge = 365 * 24 * time.Hour

// Identity describes the caller of one request.
type Identity struct {
	Fingerprint string
	UserID      *string // nil for anonymous callers
}

// Authenticated reports whether the caller presented a valid token.
func (id Identity) Authenticated() bool {
	return id.UserID != nil
}

// Claims is the token payload. The user id is read from userId, falling back
// to the registered subject.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Resolver resolves identities from HTTP requests.
type Resolver struct {
	cookieName string
	secret     []byte
	now        func() time.Time
}

// NewResolver creates a resolver. An empty secret disables token auth, so
// every caller is anonymous.
func NewResolver(cookieName, jwtSecret string) *Resolver {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Resolver{
		cookieName: cookieName,
		secret:     []byte(jwtSecret),
		now:        time.Now,
	}
}

// Resolve returns the caller's identity, issuing a fingerprint cookie on w
// when the request does not carry one.
func (r *Resolver) Resolve(w http.ResponseWriter, req *http.Request) Identity {
	id := Identity{Fingerprint: r.fingerprint(w, req)}

	claims, err := r.claims(req)
	switch {
	case err == nil:
		userID := claims.UserID
		if userID == "" {
			userID = claims.Subject
		}
		id.UserID = &userID
	case errors.Is(err, errNoToken):
	default:
		logger.Debug("Ignoring bearer token: %v", err)
	}
	return id
}

func (r *Resolver) fingerprint(w http.ResponseWriter, req *http.Request) string {
	if c, err := req.Cookie(r.cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	fp := NewFingerprint()
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookieName,
		Value:    fp,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   req.TLS != nil || strings.EqualFold(req.Header.Get("X-Forwarded-Proto"), "https"),
		Expires:  r.now().Add(cookieMaxAge),
		MaxAge:   int(cookieMaxAge.Seconds()),
	})
	return fp
}

// NewFingerprint returns a random URL-safe token: base64 of a UUID with
// padding and the characters + and / removed.
func NewFingerprint() string {
	u := uuid.New()
	s := base64.StdEncoding.EncodeToString(u[:])
	return strings.NewReplacer("=", "", "+", "", "/", "").Replace(s)
}

var errNoToken = errors.New("no bearer token")

func (r *Resolver) claims(req *http.Request) (*Claims, error) {
	if len(r.secret) == 0 {
		return nil, errNoToken
	}
	header := req.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, errNoToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(r.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.UserID == "" && claims.Subject == "" {
		return nil, errors.New("token carries no user id")
	}
	return claims, nil
}

// IssueToken signs a token for userID valid for ttl. Used by tests and tooling.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
