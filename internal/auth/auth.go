// Package auth gates the kiosk API to the family's allow-listed accounts.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	appLog "photocal/internal/log"
)

const (
	CookieName = "photocal_session"
	DefaultTTL = 30 * 24 * time.Hour
)

var (
	ErrNotAllowed     = errors.New("account is not on the allow-list")
	ErrBadCredentials = errors.New("invalid email or password")
	ErrInvalidToken   = errors.New("invalid session token")
)

type Options struct {
	// Allowed lists the emails that may sign in. Comparison ignores case.
	Allowed []string
	// Users maps email to bcrypt password hash.
	Users  map[string]string
	Secret string
	TTL    time.Duration
	// Secure marks the session cookie Secure.
	Secure bool
}

// Gate issues and checks stateless session tokens, so sessions survive a
// server restart as long as the secret is unchanged.
type Gate struct {
	allowed map[string]bool
	users   map[string][]byte
	secret  []byte
	ttl     time.Duration
	secure  bool
	now     func() time.Time
}

func New(opts Options) (*Gate, error) {
	if opts.Secret == "" {
		return nil, errors.New("session secret is empty")
	}
	g := &Gate{
		allowed: make(map[string]bool, len(opts.Allowed)),
		users:   make(map[string][]byte, len(opts.Users)),
		secret:  []byte(opts.Secret),
		ttl:     opts.TTL,
		secure:  opts.Secure,
		now:     time.Now,
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	for _, e := range opts.Allowed {
		g.allowed[normalize(e)] = true
	}
	for e, h := range opts.Users {
		g.users[normalize(e)] = []byte(h)
	}
	return g, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Allowed reports whether email is on the allow-list.
func (g *Gate) Allowed(email string) bool {
	return g.allowed[normalize(email)]
}

// Login checks the allow-list before the password, so accounts outside the
// family are refused without touching their credentials.
func (g *Gate) Login(email, password string) (string, time.Time, error) {
	email = normalize(email)
	if !g.allowed[email] {
		appLog.Warn("auth: login refused", "reason", "not allowed")
		return "", time.Time{}, ErrNotAllowed
	}
	hash, ok := g.users[email]
	if !ok {
		return "", time.Time{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", time.Time{}, ErrBadCredentials
	}
	return g.Issue(email)
}

// Issue signs a session for an allowed email without a password. The
// server uses it for its own headless preview browser.
func (g *Gate) Issue(email string) (string, time.Time, error) {
	email = normalize(email)
	if !g.allowed[email] {
		return "", time.Time{}, ErrNotAllowed
	}
	now := g.now()
	exp := now.Add(g.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, exp, nil
}

// Verify returns the signed-in email. An account removed from the allow-list
// loses access even with an unexpired token.
func (g *Gate) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithTimeFunc(g.now))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !g.allowed[claims.Subject] {
		return "", ErrNotAllowed
	}
	return claims.Subject, nil
}

// FromRequest verifies the session cookie.
func (g *Gate) FromRequest(r *http.Request) (string, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return "", ErrInvalidToken
	}
	return g.Verify(c.Value)
}

func (g *Gate) SetCookie(w http.ResponseWriter, token string, expiry time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Expires:  expiry,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie signs the browser out.
func (g *Gate) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// HashPassword is used by the config tooling to produce user entries.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}
