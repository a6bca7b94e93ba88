// internal/auth/auth.go
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidCode  = errors.New("invalid access code")
	ErrRateLimited  = errors.New("too many login attempts")
	ErrInvalidToken = errors.New("invalid or expired token")
)

const subject = "family"

// Authenticator verifies the access code and issues and checks tokens. A
// zero-value code disables authentication entirely.
type Authenticator struct {
	hash    []byte
	salt    []byte
	secret  []byte
	ttl     time.Duration
	limiter *rate.Limiter
	now     func() time.Time
}

// Config configures an Authenticator.
type Config struct {
	AccessCode     string
	Secret         string
	TokenTTL       time.Duration
	LoginPerMinute int
}

// New builds an Authenticator. Without a secret a random one is generated,
// so tokens do not survive a restart.
func New(cfg Config) (*Authenticator, error) {
	a := &Authenticator{ttl: cfg.TokenTTL, now: time.Now}
	if a.ttl <= 0 {
		a.ttl = 12 * time.Hour
	}
	perMinute := cfg.LoginPerMinute
	if perMinute <= 0 {
		perMinute = 5
	}
	a.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)

	if cfg.AccessCode == "" {
		return a, nil
	}
	hash, salt, err := hashCode(cfg.AccessCode)
	if err != nil {
		return nil, fmt.Errorf("failed to hash access code: %w", err)
	}
	a.hash, a.salt = hash, salt

	a.secret = []byte(cfg.Secret)
	if len(a.secret) == 0 {
		a.secret = make([]byte, 32)
		if _, err := rand.Read(a.secret); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
	}
	return a, nil
}

// Enabled reports whether an access code is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.hash) > 0
}

// Login exchanges the access code for a signed token.
func (a *Authenticator) Login(code string) (string, time.Time, error) {
	if !a.limiter.Allow() {
		return "", time.Time{}, ErrRateLimited
	}
	if !a.Enabled() {
		return "", time.Time{}, nil
	}
	if !verifyCode(code, a.salt, a.hash) {
		return "", time.Time{}, ErrInvalidCode
	}

	now := a.now()
	expires := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks a token's signature, algorithm and expiry.
func (a *Authenticator) Verify(token string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithSubject(subject),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}

// Middleware rejects requests without a valid bearer token. Paths in open
// are always let through.
func (a *Authenticator) Middleware(open ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() || r.Method == http.MethodOptions || contains(open, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || a.Verify(strings.TrimSpace(token)) != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="familymiles"`)
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
