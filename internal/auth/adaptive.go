// Package auth implements C10 (the authenticator state machine) and
// C11 (the adaptive gallery manager).
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/projectsentinel/sentineld/internal/domain"
)

// AdaptiveConfig mirrors the adaptive.* config keys.
type AdaptiveConfig struct {
	LimitPerDay                int
	InitialRequirePassword     int
	MaxAdaptive                int
	MinDiversity               float64
	MaxDivergence              float64
	TokenSigningKey            []byte
}

// dailyCount tracks how many adaptive commits a user has made on a given
// UTC calendar day.
type dailyCount struct {
	day   string
	count int
}

// AdaptiveManager is C11: it decides whether a GOLDEN-tier probe may be
// appended to a user's adaptive gallery segment, enforcing a daily
// budget, a diversity/divergence band, and a password gate for a user's
// first few commits.
type AdaptiveManager struct {
	cfg AdaptiveConfig

	commitsByUser map[string]*dailyCount
	totalByUser   map[string]int
}

func NewAdaptiveManager(cfg AdaptiveConfig) *AdaptiveManager {
	return &AdaptiveManager{
		cfg:           cfg,
		commitsByUser: map[string]*dailyCount{},
		totalByUser:   map[string]int{},
	}
}

// AdaptTokenClaims is the payload of the out-of-band confirmation token
// required for a user's first InitialRequirePassword commits.
type AdaptTokenClaims struct {
	jwt.RegisteredClaims
	User string `json:"user"`
}

// IssueToken mints a short-lived confirmation token binding a specific
// user, so a client that has already re-verified a password out of band
// can authorize that user's adaptive commits until the token expires.
func (m *AdaptiveManager) IssueToken(user string, ttl time.Duration, now time.Time) (string, error) {
	claims := AdaptTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		User: user,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.cfg.TokenSigningKey)
}

// verifyToken checks that token is a valid, unexpired confirmation for
// user.
func (m *AdaptiveManager) verifyToken(token, user string, now time.Time) bool {
	if token == "" {
		return false
	}
	parsed, err := jwt.ParseWithClaims(token, &AdaptTokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		return m.cfg.TokenSigningKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !parsed.Valid {
		return false
	}
	claims, ok := parsed.Claims.(*AdaptTokenClaims)
	return ok && claims.User == user
}

// Decision is the outcome of an Evaluate call.
type Decision struct {
	Commit bool
	Reason string
}

// Evaluate decides whether probe should be committed to user's adaptive
// gallery segment, given the current gallery contents, today's UTC date
// key, and (if the user is still within their password-gated window) a
// caller-supplied confirmation token.
func (m *AdaptiveManager) Evaluate(user string, probe domain.Embedding, g domain.Gallery, now time.Time, token string) Decision {
	dayKey := now.UTC().Format("2006-01-02")
	dc := m.commitsByUser[user]
	if dc == nil || dc.day != dayKey {
		dc = &dailyCount{day: dayKey}
		m.commitsByUser[user] = dc
	}
	if dc.count >= m.cfg.LimitPerDay {
		return Decision{Reason: "daily adaptation budget exhausted"}
	}

	minDist := 2.0
	maxDist := 0.0
	for _, e := range g.All() {
		d := domain.CosineDistance(probe, e)
		if d < minDist {
			minDist = d
		}
		if d > maxDist {
			maxDist = d
		}
	}
	if minDist < m.cfg.MinDiversity {
		return Decision{Reason: "probe too similar to an existing embedding"}
	}
	if maxDist > m.cfg.MaxDivergence {
		return Decision{Reason: "probe too divergent from existing gallery"}
	}

	total := m.totalByUser[user]
	if total < m.cfg.InitialRequirePassword {
		if !m.verifyToken(token, user, now) {
			return Decision{Reason: domain.ErrAdaptRequiresPassword.Message}
		}
	}

	dc.count++
	m.totalByUser[user] = total + 1
	return Decision{Commit: true}
}
