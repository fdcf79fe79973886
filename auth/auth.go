// Package auth turns bearer tokens into player snapshots.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wfunc/babyfoot/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims 令牌中的玩家信息，sub 即 userId
type Claims struct {
	jwt.RegisteredClaims
	Username  string `json:"name"`
	AvatarURL string `json:"picture,omitempty"`
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// BearerToken strips the "Bearer " prefix, reporting false when absent.
func BearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	return token, ok && token != ""
}

// Player verifies token and returns the player it names.
func (v *Verifier) Player(token string) (models.Player, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Player{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return models.Player{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	p := models.Player{
		UserID:    claims.Subject,
		Username:  claims.Username,
		AvatarURL: claims.AvatarURL,
	}
	if p.Username == "" {
		p.Username = p.UserID
	}
	return p, nil
}

// Sign issues a token for p, valid for ttl. Used by tooling and tests.
func (v *Verifier) Sign(p models.Player, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username:  p.Username,
		AvatarURL: p.AvatarURL,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
