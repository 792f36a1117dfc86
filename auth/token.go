package auth

import (
	"time"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/golang-jwt/jwt/v5"
)

// RelayClaims defines the structure of the data stored inside the JWT.
type RelayClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenService validates bearer credentials and extracts the identity they
// assert. It is stateless and safe for concurrent use.
type TokenService struct {
	key []byte
	ttl time.Duration
}

func NewTokenService(secret string, ttl time.Duration) TokenService {
	return TokenService{key: []byte(secret), ttl: ttl}
}

// Generate creates a signed JWT for a specific user.
// Tokens are minted by the provisioning CLI and by tests; the relay itself
// only ever validates them.
func (s TokenService) Generate(identity domain.Identity) (string, error) {
	now := time.Now()
	claims := &RelayClaims{
		UserID:   identity.ID,
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "chat-relay",
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", errors.ErrTokenGeneration
	}
	return signed, nil
}

// Validate checks the signature and expiration of a token string and returns
// the identity it asserts. It fails closed: malformed, expired or forged
// tokens yield (zero, false) and never an error or panic, so callers only
// ever observe a boolean plus an optional identity.
func (s TokenService) Validate(tokenString string) (domain.Identity, bool) {
	token, err := jwt.ParseWithClaims(tokenString, &RelayClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Identity{}, false
	}

	claims, ok := token.Claims.(*RelayClaims)
	if !ok || !token.Valid {
		return domain.Identity{}, false
	}
	return domain.Identity{ID: claims.UserID, Username: claims.Username}, true
}
