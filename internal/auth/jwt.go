package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrUnsupportedJWT = errors.New("unsupported jwt")

const defaultJWTTTL = 5 * time.Minute

// RelayClaims identify the console session a minted token belongs to.
type RelayClaims struct {
	Operator string `json:"operator,omitempty"`
	Room     string `json:"room,omitempty"`
	Service  string `json:"service,omitempty"`
	// SID is a stable session id. One is generated when empty.
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// MintRelayToken signs claims with secret using HS256. The token is valid
// from now until now+ttl.
func MintRelayToken(secret string, claims RelayClaims, now time.Time, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: empty secret", ErrUnsupportedJWT)
	}
	if ttl <= 0 {
		ttl = defaultJWTTTL
	}
	if claims.SID == "" {
		claims.SID = uuid.NewString()
	}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTVerifier verifies HS256 relay tokens.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) JWTVerifier {
	return JWTVerifier{secret: []byte(secret), now: time.Now}
}

func (v JWTVerifier) Verify(token string) error {
	_, err := v.VerifyAndExtractClaims(token)
	return err
}

// VerifyAndExtractClaims verifies token and returns its claims.
func (v JWTVerifier) VerifyAndExtractClaims(token string) (RelayClaims, error) {
	if len(v.secret) == 0 || token == "" {
		return RelayClaims{}, ErrInvalidCredentials
	}
	now := v.now
	if now == nil {
		now = time.Now
	}

	var claims RelayClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenMalformed) {
			return RelayClaims{}, ErrInvalidCredentials
		}
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			return RelayClaims{}, ErrUnsupportedJWT
		}
		return RelayClaims{}, ErrInvalidCredentials
	}
	if !parsed.Valid || claims.SID == "" {
		return RelayClaims{}, ErrInvalidCredentials
	}
	return claims, nil
}
