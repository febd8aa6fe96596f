package apitest

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medscribe/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the access token's subject. ID (jti) lets the backend
// revoke individual tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"uid"`
}

func generateAccessToken(userID int64, secret []byte, now time.Time, ttl time.Duration) (token, jti string, err error) {
	jti = uuid.NewString()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
	})

	token, err = t.SignedString(secret)
	if err != nil {
		return "", "", err
	}
	return token, jti, nil
}

func parseAccessToken(token string, secret []byte, now func() time.Time) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)

	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, common.ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	case !parsed.Valid:
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// refresh grants are opaque random strings, not JWTs
func generateRefreshToken() (string, error) {
	return common.MakeRandHexString(32)
}
