package users

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uberfoo/ufs"
)

// tokenLifetime bounds how long a login token stays valid.
const tokenLifetime = 24 * time.Hour

// Claims is the token payload: the filesystem as issuer, the user as
// subject, a unique timestamped token id, and an expiry.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken mints a signed login token for user on the filesystem fsID.
func IssueToken(secret []byte, fsID, userID ufs.ID) (string, error) {
	var random [8]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", ufs.Wrap("users: generating token id", err)
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    fsID.String(),
			Subject:   userID.String(),
			ID:        fmt.Sprintf("%d-%s", now.UnixNano(), hex.EncodeToString(random[:])),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", ufs.Wrap("users: signing token", err)
	}
	return signed, nil
}

// VerifyToken validates a token's signature and expiry and returns its
// claims. Failures map onto the filesystem's authentication error kinds.
func VerifyToken(secret []byte, signed string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(signed, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	switch {
	case err == nil:
		return &claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ufs.NewError(ufs.CodeTokenExpired, "token expired", err)
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return nil, ufs.NewError(ufs.CodeInvalidSignature, "invalid signature", err)
	default:
		return nil, ufs.NewError(ufs.CodeInvalidToken, "invalid token", err)
	}
}
