package widget

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/kite-relay/internal/types"
)

const (
	memberIdClaim = "member-id"
	channelClaim  = "channel"
	expClaim      = "exp"

	defaultTokenExp = time.Hour * 24 * 30
)

// TokenIssuer signs and verifies widget member tokens.
type TokenIssuer struct {
	key []byte
	exp time.Duration
}

func NewTokenIssuer(key []byte) *TokenIssuer {
	return &TokenIssuer{key: key, exp: defaultTokenExp}
}

func (ti *TokenIssuer) Issue(id types.MemberId) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		memberIdClaim: id.Raw,
		channelClaim:  id.Channel,
		expClaim:      time.Now().Add(ti.exp).Unix(),
	})

	return token.SignedString(ti.key)
}

func (ti *TokenIssuer) Verify(tokenString string) (types.MemberId, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ti.key, nil
	})
	if err != nil {
		return types.MemberId{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return types.MemberId{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.MemberId{}, fmt.Errorf("invalid token claims")
	}
	raw, ok := claims[memberIdClaim].(string)
	if !ok || raw == "" {
		return types.MemberId{}, fmt.Errorf("invalid member id claim")
	}
	channel, ok := claims[channelClaim].(string)
	if !ok || channel == "" {
		return types.MemberId{}, fmt.Errorf("invalid channel claim")
	}

	return types.NewMemberId(channel, raw), nil
}
