package jwt

import (
	"errors"
	"slices"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
)

// AllCommunities grants a moderator every community.
const AllCommunities = "*"

// Claims JWT 声明：版主及其可管理的社区
type Claims struct {
	ModeratorID string   `json:"moderator_id"`
	Name        string   `json:"name,omitempty"`
	Communities []string `json:"communities"`
	jwt.RegisteredClaims
}

// CanManage reports whether the moderator may run commands in community.
func (c *Claims) CanManage(community string) bool {
	return slices.Contains(c.Communities, AllCommunities) || slices.Contains(c.Communities, community)
}

type TokenManager struct {
	secret    []byte
	expireDur time.Duration
	now       func() time.Time
}

func NewTokenManager(secret string, expireHours int) *TokenManager {
	return &TokenManager{
		secret:    []byte(secret),
		expireDur: time.Duration(expireHours) * time.Hour,
		now:       time.Now,
	}
}

// GenerateToken 签发版主 token
func (tm *TokenManager) GenerateToken(moderatorID, name string, communities []string) (string, error) {
	now := tm.now()

	claims := Claims{
		ModeratorID: moderatorID,
		Name:        name,
		Communities: communities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   moderatorID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.expireDur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// ParseToken 校验签名与有效期
func (tm *TokenManager) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ModeratorID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
