package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"huddle/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type TokenService interface {
	// IssueJoinToken signs a token for userName. An empty room lets the
	// holder join any room.
	IssueJoinToken(userName string, room domain.RoomName) (string, time.Time, error)
	ValidateToken(tokenString string) (*JoinClaims, error)
	// Authorize checks that claims allow joining room as userName.
	Authorize(claims *JoinClaims, req domain.JoinRequest) error
}

type JoinClaims struct {
	UserName string          `json:"user_name"`
	Room     domain.RoomName `json:"room,omitempty"`
	jwt.RegisteredClaims
}

type tokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration, issuer string) TokenService {
	return &tokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
}

func (s *tokenService) IssueJoinToken(userName string, room domain.RoomName) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := &JoinClaims{
		UserName: userName,
		Room:     domain.NormalizeRoomName(string(room)),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userName,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

func (s *tokenService) ValidateToken(tokenString string) (*JoinClaims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JoinClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*JoinClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

func (s *tokenService) Authorize(claims *JoinClaims, req domain.JoinRequest) error {
	if claims == nil {
		return domain.ErrUnauthorized
	}
	if claims.UserName != strings.TrimSpace(req.UserName) {
		return fmt.Errorf("%w: token issued for another user", domain.ErrUnauthorized)
	}
	if claims.Room != "" && claims.Room != domain.NormalizeRoomName(req.RoomName) {
		return fmt.Errorf("%w: token not valid for room %s", domain.ErrUnauthorized, req.RoomName)
	}
	return nil
}
