package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims ties a realtime session to one recipient.
type SessionClaims struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	jwt.RegisteredClaims
}

// SessionTokenService issues and validates the tokens the surrounding
// application hands to authenticated realtime sessions. The pipeline only
// checks that a subscriber is who the stream belongs to; session issuance
// itself lives with the application's auth layer.
type SessionTokenService struct {
	secret []byte
	expiry time.Duration
}

func NewSessionTokenService(secret string, expiryHours int) *SessionTokenService {
	if expiryHours <= 0 {
		expiryHours = 24
	}
	return &SessionTokenService{
		secret: []byte(secret),
		expiry: time.Duration(expiryHours) * time.Hour,
	}
}

func (s *SessionTokenService) Generate(recipientID uuid.UUID) (string, error) {
	claims := SessionClaims{
		RecipientID: recipientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   recipientID.String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *SessionTokenService) Validate(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}
